package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
)

// Upstream "burro" usado atrás do gateway: não limita nada, só conta e loga
// quem chegou até ele.
func main() {
	addr := flag.String("addr", ":8081", "endereço de escuta")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	var served atomic.Int64
	http.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		n := served.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição %d recebida com sucesso!</p>", n)
		log.Debug("showTela",
			zap.Int64("served", n),
			zap.String("remote", r.RemoteAddr),
			zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")),
		)
	})

	log.Info("servidor rodando", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		log.Fatal("erro ao subir o servidor", zap.Error(err))
	}
}
