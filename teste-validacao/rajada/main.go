package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// rajada dispara N requisições concorrentes contra o gateway e conta os
// status recebidos. Com a política general (100/min) espera-se 100 x 200 e
// o resto 429.
func main() {
	url := flag.String("url", "http://localhost:8080/showTela", "alvo")
	total := flag.Int("n", 150, "total de requisições")
	workers := flag.Int("c", 20, "requisições simultâneas")
	ip := flag.String("ip", "", "X-Forwarded-For enviado (vazio = não envia)")
	timeout := flag.Duration("timeout", 30*time.Second, "tempo máximo da rajada")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	counts := burst(ctx, http.DefaultClient, *url, *ip, *total, *workers)
	report(os.Stdout, counts, time.Since(start))
}

func burst(ctx context.Context, client *http.Client, url, ip string, total, workers int) map[int]int {
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan struct{})
	results := make(chan int, total)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				results <- fire(ctx, client, url, ip)
			}
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()
	close(results)

	counts := make(map[int]int)
	for code := range results {
		counts[code]++
	}
	return counts
}

// fire retorna o status HTTP ou 0 em erro de transporte.
func fire(ctx context.Context, client *http.Client, url, ip string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0
	}
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func report(w io.Writer, counts map[int]int, elapsed time.Duration) {
	codes := make([]int, 0, len(counts))
	sum := 0
	for c, n := range counts {
		codes = append(codes, c)
		sum += n
	}
	sort.Ints(codes)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Status", "Count"})
	for _, c := range codes {
		label := fmt.Sprint(c)
		if c == 0 {
			label = "erro"
		}
		t.AppendRow(table.Row{label, counts[c]})
	}
	t.AppendFooter(table.Row{elapsed.Round(time.Millisecond).String(), sum})
	t.Render()
}
