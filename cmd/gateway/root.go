package main

import (
	"ratelimit-gateway/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ratelimit-gateway",
		Short: "Reverse proxy com rate limit por janela fixa",
		Long: `Gateway HTTP que aplica as políticas de rate limit antes de repassar
para o upstream.

A configuração vem de um arquivo YAML opcional (--config), de .env e das
variáveis de ambiente (LISTEN_ADDR, UPSTREAM_URL, REDIS_ENABLED, REDIS_ADDR,
LIMITER_SWEEP_EVERY, POLICIES_<NOME>_MAX_REQUESTS, ...).`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "arquivo de configuração (yaml)")

	cmd.AddCommand(newServeCmd(opts), newPoliciesCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}
