package main

import (
	"fmt"
	"io"

	"ratelimit-gateway/internal/config"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newPoliciesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Lista as políticas efetivas (defaults + arquivo + ambiente)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			renderPolicies(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func renderPolicies(w io.Writer, cfg *config.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Policy", "Window", "Max", "Block", "Backoff"})

	for _, name := range cfg.PolicyNames() {
		p := cfg.Policies[name]
		block := "-"
		if p.BlockDuration > 0 {
			block = p.BlockDuration.String()
		}
		t.AppendRow(table.Row{name, p.Window.String(), p.Domain().Quota.String(), block, yesNo(p.ExpBackoff)})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d policies", len(cfg.Policies))})
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
