package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/council/internal/mcp"
	"github.com/joescharf/council/internal/review"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets coding agents ask the council to review a document and act on its
findings. Configure it in your MCP client with:

  {
    "mcpServers": {
      "council": { "command": "council", "args": ["mcp"] }
    }
  }

Available tools: council_start_review, council_review_status,
council_cancel_review, council_update_finding, council_list_reviewers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		eng, err := newEngine()
		if err != nil {
			return err
		}
		orch := eng.orchestrator(s, review.DefaultConfig())

		ctx, stop := signal.NotifyContext(cmdContext(cmd.Context()), shutdownSignals()...)
		defer stop()
		return mcp.NewServer(s, orch, buildVersion).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
