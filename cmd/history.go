package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/council/internal/output"
	"github.com/joescharf/council/internal/review"
	"github.com/joescharf/council/internal/store"
)

var (
	historyPath  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context())
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a past review with its findings and editor synthesis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRun(cmd.Context(), args[0])
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Only list reviews of this document")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of reviews to list")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
}

func historyRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	sessions, err := s.ListReviewSessions(cmdContext(ctx), store.ReviewListFilter{
		DocumentPath: historyPath,
		Limit:        historyLimit,
	})
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No reviews yet")
		return nil
	}

	table := ui.Table([]string{"ID", "STARTED", "DOCUMENT", "STATUS", "FINDINGS"})
	for _, sess := range sessions {
		path := sess.DocumentPath
		if path == "" {
			path = "(inline)"
		}
		_ = table.Append([]string{
			sess.ID,
			humanize.Time(sess.StartedAt),
			path,
			output.StatusColor(string(sess.Status)),
			review.TallySummary(sess.Findings),
		})
	}
	return table.Render()
}

func showRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	session, doc, err := s.GetReview(cmdContext(ctx), id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("review %s not found", id)
	}
	if err != nil {
		return err
	}
	renderReview(session, doc)
	return nil
}
