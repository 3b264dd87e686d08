package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/review"
)

var (
	reviewReviewers []string
	reviewLines     string
	reviewParallel  bool
	reviewJSON      bool
)

var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Run the council over a markdown document",
	Long: `Run every enabled reviewer over the document, then let the editor
synthesize their feedback into a prioritized plan.

Reviewers sharing a model run back to back so each model is loaded once.
Use --parallel when the inference server can hold several models at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context(), args[0])
	},
}

func init() {
	reviewCmd.Flags().StringSliceVarP(&reviewReviewers, "reviewers", "r", nil, "Reviewer IDs to run (default: all enabled)")
	reviewCmd.Flags().StringVarP(&reviewLines, "lines", "l", "", "Only review a line range, e.g. 10-20")
	reviewCmd.Flags().BoolVar(&reviewParallel, "parallel", false, "Run reviewers concurrently without residency management")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the review as JSON")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	content := string(data)

	sel, err := review.SelectLines(content, reviewLines)
	if err != nil {
		return err
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	eng, err := newEngine()
	if err != nil {
		return err
	}

	cfg := review.DefaultConfig()
	if reviewParallel {
		cfg.Mode = review.ModeParallel
	}
	orch := eng.orchestrator(s, cfg)

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	var done chan struct{}
	var unsubscribe func()
	if !reviewJSON {
		var events <-chan review.Event
		events, unsubscribe = orch.Subscribe()
		done = make(chan struct{})
		go func() {
			defer close(done)
			printEvents(events)
		}()
	}

	doc, runErr := orch.Run(ctx, review.StartRequest{
		DocumentPath: path,
		Content:      content,
		ReviewerIDs:  reviewReviewers,
		Selection:    sel,
	})
	if unsubscribe != nil {
		unsubscribe()
		<-done
		ui.EndProgress()
	}
	if runErr != nil {
		return fmt.Errorf("review: %w", runErr)
	}

	session := orch.Snapshot().Session
	if reviewJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"session": session, "document": doc})
	}
	renderReview(session, doc)
	return nil
}

// printEvents reports run progress until the subscription closes.
func printEvents(events <-chan review.Event) {
	for ev := range events {
		switch ev.Kind {
		case review.EventPhase:
			if ev.Phase == models.PhaseEditorSynthesizing {
				ui.Progress("Editor is synthesizing the council's feedback")
			}
		case review.EventResidency:
			ui.Progress("Model %s %s", ev.Model, ev.Residency)
		case review.EventReviewerProgress:
			if ev.Progress == models.ProgressInProgress {
				ui.Progress("Reviewer %s is reading", ev.ReviewerID)
			}
		case review.EventCouncilFeedback:
			if fb := ev.Feedback; fb != nil {
				if fb.Failed {
					ui.Progress("%s failed: %s", fb.ReviewerName, fb.Error)
				} else {
					ui.Progress("%s %s: %s", fb.ReviewerIcon, fb.ReviewerName, fb.Summary)
				}
			}
		}
	}
}
