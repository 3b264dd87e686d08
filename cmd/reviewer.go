package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/output"
)

var reviewerCmd = &cobra.Command{
	Use:     "reviewer",
	Aliases: []string{"reviewers"},
	Short:   "Manage the reviewer panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun(cmd.Context())
	},
}

var reviewerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviewers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerListRun(cmd.Context())
	},
}

var reviewerEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerSetEnabledRun(cmd.Context(), args[0], true)
	},
}

var reviewerDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerSetEnabledRun(cmd.Context(), args[0], false)
	},
}

var reviewerSetModelCmd = &cobra.Command{
	Use:   "set-model <id> <model>",
	Short: "Change the model a reviewer runs on",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerSetModelRun(cmd.Context(), args[0], args[1])
	},
}

var reviewerImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Add or update reviewers from a YAML file",
	Long: `Add or update reviewers from a YAML file. The file holds either a list of
reviewers or a map with a "reviewers" key:

  reviewers:
    - id: tone-police
      name: Tone Police
      icon: "🎭"
      model: qwen3:8b
      system_prompt: You check that the tone fits the audience.
      enabled: true
      sort_order: 7`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewerImportRun(cmd.Context(), args[0])
	},
}

func init() {
	reviewerCmd.AddCommand(reviewerListCmd)
	reviewerCmd.AddCommand(reviewerEnableCmd)
	reviewerCmd.AddCommand(reviewerDisableCmd)
	reviewerCmd.AddCommand(reviewerSetModelCmd)
	reviewerCmd.AddCommand(reviewerImportCmd)
	rootCmd.AddCommand(reviewerCmd)
}

func cmdContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func reviewerListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	reviewers, err := s.ListReviewers(cmdContext(ctx))
	if err != nil {
		return err
	}
	if len(reviewers) == 0 {
		ui.Info("No reviewers configured. Use 'council reviewer import' to add some.")
		return nil
	}

	table := ui.Table([]string{"ID", "NAME", "MODEL", "ROLE", "ENABLED"})
	for _, r := range reviewers {
		role := "council"
		if r.IsEditor {
			role = "editor"
		}
		enabled := output.Red("no")
		if r.Enabled {
			enabled = output.Green("yes")
		}
		_ = table.Append([]string{r.ID, strings.TrimSpace(r.Icon + " " + r.Name), r.Model, role, enabled})
	}
	return table.Render()
}

func reviewerSetEnabledRun(ctx context.Context, id string, enabled bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.SetReviewerEnabled(cmdContext(ctx), id, enabled); err != nil {
		return err
	}
	if enabled {
		ui.Success("Enabled reviewer %s", output.Cyan(id))
	} else {
		ui.Success("Disabled reviewer %s", output.Cyan(id))
	}
	return nil
}

func reviewerSetModelRun(ctx context.Context, id, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is required")
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx = cmdContext(ctx)
	r, err := s.GetReviewer(ctx, id)
	if err != nil {
		return err
	}
	r.Model = model
	if err := s.SaveReviewer(ctx, r); err != nil {
		return err
	}
	ui.Success("Reviewer %s now runs on %s", output.Cyan(id), model)
	return nil
}

// parseReviewerFile accepts a bare list of reviewers or a document with a reviewers key.
func parseReviewerFile(data []byte) ([]*models.Reviewer, error) {
	var list []*models.Reviewer
	if err := yaml.Unmarshal(data, &list); err == nil {
		return validateReviewers(list)
	}
	var wrapped struct {
		Reviewers []*models.Reviewer `yaml:"reviewers"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse reviewers: %w", err)
	}
	return validateReviewers(wrapped.Reviewers)
}

func validateReviewers(list []*models.Reviewer) ([]*models.Reviewer, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("no reviewers found in file")
	}
	seen := make(map[string]bool, len(list))
	for i, r := range list {
		if r == nil || strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("reviewer %d: id is required", i+1)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("reviewer %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.Name) == "" {
			r.Name = r.ID
		}
		if strings.TrimSpace(r.SystemPrompt) == "" {
			return nil, fmt.Errorf("reviewer %s: system_prompt is required", r.ID)
		}
	}
	return list, nil
}

func reviewerImportRun(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	list, err := parseReviewerFile(data)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx = cmdContext(ctx)
	for _, r := range list {
		if err := s.SaveReviewer(ctx, r); err != nil {
			return err
		}
		ui.VerboseLog("Saved reviewer %s (%s)", r.ID, r.Model)
	}
	ui.Success("Imported %d reviewer(s) from %s", len(list), path)
	return nil
}
