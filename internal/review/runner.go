package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/council/internal/feedback"
	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
)

// ProgressFunc is notified of reviewer task transitions.
type ProgressFunc func(reviewerID string, p models.ReviewerProgress)

// Runner executes one reviewer against one document. It never touches model residency.
type Runner struct {
	gen      inference.Generator
	sampling Sampling
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewRunner creates a reviewer task runner.
func NewRunner(gen inference.Generator, sampling Sampling, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		gen:      gen,
		sampling: sampling,
		logger:   logger,
		now:      time.Now,
		newID:    models.NewID,
	}
}

// Run reviews content (or sel) with reviewer and returns its findings.
// A non-nil error means the task failed; the findings are then empty.
func (r *Runner) Run(ctx context.Context, reviewer *models.Reviewer, content string, sel *models.Selection, progress ProgressFunc) ([]models.Finding, error) {
	notify(progress, reviewer.ID, models.ProgressInProgress)

	raw, err := r.gen.Generate(ctx, inference.Request{
		Model:   reviewer.Model,
		Prompt:  BuildReviewPrompt(reviewer, content, sel),
		Options: r.sampling.ReviewOptions(),
	})
	if err != nil {
		r.logger.Warn("reviewer failed", "reviewer", reviewer.ID, "model", reviewer.Model, "error", err)
		notify(progress, reviewer.ID, models.ProgressError)
		return nil, fmt.Errorf("%s: %w", reviewer.Name, err)
	}

	parsed, strategy := feedback.ParseWithStrategy(raw)
	r.logger.Debug("reviewer responded", "reviewer", reviewer.ID, "strategy", strategy, "findings", len(parsed))

	lines := splitLines(content)
	now := r.now().UTC()
	findings := make([]models.Finding, 0, len(parsed))
	for _, f := range parsed {
		f.ID = r.newID()
		f.ReviewerID = reviewer.ID
		f.ReviewerName = reviewer.Name
		f.ReviewerIcon = reviewer.Icon
		f.ReviewerColor = reviewer.Color
		f.Status = models.FindingStatusPending
		f.CreatedAt = now
		anchor(&f, lines)
		findings = append(findings, f)
	}

	notify(progress, reviewer.ID, models.ProgressComplete)
	return findings, nil
}

// anchor clamps the finding's line range into the document and fills the original text.
func anchor(f *models.Finding, lines []string) {
	n := len(lines)
	if n == 0 {
		f.LineStart, f.LineEnd = 1, 1
		return
	}
	if f.LineStart < 1 {
		f.LineStart = 1
	}
	if f.LineStart > n {
		f.LineStart = n
	}
	if f.LineEnd < f.LineStart {
		f.LineEnd = f.LineStart
	}
	if f.LineEnd > n {
		f.LineEnd = n
	}
	if f.OriginalText == "" {
		f.OriginalText = lines[f.LineStart-1]
	}
}

func notify(progress ProgressFunc, reviewerID string, p models.ReviewerProgress) {
	if progress != nil {
		progress(reviewerID, p)
	}
}
