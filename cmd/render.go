package cmd

import (
	"fmt"
	"strings"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/output"
)

// renderReview prints a finished review: per-reviewer summaries, findings and the editor's plan.
func renderReview(session *models.ReviewSession, doc *models.ReviewDocument) {
	if session == nil || doc == nil {
		ui.Warning("No review to show")
		return
	}

	path := doc.DocumentPath
	if path == "" {
		path = "(inline document)"
	}
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Bold(path), output.Faint(session.ID))
	if doc.Selection != nil {
		fmt.Fprintf(ui.Out, "Selection: lines %d-%d\n", doc.Selection.StartLine, doc.Selection.EndLine)
	}
	fmt.Fprintln(ui.Out)

	for _, fb := range doc.CouncilFeedback {
		if fb.Failed {
			ui.Error("%s %s (%s): %s", fb.ReviewerIcon, fb.ReviewerName, fb.Model, fb.Error)
			continue
		}
		ui.Info("%s %s (%s): %s", fb.ReviewerIcon, fb.ReviewerName, fb.Model, fb.Summary)
	}
	fmt.Fprintln(ui.Out)

	if len(session.Findings) > 0 {
		renderFindings(session.Findings)
		fmt.Fprintln(ui.Out)
	}

	if syn := doc.EditorSynthesis; syn != nil {
		renderSynthesis(syn)
		fmt.Fprintln(ui.Out)
	}

	for _, e := range session.Errors {
		ui.Warning("%s", e)
	}
	ui.Success("%s", session.Summary)
}

func renderFindings(findings []models.Finding) {
	table := ui.Table([]string{"ID", "LINES", "REVIEWER", "TYPE", "SEVERITY", "STATUS", "COMMENT"})
	for _, f := range findings {
		lines := fmt.Sprintf("%d", f.LineStart)
		if f.LineEnd > f.LineStart {
			lines = fmt.Sprintf("%d-%d", f.LineStart, f.LineEnd)
		}
		comment := f.Comment
		if f.Suggestion != "" {
			comment += " → " + f.Suggestion
		}
		_ = table.Append([]string{
			f.ID,
			lines,
			f.ReviewerName,
			output.FindingTypeColor(string(f.Type)),
			output.SeverityColor(string(f.Severity)),
			output.StatusColor(string(f.Status)),
			truncateText(comment, 80),
		})
	}
	_ = table.Render()
}

func renderSynthesis(syn *models.EditorSynthesis) {
	title := "Editor synthesis"
	if syn.Degraded {
		title += " (unstructured)"
	}
	fmt.Fprintf(ui.Out, "%s\n", output.Bold(title))
	if syn.OverallAssessment != "" {
		fmt.Fprintf(ui.Out, "  %s\n", syn.OverallAssessment)
	}
	for i, c := range syn.PrioritizedChanges {
		fmt.Fprintf(ui.Out, "  %d. [%s] %s\n", i+1, output.SeverityColor(string(c.Priority)), c.Description)
		if c.Reason != "" {
			fmt.Fprintf(ui.Out, "     %s\n", output.Faint(c.Reason))
		}
	}
	for _, conflict := range syn.ConflictingFeedback {
		fmt.Fprintf(ui.Out, "  %s %s\n", output.Yellow("conflict:"), conflict)
	}
	if syn.RecommendedFocus != "" {
		fmt.Fprintf(ui.Out, "  %s %s\n", output.Cyan("focus:"), syn.RecommendedFocus)
	}
}

func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
