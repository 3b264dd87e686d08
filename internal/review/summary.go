package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/council/internal/models"
)

// TallySummary renders a one-line count of findings by type, most severe first.
func TallySummary(findings []models.Finding) string {
	if len(findings) == 0 {
		return "No issues found"
	}
	counts := make(map[models.FindingType]int)
	for _, f := range findings {
		counts[f.Type]++
	}
	var parts []string
	for _, t := range models.FindingTypes {
		n := counts[t]
		if n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, plural(string(t), n)))
	}
	return strings.Join(parts, ", ")
}

// sessionSummary describes the outcome of a finished run.
func sessionSummary(doc *models.ReviewDocument, editor *models.Reviewer, synthErr error) string {
	responded, failed := 0, []string{}
	for _, fb := range doc.CouncilFeedback {
		if fb.Failed {
			failed = append(failed, fb.ReviewerName)
			continue
		}
		responded++
	}

	var b strings.Builder
	total := doc.FindingCount()
	fmt.Fprintf(&b, "%d of %d reviewers responded with %d %s",
		responded, len(doc.CouncilFeedback), total, plural("finding", total))
	if len(failed) > 0 {
		fmt.Fprintf(&b, "; failed: %s", strings.Join(failed, ", "))
	}
	switch {
	case editor == nil:
	case synthErr != nil:
		b.WriteString("; editor synthesis unavailable")
	case doc.EditorSynthesis != nil && doc.EditorSynthesis.Degraded:
		b.WriteString("; editor synthesis degraded")
	}
	return b.String()
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
