package review

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joescharf/council/internal/models"
)

// SelectLines builds a Selection from a "start-end" (or single "n") 1-based line spec.
// An empty spec selects nothing and returns nil. The end is clamped to the document.
func SelectLines(content, spec string) (*models.Selection, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	startStr, endStr, isRange := strings.Cut(spec, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return nil, fmt.Errorf("invalid line range %q", spec)
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(strings.TrimSpace(endStr)); err != nil {
			return nil, fmt.Errorf("invalid line range %q", spec)
		}
	}

	lines := splitLines(content)
	if start < 1 || end < start || start > len(lines) {
		return nil, fmt.Errorf("line range %q is outside the document (1-%d)", spec, len(lines))
	}
	if end > len(lines) {
		end = len(lines)
	}
	return &models.Selection{
		Text:      strings.Join(lines[start-1:end], "\n"),
		StartLine: start,
		EndLine:   end,
	}, nil
}
