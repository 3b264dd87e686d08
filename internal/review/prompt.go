package review

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/council/internal/models"
)

const reviewInstructions = `Respond ONLY with a JSON array. Each element describes one piece of feedback:
[
  {
    "line": <line number from the document>,
    "type": "suggestion" | "warning" | "error" | "praise" | "question",
    "severity": "low" | "medium" | "high",
    "text": "<the exact original text you are commenting on>",
    "comment": "<your feedback>",
    "suggestion": "<optional replacement text>"
  }
]

Rules:
- Use the line numbers shown before each line
- Keep each comment to one or two sentences
- Only include "suggestion" when you propose concrete replacement text
- If you have no feedback, respond with []
- No markdown fencing or explanation outside the JSON array`

const synthesisInstructions = `Respond ONLY with a JSON object of this shape:
{
  "overallAssessment": "<two to four sentences on the state of the document>",
  "prioritizedChanges": [
    {
      "priority": "high" | "medium" | "low",
      "description": "<the change to make>",
      "reason": "<why it matters>",
      "relatedFindings": ["F1", "F4"]
    }
  ],
  "conflictingFeedback": ["<where reviewers disagree and which view you side with>"],
  "recommendedFocus": "<the single most important thing to work on next>"
}

Rules:
- Order prioritizedChanges from most to least important
- Merge duplicate feedback from different reviewers into one change
- Reference findings by their [F#] tags in relatedFindings
- No markdown fencing or explanation outside the JSON object`

// BuildReviewPrompt assembles the prompt for one council reviewer.
// Lines are prefixed with their absolute document line numbers, including for selections.
func BuildReviewPrompt(reviewer *models.Reviewer, content string, sel *models.Selection) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(reviewer.SystemPrompt))
	b.WriteString("\n\n")

	text, first := content, 1
	if sel != nil && strings.TrimSpace(sel.Text) != "" {
		text = sel.Text
		if sel.StartLine > 0 {
			first = sel.StartLine
		}
		last := first + len(splitLines(text)) - 1
		fmt.Fprintf(&b, "Review the following selection (lines %d-%d) of the document.\n", first, last)
	} else {
		b.WriteString("Review the following document.\n")
	}
	b.WriteString("Each line is prefixed with its line number.\n\n")

	b.WriteString("--- DOCUMENT START ---\n")
	b.WriteString(numberLines(text, first))
	b.WriteString("--- DOCUMENT END ---\n\n")

	b.WriteString(reviewInstructions)
	b.WriteString("\n")
	return b.String()
}

// BuildSynthesisPrompt assembles the editor prompt from the document and every council contribution.
// refs maps the [F#] tags used in the digest back to finding IDs.
func BuildSynthesisPrompt(editor *models.Reviewer, doc *models.ReviewDocument, maxChars int) (prompt string, refs map[string]string) {
	var b strings.Builder
	refs = make(map[string]string)

	b.WriteString(strings.TrimSpace(editor.SystemPrompt))
	b.WriteString("\n\n")

	content := doc.DocumentContent
	if doc.Selection != nil && strings.TrimSpace(doc.Selection.Text) != "" {
		content = doc.Selection.Text
	}
	content, truncated := truncate(content, maxChars)

	b.WriteString("--- DOCUMENT START ---\n")
	b.WriteString(content)
	if truncated {
		fmt.Fprintf(&b, "\n[... document truncated after %d characters ...]", maxChars)
	}
	b.WriteString("\n--- DOCUMENT END ---\n\n")

	b.WriteString("## Council Feedback\n\n")
	n := 0
	for _, fb := range doc.CouncilFeedback {
		fmt.Fprintf(&b, "### %s %s (model: %s)\n", fb.ReviewerIcon, fb.ReviewerName, fb.Model)
		fmt.Fprintf(&b, "Summary: %s\n", fb.Summary)
		for _, f := range fb.Findings {
			n++
			tag := fmt.Sprintf("F%d", n)
			refs[tag] = f.ID
			fmt.Fprintf(&b, "- [%s] Line %d [%s] %s", tag, f.LineStart, f.Type, oneLine(f.Comment))
			if f.Suggestion != "" {
				fmt.Fprintf(&b, " → %s", oneLine(f.Suggestion))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if n == 0 {
		b.WriteString("The council produced no findings.\n\n")
	}

	b.WriteString(synthesisInstructions)
	b.WriteString("\n")
	return b.String(), refs
}

func numberLines(text string, first int) string {
	var b strings.Builder
	for i, line := range splitLines(text) {
		fmt.Fprintf(&b, "%d| %s\n", first+i, line)
	}
	return b.String()
}

func splitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	return string([]rune(s)[:maxChars]), true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
