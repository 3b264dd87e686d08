package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/council/internal/models"
)

func TestBuildReviewPrompt_FullDocument(t *testing.T) {
	r := &models.Reviewer{SystemPrompt: "You are a style editor."}
	prompt := BuildReviewPrompt(r, "First line.\nSecond line.\n", nil)

	assert.True(t, strings.HasPrefix(prompt, "You are a style editor."))
	assert.Contains(t, prompt, "Review the following document.")
	assert.Contains(t, prompt, "1| First line.\n2| Second line.\n--- DOCUMENT END ---")
	assert.Contains(t, prompt, "respond with []")
}

func TestBuildReviewPrompt_SelectionUsesAbsoluteLines(t *testing.T) {
	r := &models.Reviewer{SystemPrompt: "You are a fact checker."}
	sel := &models.Selection{Text: "Tenth line.\nEleventh line.", StartLine: 10, EndLine: 11}
	prompt := BuildReviewPrompt(r, "ignored", sel)

	assert.Contains(t, prompt, "selection (lines 10-11)")
	assert.Contains(t, prompt, "10| Tenth line.\n11| Eleventh line.\n")
	assert.NotContains(t, prompt, "ignored")
}

func TestBuildSynthesisPrompt(t *testing.T) {
	editor := &models.Reviewer{SystemPrompt: "You are the editor-in-chief."}
	doc := &models.ReviewDocument{
		DocumentContent: strings.Repeat("a", 50),
		CouncilFeedback: []models.CouncilFeedback{
			{
				ReviewerName: "Fact Checker",
				ReviewerIcon: "🔍",
				Model:        "m1",
				Summary:      "1 error",
				Findings: []models.Finding{
					{ID: "id-1", LineStart: 2, Type: models.FindingTypeError, Comment: "Unverified\nclaim", Suggestion: "Cite it"},
				},
			},
			{ReviewerName: "Style Editor", Model: "m1", Summary: "Review failed", Failed: true},
		},
	}

	prompt, refs := BuildSynthesisPrompt(editor, doc, 20)

	assert.Contains(t, prompt, strings.Repeat("a", 20)+"\n[... document truncated after 20 characters ...]")
	assert.NotContains(t, prompt, strings.Repeat("a", 21))
	assert.Contains(t, prompt, "### 🔍 Fact Checker (model: m1)")
	assert.Contains(t, prompt, "- [F1] Line 2 [error] Unverified claim → Cite it")
	assert.Contains(t, prompt, "Style Editor (model: m1)")
	assert.NotContains(t, prompt, "The council produced no findings.")
	assert.Equal(t, map[string]string{"F1": "id-1"}, refs)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\n"))
	assert.Equal(t, []string{""}, splitLines(""))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
}
