package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
)

// maxDegradedAssessment bounds the raw text kept when the editor's response cannot be parsed.
const maxDegradedAssessment = 500

// Synthesizer runs the editor role over the collected council feedback.
type Synthesizer struct {
	gen      inference.Generator
	sampling Sampling
	maxChars int
	logger   *slog.Logger
	now      func() time.Time
}

// NewSynthesizer creates the synthesis stage. maxChars bounds the document excerpt in the prompt.
func NewSynthesizer(gen inference.Generator, sampling Sampling, maxChars int, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChars <= 0 {
		maxChars = defaultSynthesisMaxChars
	}
	return &Synthesizer{gen: gen, sampling: sampling, maxChars: maxChars, logger: logger, now: time.Now}
}

type synthesisPayload struct {
	OverallAssessment  string `json:"overallAssessment"`
	PrioritizedChanges []struct {
		Priority        string   `json:"priority"`
		Description     string   `json:"description"`
		Reason          string   `json:"reason"`
		RelatedFindings []string `json:"relatedFindings"`
	} `json:"prioritizedChanges"`
	ConflictingFeedback json.RawMessage `json:"conflictingFeedback"`
	RecommendedFocus    json.RawMessage `json:"recommendedFocus"`
}

// Synthesize asks the editor for a prioritized plan. An unparseable response still yields a
// degraded synthesis; only a gateway failure returns an error.
func (s *Synthesizer) Synthesize(ctx context.Context, editor *models.Reviewer, doc *models.ReviewDocument) (*models.EditorSynthesis, error) {
	prompt, refs := BuildSynthesisPrompt(editor, doc, s.maxChars)

	raw, err := s.gen.Generate(ctx, inference.Request{
		Model:   editor.Model,
		Prompt:  prompt,
		Options: s.sampling.ReviewOptions(),
	})
	if err != nil {
		return nil, fmt.Errorf("editor synthesis: %w", err)
	}
	return ParseSynthesis(raw, refs, editor.Model, s.now().UTC()), nil
}

// ParseSynthesis extracts an EditorSynthesis from the editor's raw response.
func ParseSynthesis(raw string, refs map[string]string, model string, now time.Time) *models.EditorSynthesis {
	out := &models.EditorSynthesis{
		PrioritizedChanges: []models.PrioritizedChange{},
		Model:              model,
		CreatedAt:          now,
	}

	payload, ok := firstJSONObject(raw)
	if !ok || (strings.TrimSpace(payload.OverallAssessment) == "" && len(payload.PrioritizedChanges) == 0) {
		out.OverallAssessment, _ = truncate(strings.TrimSpace(raw), maxDegradedAssessment)
		out.Degraded = true
		return out
	}

	out.OverallAssessment = strings.TrimSpace(payload.OverallAssessment)
	for _, c := range payload.PrioritizedChanges {
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			continue
		}
		change := models.PrioritizedChange{
			Priority:    normalizePriority(c.Priority),
			Description: desc,
			Reason:      strings.TrimSpace(c.Reason),
		}
		for _, tag := range c.RelatedFindings {
			tag = strings.Trim(strings.TrimSpace(tag), "[]")
			if id, ok := refs[strings.ToUpper(tag)]; ok {
				change.FindingIDs = append(change.FindingIDs, id)
			}
		}
		out.PrioritizedChanges = append(out.PrioritizedChanges, change)
	}
	out.ConflictingFeedback = stringList(payload.ConflictingFeedback)
	out.RecommendedFocus = strings.Join(stringList(payload.RecommendedFocus), "; ")
	return out
}

// firstJSONObject decodes the first JSON object in raw that fits the synthesis shape.
func firstJSONObject(raw string) (synthesisPayload, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		var p synthesisPayload
		if err := json.NewDecoder(strings.NewReader(raw[i:])).Decode(&p); err == nil {
			return p, true
		}
	}
	return synthesisPayload{}, false
}

// stringList accepts a string or an array of strings (models are inconsistent here).
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []any
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	var out []string
	for _, v := range many {
		switch t := v.(type) {
		case string:
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		default:
			if b, err := json.Marshal(t); err == nil {
				out = append(out, string(b))
			}
		}
	}
	return out
}

func normalizePriority(p string) models.ChangePriority {
	switch models.ChangePriority(strings.ToLower(strings.TrimSpace(p))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}
