// Package feedback turns free-form reviewer output into structured findings.
//
// Models are not obliged to return well-formed JSON, so parsing is an ordered cascade of
// strategies. The first strategy that produces at least one finding wins. Parsing never
// fails: the worst case is an empty result.
package feedback

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/council/internal/models"
)

const (
	// MaxFallbackComment bounds the single finding produced from unstructured text.
	MaxFallbackComment = 500
	minFallbackLength  = 20
	minPatternComment  = 10

	structuredConfidence = 0.8
	patternConfidence    = 0.6
	fallbackConfidence   = 0.3
)

// Strategy extracts findings from a raw response. ok is false when it found nothing.
type Strategy struct {
	Name    string
	Extract func(raw string) (findings []models.Finding, ok bool)
}

// Strategies is the cascade in the order it is tried.
var Strategies = []Strategy{
	{Name: "json", Extract: extractJSON},
	{Name: "line-pattern", Extract: extractLinePatterns},
	{Name: "unstructured", Extract: extractUnstructured},
}

// Parse converts a raw model response into findings. Line numbers default to 1;
// reviewer metadata, IDs and timestamps are left for the caller.
func Parse(raw string) []models.Finding {
	findings, _ := ParseWithStrategy(raw)
	return findings
}

// ParseWithStrategy is Parse that also reports which strategy produced the result.
func ParseWithStrategy(raw string) ([]models.Finding, string) {
	if strings.TrimSpace(raw) == "" {
		return nil, ""
	}
	for _, s := range Strategies {
		if findings, ok := s.Extract(raw); ok {
			return findings, s.Name
		}
	}
	return nil, ""
}

var jsonArrayStartRe = regexp.MustCompile(`\[\s*\{`)

type rawFinding struct {
	Line       json.RawMessage `json:"line"`
	EndLine    json.RawMessage `json:"endLine"`
	Type       string          `json:"type"`
	Severity   string          `json:"severity"`
	Text       string          `json:"text"`
	Comment    string          `json:"comment"`
	Suggestion string          `json:"suggestion"`
	Confidence *float64        `json:"confidence"`
}

// firstJSONArray decodes the first array of objects in raw, ignoring any surrounding prose.
func firstJSONArray(raw string) []rawFinding {
	for _, loc := range jsonArrayStartRe.FindAllStringIndex(raw, -1) {
		var items []rawFinding
		dec := json.NewDecoder(strings.NewReader(raw[loc[0]:]))
		if err := dec.Decode(&items); err == nil && len(items) > 0 {
			return items
		}
	}
	return nil
}

func extractJSON(raw string) ([]models.Finding, bool) {
	items := firstJSONArray(raw)
	if len(items) == 0 {
		return nil, false
	}

	findings := make([]models.Finding, 0, len(items))
	for _, item := range items {
		start, end := parseLineValue(item.Line)
		if e, _ := parseLineValue(item.EndLine); e > 0 {
			end = e
		}
		if start <= 0 {
			start = 1
		}
		if end < start {
			end = start
		}

		typ := models.FindingType(strings.ToLower(strings.TrimSpace(item.Type)))
		if !typ.Valid() {
			typ = models.FindingTypeSuggestion
		}
		sev := models.Severity(strings.ToLower(strings.TrimSpace(item.Severity)))
		if !sev.Valid() {
			sev = InferSeverity(typ, item.Comment)
		}
		conf := structuredConfidence
		if item.Confidence != nil {
			conf = clamp01(*item.Confidence)
		}

		findings = append(findings, models.Finding{
			LineStart:    start,
			LineEnd:      end,
			OriginalText: item.Text,
			Type:         typ,
			Severity:     sev,
			Comment:      item.Comment,
			Suggestion:   item.Suggestion,
			Confidence:   conf,
		})
	}
	return findings, true
}

// parseLineValue accepts 7, "7" or "7-9".
func parseLineValue(raw json.RawMessage) (start, end int) {
	if len(raw) == 0 {
		return 0, 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, 0
	}
	return parseLineRange(s)
}

var lineRangeRe = regexp.MustCompile(`(\d+)(?:\s*[-–]\s*(\d+))?`)

func parseLineRange(s string) (start, end int) {
	m := lineRangeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0
	}
	start, _ = strconv.Atoi(m[1])
	end = start
	if m[2] != "" {
		end, _ = strconv.Atoi(m[2])
	}
	return start, end
}

// linePattern captures an optional line (range) and the comment text.
type linePattern struct {
	re *regexp.Regexp
	// lineGroup is the submatch index of the line number, or 0 when the number is an enumeration.
	lineGroup int
	endGroup  int
	textGroup int
}

var linePatterns = []linePattern{
	{
		re:        regexp.MustCompile(`(?mi)^[ \t]*(?:[-*•][ \t]*)?(?:\*\*)?line[ \t]+(\d+)(?:[ \t]*[-–][ \t]*(\d+))?(?:\*\*)?[ \t]*[:.)\-–][ \t]*(.+)$`),
		lineGroup: 1,
		endGroup:  2,
		textGroup: 3,
	},
	{
		re:        regexp.MustCompile(`(?m)^[ \t]*\d+\.[ \t]+(.+)$`),
		textGroup: 1,
	},
	{
		re:        regexp.MustCompile(`(?mi)^[ \t]*[-*•][ \t]+(?:(?:line[ \t]+)?(\d+)[ \t]*[:.)\-][ \t]*)?(.+)$`),
		lineGroup: 1,
		textGroup: 2,
	},
}

var inlineLineRe = regexp.MustCompile(`(?i)\blines?[ \t]+(\d+)(?:[ \t]*[-–][ \t]*(\d+))?`)

func extractLinePatterns(raw string) ([]models.Finding, bool) {
	for _, p := range linePatterns {
		matches := p.re.FindAllStringSubmatch(raw, -1)
		var findings []models.Finding
		for _, m := range matches {
			comment := strings.TrimSpace(m[p.textGroup])
			comment = strings.TrimSpace(strings.Trim(comment, "*"))
			if utf8.RuneCountInString(comment) < minPatternComment {
				continue
			}

			start, end := 0, 0
			if p.lineGroup > 0 && m[p.lineGroup] != "" {
				start, _ = strconv.Atoi(m[p.lineGroup])
				end = start
				if p.endGroup > 0 && m[p.endGroup] != "" {
					end, _ = strconv.Atoi(m[p.endGroup])
				}
			} else if im := inlineLineRe.FindStringSubmatch(comment); im != nil {
				start, _ = strconv.Atoi(im[1])
				end = start
				if im[2] != "" {
					end, _ = strconv.Atoi(im[2])
				}
			}
			if start <= 0 {
				start = 1
			}
			if end < start {
				end = start
			}

			typ := InferType(comment)
			findings = append(findings, models.Finding{
				LineStart:  start,
				LineEnd:    end,
				Type:       typ,
				Severity:   InferSeverity(typ, comment),
				Comment:    comment,
				Confidence: patternConfidence,
			})
		}
		if len(findings) > 0 {
			return findings, true
		}
	}
	return nil, false
}

func extractUnstructured(raw string) ([]models.Finding, bool) {
	text := strings.TrimSpace(raw)
	if utf8.RuneCountInString(text) <= minFallbackLength {
		return nil, false
	}
	comment := truncateRunes(text, MaxFallbackComment)
	return []models.Finding{{
		LineStart:  1,
		LineEnd:    1,
		Type:       models.FindingTypeSuggestion,
		Severity:   InferSeverity(models.FindingTypeSuggestion, comment),
		Comment:    comment,
		Confidence: fallbackConfidence,
	}}, true
}

// InferType classifies a comment by keyword when the model supplied no explicit type.
func InferType(comment string) models.FindingType {
	lower := strings.ToLower(comment)
	switch {
	case containsAny(lower, "error", "incorrect", "wrong"):
		return models.FindingTypeError
	case containsAny(lower, "warning", "caution", "careful"):
		return models.FindingTypeWarning
	case containsAny(lower, "good", "great", "excellent", "well"):
		return models.FindingTypePraise
	case strings.Contains(lower, "?") || containsAny(lower, "unclear", "clarify"):
		return models.FindingTypeQuestion
	default:
		return models.FindingTypeSuggestion
	}
}

// InferSeverity derives severity from the type, falling back to urgency language in the comment.
func InferSeverity(typ models.FindingType, comment string) models.Severity {
	switch typ {
	case models.FindingTypeError:
		return models.SeverityHigh
	case models.FindingTypeWarning:
		return models.SeverityMedium
	case models.FindingTypePraise:
		return models.SeverityLow
	}
	lower := strings.ToLower(comment)
	switch {
	case containsAny(lower, "critical", "must", "immediately"):
		return models.SeverityHigh
	case containsAny(lower, "should", "consider", "might"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
