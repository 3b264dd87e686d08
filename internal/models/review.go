package models

import "time"

// FindingType classifies a piece of reviewer feedback.
type FindingType string

const (
	FindingTypeSuggestion FindingType = "suggestion"
	FindingTypeWarning    FindingType = "warning"
	FindingTypeError      FindingType = "error"
	FindingTypePraise     FindingType = "praise"
	FindingTypeQuestion   FindingType = "question"
)

// FindingTypes lists every finding type in display order.
var FindingTypes = []FindingType{
	FindingTypeError,
	FindingTypeWarning,
	FindingTypeSuggestion,
	FindingTypeQuestion,
	FindingTypePraise,
}

// Valid reports whether t is a known finding type.
func (t FindingType) Valid() bool {
	for _, known := range FindingTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the urgency of a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// FindingStatus is the user's disposition of a finding.
type FindingStatus string

const (
	FindingStatusPending   FindingStatus = "pending"
	FindingStatusAccepted  FindingStatus = "accepted"
	FindingStatusRejected  FindingStatus = "rejected"
	FindingStatusDismissed FindingStatus = "dismissed"
)

// Valid reports whether s is a known disposition.
func (s FindingStatus) Valid() bool {
	switch s {
	case FindingStatusPending, FindingStatusAccepted, FindingStatusRejected, FindingStatusDismissed:
		return true
	}
	return false
}

// Finding is one structured unit of feedback tied to a document line range.
// Content fields are written once by the reviewer task; only Status changes afterwards.
type Finding struct {
	ID            string        `json:"id"`
	ReviewerID    string        `json:"reviewer_id"`
	ReviewerName  string        `json:"reviewer_name"`
	ReviewerIcon  string        `json:"reviewer_icon"`
	ReviewerColor string        `json:"reviewer_color"`
	LineStart     int           `json:"line_start"`
	LineEnd       int           `json:"line_end"`
	OriginalText  string        `json:"original_text"`
	Type          FindingType   `json:"type"`
	Severity      Severity      `json:"severity"`
	Comment       string        `json:"comment"`
	Suggestion    string        `json:"suggestion,omitempty"`
	Confidence    float64       `json:"confidence"`
	Status        FindingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Selection is a contiguous part of the document under review. Lines are 1-based and inclusive.
type Selection struct {
	Text      string `json:"text"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// SessionStatus is the lifecycle state of a review session.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusComplete   SessionStatus = "complete"
)

// ReviewSession is one review run.
type ReviewSession struct {
	ID              string        `json:"id"`
	DocumentPath    string        `json:"document_path"`
	DocumentContent string        `json:"document_content"`
	ReviewerIDs     []string      `json:"reviewer_ids"`
	Status          SessionStatus `json:"status"`
	Findings        []Finding     `json:"findings"`
	Summary         string        `json:"summary,omitempty"`
	Errors          []string      `json:"errors,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// CouncilFeedback is one council reviewer's contribution to a review document.
type CouncilFeedback struct {
	ReviewerID   string    `json:"reviewer_id"`
	ReviewerName string    `json:"reviewer_name"`
	ReviewerIcon string    `json:"reviewer_icon"`
	Model        string    `json:"model"`
	Findings     []Finding `json:"findings"`
	Summary      string    `json:"summary"`
	Failed       bool      `json:"failed,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ChangePriority ranks an editor recommendation.
type ChangePriority string

const (
	PriorityHigh   ChangePriority = "high"
	PriorityMedium ChangePriority = "medium"
	PriorityLow    ChangePriority = "low"
)

// PrioritizedChange is one recommendation of the editor synthesis.
type PrioritizedChange struct {
	Priority    ChangePriority `json:"priority"`
	Description string         `json:"description"`
	Reason      string         `json:"reason,omitempty"`
	FindingIDs  []string       `json:"finding_ids,omitempty"`
}

// EditorSynthesis is the editor's cross-cutting recommendation. Created once per review document.
type EditorSynthesis struct {
	OverallAssessment   string              `json:"overall_assessment"`
	PrioritizedChanges  []PrioritizedChange `json:"prioritized_changes"`
	ConflictingFeedback []string            `json:"conflicting_feedback,omitempty"`
	RecommendedFocus    string              `json:"recommended_focus,omitempty"`
	Degraded            bool                `json:"degraded,omitempty"`
	Model               string              `json:"model"`
	CreatedAt           time.Time           `json:"created_at"`
}

// ReviewDocument aggregates a full council run.
type ReviewDocument struct {
	SessionID       string            `json:"session_id"`
	DocumentPath    string            `json:"document_path"`
	DocumentContent string            `json:"document_content"`
	Selection       *Selection        `json:"selection,omitempty"`
	CouncilFeedback []CouncilFeedback `json:"council_feedback"`
	EditorSynthesis *EditorSynthesis  `json:"editor_synthesis,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// FindingCount returns the number of findings across all council feedback.
func (d *ReviewDocument) FindingCount() int {
	n := 0
	for _, fb := range d.CouncilFeedback {
		n += len(fb.Findings)
	}
	return n
}

// Clone returns a deep copy of the document.
func (d *ReviewDocument) Clone() *ReviewDocument {
	if d == nil {
		return nil
	}
	out := *d
	if d.Selection != nil {
		sel := *d.Selection
		out.Selection = &sel
	}
	out.CouncilFeedback = make([]CouncilFeedback, len(d.CouncilFeedback))
	for i, fb := range d.CouncilFeedback {
		fb.Findings = append([]Finding(nil), fb.Findings...)
		out.CouncilFeedback[i] = fb
	}
	if d.EditorSynthesis != nil {
		syn := *d.EditorSynthesis
		syn.PrioritizedChanges = make([]PrioritizedChange, len(d.EditorSynthesis.PrioritizedChanges))
		for i, c := range d.EditorSynthesis.PrioritizedChanges {
			c.FindingIDs = append([]string(nil), c.FindingIDs...)
			syn.PrioritizedChanges[i] = c
		}
		syn.ConflictingFeedback = append([]string(nil), d.EditorSynthesis.ConflictingFeedback...)
		out.EditorSynthesis = &syn
	}
	return &out
}

// Clone returns a deep copy of the session.
func (s *ReviewSession) Clone() *ReviewSession {
	if s == nil {
		return nil
	}
	out := *s
	out.ReviewerIDs = append([]string(nil), s.ReviewerIDs...)
	out.Findings = append([]Finding(nil), s.Findings...)
	out.Errors = append([]string(nil), s.Errors...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ReviewPhase is the orchestrator's position in the review workflow.
type ReviewPhase string

const (
	PhaseIdle               ReviewPhase = "idle"
	PhaseCouncilReviewing   ReviewPhase = "council_reviewing"
	PhaseEditorSynthesizing ReviewPhase = "editor_synthesizing"
	PhaseUserDeciding       ReviewPhase = "user_deciding"
	PhaseComplete           ReviewPhase = "complete"
)

// ReviewerProgress is the per-reviewer task state observed by the UI.
type ReviewerProgress string

const (
	ProgressPending    ReviewerProgress = "pending"
	ProgressInProgress ReviewerProgress = "in_progress"
	ProgressComplete   ReviewerProgress = "complete"
	ProgressError      ReviewerProgress = "error"
	ProgressSkipped    ReviewerProgress = "skipped"
)

// ResidencyStatus is the transient loading state of a model on the inference device.
type ResidencyStatus string

const (
	ResidencyIdle      ResidencyStatus = "idle"
	ResidencyUnloading ResidencyStatus = "unloading"
	ResidencyLoading   ResidencyStatus = "loading"
	ResidencyReady     ResidencyStatus = "ready"
	ResidencyError     ResidencyStatus = "error"
)
