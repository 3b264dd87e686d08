package models

import "time"

// Reviewer is a configured role that critiques a document with one model and one prompt.
type Reviewer struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Icon         string    `json:"icon" yaml:"icon"`
	Color        string    `json:"color" yaml:"color"`
	Model        string    `json:"model" yaml:"model"`
	SystemPrompt string    `json:"system_prompt" yaml:"system_prompt"`
	IsEditor     bool      `json:"is_editor" yaml:"is_editor"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
	SortOrder    int       `json:"sort_order" yaml:"sort_order"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// DefaultReviewerModel is assigned to the seeded reviewers.
const DefaultReviewerModel = "llama3.2"

// DefaultReviewers returns the panel seeded into an empty store.
func DefaultReviewers() []*Reviewer {
	return []*Reviewer{
		{
			ID:    "style-editor",
			Name:  "Style Editor",
			Icon:  "✍️",
			Color: "#8b5cf6",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are a meticulous style editor. Review the text for word choice, rhythm, tone consistency,
passive voice, filler words and awkward phrasing. Point to the exact line and propose a rewrite.`,
			Enabled:   true,
			SortOrder: 1,
		},
		{
			ID:    "fact-checker",
			Name:  "Fact Checker",
			Icon:  "🔍",
			Color: "#ef4444",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are a rigorous fact checker. Flag claims that are unverified, outdated, contradictory or
need a source. Mark clear factual mistakes as errors and questionable claims as warnings.`,
			Enabled:   true,
			SortOrder: 2,
		},
		{
			ID:    "structure-analyst",
			Name:  "Structure Analyst",
			Icon:  "🏗️",
			Color: "#3b82f6",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are a structure analyst. Evaluate the organisation of the document: heading hierarchy,
paragraph order, transitions, missing sections and repetition.`,
			Enabled:   true,
			SortOrder: 3,
		},
		{
			ID:    "clarity-coach",
			Name:  "Clarity Coach",
			Icon:  "💡",
			Color: "#f59e0b",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are a clarity coach. Find sentences a newcomer would stumble on: jargon, ambiguous
references, overloaded sentences and unexplained acronyms. Ask questions where intent is unclear.`,
			Enabled:   true,
			SortOrder: 4,
		},
		{
			ID:    "devils-advocate",
			Name:  "Devil's Advocate",
			Icon:  "😈",
			Color: "#10b981",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are a devil's advocate. Challenge the argument: weak reasoning, unstated assumptions,
missing counterarguments and conclusions that do not follow.`,
			Enabled:   false,
			SortOrder: 5,
		},
		{
			ID:    "editor-in-chief",
			Name:  "Editor-in-Chief",
			Icon:  "👑",
			Color: "#111827",
			Model: DefaultReviewerModel,
			SystemPrompt: `You are the editor-in-chief. You receive feedback from a panel of reviewers and decide
which changes matter most. Resolve conflicts between reviewers and produce a prioritized plan.`,
			IsEditor:  true,
			Enabled:   true,
			SortOrder: 6,
		},
	}
}
