package review

import (
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/council/internal/models"
)

// EventKind identifies what changed.
type EventKind string

const (
	EventPhase            EventKind = "phase"
	EventReviewerProgress EventKind = "reviewer_progress"
	EventResidency        EventKind = "residency"
	EventCouncilFeedback  EventKind = "council_feedback"
	EventSynthesis        EventKind = "synthesis"
	EventFindingStatus    EventKind = "finding_status"
	EventCancelled        EventKind = "cancelled"
)

// Event is one orchestrator state transition. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind               `json:"kind"`
	SessionID  string                  `json:"session_id,omitempty"`
	Phase      models.ReviewPhase      `json:"phase,omitempty"`
	ReviewerID string                  `json:"reviewer_id,omitempty"`
	Progress   models.ReviewerProgress `json:"progress,omitempty"`
	Model      string                  `json:"model,omitempty"`
	Residency  models.ResidencyStatus  `json:"residency,omitempty"`
	Feedback   *models.CouncilFeedback `json:"feedback,omitempty"`
	Synthesis  *models.EditorSynthesis `json:"synthesis,omitempty"`
	FindingID  string                  `json:"finding_id,omitempty"`
	Status     models.FindingStatus    `json:"status,omitempty"`
	Time       time.Time               `json:"time"`
}

const subscriberBuffer = 64

// broadcaster fans events out to subscribers without ever blocking the publisher.
type broadcaster struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{logger: logger, subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("event dropped, subscriber buffer full", "subscriber", id, "kind", ev.Kind)
		}
	}
}
