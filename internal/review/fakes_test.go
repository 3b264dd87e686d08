package review

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/residency"
)

// fakeGateway answers generate calls by looking up the reviewer marker embedded in the prompt.
type fakeGateway struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]error
	block     map[string]chan struct{}
	started   chan string
	calls     []inference.Request
	callers   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string]string),
		failures:  make(map[string]error),
		block:     make(map[string]chan struct{}),
	}
}

func (g *fakeGateway) Generate(ctx context.Context, req inference.Request) (string, error) {
	caller := markerOf(req.Prompt)

	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.callers = append(g.callers, caller)
	wait := g.block[caller]
	started := g.started
	resp, err := g.responses[caller], g.failures[caller]
	g.mu.Unlock()

	if started != nil {
		select {
		case started <- caller:
		default:
		}
	}
	if wait != nil {
		<-wait
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

func (g *fakeGateway) Callers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.callers...)
}

func (g *fakeGateway) Calls() []inference.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]inference.Request(nil), g.calls...)
}

// markerOf returns the reviewer ID from a "You are <id>." system prompt.
func markerOf(prompt string) string {
	const prefix = "You are "
	i := strings.Index(prompt, prefix)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(prefix):]
	if j := strings.Index(rest, "."); j >= 0 {
		return rest[:j]
	}
	return rest
}

type fakeResidency struct {
	mu       sync.Mutex
	loads    []string
	failing  map[string]bool
	observer residency.Observer
}

func newFakeResidency() *fakeResidency {
	return &fakeResidency{failing: make(map[string]bool)}
}

func (r *fakeResidency) EnsureLoaded(_ context.Context, model string) bool {
	r.mu.Lock()
	r.loads = append(r.loads, model)
	fail := r.failing[model]
	obs := r.observer
	r.mu.Unlock()
	if obs != nil {
		if fail {
			obs(model, models.ResidencyError)
		} else {
			obs(model, models.ResidencyReady)
		}
	}
	return !fail
}

func (r *fakeResidency) Snapshot() map[string]models.ResidencyStatus {
	return map[string]models.ResidencyStatus{}
}

func (r *fakeResidency) SetObserver(obs residency.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = obs
}

func (r *fakeResidency) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loads...)
}

type fakeReviewers []*models.Reviewer

func (f fakeReviewers) ListReviewers(context.Context) ([]*models.Reviewer, error) {
	return f, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []*models.ReviewSession
	docs     []*models.ReviewDocument
	updates  map[string]models.FindingStatus
	saveErr  error

	// saving and release, when set, hold SaveReview until the test lets it finish.
	saving  chan struct{}
	release chan struct{}
}

func (r *fakeRecorder) SaveReview(_ context.Context, s *models.ReviewSession, d *models.ReviewDocument) error {
	if r.saving != nil {
		close(r.saving)
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
	r.docs = append(r.docs, d)
	return r.saveErr
}

func (r *fakeRecorder) UpdateFindingStatus(_ context.Context, id string, st models.FindingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[string]models.FindingStatus)
	}
	r.updates[id] = st
	return nil
}

func (r *fakeRecorder) Saved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func reviewer(id, model string, order int) *models.Reviewer {
	return &models.Reviewer{
		ID:           id,
		Name:         strings.ToUpper(id[:1]) + id[1:],
		Model:        model,
		SystemPrompt: "You are " + id + ".",
		Enabled:      true,
		SortOrder:    order,
	}
}

func editorReviewer(id, model string, order int) *models.Reviewer {
	r := reviewer(id, model, order)
	r.IsEditor = true
	return r
}

var errTransport = errors.New("connection refused")
