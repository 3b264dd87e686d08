package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/residency"
)

var (
	ErrReviewInProgress = errors.New("a review is already in progress")
	ErrNoReviewers      = errors.New("no enabled reviewers selected")
	ErrEmptyDocument    = errors.New("document is empty")
	ErrNotDeciding      = errors.New("review is not awaiting decisions")
	ErrFindingNotFound  = errors.New("finding not found")
	ErrCancelled        = errors.New("review cancelled")
)

// ReviewerSource provides the configured reviewers in configuration order.
type ReviewerSource interface {
	ListReviewers(ctx context.Context) ([]*models.Reviewer, error)
}

// Residency is the part of the residency controller the orchestrator depends on.
type Residency interface {
	EnsureLoaded(ctx context.Context, model string) bool
	Snapshot() map[string]models.ResidencyStatus
	SetObserver(obs residency.Observer)
}

// Recorder persists finished reviews and later status changes.
type Recorder interface {
	SaveReview(ctx context.Context, session *models.ReviewSession, doc *models.ReviewDocument) error
	UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error
}

// Deps are the collaborators of an Orchestrator. Residency and Recorder are optional.
type Deps struct {
	Reviewers ReviewerSource
	Gateway   inference.Generator
	Residency Residency
	Recorder  Recorder
	Logger    *slog.Logger
}

// StartRequest describes a review to run.
type StartRequest struct {
	DocumentPath string            `json:"document_path"`
	Content      string            `json:"content"`
	ReviewerIDs  []string          `json:"reviewer_ids,omitempty"`
	Selection    *models.Selection `json:"selection,omitempty"`
}

// State is a point-in-time copy of the orchestrator's observable state.
type State struct {
	Phase     models.ReviewPhase                 `json:"phase"`
	Running   bool                               `json:"running"`
	Progress  map[string]models.ReviewerProgress `json:"progress"`
	Residency map[string]models.ResidencyStatus  `json:"residency"`
	Session   *models.ReviewSession              `json:"session,omitempty"`
	Document  *models.ReviewDocument             `json:"document,omitempty"`
}

// Orchestrator drives one review at a time through council review, editor synthesis and
// user decisions.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	runner *Runner
	synth  *Synthesizer
	events *broadcaster
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	phase      models.ReviewPhase
	progress   map[string]models.ReviewerProgress
	session    *models.ReviewSession
	doc        *models.ReviewDocument
	generation uint64
	running    bool
	done       chan struct{}
}

// plan is the resolved reviewer lineup of one run.
type plan struct {
	gen     uint64
	council []*models.Reviewer
	editor  *models.Reviewer
	content string
	sel     *models.Selection
	done    chan struct{}
}

// New creates an orchestrator in the idle phase.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg = cfg.normalized()
	o := &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		runner:   NewRunner(deps.Gateway, cfg.Sampling, deps.Logger),
		synth:    NewSynthesizer(deps.Gateway, cfg.Sampling, cfg.SynthesisMaxChars, deps.Logger),
		events:   newBroadcaster(deps.Logger),
		logger:   deps.Logger,
		now:      time.Now,
		phase:    models.PhaseIdle,
		progress: make(map[string]models.ReviewerProgress),
	}
	if deps.Residency != nil {
		deps.Residency.SetObserver(o.onResidency)
	}
	return o
}

// Subscribe returns the ordered event stream and a function that ends the subscription.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.events.subscribe()
}

// Start validates req and begins the review in the background. It returns the new session ID.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", ErrEmptyDocument
	}
	all, err := o.deps.Reviewers.ListReviewers(ctx)
	if err != nil {
		return "", fmt.Errorf("load reviewers: %w", err)
	}
	council, editor := selectReviewers(all, req.ReviewerIDs)
	if len(council) == 0 && editor == nil {
		return "", ErrNoReviewers
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return "", ErrReviewInProgress
	}

	now := o.now().UTC()
	sel := req.Selection
	if sel != nil && strings.TrimSpace(sel.Text) == "" {
		sel = nil
	}
	id := models.NewID()

	var ids []string
	for _, r := range council {
		ids = append(ids, r.ID)
	}
	if editor != nil {
		ids = append(ids, editor.ID)
	}

	o.generation++
	p := &plan{
		gen:     o.generation,
		council: council,
		editor:  editor,
		content: req.Content,
		sel:     sel,
		done:    make(chan struct{}),
	}
	o.session = &models.ReviewSession{
		ID:              id,
		DocumentPath:    req.DocumentPath,
		DocumentContent: req.Content,
		ReviewerIDs:     ids,
		Status:          models.SessionStatusInProgress,
		StartedAt:       now,
	}
	o.doc = &models.ReviewDocument{
		SessionID:       id,
		DocumentPath:    req.DocumentPath,
		DocumentContent: req.Content,
		Selection:       cloneSelection(sel),
		CouncilFeedback: []models.CouncilFeedback{},
		CreatedAt:       now,
	}
	o.progress = make(map[string]models.ReviewerProgress, len(ids))
	for _, rid := range ids {
		o.progress[rid] = models.ProgressPending
	}
	o.running = true
	o.done = p.done
	o.setPhaseLocked(models.PhaseCouncilReviewing)

	go o.execute(context.WithoutCancel(ctx), p)
	return id, nil
}

// Run performs a review and blocks until it reaches user_deciding. Cancelling ctx cancels the review.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (*models.ReviewDocument, error) {
	id, err := o.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := o.Wait(ctx); err != nil {
		o.Cancel()
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.doc == nil || o.doc.SessionID != id {
		return nil, ErrCancelled
	}
	return o.doc.Clone(), nil
}

// Wait blocks until the current run goroutine has exited or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the in-flight review and discards it. The reviewer call in flight is allowed to
// finish, but its result is dropped. It reports whether there was anything to cancel.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.session == nil {
		return false
	}
	sessionID := o.session.ID
	o.generation++
	o.session = nil
	o.doc = nil
	o.progress = make(map[string]models.ReviewerProgress)
	o.events.publish(Event{Kind: EventCancelled, SessionID: sessionID, Time: o.now().UTC()})
	o.setPhaseLocked(models.PhaseIdle)
	o.logger.Info("review cancelled", "session", sessionID)
	return true
}

// UpdateFindingStatus records the user's decision on a finding. When no finding remains
// pending the review becomes complete.
func (o *Orchestrator) UpdateFindingStatus(ctx context.Context, findingID string, status models.FindingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid finding status %q", status)
	}

	o.mu.Lock()
	if o.doc == nil || (o.phase != models.PhaseUserDeciding && o.phase != models.PhaseComplete) {
		o.mu.Unlock()
		return ErrNotDeciding
	}
	if !o.setFindingStatusLocked(findingID, status) {
		o.mu.Unlock()
		return ErrFindingNotFound
	}
	o.events.publish(Event{
		Kind:      EventFindingStatus,
		SessionID: o.doc.SessionID,
		FindingID: findingID,
		Status:    status,
		Time:      o.now().UTC(),
	})
	if o.phase == models.PhaseUserDeciding && !o.hasPendingLocked() {
		o.setPhaseLocked(models.PhaseComplete)
	}
	o.mu.Unlock()

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.UpdateFindingStatus(ctx, findingID, status); err != nil {
			o.logger.Warn("persist finding status", "finding", findingID, "error", err)
		}
	}
	return nil
}

// Complete marks the review as decided regardless of pending findings.
func (o *Orchestrator) Complete() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != models.PhaseUserDeciding {
		return ErrNotDeciding
	}
	o.setPhaseLocked(models.PhaseComplete)
	return nil
}

// Snapshot returns a deep copy of the observable state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	st := State{
		Phase:    o.phase,
		Running:  o.running,
		Progress: make(map[string]models.ReviewerProgress, len(o.progress)),
		Session:  o.session.Clone(),
		Document: o.doc.Clone(),
	}
	for k, v := range o.progress {
		st.Progress[k] = v
	}
	o.mu.Unlock()

	if o.deps.Residency != nil {
		st.Residency = o.deps.Residency.Snapshot()
	} else {
		st.Residency = map[string]models.ResidencyStatus{}
	}
	return st
}

func (o *Orchestrator) execute(ctx context.Context, p *plan) {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(p.done)
	}()

	var ok bool
	if o.cfg.Mode == ModeParallel {
		ok = o.runParallel(ctx, p)
	} else {
		ok = o.runSequential(ctx, p)
	}
	if !ok {
		return
	}

	var synthErr error
	if p.editor != nil {
		if !o.setPhase(p.gen, models.PhaseEditorSynthesizing) {
			return
		}
		var syn *models.EditorSynthesis
		syn, synthErr = o.synthesize(ctx, p)
		if !o.recordSynthesis(p.gen, syn, synthErr) {
			return
		}
	}
	o.finalize(ctx, p, synthErr)
}

func (o *Orchestrator) runSequential(ctx context.Context, p *plan) bool {
	for _, group := range groupByModel(p.council) {
		if o.stale(p.gen) {
			return false
		}
		if !o.ensureLoaded(ctx, group[0].Model) {
			for _, r := range group {
				fb := failedFeedback(r, fmt.Sprintf("%s: model %s could not be loaded", r.Name, r.Model))
				o.setProgress(p.gen, r.ID, models.ProgressError)
				if !o.appendFeedback(p.gen, fb) {
					return false
				}
			}
			continue
		}
		for _, r := range group {
			if o.stale(p.gen) {
				return false
			}
			fb := o.runOne(ctx, p, r)
			if !o.appendFeedback(p.gen, fb) {
				return false
			}
		}
	}
	return !o.stale(p.gen)
}

func (o *Orchestrator) runParallel(ctx context.Context, p *plan) bool {
	results := make([]models.CouncilFeedback, len(p.council))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	for i, r := range p.council {
		g.Go(func() error {
			if o.stale(p.gen) {
				return nil
			}
			results[i] = o.runOne(gctx, p, r)
			return nil
		})
	}
	_ = g.Wait()

	for _, fb := range results {
		if fb.ReviewerID == "" {
			return false
		}
		if !o.appendFeedback(p.gen, fb) {
			return false
		}
	}
	return !o.stale(p.gen)
}

func (o *Orchestrator) runOne(ctx context.Context, p *plan, r *models.Reviewer) models.CouncilFeedback {
	progress := func(id string, st models.ReviewerProgress) { o.setProgress(p.gen, id, st) }
	findings, err := o.runner.Run(ctx, r, p.content, p.sel, progress)
	if err != nil {
		return failedFeedback(r, err.Error())
	}
	return models.CouncilFeedback{
		ReviewerID:   r.ID,
		ReviewerName: r.Name,
		ReviewerIcon: r.Icon,
		Model:        r.Model,
		Findings:     findings,
		Summary:      TallySummary(findings),
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, p *plan) (*models.EditorSynthesis, error) {
	o.setProgress(p.gen, p.editor.ID, models.ProgressInProgress)
	if o.cfg.Mode != ModeParallel && !o.ensureLoaded(ctx, p.editor.Model) {
		o.setProgress(p.gen, p.editor.ID, models.ProgressError)
		return nil, fmt.Errorf("editor model %s could not be loaded", p.editor.Model)
	}

	o.mu.Lock()
	if o.generation != p.gen {
		o.mu.Unlock()
		return nil, ErrCancelled
	}
	doc := o.doc.Clone()
	o.mu.Unlock()

	syn, err := o.synth.Synthesize(ctx, p.editor, doc)
	if err != nil {
		o.logger.Warn("editor synthesis failed", "editor", p.editor.ID, "error", err)
		o.setProgress(p.gen, p.editor.ID, models.ProgressError)
		return nil, err
	}
	o.setProgress(p.gen, p.editor.ID, models.ProgressComplete)
	return syn, nil
}

func (o *Orchestrator) ensureLoaded(ctx context.Context, model string) bool {
	if o.deps.Residency == nil {
		return true
	}
	return o.deps.Residency.EnsureLoaded(ctx, model)
}

// finalize completes the session, persists it outside the lock and only then
// enters user_deciding. A cancel that lands during the save wins.
func (o *Orchestrator) finalize(ctx context.Context, p *plan, synthErr error) {
	session, doc, ok := o.completeSession(p, synthErr)
	if !ok {
		return
	}

	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.SaveReview(ctx, session, doc); err != nil {
			o.logger.Warn("persist review", "session", session.ID, "error", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != p.gen {
		o.logger.Info("review cancelled while saving", "session", session.ID)
		return
	}
	o.logger.Info("review finished", "session", session.ID, "summary", session.Summary)
	o.setPhaseLocked(models.PhaseUserDeciding)
}

func (o *Orchestrator) completeSession(p *plan, synthErr error) (*models.ReviewSession, *models.ReviewDocument, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != p.gen {
		return nil, nil, false
	}

	now := o.now().UTC()
	var findings []models.Finding
	var errs []string
	for _, fb := range o.doc.CouncilFeedback {
		findings = append(findings, fb.Findings...)
		if fb.Failed {
			errs = append(errs, fb.Error)
		}
	}
	if synthErr != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", p.editor.Name, synthErr))
	}
	o.session.Findings = findings
	o.session.Errors = errs
	o.session.Summary = sessionSummary(o.doc, p.editor, synthErr)
	o.session.Status = models.SessionStatusComplete
	o.session.CompletedAt = &now
	return o.session.Clone(), o.doc.Clone(), true
}

func (o *Orchestrator) recordSynthesis(gen uint64, syn *models.EditorSynthesis, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return false
	}
	if err != nil || syn == nil {
		return true
	}
	o.doc.EditorSynthesis = syn
	cp := o.doc.Clone().EditorSynthesis
	o.events.publish(Event{Kind: EventSynthesis, SessionID: o.doc.SessionID, Synthesis: cp, Time: o.now().UTC()})
	return true
}

func (o *Orchestrator) appendFeedback(gen uint64, fb models.CouncilFeedback) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return false
	}
	o.doc.CouncilFeedback = append(o.doc.CouncilFeedback, fb)
	cp := fb
	cp.Findings = append([]models.Finding(nil), fb.Findings...)
	o.events.publish(Event{Kind: EventCouncilFeedback, SessionID: o.doc.SessionID, Feedback: &cp, Time: o.now().UTC()})
	return true
}

func (o *Orchestrator) setProgress(gen uint64, reviewerID string, st models.ReviewerProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.progress[reviewerID] = st
	o.events.publish(Event{
		Kind:       EventReviewerProgress,
		SessionID:  o.sessionIDLocked(),
		ReviewerID: reviewerID,
		Progress:   st,
		Time:       o.now().UTC(),
	})
}

func (o *Orchestrator) setPhase(gen uint64, phase models.ReviewPhase) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return false
	}
	o.setPhaseLocked(phase)
	return true
}

func (o *Orchestrator) setPhaseLocked(phase models.ReviewPhase) {
	o.phase = phase
	o.events.publish(Event{Kind: EventPhase, SessionID: o.sessionIDLocked(), Phase: phase, Time: o.now().UTC()})
}

func (o *Orchestrator) onResidency(model string, st models.ResidencyStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events.publish(Event{Kind: EventResidency, SessionID: o.sessionIDLocked(), Model: model, Residency: st, Time: o.now().UTC()})
}

func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation != gen
}

func (o *Orchestrator) sessionIDLocked() string {
	if o.session == nil {
		return ""
	}
	return o.session.ID
}

func (o *Orchestrator) setFindingStatusLocked(id string, status models.FindingStatus) bool {
	found := false
	for i := range o.doc.CouncilFeedback {
		for j := range o.doc.CouncilFeedback[i].Findings {
			if o.doc.CouncilFeedback[i].Findings[j].ID == id {
				o.doc.CouncilFeedback[i].Findings[j].Status = status
				found = true
			}
		}
	}
	if o.session != nil {
		for i := range o.session.Findings {
			if o.session.Findings[i].ID == id {
				o.session.Findings[i].Status = status
			}
		}
	}
	return found
}

func (o *Orchestrator) hasPendingLocked() bool {
	for _, fb := range o.doc.CouncilFeedback {
		for _, f := range fb.Findings {
			if f.Status == models.FindingStatusPending {
				return true
			}
		}
	}
	return false
}

// selectReviewers filters the configured reviewers down to the enabled ones requested
// (all enabled when ids is empty), in configuration order. The first editor becomes the editor;
// any further editors review as council members.
func selectReviewers(all []*models.Reviewer, ids []string) (council []*models.Reviewer, editor *models.Reviewer) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			want[id] = true
		}
	}
	ordered := append([]*models.Reviewer(nil), all...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SortOrder < ordered[j].SortOrder })

	for _, r := range ordered {
		if !r.Enabled || (len(want) > 0 && !want[r.ID]) {
			continue
		}
		if r.IsEditor && editor == nil {
			editor = r
			continue
		}
		council = append(council, r)
	}
	return council, editor
}

// groupByModel groups reviewers by model in order of first appearance, keeping the
// relative order within each group, so each model is loaded once.
func groupByModel(reviewers []*models.Reviewer) [][]*models.Reviewer {
	index := make(map[string]int)
	var groups [][]*models.Reviewer
	for _, r := range reviewers {
		i, ok := index[r.Model]
		if !ok {
			i = len(groups)
			index[r.Model] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	return groups
}

func failedFeedback(r *models.Reviewer, msg string) models.CouncilFeedback {
	return models.CouncilFeedback{
		ReviewerID:   r.ID,
		ReviewerName: r.Name,
		ReviewerIcon: r.Icon,
		Model:        r.Model,
		Findings:     []models.Finding{},
		Summary:      "Review failed",
		Failed:       true,
		Error:        msg,
	}
}

func cloneSelection(sel *models.Selection) *models.Selection {
	if sel == nil {
		return nil
	}
	cp := *sel
	return &cp
}
