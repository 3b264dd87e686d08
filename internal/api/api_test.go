package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/review"
	"github.com/joescharf/council/internal/store"
)

const reviewReply = `[{"line":1,"type":"suggestion","comment":"Consider a stronger opening"}]`

type fakeGateway struct {
	mu       sync.Mutex
	reply    string
	resident []inference.ResidentModel
	gate     chan struct{}
}

func (g *fakeGateway) Generate(ctx context.Context, req inference.Request) (string, error) {
	g.mu.Lock()
	gate, reply := g.gate, g.reply
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return reply, nil
}

func (g *fakeGateway) ListResident(context.Context) ([]inference.ResidentModel, error) {
	return g.resident, nil
}

type fakeModels struct {
	mu      sync.Mutex
	evicted []string
}

func (m *fakeModels) Evict(_ context.Context, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, model)
}

func (m *fakeModels) Snapshot() map[string]models.ResidencyStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.ResidencyStatus{}
	for _, name := range m.evicted {
		out[name] = models.ResidencyIdle
	}
	return out
}

type testEnv struct {
	srv    *Server
	store  store.Store
	orch   *review.Orchestrator
	gw     *fakeGateway
	models *fakeModels
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	// Only two plain reviewers, so a review is a single model group without synthesis.
	for i, id := range []string{"style", "facts"} {
		require.NoError(t, s.SaveReviewer(context.Background(), &models.Reviewer{
			ID: id, Name: strings.ToUpper(id), Model: "m1", SystemPrompt: "You are " + id + ".", Enabled: true, SortOrder: i,
		}))
	}

	gw := &fakeGateway{reply: reviewReply}
	orch := review.New(review.Deps{Reviewers: s, Gateway: gw, Recorder: s}, review.Config{})
	mm := &fakeModels{}
	return &testEnv{srv: NewServer(s, orch, gw, mm), store: s, orch: orch, gw: gw, models: mm}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitIdle(t *testing.T, orch *review.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Wait(ctx))
}

func TestCORS_Preflight(t *testing.T) {
	env := setupTestServer(t)
	w := do(t, env.srv.Router(), "OPTIONS", "/api/v1/reviews", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestReviewLifecycle_API(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()

	w := do(t, router, "POST", "/api/v1/reviews", `{"document_path":"/docs/a.md","content":"Line one.\nLine two."}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var started map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	sessionID := started["session_id"]
	require.NotEmpty(t, sessionID)

	waitIdle(t, env.orch)

	w = do(t, router, "GET", "/api/v1/reviews/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st review.State
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, models.PhaseUserDeciding, st.Phase)
	require.NotNil(t, st.Document)
	require.Len(t, st.Document.CouncilFeedback, 2)
	findings := st.Session.Findings
	require.Len(t, findings, 2)

	// Accept the first finding, reject the second: the review completes.
	w = do(t, router, "PUT", "/api/v1/findings/"+findings[0].ID, `{"status":"accepted"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, router, "PUT", "/api/v1/findings/"+findings[1].ID, `{"status":"rejected"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PhaseComplete, env.orch.Snapshot().Phase)

	// The stored copy reflects the decisions.
	w = do(t, router, "GET", "/api/v1/reviews/"+sessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stored struct {
		Session  models.ReviewSession  `json:"session"`
		Document models.ReviewDocument `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, "/docs/a.md", stored.Session.DocumentPath)
	require.Len(t, stored.Session.Findings, 2)
	assert.Equal(t, models.FindingStatusAccepted, stored.Session.Findings[0].Status)
	assert.Equal(t, models.FindingStatusRejected, stored.Session.Findings[1].Status)

	w = do(t, router, "GET", "/api/v1/reviews?path=/docs/a.md&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []models.ReviewSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].ID)

	w = do(t, router, "POST", "/api/v1/reviews/current/complete", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartReview_Errors(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()

	w := do(t, router, "POST", "/api/v1/reviews", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews", `{"content":"text","reviewer_ids":["nobody"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelReview_API(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()
	gate := make(chan struct{})
	env.gw.gate = gate

	w := do(t, router, "POST", "/api/v1/reviews", `{"content":"Line one."}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, "POST", "/api/v1/reviews", `{"content":"Line one."}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, "DELETE", "/api/v1/reviews/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cancelled":true}`, w.Body.String())

	close(gate)
	waitIdle(t, env.orch)

	st := env.orch.Snapshot()
	assert.Equal(t, models.PhaseIdle, st.Phase)
	assert.Nil(t, st.Document)

	w = do(t, router, "GET", "/api/v1/reviews", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestUpdateFinding_Errors(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()

	w := do(t, router, "PUT", "/api/v1/findings/abc", `{"status":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "PUT", "/api/v1/findings/abc", `{"status":"accepted"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewers_API(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()

	w := do(t, router, "GET", "/api/v1/reviewers", "")
	require.Equal(t, http.StatusOK, w.Code)
	var reviewers []models.Reviewer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviewers))
	require.Len(t, reviewers, 2)
	assert.Equal(t, "style", reviewers[0].ID)

	w = do(t, router, "PUT", "/api/v1/reviewers/facts", `{"enabled":false,"model":"qwen2.5","name":""}`)
	require.Equal(t, http.StatusOK, w.Code)
	got, err := env.store.GetReviewer(context.Background(), "facts")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "qwen2.5", got.Model)
	assert.Equal(t, "FACTS", got.Name, "empty strings do not overwrite")

	w = do(t, router, "PUT", "/api/v1/reviewers/missing", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModels_API(t *testing.T) {
	env := setupTestServer(t)
	env.gw.resident = []inference.ResidentModel{{Name: "m1:latest", SizeVRAM: 42}}
	router := env.srv.Router()

	w := do(t, router, "GET", "/api/v1/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Resident  []inference.ResidentModel         `json:"resident"`
		Residency map[string]models.ResidencyStatus `json:"residency"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Resident, 1)
	assert.Equal(t, "m1:latest", body.Resident[0].Name)

	w = do(t, router, "POST", "/api/v1/models/unload", `{"model":"m1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m1"}, env.models.evicted)

	w = do(t, router, "POST", "/api/v1/models/unload", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.srv.models = nil
	w = do(t, router, "POST", "/api/v1/models/unload", `{"model":"m1"}`)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestModelsUnload_RefusedDuringReview(t *testing.T) {
	env := setupTestServer(t)
	router := env.srv.Router()
	gate := make(chan struct{})
	env.gw.gate = gate

	w := do(t, router, "POST", "/api/v1/reviews", `{"content":"Line one."}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.True(t, env.orch.Snapshot().Running)

	w = do(t, router, "POST", "/api/v1/models/unload", `{"model":"m1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, env.models.evicted, "no eviction while reviewers use the model")

	close(gate)
	waitIdle(t, env.orch)

	w = do(t, router, "POST", "/api/v1/models/unload", `{"model":"m1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"m1"}, env.models.evicted)
}

func TestEvents_SSE(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return name, data
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	name, data := readEvent()
	assert.Equal(t, "snapshot", name)
	assert.Contains(t, data, `"phase":"idle"`)

	startResp, err := http.Post(ts.URL+"/api/v1/reviews", "application/json", strings.NewReader(`{"content":"Line one."}`))
	require.NoError(t, err)
	startResp.Body.Close()
	require.Equal(t, http.StatusAccepted, startResp.StatusCode)

	var kinds []string
	for {
		name, data := readEvent()
		kinds = append(kinds, name)
		var ev review.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, name, string(ev.Kind))
		if ev.Kind == review.EventPhase && ev.Phase == models.PhaseUserDeciding {
			break
		}
	}
	assert.Equal(t, "phase", kinds[0])
	assert.Contains(t, kinds, "reviewer_progress")
	assert.Contains(t, kinds, "council_feedback")
}
