package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/council/internal/models"
	"github.com/joescharf/council/internal/store"
)

// fakeOllama serves /api/generate, /api/ps and /api/version with one model resident at a time.
type fakeOllama struct {
	mu       sync.Mutex
	loaded   string
	warmups  []string
	failWith map[string]bool
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.9.0"})
	})
	mux.HandleFunc("GET /api/ps", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		resident := []map[string]any{}
		if f.loaded != "" {
			resident = append(resident, map[string]any{"name": f.loaded + ":latest", "size": 2 << 30, "size_vram": 2 << 30})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": resident})
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model     string `json:"model"`
			Prompt    string `json:"prompt"`
			KeepAlive *int64 `json:"keep_alive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if req.KeepAlive != nil && *req.KeepAlive == 0 {
			if f.loaded == req.Model {
				f.loaded = ""
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"response": ""})
			return
		}
		if f.failWith[req.Model] {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		f.loaded = req.Model

		var response string
		switch {
		case strings.Contains(req.Prompt, "overallAssessment"):
			response = `{"overallAssessment":"Solid draft.","prioritizedChanges":[{"priority":"high","description":"Tighten line two","relatedFindings":["F1"]}],"recommendedFocus":"Concision"}`
		case strings.Contains(req.Prompt, "JSON array"):
			response = `[{"line":2,"type":"suggestion","severity":"low","text":"Line two is wordy.","comment":"Tighten this."}]`
		default:
			f.warmups = append(f.warmups, req.Model)
			response = "Hi"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": response})
	})
	return mux
}

// reviewEnv points the CLI at a fake inference server and returns a document path.
func reviewEnv(t *testing.T) (*fakeOllama, string) {
	t.Helper()
	dir := testEnv(t)

	fake := &fakeOllama{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	viper.Set("ollama.url", srv.URL)
	viper.Set("review.settle_delay", "0s")

	reviewReviewers, reviewLines, reviewParallel, reviewJSON = nil, "", false, false
	t.Cleanup(func() { reviewReviewers, reviewLines, reviewParallel, reviewJSON = nil, "", false, false })

	path := filepath.Join(dir, "draft.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\nLine two is wordy.\nLine three.\n"), 0644))
	return fake, path
}

func outBuffer() *bytes.Buffer {
	return ui.Out.(*bytes.Buffer)
}

type reviewOutput struct {
	Session  models.ReviewSession  `json:"session"`
	Document models.ReviewDocument `json:"document"`
}

func TestReviewRun_JSON(t *testing.T) {
	fake, path := reviewEnv(t)
	reviewJSON = true

	require.NoError(t, reviewRun(t.Context(), path))

	var out reviewOutput
	require.NoError(t, json.Unmarshal(outBuffer().Bytes(), &out))

	// Four council reviewers are enabled by default; the devil's advocate is not.
	assert.Len(t, out.Document.CouncilFeedback, 4)
	require.Len(t, out.Session.Findings, 4)
	for _, f := range out.Session.Findings {
		assert.Equal(t, 2, f.LineStart)
		assert.Equal(t, models.FindingStatusPending, f.Status)
	}

	syn := out.Document.EditorSynthesis
	require.NotNil(t, syn)
	assert.False(t, syn.Degraded)
	assert.Equal(t, "Solid draft.", syn.OverallAssessment)
	require.Len(t, syn.PrioritizedChanges, 1)
	assert.Equal(t, []string{out.Session.Findings[0].ID}, syn.PrioritizedChanges[0].FindingIDs)

	// All reviewers share one model, so it is warmed up exactly once.
	assert.Equal(t, []string{models.DefaultReviewerModel}, fake.warmups)
}

func TestReviewRun_SelectedReviewersAndLines(t *testing.T) {
	_, path := reviewEnv(t)
	reviewJSON = true
	reviewReviewers = []string{"fact-checker"}
	reviewLines = "2-3"

	require.NoError(t, reviewRun(t.Context(), path))

	var out reviewOutput
	require.NoError(t, json.Unmarshal(outBuffer().Bytes(), &out))
	require.Len(t, out.Document.CouncilFeedback, 1)
	assert.Equal(t, "fact-checker", out.Document.CouncilFeedback[0].ReviewerID)
	require.NotNil(t, out.Document.Selection)
	assert.Equal(t, 2, out.Document.Selection.StartLine)
	assert.Nil(t, out.Document.EditorSynthesis, "no editor was selected")
}

func TestReviewRun_TextOutputAndHistory(t *testing.T) {
	_, path := reviewEnv(t)

	require.NoError(t, reviewRun(t.Context(), path))
	text := outBuffer().String()
	assert.Contains(t, text, "Fact Checker")
	assert.Contains(t, text, "Tighten this.")
	assert.Contains(t, text, "Editor synthesis")
	assert.Contains(t, text, "4 of 4 reviewers responded with 4 findings")

	outBuffer().Reset()
	require.NoError(t, historyRun(t.Context()))
	assert.Contains(t, outBuffer().String(), "4 suggestions")

	s, err := getStore()
	require.NoError(t, err)
	sessions, err := s.ListReviewSessions(t.Context(), store.ReviewListFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	outBuffer().Reset()
	require.NoError(t, showRun(t.Context(), sessions[0].ID))
	assert.Contains(t, outBuffer().String(), "Solid draft.")

	err = showRun(t.Context(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReviewRun_Errors(t *testing.T) {
	_, path := reviewEnv(t)

	err := reviewRun(t.Context(), filepath.Join(filepath.Dir(path), "nope.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")

	reviewLines = "10-12"
	err = reviewRun(t.Context(), path)
	require.Error(t, err)

	reviewLines = ""
	reviewReviewers = []string{"devils-advocate"}
	err = reviewRun(t.Context(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled reviewers")
}

func TestReviewRun_ModelLoadFailure(t *testing.T) {
	fake, path := reviewEnv(t)
	fake.failWith = map[string]bool{models.DefaultReviewerModel: true}
	reviewJSON = true

	require.NoError(t, reviewRun(t.Context(), path))

	var out reviewOutput
	require.NoError(t, json.Unmarshal(outBuffer().Bytes(), &out))
	for _, fb := range out.Document.CouncilFeedback {
		assert.True(t, fb.Failed)
		assert.Empty(t, fb.Findings)
	}
	assert.NotEmpty(t, out.Session.Errors)
}
