package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/council/internal/inference"
)

func TestGenerate_SendsNonStreamingRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"hello there","done":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	text, err := c.Generate(context.Background(), inference.Request{
		Model:  "llama3.2",
		Prompt: "hi",
		Options: &inference.Options{
			Temperature: 0.4,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  128,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	assert.Equal(t, "llama3.2", got["model"])
	assert.Equal(t, false, got["stream"])
	_, hasKeepAlive := got["keep_alive"]
	assert.False(t, hasKeepAlive)
	opts := got["options"].(map[string]any)
	assert.InDelta(t, 0.4, opts["temperature"], 1e-9)
	assert.EqualValues(t, 128, opts["num_predict"])
}

func TestGenerate_UnloadSendsZeroKeepAlive(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":""}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), inference.Unload("mistral"))
	require.NoError(t, err)

	keepAlive, ok := got["keep_alive"]
	require.True(t, ok)
	assert.EqualValues(t, 0, keepAlive)
}

func TestGenerate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), inference.Request{Model: "missing", Prompt: "x"})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Contains(t, statusErr.Error(), "model not found")
}

func TestGenerate_RequiresModel(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.Generate(context.Background(), inference.Request{Prompt: "x"})
	assert.EqualError(t, err, "ollama generate: model required")
}

func TestGenerate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, GenerateTimeout: 50 * time.Millisecond})
	_, err := c.Generate(context.Background(), inference.Request{Model: "m", Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestListResident(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ps", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest","size":123,"size_vram":100,"digest":"abc","expires_at":"2026-01-01T00:00:00Z"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	models, err := c.ListResident(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.2:latest", models[0].Name)
	assert.EqualValues(t, 100, models[0].SizeVRAM)
	assert.Equal(t, 2026, models[0].ExpiresAt.Year())
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"0.5.1"}`))
	}))
	defer srv.Close()

	version, err := NewClient(Config{BaseURL: srv.URL + "/"}).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5.1", version)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, defaultGenerateTimeout, c.cfg.GenerateTimeout)
	assert.Equal(t, defaultListTimeout, c.cfg.ListTimeout)
}
