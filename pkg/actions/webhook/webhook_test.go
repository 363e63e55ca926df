package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteReturnsStatusAndDecodedBody(t *testing.T) {
	var gotMethod, gotHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Api-Key")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	action, err := NewWebhookAction(map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"X-Api-Key": "secret"},
		"body":    `{"hello":"world"}`,
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, 200, output["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, output["body"])
}

func TestExecuteKeepsNonJSONBodyAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	action, err := NewWebhookAction(map[string]any{"url": server.URL, "method": "get"})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "pong", output["body"])
}

func TestExecuteFailsOnClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	action, err := NewWebhookAction(map[string]any{"url": server.URL})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	action, err := NewWebhookAction(map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"attempts": 3.0, "delay": 0.0},
	})
	require.NoError(t, err)

	output, err := action.Execute(context.Background(), nil, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 200, output["status_code"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestConfigValidation(t *testing.T) {
	_, err := NewWebhookAction(map[string]any{})
	assert.Error(t, err)

	action, err := NewWebhookAction(map[string]any{"url": "https://example.com", "method": "put"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, action.Method)
	assert.Equal(t, 1, action.Retry.Attempts)
}
