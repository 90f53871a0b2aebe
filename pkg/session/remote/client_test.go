package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c, err := New(Config{
		Endpoint:       server.URL + "/",
		APIKey:         "test-key",
		ProjectID:      "proj-1",
		DestroyRetries: 3,
		RetryDelay:     time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get(APIKeyHeader))
		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "proj-1", req.ProjectID)
		require.NotNil(t, req.BrowserSettings)
		assert.Equal(t, "ctx-9", req.BrowserSettings.Context.ID)
		assert.True(t, req.BrowserSettings.Context.Persist)
		writeJSON(w, http.StatusCreated, map[string]any{"id": "sess-1", "status": "RUNNING"})
	})
	mux.HandleFunc("GET /v1/sessions/{id}/debug", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1", r.PathValue("id"))
		writeJSON(w, http.StatusOK, map[string]any{"debuggerFullscreenUrl": "https://live.example.com/sess-1"})
	})

	c := newTestClient(t, mux)
	s, err := c.CreateSession(context.Background(), session.Options{ContextID: "ctx-9", PersistContext: true})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "https://live.example.com/sess-1", s.LiveViewURL)
	assert.Equal(t, "ctx-9", s.ContextID)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestCreateSessionReleasesOnDebugFailure(t *testing.T) {
	var released atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"id": "sess-1"})
	})
	mux.HandleFunc("GET /v1/sessions/{id}/debug", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "no debugger"})
	})
	mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		released.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, mux)
	_, err := c.CreateSession(context.Background(), session.Options{})
	require.Error(t, err)
	assert.Equal(t, int32(1), released.Load())
}

func TestCreateSessionServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "capacity"})
	})

	c := newTestClient(t, mux)
	_, err := c.CreateSession(context.Background(), session.Options{})
	assert.ErrorIs(t, err, session.ErrTransport)
	assert.Contains(t, err.Error(), "capacity")
}

func TestDestroySession(t *testing.T) {
	t.Run("release body", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			var req releaseRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "REQUEST_RELEASE", req.Status)
			assert.Equal(t, "proj-1", req.ProjectID)
			w.WriteHeader(http.StatusOK)
		})
		assert.NoError(t, newTestClient(t, mux).DestroySession(context.Background(), "sess-1"))
	})

	t.Run("not found is success", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		assert.NoError(t, newTestClient(t, mux).DestroySession(context.Background(), "gone"))
	})

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		assert.NoError(t, newTestClient(t, mux).DestroySession(context.Background(), "sess-1"))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after bounded retries", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		err := newTestClient(t, mux).DestroySession(context.Background(), "sess-1")
		assert.ErrorIs(t, err, session.ErrTransport)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		})
		assert.Error(t, newTestClient(t, mux).DestroySession(context.Background(), "sess-1"))
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestDispatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{id}/actions", func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Tool {
		case types.ToolExtract:
			assert.Equal(t, "object", req.Schema["type"])
			assert.True(t, req.Final)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"content": "Pro $20"}})
		case types.ToolAct:
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "element not found"})
		case types.ToolGoto:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid url"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok", "url": "https://x.test/"})
		}
	})
	mux.HandleFunc("POST /v1/sessions/missing/actions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	out, err := c.Dispatch(ctx, "sess-1", session.Action{Tool: types.ToolExtract, Schema: types.DefaultSchema(), Final: true})
	require.NoError(t, err)
	assert.Equal(t, "Pro $20", out.Data["content"])

	out, err = c.Dispatch(ctx, "sess-1", session.Action{Tool: types.ToolObserve})
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/", out.URL)

	_, err = c.Dispatch(ctx, "sess-1", session.Action{Tool: types.ToolAct, Instruction: "click #x"})
	assert.ErrorIs(t, err, session.ErrActionFailed)
	assert.Contains(t, err.Error(), "element not found")

	_, err = c.Dispatch(ctx, "sess-1", session.Action{Tool: types.ToolGoto, Instruction: "nope"})
	assert.ErrorIs(t, err, session.ErrActionFailed)

	_, err = c.Dispatch(ctx, "missing", session.Action{Tool: types.ToolObserve})
	assert.ErrorIs(t, err, session.ErrUnknownSession)
	assert.NotErrorIs(t, err, session.ErrActionFailed)
}

func TestDispatchTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	c, err := New(Config{Endpoint: endpoint})
	require.NoError(t, err)
	_, err = c.Dispatch(context.Background(), "sess-1", session.Action{Tool: types.ToolObserve})
	assert.ErrorIs(t, err, session.ErrTransport)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions/{id}/actions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := New(Config{Endpoint: server.URL, RequestsPerSecond: 0.001})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var lastErr error
	for i := 0; i < defaultBurst+1; i++ {
		_, lastErr = c.Dispatch(ctx, "sess-1", session.Action{Tool: types.ToolObserve})
	}
	assert.Error(t, lastErr)
}
