// Package remote implements session.Provider against a hosted browser-session
// service speaking JSON over HTTP.
//
// Endpoints:
//
//	POST /v1/sessions                    create
//	GET  /v1/sessions/{id}/debug         live-view URLs
//	POST /v1/sessions/{id}/actions       dispatch one action
//	POST /v1/sessions/{id}               {"status":"REQUEST_RELEASE"} to destroy
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

const (
	defaultTimeout        = 2 * time.Minute
	defaultDestroyRetries = 3
	defaultRetryDelay     = 500 * time.Millisecond
	defaultBurst          = 5

	// APIKeyHeader carries the provider credential.
	APIKeyHeader = "X-API-Key"
)

// Config configures the client.
type Config struct {
	Endpoint  string
	APIKey    string
	ProjectID string

	// RequestsPerSecond limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64

	// DestroyRetries bounds destroy attempts after transport or 5xx failures.
	DestroyRetries int
	RetryDelay     time.Duration

	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client is a session.Provider for the hosted service.
type Client struct {
	baseURL    string
	apiKey     string
	projectID  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	retryDelay time.Duration
	log        *logging.Logger
}

var _ session.Provider = (*Client)(nil)

// New creates a client. The endpoint is required.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("remote session endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}

	c := &Client{
		baseURL:    endpoint,
		apiKey:     cfg.APIKey,
		projectID:  cfg.ProjectID,
		httpClient: cfg.HTTPClient,
		retries:    cfg.DestroyRetries,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.retries <= 0 {
		c.retries = defaultDestroyRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultBurst)
	}
	return c, nil
}

type createRequest struct {
	ProjectID       string            `json:"projectId,omitempty"`
	BrowserSettings *browserSettings  `json:"browserSettings,omitempty"`
	Timeout         int               `json:"timeout,omitempty"`
	UserMetadata    map[string]string `json:"userMetadata,omitempty"`
}

type browserSettings struct {
	Context  *contextSettings  `json:"context,omitempty"`
	Viewport *viewportSettings `json:"viewport,omitempty"`
}

type contextSettings struct {
	ID      string `json:"id"`
	Persist bool   `json:"persist"`
}

type viewportSettings struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	ContextID string    `json:"contextId,omitempty"`
}

type debugResponse struct {
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
	DebuggerURL           string `json:"debuggerUrl"`
}

type actionRequest struct {
	Tool        types.Tool     `json:"tool"`
	Instruction string         `json:"instruction,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Final       bool           `json:"final,omitempty"`
}

type actionResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	URL     string         `json:"url"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error"`
}

type releaseRequest struct {
	ProjectID string `json:"projectId,omitempty"`
	Status    string `json:"status"`
}

// CreateSession creates a session and resolves its live-view URL.
func (c *Client) CreateSession(ctx context.Context, opts session.Options) (*types.Session, error) {
	req := createRequest{
		ProjectID:    c.projectID,
		UserMetadata: opts.Metadata,
	}
	if opts.Timeout > 0 {
		req.Timeout = int(opts.Timeout.Seconds())
	}
	if opts.ContextID != "" || opts.Viewport != nil {
		req.BrowserSettings = &browserSettings{}
		if opts.ContextID != "" {
			req.BrowserSettings.Context = &contextSettings{ID: opts.ContextID, Persist: opts.PersistContext}
		}
		if opts.Viewport != nil {
			req.BrowserSettings.Viewport = &viewportSettings{Width: opts.Viewport.Width, Height: opts.Viewport.Height}
		}
	}

	var created sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &created); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create session: empty session id: %w", session.ErrTransport)
	}

	var debug debugResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(created.ID)+"/debug", nil, &debug); err != nil {
		// The session exists remotely; release it so it is not leaked.
		if derr := c.DestroySession(context.WithoutCancel(ctx), created.ID); derr != nil {
			c.log.Warnf("release of half-created session %s failed: %v", created.ID, derr)
		}
		return nil, fmt.Errorf("resolve live view: %w", err)
	}

	liveView := debug.DebuggerFullscreenURL
	if liveView == "" {
		liveView = debug.DebuggerURL
	}
	createdAt := created.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	contextID := created.ContextID
	if contextID == "" {
		contextID = opts.ContextID
	}

	c.log.Infof("session %s created", created.ID)
	return &types.Session{
		ID:          created.ID,
		LiveViewURL: liveView,
		ContextID:   contextID,
		CreatedAt:   createdAt,
	}, nil
}

// DestroySession requests release, retrying transport and 5xx failures a
// bounded number of times. A 404 counts as already released.
func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	body := releaseRequest{ProjectID: c.projectID, Status: "REQUEST_RELEASE"}
	path := "/v1/sessions/" + url.PathEscape(sessionID)

	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		err = c.do(ctx, http.MethodPost, path, body, nil)
		if err == nil || errors.Is(err, session.ErrUnknownSession) {
			c.log.Infof("session %s released", sessionID)
			return nil
		}
		if !session.IsRetryable(err) || attempt == c.retries {
			break
		}
		c.log.Warnf("release of session %s failed (attempt %d/%d): %v", sessionID, attempt, c.retries, err)
		select {
		case <-time.After(c.retryDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("destroy session %s: %w", sessionID, ctx.Err())
		}
	}
	return fmt.Errorf("destroy session %s: %w", sessionID, err)
}

// Dispatch sends one action. Provider-reported failures map to
// session.ErrActionFailed.
func (c *Client) Dispatch(ctx context.Context, sessionID string, action session.Action) (*session.Outcome, error) {
	req := actionRequest{
		Tool:        action.Tool,
		Instruction: action.Instruction,
		Final:       action.Final,
	}
	if action.Schema != nil {
		req.Schema = action.Schema.JSONSchema()
	}

	var resp actionResponse
	err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/actions", req, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusUnprocessableEntity || se.code == http.StatusBadRequest) {
			return nil, session.NewActionError(action.Tool, se.message, nil)
		}
		return nil, fmt.Errorf("dispatch %s: %w", action.Tool, err)
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "provider reported failure"
		}
		return nil, session.NewActionError(action.Tool, reason, nil)
	}
	return &session.Outcome{Message: resp.Message, URL: resp.URL, Data: resp.Data}, nil
}

// statusError is a non-2xx response.
type statusError struct {
	code    int
	message string
	kind    error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.message)
}

func (e *statusError) Unwrap() error {
	return e.kind
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%v: %w", err, session.ErrTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(resp.StatusCode, raw)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v: %w", err, session.ErrTransport)
	}
	return nil
}

func classify(code int, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &envelope) == nil {
		if envelope.Error != "" {
			msg = envelope.Error
		} else if envelope.Message != "" {
			msg = envelope.Message
		}
	}

	se := &statusError{code: code, message: msg}
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		se.kind = session.ErrUnknownSession
	case code == http.StatusTooManyRequests || code >= 500:
		se.kind = session.ErrTransport
	}
	return se
}
