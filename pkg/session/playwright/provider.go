// Package playwright implements session.Provider with a local Chromium driven
// through playwright-go. Each session gets its own browser process exposing a
// remote-debugging endpoint that doubles as the live-view URL.
package playwright

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browsepilot/pkg/logging"
	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

const (
	DefaultMaxSessions    = 5
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeout        = 30 * time.Second
)

// Config configures the local provider.
type Config struct {
	Headless bool
	Viewport session.Viewport
	Timeout  time.Duration

	// StateDir holds storage-state files named after context ids.
	// Defaults to ~/.browsepilot/contexts.
	StateDir string

	MaxSessions int

	// SkipInstall assumes the driver and Chromium are already installed.
	SkipInstall bool

	Logger *logging.Logger
}

type browserSession struct {
	id        string
	contextID string
	persist   bool
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	createdAt time.Time
	lastUsed  time.Time
}

// Provider manages local Chromium sessions.
type Provider struct {
	cfg Config
	log *logging.Logger

	mu          sync.RWMutex
	pw          *playwright.Playwright
	sessions    map[string]*browserSession
	launching   int
	initialized bool
}

var _ session.Provider = (*Provider)(nil)

// New creates a provider. Call Start before creating sessions.
func New(cfg Config) *Provider {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = session.Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Provider{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*browserSession),
	}
}

// Start installs (unless skipped) and launches the playwright driver.
func (p *Provider) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if !p.cfg.SkipInstall {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	p.pw = pw
	p.initialized = true
	return nil
}

// CreateSession launches a browser with a debugging port and opens one page.
// The launch runs without the provider lock so other sessions keep working.
func (p *Provider) CreateSession(ctx context.Context, opts session.Options) (*types.Session, error) {
	pw, err := p.reserve()
	if err != nil {
		return nil, err
	}
	inserted := false
	defer func() {
		if !inserted {
			p.unreserve()
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, port, err := p.launch(pw, opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.launching--
	inserted = true
	if !p.initialized {
		p.mu.Unlock()
		_ = p.closeSession(s)
		return nil, fmt.Errorf("playwright provider shut down during launch: %w", session.ErrTransport)
	}
	p.sessions[s.id] = s
	p.mu.Unlock()
	p.log.Infof("session %s created (debug port %d)", s.id, port)

	return &types.Session{
		ID:          s.id,
		LiveViewURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		ContextID:   opts.ContextID,
		CreatedAt:   s.createdAt,
	}, nil
}

// reserve claims a session slot. Launches in progress count against
// MaxSessions.
func (p *Provider) reserve() (*playwright.Playwright, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("playwright provider not started: %w", session.ErrTransport)
	}
	if len(p.sessions)+p.launching >= p.cfg.MaxSessions {
		return nil, fmt.Errorf("maximum number of sessions (%d) reached: %w", p.cfg.MaxSessions, session.ErrTransport)
	}
	p.launching++
	return p.pw, nil
}

func (p *Provider) unreserve() {
	p.mu.Lock()
	p.launching--
	p.mu.Unlock()
}

func (p *Provider) launch(pw *playwright.Playwright, opts session.Options) (*browserSession, int, error) {
	port, err := freePort()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reserve debugging port: %w", session.ErrTransport)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(p.cfg.Headless),
		Args:     []string{fmt.Sprintf("--remote-debugging-port=%d", port)},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to launch browser: %v: %w", err, session.ErrTransport)
	}

	viewport := p.cfg.Viewport
	if opts.Viewport != nil {
		viewport = *opts.Viewport
	}
	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: viewport.Width, Height: viewport.Height},
	}
	if opts.ContextID != "" {
		statePath, err := p.statePath(opts.ContextID)
		if err != nil {
			browser.Close()
			return nil, 0, err
		}
		if _, err := os.Stat(statePath); err == nil {
			contextOpts.StorageStatePath = playwright.String(statePath)
		}
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, 0, fmt.Errorf("failed to create context: %v: %w", err, session.ErrTransport)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, 0, fmt.Errorf("failed to create page: %v: %w", err, session.ErrTransport)
	}

	timeout := p.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))

	now := time.Now()
	return &browserSession{
		id:        uuid.New().String(),
		contextID: opts.ContextID,
		persist:   opts.PersistContext && opts.ContextID != "",
		browser:   browser,
		context:   bctx,
		page:      page,
		createdAt: now,
		lastUsed:  now,
	}, port, nil
}

// DestroySession saves context state when requested and closes the browser.
func (p *Provider) DestroySession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return p.closeSession(s)
}

func (p *Provider) closeSession(s *browserSession) error {
	if s.persist {
		statePath, err := p.statePath(s.contextID)
		if err == nil {
			if err := os.MkdirAll(filepath.Dir(statePath), 0750); err == nil {
				if _, err := s.context.StorageState(statePath); err != nil {
					p.log.Warnf("session %s: failed to save context state: %v", s.id, err)
				}
			}
		}
	}

	// Close errors are ignored; the browser process is gone either way.
	_ = s.page.Close()
	_ = s.context.Close()
	if err := s.browser.Close(); err != nil {
		p.log.Warnf("session %s: browser close: %v", s.id, err)
	}
	p.log.Infof("session %s destroyed", s.id)
	return nil
}

// Shutdown closes every session and stops the driver.
func (p *Provider) Shutdown() error {
	p.mu.Lock()
	sessions := make([]*browserSession, 0, len(p.sessions))
	for id, s := range p.sessions {
		sessions = append(sessions, s)
		delete(p.sessions, id)
	}
	pw := p.pw
	wasRunning := p.initialized
	p.initialized = false
	p.mu.Unlock()

	for _, s := range sessions {
		_ = p.closeSession(s)
	}
	if wasRunning && pw != nil {
		if err := pw.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
	}
	return nil
}

// Count returns the number of open sessions.
func (p *Provider) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

func (p *Provider) lookup(sessionID string) (*browserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, session.ErrUnknownSession)
	}
	s.lastUsed = time.Now()
	return s, nil
}

var contextIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func (p *Provider) statePath(contextID string) (string, error) {
	if !contextIDPattern.MatchString(contextID) {
		return "", fmt.Errorf("invalid context id %q", contextID)
	}
	dir := p.cfg.StateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".browsepilot", "contexts")
	}
	return filepath.Join(dir, contextID+".json"), nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
