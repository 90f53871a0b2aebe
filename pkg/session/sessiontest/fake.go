// Package sessiontest provides an in-memory session.Provider for tests.
package sessiontest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

// Provider is a scripted, concurrency-safe session.Provider.
//
// Zero value is ready to use. Set the exported hooks before the code under
// test runs; read results through the accessor methods.
type Provider struct {
	// OnDispatch scripts dispatch results. call is the zero-based index of the
	// dispatch across all sessions.
	OnDispatch func(call int, action session.Action) (*session.Outcome, error)

	// ExtractData is returned for EXTRACT actions when OnDispatch is nil.
	ExtractData map[string]any

	// CreateErr and DestroyErr fail the respective calls when set.
	CreateErr  error
	DestroyErr error

	// CreateGate, when non-nil, blocks CreateSession until it is closed or
	// the context ends.
	CreateGate chan struct{}

	// DispatchGate, when non-nil, blocks Dispatch the same way.
	DispatchGate chan struct{}

	mu           sync.Mutex
	seq          int
	live         map[string]*types.Session
	creates      int
	destroyCalls int
	destroyed    []string
	dispatches   []Dispatched
	createOpts   []session.Options
}

// Dispatched records one Dispatch call.
type Dispatched struct {
	SessionID string
	Action    session.Action
}

var _ session.Provider = (*Provider)(nil)

// CreateSession implements session.Provider.
func (p *Provider) CreateSession(ctx context.Context, opts session.Options) (*types.Session, error) {
	if err := wait(ctx, p.CreateGate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.creates++
	p.createOpts = append(p.createOpts, opts)
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}

	p.seq++
	s := &types.Session{
		ID:          fmt.Sprintf("sess-%d", p.seq),
		LiveViewURL: fmt.Sprintf("https://live.test/sess-%d", p.seq),
		ContextID:   opts.ContextID,
		CreatedAt:   time.Now(),
	}
	if p.live == nil {
		p.live = make(map[string]*types.Session)
	}
	p.live[s.ID] = s
	out := *s
	return &out, nil
}

// DestroySession implements session.Provider.
func (p *Provider) DestroySession(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.destroyCalls++
	if p.DestroyErr != nil {
		return p.DestroyErr
	}
	if _, ok := p.live[sessionID]; !ok {
		return nil
	}
	delete(p.live, sessionID)
	p.destroyed = append(p.destroyed, sessionID)
	return nil
}

// Dispatch implements session.Provider.
func (p *Provider) Dispatch(ctx context.Context, sessionID string, action session.Action) (*session.Outcome, error) {
	if err := wait(ctx, p.DispatchGate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if _, ok := p.live[sessionID]; !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("dispatch to %s: %w", sessionID, session.ErrUnknownSession)
	}
	call := len(p.dispatches)
	p.dispatches = append(p.dispatches, Dispatched{SessionID: sessionID, Action: action})
	hook := p.OnDispatch
	extract := maps.Clone(p.ExtractData)
	p.mu.Unlock()

	if hook != nil {
		return hook(call, action)
	}
	out := &session.Outcome{Message: fmt.Sprintf("%s done", action.Tool)}
	if action.Tool == types.ToolExtract {
		out.Data = extract
	}
	return out, nil
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Creates returns how many times CreateSession was called.
func (p *Provider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// DestroyCalls returns how many times DestroySession was called.
func (p *Provider) DestroyCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyCalls
}

// Destroyed returns the ids of sessions actually torn down.
func (p *Provider) Destroyed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.destroyed...)
}

// Live reports how many sessions are currently open.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Dispatches returns every recorded dispatch in order.
func (p *Provider) Dispatches() []Dispatched {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Dispatched(nil), p.dispatches...)
}

// StepDispatches returns recorded dispatches excluding final extractions.
func (p *Provider) StepDispatches() []Dispatched {
	var out []Dispatched
	for _, d := range p.Dispatches() {
		if !d.Action.Final {
			out = append(out, d)
		}
	}
	return out
}

// CreateOptions returns the options passed to each CreateSession call.
func (p *Provider) CreateOptions() []session.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Options(nil), p.createOpts...)
}
