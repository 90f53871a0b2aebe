package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browsepilot/pkg/types"
)

// Factory builds the orchestrator for a task-instance id.
type Factory func(taskID string) (*Orchestrator, error)

// NewFactory returns a Factory that clones cfg for every instance.
func NewFactory(cfg Config) Factory {
	return func(taskID string) (*Orchestrator, error) {
		c := cfg
		c.TaskID = taskID
		c.Observers = slices.Clone(cfg.Observers)
		return New(c)
	}
}

// Registry maps task-instance ids to orchestrators. It is owned by the
// caller; there is no package-level registry.
type Registry struct {
	factory Factory

	mu        sync.RWMutex
	instances map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:   factory,
		instances: make(map[string]*Orchestrator),
	}
}

// Create builds and registers a new instance. An empty id gets a random one.
func (r *Registry) Create(taskID string) (*Orchestrator, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[taskID]; ok {
		return nil, types.NewTaskError(types.ErrAlreadyRunning, "create", fmt.Sprintf("task %q already exists", taskID), nil)
	}
	o, err := r.factory(taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	r.instances[taskID] = o
	return o, nil
}

// Get returns the instance for taskID.
func (r *Registry) Get(taskID string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.instances[taskID]
	return o, ok
}

// GetOrCreate returns the instance for taskID, creating it if needed.
func (r *Registry) GetOrCreate(taskID string) (*Orchestrator, error) {
	if o, ok := r.Get(taskID); ok {
		return o, nil
	}
	o, err := r.Create(taskID)
	if err != nil && IsAlreadyRunning(err) {
		if o, ok := r.Get(taskID); ok {
			return o, nil
		}
	}
	return o, err
}

// Remove closes the instance with cleanup semantics and forgets it.
func (r *Registry) Remove(ctx context.Context, taskID string) error {
	r.mu.Lock()
	o, ok := r.instances[taskID]
	delete(r.instances, taskID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return o.Close(ctx, "", CloseReasonCleanup)
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// CloseAll closes every instance concurrently with reason. Cleanup leaves
// preserved sessions open; shutdown closes them too. It returns the first
// destroy error.
func (r *Registry) CloseAll(ctx context.Context, reason CloseReason) error {
	r.mu.RLock()
	all := make([]*Orchestrator, 0, len(r.instances))
	for _, o := range r.instances {
		all = append(all, o)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, o := range all {
		g.Go(func() error {
			return o.Close(ctx, "", reason)
		})
	}
	return g.Wait()
}
