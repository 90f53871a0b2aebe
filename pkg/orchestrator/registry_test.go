package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsepilot/pkg/session/sessiontest"
	"github.com/entrhq/browsepilot/pkg/types"
)

func newRegistry(fake *sessiontest.Provider) *Registry {
	return NewRegistry(NewFactory(Config{Provider: fake, Planner: script(done())}))
}

func TestRegistryCreate(t *testing.T) {
	r := newRegistry(&sessiontest.Provider{})

	o, err := r.Create("a")
	require.NoError(t, err)
	assert.Equal(t, "a", o.ID())

	_, err = r.Create("a")
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)

	anon, err := r.Create("")
	require.NoError(t, err)
	assert.NotEmpty(t, anon.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, o, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := newRegistry(&sessiontest.Provider{})

	first, err := r.GetOrCreate("x")
	require.NoError(t, err)
	second, err := r.GetOrCreate("x")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"x"}, r.IDs())
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry(func(string) (*Orchestrator, error) { return nil, errors.New("nope") })
	_, err := r.Create("a")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCloseAll(t *testing.T) {
	fake := &sessiontest.Provider{}
	r := newRegistry(fake)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		o, err := r.Create(id)
		require.NoError(t, err)
		_, err = o.Start(ctx, &types.Task{Goal: "g"})
		require.NoError(t, err)
	}
	kept, _ := r.Get("b")
	require.NoError(t, kept.Preserve(""))
	require.Equal(t, 3, fake.Live())

	require.NoError(t, r.CloseAll(ctx, CloseReasonCleanup))
	assert.Equal(t, 1, fake.Live(), "preserved session survives teardown")
	assert.Len(t, fake.Destroyed(), 2)

	require.NoError(t, r.CloseAll(ctx, CloseReasonShutdown))
	assert.Zero(t, fake.Live(), "shutdown closes preserved sessions")
	assert.Len(t, fake.Destroyed(), 3)
}

func TestRegistryCloseAllReportsFailure(t *testing.T) {
	fake := &sessiontest.Provider{}
	r := newRegistry(fake)
	ctx := context.Background()

	o, err := r.Create("a")
	require.NoError(t, err)
	_, err = o.Start(ctx, &types.Task{Goal: "g"})
	require.NoError(t, err)

	fake.DestroyErr = errors.New("down")
	assert.ErrorIs(t, r.CloseAll(ctx, CloseReasonCleanup), types.ErrSessionUnavailable)
	assert.Nil(t, o.Snapshot().Session)
}

func TestRegistryRemove(t *testing.T) {
	fake := &sessiontest.Provider{}
	r := newRegistry(fake)
	ctx := context.Background()

	o, err := r.Create("a")
	require.NoError(t, err)
	_, err = o.Start(ctx, &types.Task{Goal: "g"})
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "a"))
	assert.Equal(t, 0, r.Len())
	assert.Len(t, fake.Destroyed(), 1)
	assert.NoError(t, r.Remove(ctx, "a"))
}
