package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventureforge/orchestd/internal/contract"
	"github.com/ventureforge/orchestd/internal/execctx"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(start time.Time) *clock { return &clock{now: start} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureNotifier struct {
	mu     sync.Mutex
	states []State
}

func (n *captureNotifier) PublishProgress(_ context.Context, state State) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return nil
}

func (n *captureNotifier) all() []State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]State(nil), n.states...)
}

func testManager(t *testing.T, c *clock, opts ...ManagerOption) (*Manager, execctx.ExecutionContext) {
	t.Helper()
	store := NewMemStore(WithMemStoreClock(c.Now))
	opts = append([]ManagerOption{WithManagerClock(c.Now)}, opts...)
	mgr := NewManager(store, nil, nil, opts...)

	ec, err := execctx.New(uuid.New(), uuid.New(), contract.StageIdea, "en")
	require.NoError(t, err)
	return mgr, ec
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mgr, ec := testManager(t, c)

	created, err := mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)
	assert.Equal(t, 0, created.Percent)
	assert.Equal(t, ec.CorrelationID(), created.CorrelationID)

	c.Advance(time.Minute)
	updated, err := mgr.Update(ctx, ec.CorrelationID(), "DELEGATING", "coordinator", 40)
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Percent)
	assert.Equal(t, "DELEGATING", updated.WorkflowState)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	got, err := mgr.Get(ctx, ec.CorrelationID())
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	require.NoError(t, mgr.Clear(ctx, ec.CorrelationID()))
	_, err = mgr.Get(ctx, ec.CorrelationID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerMonotonicPercent(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Now().UTC())
	mgr, ec := testManager(t, c)

	_, err := mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)
	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 60)
	require.NoError(t, err)

	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 30)
	assert.ErrorIs(t, err, ErrRegressingPercent)

	// Equal percent passes: state-only updates must not be blocked.
	_, err = mgr.Update(ctx, ec.CorrelationID(), "DELEGATING", "coordinator", 60)
	assert.NoError(t, err)
}

func TestManagerTTLBoundary(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mgr, ec := testManager(t, c)

	_, err := mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)

	c.Advance(23*time.Hour + 59*time.Minute)
	_, err = mgr.Get(ctx, ec.CorrelationID())
	assert.NoError(t, err, "state should survive just inside the window")

	c.Advance(2 * time.Minute)
	_, err = mgr.Get(ctx, ec.CorrelationID())
	assert.ErrorIs(t, err, ErrNotFound, "state should be gone past 24h")
}

func TestManagerTTLFixedFromCreation(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mgr, ec := testManager(t, c)

	_, err := mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)

	// Updates at 12h and 23h must not push expiry past CreatedAt+24h.
	c.Advance(12 * time.Hour)
	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 50)
	require.NoError(t, err)

	c.Advance(11 * time.Hour)
	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 80)
	require.NoError(t, err)

	c.Advance(61 * time.Minute)
	_, err = mgr.Get(ctx, ec.CorrelationID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 90)
	assert.ErrorIs(t, err, ErrNotFound, "expired workflows must not be revived by updates")
}

func TestManagerRefreshTTLOnUpdate(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	mgr, ec := testManager(t, c, RefreshTTLOnUpdate())

	_, err := mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)

	c.Advance(23 * time.Hour)
	_, err = mgr.Update(ctx, ec.CorrelationID(), "RUNNING", "venture_expert", 50)
	require.NoError(t, err)

	// 25h after creation but only 2h after the refresh.
	c.Advance(2 * time.Hour)
	_, err = mgr.Get(ctx, ec.CorrelationID())
	assert.NoError(t, err)
}

func TestManagerBroadcast(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Now().UTC())
	store := NewMemStore(WithMemStoreClock(c.Now))
	notifier := &captureNotifier{}
	mgr := NewManager(store, notifier, nil, WithManagerClock(c.Now))

	ec, err := execctx.New(uuid.New(), uuid.New(), contract.StageSpecs, "de")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, ec, "RUNNING", "venture_expert")
	require.NoError(t, err)
	_, err = mgr.Update(ctx, ec.CorrelationID(), "COMPLETED", "venture_expert", 100)
	require.NoError(t, err)

	states := notifier.all()
	require.Len(t, states, 2)
	assert.Equal(t, 0, states[0].Percent)
	assert.Equal(t, 100, states[1].Percent)
	assert.Equal(t, contract.StageSpecs, states[1].Stage)
}

func TestMemStoreExpiry(t *testing.T) {
	ctx := context.Background()
	c := newClock(time.Now().UTC())
	store := NewMemStore(WithMemStoreClock(c.Now))

	require.NoError(t, store.Set(ctx, "execution:abc", []byte(`{}`), time.Hour))

	got, err := store.Get(ctx, "execution:abc")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)

	c.Advance(time.Hour)
	_, err = store.Get(ctx, "execution:abc")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Run("eviction removes expired entries", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))
		c.Advance(30 * time.Minute)
		store.evictExpired()

		_, err := store.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "b")
		assert.NoError(t, err)
	})
}

func TestKey(t *testing.T) {
	id := uuid.MustParse("3f1d8a34-90c2-4c8e-bb5e-0fb1a9c0d111")
	assert.Equal(t, "execution:3f1d8a34-90c2-4c8e-bb5e-0fb1a9c0d111", Key(id))
}
