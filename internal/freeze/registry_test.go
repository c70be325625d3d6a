package freeze

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/SUPREMEAGENTMANAGER/internal/cperr"
	"github.com/SUPREMEAGENTMANAGER/internal/ids"
	"github.com/SUPREMEAGENTMANAGER/internal/model"
	"github.com/SUPREMEAGENTMANAGER/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "freeze_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := ids.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(db, client, clock)
}

func TestFreezeThenIsFrozenObservesImmediately(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	frozen, err := r.IsFrozen(ctx, model.FreezeAgent, "agent-1")
	require.NoError(t, err)
	require.False(t, frozen)

	_, created, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "violation", "act-1", model.RiskCritical)
	require.NoError(t, err)
	require.True(t, created)

	frozen, err = r.IsFrozen(ctx, model.FreezeAgent, "agent-1")
	require.NoError(t, err)
	require.True(t, frozen)
}

func TestFreezeIsIdempotentPerScope(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, created, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "first", "act-1", model.RiskHigh)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "second", "act-2", model.RiskHigh)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.FreezeID, second.FreezeID)
}

func TestScopePrecedenceSystemOverridesAgent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	frozen, err := r.IsAgentFrozen(ctx, "agent-1", "module:worker")
	require.NoError(t, err)
	require.False(t, frozen)

	_, _, err = r.Freeze(ctx, model.FreezeSystem, SystemScope, "incident", "", model.RiskEmergency)
	require.NoError(t, err)

	frozen, err = r.IsAgentFrozen(ctx, "agent-1", "module:worker")
	require.NoError(t, err)
	require.True(t, frozen, "system freeze must cascade to every agent")
}

func TestScopePrecedenceModuleOverridesAgent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Freeze(ctx, model.FreezeModule, "module:worker", "bad batch", "", model.RiskHigh)
	require.NoError(t, err)

	frozen, err := r.IsAgentFrozen(ctx, "agent-1", "module:worker")
	require.NoError(t, err)
	require.True(t, frozen)

	frozen, err = r.IsAgentFrozen(ctx, "agent-2", "module:other")
	require.NoError(t, err)
	require.False(t, frozen)
}

func TestUnfreezeClearsScope(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "violation", "act-1", model.RiskCritical)
	require.NoError(t, err)

	require.NoError(t, r.Unfreeze(ctx, model.FreezeAgent, "agent-1", "admin-1", "resolved"))

	frozen, err := r.IsFrozen(ctx, model.FreezeAgent, "agent-1")
	require.NoError(t, err)
	require.False(t, frozen)
}

func TestUnfreezeWithoutActiveFreezeIsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Unfreeze(context.Background(), model.FreezeAgent, "agent-1", "admin-1", "n/a")
	require.Error(t, err)
	require.Equal(t, cperr.KindNotFound, cperr.KindOf(err))
}

func TestRefreezeAfterUnfreezeCreatesNewRecord(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	first, _, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "first", "act-1", model.RiskHigh)
	require.NoError(t, err)
	require.NoError(t, r.Unfreeze(ctx, model.FreezeAgent, "agent-1", "admin-1", "resolved"))

	second, created, err := r.Freeze(ctx, model.FreezeAgent, "agent-1", "second", "act-2", model.RiskHigh)
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, first.FreezeID, second.FreezeID)
}

func TestIsFrozenFallsThroughToStoreWhenCacheIsNil(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "freeze_nocache.db"))
	require.NoError(t, err)
	defer db.Close()

	clock := ids.NewFakeClock(time.Now())
	r := New(db, nil, clock)
	ctx := context.Background()

	_, _, err = r.Freeze(ctx, model.FreezeAgent, "agent-1", "violation", "act-1", model.RiskHigh)
	require.NoError(t, err)

	frozen, err := r.IsFrozen(ctx, model.FreezeAgent, "agent-1")
	require.NoError(t, err)
	require.True(t, frozen)
}
