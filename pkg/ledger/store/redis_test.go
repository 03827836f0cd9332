package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate-hq/meridian/pkg/ledger"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, "test:ledger:")

	t.Cleanup(func() {
		store.Close()
		mr.Close()
	})
	return mr, store
}

func TestRedisStore_CreateGetRoundTrip(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec := testRecord("proj-a", 10.00, now)
	rec.CurrentCost = 0.25
	rec.CostByModel["gpt-4o"] = 0.25

	created, err := store.Create(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	// Create stores only the record hash; Put persists the breakdown too
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "proj-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "proj-a", got.PrincipalID)
	assert.Equal(t, 10.00, got.TotalBudget)
	assert.Equal(t, ledger.DurationDaily, got.Duration)
	assert.Equal(t, ledger.StatusActive, got.Status)
	assert.InDelta(t, 0.25, got.CurrentCost, 1e-9)
	assert.InDelta(t, 0.25, got.CostByModel["gpt-4o"], 1e-9)
	assert.True(t, got.WindowStart.Equal(now))
}

func TestRedisStore_GetMissing(t *testing.T) {
	_, store := setupTestRedis(t)

	got, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStore_CreateIsFirstWriterWins(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := store.Create(ctx, testRecord("proj-a", 10.00, now))
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.Create(ctx, testRecord("proj-a", 99.00, now))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, "proj-a")
	require.NoError(t, err)
	assert.Equal(t, 10.00, got.TotalBudget)
}

func TestRedisStore_ChargeAcceptAndReject(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, testRecord("proj-a", 1.00, now))
	require.NoError(t, err)

	outcome, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.75, Now: now,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.InDelta(t, 0.75, outcome.Record.CurrentCost, 1e-9)
	assert.InDelta(t, 0.75, outcome.Record.CostByModel["gpt-4o"], 1e-9)

	outcome, err = store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.50, Now: now,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.InDelta(t, 1.25, outcome.WouldBeTotal, 1e-9)

	// Rejection leaves the stored total untouched
	got, err := store.Get(ctx, "proj-a")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got.CurrentCost, 1e-9)
}

func TestRedisStore_ChargeExactlyAtCap(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, testRecord("proj-a", 1.00, now))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		outcome, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
			Model: "gpt-4o", Amount: 0.10, Now: now,
		})
		require.NoError(t, err)
		require.True(t, outcome.Accepted, "charge %d landing at or below the cap", i)
	}

	outcome, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: now,
	})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)

	got, err := store.Get(ctx, "proj-a")
	require.NoError(t, err)
	assert.InDelta(t, 1.00, got.CurrentCost, 1e-9)
}

// Values at exponent-notation magnitudes must survive the round trip
// through the charge script: Lua's tonumber cannot be relied on to parse
// "1e+09" or "1e-05", so everything travels in plain decimal notation.
func TestRedisStore_ChargeExponentMagnitudes(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, testRecord("proj-a", ledger.DefaultUnlimitedBudget, now))
	require.NoError(t, err)

	outcome, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.00001, Now: now,
	})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	assert.InDelta(t, 0.00001, outcome.Record.CurrentCost, 1e-12)

	// The written-back current_cost must parse on the next charge too.
	outcome, err = store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.00001, Now: now,
	})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	assert.InDelta(t, 0.00002, outcome.Record.CurrentCost, 1e-12)
	assert.InDelta(t, ledger.DefaultUnlimitedBudget, outcome.Record.TotalBudget, 1)
}

func TestRedisStore_ChargeWindowReset(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.Create(ctx, testRecord("proj-a", 5.00, start))
	require.NoError(t, err)

	_, err = store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 4.50, Now: start.Add(time.Hour),
	})
	require.NoError(t, err)

	later := start.Add(25 * time.Hour)
	outcome, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "claude-sonnet-4", Amount: 2.00, Now: later,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.True(t, outcome.Reset)
	assert.InDelta(t, 2.00, outcome.Record.CurrentCost, 1e-9)
	assert.Len(t, outcome.Record.CostByModel, 1)
	assert.True(t, outcome.Record.WindowStart.Equal(later))
}

func TestRedisStore_ChargeMissingPrincipal(t *testing.T) {
	_, store := setupTestRedis(t)

	_, err := store.Charge(context.Background(), "ghost", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ledger.ErrNoBudget)
}

func TestRedisStore_ChargeSuspended(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := store.Create(ctx, testRecord("proj-a", 10.00, now))
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, "proj-a", ledger.StatusSuspended))

	_, err = store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: now,
	})
	assert.ErrorIs(t, err, ledger.ErrBudgetSuspended)

	require.NoError(t, store.SetStatus(ctx, "proj-a", ledger.StatusActive))
	_, err = store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: now,
	})
	assert.NoError(t, err)
}

func TestRedisStore_SetStatusMissingPrincipal(t *testing.T) {
	_, store := setupTestRedis(t)

	err := store.SetStatus(context.Background(), "ghost", ledger.StatusSuspended)
	assert.ErrorIs(t, err, ledger.ErrNoBudget)
}

func TestRedisStore_ListAndDelete(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"proj-a", "proj-b", "proj-c"} {
		_, err := store.Create(ctx, testRecord(id, 10.00, now))
		require.NoError(t, err)
	}
	// Give one principal a model breakdown so List skips the companion hash
	_, err := store.Charge(ctx, "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: now,
	})
	require.NoError(t, err)

	records, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	require.NoError(t, store.Delete(ctx, "proj-a"))
	got, err := store.Get(ctx, "proj-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	records, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRedisStore_ServerDown(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()

	_, err := store.Get(context.Background(), "proj-a")
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	_, err = store.Charge(context.Background(), "proj-a", ledger.ChargeArgs{
		Model: "gpt-4o", Amount: 0.10, Now: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Fatalf("charge against a dead server must map to ErrStoreUnavailable, got %v", err)
	}
}
