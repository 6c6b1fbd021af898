package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	for _, task := range []*Task{
		{ID: "t1", Query: "solar panels", MaxRetries: 3},
		{ID: "t2", Query: "wind turbines", MaxRetries: 3},
		{ID: "t3", Query: "solar storage", MaxRetries: 3},
	} {
		require.NoError(t, store.Create(ctx, task))
	}

	require.NoError(t, store.MarkFailed(ctx, "t2", CodeTaskProcessing, "boom", true))
	require.NoError(t, store.MarkSucceeded(ctx, "t3", Result{Summary: "ok"}))

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID)

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithOrder(OldestFirst)}))
	require.NoError(t, err)
	assert.Equal(t, "t1", asc[0].ID)

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "t2", failed[0].ID)
	assert.Equal(t, "boom", failed[0].LastError)

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithAnswered(true)}))
	require.NoError(t, err)
	require.Len(t, withResult, 1)
	assert.Equal(t, "t3", withResult[0].ID)

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedBetween(base.Add(15*time.Second), time.Time{})}))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	solar, err := store.List(ctx, buildListOptions([]ListOption{WithSearch("SOLAR")}))
	require.NoError(t, err)
	assert.Len(t, solar, 2)

	paged, err := store.List(ctx, buildListOptions([]ListOption{WithPage(1, 1)}))
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "t2", paged[0].ID)
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Minute)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(ctx, &Task{ID: id, Query: "q-" + id, MaxRetries: 3}))
	}
	require.NoError(t, store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true))
	require.NoError(t, store.MarkSucceeded(ctx, "c", Result{Summary: "ok"}))

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Total:           3,
		Pending:         1,
		Succeeded:       1,
		Failed:          1,
		OldestUpdatedAt: base.Unix(),
		NewestUpdatedAt: base.Add(2 * time.Minute).Unix(),
	}, stats)

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithAnswered(false)}))
	require.NoError(t, err)
	assert.Equal(t, 2, withoutResults.Total)
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Task{ID: "x", Query: "q", MaxRetries: 2}))
	assert.ErrorIs(t, store.Create(ctx, &Task{ID: "x", Query: "q"}), ErrTaskConflict)

	claimed, err := store.Claim(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = store.Claim(ctx, "x")
	assert.ErrorIs(t, err, ErrTaskConflict)

	require.NoError(t, store.MarkFailed(ctx, "x", CodeTaskProcessing, "transient", false))
	retry, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, retry.Status)
	assert.False(t, retry.Finished())

	claimed, err = store.Claim(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)
	require.NoError(t, store.MarkFailed(ctx, "x", CodeTaskProcessing, "transient", false))

	_, err = store.Claim(ctx, "x")
	assert.ErrorIs(t, err, ErrTaskExhausted)

	_, err = store.Get(ctx, "missing")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Task{ID: "x", Query: "q", MaxRetries: 1}))
	require.NoError(t, store.MarkSucceeded(ctx, "x", Result{Summary: "original"}))

	got, err := store.Get(ctx, "x")
	require.NoError(t, err)
	got.Result.Summary = "changed"

	again, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Result.Summary)
	assert.True(t, again.Finished())
}

func TestBuildFilterClause(t *testing.T) {
	opts := buildListOptions([]ListOption{
		WithStatuses(StatusPending, StatusFailed, StatusPending, Status("bogus")),
		WithAnswered(false),
		WithSearch("  solar "),
	})
	clause, args := buildFilterClause(opts)
	assert.Equal(t, "status IN (?,?) AND (result IS NULL OR result = '') AND (id LIKE ? OR query LIKE ? OR last_error LIKE ?)", clause)
	assert.Equal(t, []any{"pending", "failed", "%solar%", "%solar%", "%solar%"}, args)

	until := time.Unix(1700000000, 0)
	clause, args = buildFilterClause(buildListOptions([]ListOption{WithUpdatedBetween(time.Time{}, until)}))
	assert.Equal(t, "updated_at <= ?", clause)
	assert.Equal(t, []any{until.Unix()}, args)

	empty, none := buildFilterClause(buildListOptions(nil))
	assert.Empty(t, empty)
	assert.Nil(t, none)
}

func TestParseListInputs(t *testing.T) {
	order, err := ParseOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, OldestFirst, order)

	order, err = ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, NewestFirst, order)

	_, err = ParseOrder("sideways")
	assert.Error(t, err)

	statuses, err := ParseStatuses(" Pending, failed ,")
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusPending, StatusFailed}, statuses)

	_, err = ParseStatuses("pending,lost")
	assert.Error(t, err)

	opts := buildListOptions([]ListOption{WithPage(500, -3)})
	assert.Equal(t, maxListLimit, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Equal(t, NewestFirst, opts.Order)
}
