package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "DeepResearch/internal/errors"
)

// listStore emulates the list commands the queue issues outside pipelines.
type listStore struct {
	lists map[string][]string
	err   error
}

func newListStore() *listStore { return &listStore{lists: map[string][]string{}} }

func (s *listStore) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
		return cmd
	}
	for _, v := range values {
		s.lists[key] = append([]string{v.(string)}, s.lists[key]...)
	}
	cmd.SetVal(int64(len(s.lists[key])))
	return cmd
}

func (s *listStore) move(ctx context.Context, src, dst, srcpos, dstpos string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
		return cmd
	}
	list := s.lists[src]
	if len(list) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	var v string
	if srcpos == "LEFT" {
		v, s.lists[src] = list[0], list[1:]
	} else {
		v, s.lists[src] = list[len(list)-1], list[:len(list)-1]
	}
	if dstpos == "LEFT" {
		s.lists[dst] = append([]string{v}, s.lists[dst]...)
	} else {
		s.lists[dst] = append(s.lists[dst], v)
	}
	cmd.SetVal(v)
	return cmd
}

func (s *listStore) BLMove(ctx context.Context, src, dst, srcpos, dstpos string, _ time.Duration) *redis.StringCmd {
	return s.move(ctx, src, dst, srcpos, dstpos)
}

func (s *listStore) LMove(ctx context.Context, src, dst, srcpos, dstpos string) *redis.StringCmd {
	return s.move(ctx, src, dst, srcpos, dstpos)
}

func (s *listStore) TxPipelined(context.Context, func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	return nil, errors.New("pipelines are not emulated")
}

func (s *listStore) Close() error { return nil }

func TestRedisQueuePublishAndRecover(t *testing.T) {
	store := newListStore()
	q := newRedisQueue(store, "", 0)
	assert.Equal(t, defaultRedisQueueKey, q.key)
	assert.Equal(t, defaultRedisQueueKey+":processing", q.processing)
	assert.Equal(t, defaultRedisWait, q.wait)

	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "a"))
	require.NoError(t, q.Publish(ctx, "b"))
	assert.Equal(t, []string{"b", "a"}, store.lists[q.key])

	// Two ids were in flight when a previous consumer died.
	store.lists[q.processing] = []string{"y", "x"}
	n, err := q.recoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, store.lists[q.processing])
	assert.Equal(t, []string{"b", "a", "y", "x"}, store.lists[q.key])

	// The oldest id is consumed first.
	id, err := store.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
	require.NoError(t, err)
	assert.Equal(t, "x", id)
}

func TestRedisQueueSurfacesErrors(t *testing.T) {
	store := newListStore()
	store.err = errors.New("connection reset")
	q := newRedisQueue(store, "k", time.Second)

	err := q.Publish(context.Background(), "a")
	assert.Equal(t, xerrors.CodeQueueFailure, xerrors.CodeOf(err))

	err = q.Consume(context.Background(), 2, func(context.Context, string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recover in-flight")

	store.err = nil
	err = q.settle(context.Background(), "a", nil)
	assert.ErrorContains(t, err, "redis settle a")
}
