package task

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	xerrors "DeepResearch/internal/errors"
)

// MemoryStore keeps tasks in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task is nil")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "task id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = StatusPending
	}
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneTask(task), nil
}

// mutate runs fn on the stored task under the write lock and stamps
// UpdatedAt when fn succeeds. fn receives the live record, not a copy.
func (m *MemoryStore) mutate(id string, fn func(*Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := fn(stored); err != nil {
		return cloneTask(stored), err
	}
	stored.UpdatedAt = m.now().Unix()
	return cloneTask(stored), nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	return m.mutate(id, func(t *Task) error {
		if err := claimable(t); err != nil {
			return err
		}
		t.Status = StatusRunning
		t.Attempts++
		t.LastError, t.ErrorCode = "", ""
		return nil
	})
}

// claimable reports why t cannot start another attempt, if it cannot.
func claimable(t *Task) error {
	switch {
	case t.Status == StatusSucceeded:
		return ErrTaskCompleted
	case t.Status == StatusRunning:
		return ErrTaskConflict
	case t.Status == StatusFailed, t.Attempts >= t.MaxRetries:
		return ErrTaskExhausted
	}
	return nil
}

// MarkSucceeded implements Store.
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result Result) error {
	_, err := m.mutate(id, func(t *Task) error {
		t.Status = StatusSucceeded
		t.Result = &result
		t.LastError, t.ErrorCode = "", ""
		return nil
	})
	return err
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := m.mutate(id, func(t *Task) error {
		t.Status = StatusPending
		if terminal {
			t.Status = StatusFailed
		}
		t.LastError, t.ErrorCode = lastError, string(code)
		return nil
	})
	return err
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()

	m.mu.RLock()
	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.matches(task) {
			results = append(results, cloneTask(task))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(results, newestFirst)
	if opts.Order == OldestFirst {
		slices.Reverse(results)
	}

	if opts.Offset >= len(results) {
		return []*Task{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats Stats
	for _, task := range m.tasks {
		if opts.matches(task) {
			stats.observe(task)
		}
	}
	return stats, nil
}

// newestFirst orders by update time, then creation time, then id, all descending.
func newestFirst(a, b *Task) int {
	return cmp.Or(
		cmp.Compare(b.UpdatedAt, a.UpdatedAt),
		cmp.Compare(b.CreatedAt, a.CreatedAt),
		cmp.Compare(b.ID, a.ID),
	)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
