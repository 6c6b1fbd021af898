package events

import (
	"context"
	"sync/atomic"
)

type publisherKey struct{}

// ContextWithPublisher returns a context whose emitters publish through p.
func ContextWithPublisher(ctx context.Context, p Publisher) context.Context {
	return context.WithValue(ctx, publisherKey{}, p)
}

// PublisherFrom returns the publisher carried by ctx, or fallback when ctx
// carries none.
func PublisherFrom(ctx context.Context, fallback Publisher) Publisher {
	if ctx != nil {
		if p, ok := ctx.Value(publisherKey{}).(Publisher); ok && p != nil {
			return p
		}
	}
	return fallback
}

// Tally forwards every event to an inner publisher and counts the steps and
// citations that passed through it. Runs that overlap on one bus each get
// their own Tally, so counts never mix.
type Tally struct {
	next      Publisher
	steps     atomic.Int64
	citations atomic.Int64
}

// NewTally wraps next, which may be nil.
func NewTally(next Publisher) *Tally {
	return &Tally{next: next}
}

// NotifyStep implements Publisher.
func (t *Tally) NotifyStep(thought, action, input, observation string) {
	t.steps.Add(1)
	if t.next != nil {
		t.next.NotifyStep(thought, action, input, observation)
	}
}

// NotifyCitation implements Publisher.
func (t *Tally) NotifyCitation(title, url, content string) {
	t.citations.Add(1)
	if t.next != nil {
		t.next.NotifyCitation(title, url, content)
	}
}

// NotifyMessage implements Publisher. Messages are not counted.
func (t *Tally) NotifyMessage(role, content string) {
	if t.next != nil {
		t.next.NotifyMessage(role, content)
	}
}

// Steps reports the step events seen so far.
func (t *Tally) Steps() int { return int(t.steps.Load()) }

// Citations reports the citation events seen so far.
func (t *Tally) Citations() int { return int(t.citations.Load()) }

var _ Publisher = (*Tally)(nil)
