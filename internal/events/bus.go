package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"DeepResearch/pkg/logger"
)

type entry[H any] struct {
	id      uint64
	handler H
}

// Bus is an in-process, synchronous publish/subscribe registry for step,
// citation and message events. A Notify call returns only after every
// handler registered for that kind has run, in subscription order.
//
// A handler that panics is logged and skipped; the remaining handlers of the
// same call still run.
type Bus struct {
	mu        sync.RWMutex
	seq       atomic.Uint64
	steps     []entry[StepHandler]
	citations []entry[CitationHandler]
	messages  []entry[MessageHandler]
	logger    *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.logger == nil {
		b.logger = logger.Named("events")
	}
	return b
}

// SubscribeStep appends h to the step handlers.
func (b *Bus) SubscribeStep(h StepHandler) Subscription {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.steps = append(b.steps, entry[StepHandler]{id: id, handler: h})
	b.mu.Unlock()
	return Subscription{kind: KindStep, id: id}
}

// SubscribeCitation appends h to the citation handlers.
func (b *Bus) SubscribeCitation(h CitationHandler) Subscription {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.citations = append(b.citations, entry[CitationHandler]{id: id, handler: h})
	b.mu.Unlock()
	return Subscription{kind: KindCitation, id: id}
}

// SubscribeMessage appends h to the message handlers.
func (b *Bus) SubscribeMessage(h MessageHandler) Subscription {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.messages = append(b.messages, entry[MessageHandler]{id: id, handler: h})
	b.mu.Unlock()
	return Subscription{kind: KindMessage, id: id}
}

// Unsubscribe detaches the handler behind sub. Unknown or already removed
// handles are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	if !sub.Valid() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch sub.kind {
	case KindStep:
		b.steps = without(b.steps, sub.id)
	case KindCitation:
		b.citations = without(b.citations, sub.id)
	case KindMessage:
		b.messages = without(b.messages, sub.id)
	}
}

// without returns list minus id. The result never aliases list, so
// snapshots taken by in-flight Notify calls stay intact.
func without[H any](list []entry[H], id uint64) []entry[H] {
	out := make([]entry[H], 0, len(list))
	for _, e := range list {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of handlers registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch kind {
	case KindStep:
		return len(b.steps)
	case KindCitation:
		return len(b.citations)
	case KindMessage:
		return len(b.messages)
	}
	return 0
}

// NotifyStep delivers a step event to every step handler.
func (b *Bus) NotifyStep(thought, action, input, observation string) {
	ev := Step{Thought: thought, Action: action, Input: input, Observation: observation}
	b.mu.RLock()
	handlers := b.steps
	b.mu.RUnlock()
	for _, e := range handlers {
		b.invoke(KindStep, e.id, func() { e.handler(ev) })
	}
}

// NotifyCitation delivers a citation event to every citation handler.
func (b *Bus) NotifyCitation(title, url, content string) {
	ev := Citation{Title: title, URL: url, Content: content}
	b.mu.RLock()
	handlers := b.citations
	b.mu.RUnlock()
	for _, e := range handlers {
		b.invoke(KindCitation, e.id, func() { e.handler(ev) })
	}
}

// NotifyMessage delivers a message event to every message handler.
func (b *Bus) NotifyMessage(role, content string) {
	ev := Message{Role: role, Content: content}
	b.mu.RLock()
	handlers := b.messages
	b.mu.RUnlock()
	for _, e := range handlers {
		b.invoke(KindMessage, e.id, func() { e.handler(ev) })
	}
}

func (b *Bus) invoke(kind Kind, id uint64, call func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("kind", string(kind)),
				slog.Uint64("subscription", id),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	call()
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
