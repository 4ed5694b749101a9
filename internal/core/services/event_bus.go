package services

import (
	"context"
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"go.uber.org/zap"
)

// EventBus is a typed, in-process publish/subscribe channel for session
// events. Handlers run synchronously on the publisher's goroutine, which is
// usually the event loop but may be a notification timer.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[int]func(domain.Event)
	nextID   int
	logger   *zap.SugaredLogger
}

func NewEventBus(logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		handlers: make(map[int]func(domain.Event)),
		logger:   logger,
	}
}

// Subscribe registers fn for every event and returns a function removing it.
func (b *EventBus) Subscribe(fn func(domain.Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

func (b *EventBus) Publish(event domain.Event) {
	b.mu.RLock()
	handlers := make([]func(domain.Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.logger.Debugw("event", "type", event.Type())
	for _, h := range handlers {
		h(event)
	}
}

// On subscribes fn to events of variant T only.
func On[T domain.Event](b *EventBus, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(func(e domain.Event) {
		if v, ok := e.(T); ok {
			fn(v)
		}
	})
}

// AttachSink forwards events to sink from a dedicated goroutine so that slow
// sinks never stall the publisher. Events are dropped when the buffer is full.
func (b *EventBus) AttachSink(ctx context.Context, sink ports.EventSink, buffer int) (detach func()) {
	ch := make(chan domain.Event, buffer)
	unsubscribe := b.Subscribe(func(e domain.Event) {
		select {
		case ch <- e:
		default:
			b.logger.Warnw("event sink full, dropping event", "type", e.Type())
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				if err := sink.Handle(ctx, e); err != nil {
					b.logger.Warnw("event sink failed", "type", e.Type(), "error", err)
				}
			}
		}
	}()

	return func() {
		unsubscribe()
		cancel()
		<-done
	}
}
