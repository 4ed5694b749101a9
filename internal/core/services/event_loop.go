package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrLoopStopped = errors.New("event loop stopped")

// EventLoop runs posted functions one at a time, in posting order, on the
// goroutine that called Run. Session state is only mutated from inside it.
type EventLoop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logger  *zap.SugaredLogger
}

func NewEventLoop(logger *zap.SugaredLogger) *EventLoop {
	return &EventLoop{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Post enqueues fn. It never blocks and reports false once the loop has stopped.
func (l *EventLoop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// fn may still have run before the loop exited
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	}
}

// Run processes posted functions until ctx is cancelled.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.run(fn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Stopped is closed when Run returns.
func (l *EventLoop) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *EventLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *EventLoop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorw("event handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
