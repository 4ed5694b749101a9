package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"pyrite/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventLoop_RunsInPostingOrder(t *testing.T) {
	loop := NewEventLoop(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	go func() { _ = loop.Run(ctx) }()

	require.NoError(t, loop.Call(ctx, func() {}))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoop_PostFromInsideLoopDoesNotBlock(t *testing.T) {
	loop := NewEventLoop(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	done := make(chan struct{})
	require.NoError(t, loop.Call(ctx, func() {
		for i := 0; i < 1000; i++ {
			loop.Post(func() {})
		}
		loop.Post(func() { close(done) })
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested posts never ran")
	}
}

func TestEventLoop_RecoversFromPanics(t *testing.T) {
	loop := NewEventLoop(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	require.NoError(t, loop.Call(ctx, func() { panic("boom") }))

	ran := false
	require.NoError(t, loop.Call(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestEventLoop_StoppedLoopRejectsWork(t *testing.T) {
	loop := NewEventLoop(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	<-loop.Stopped()
	assert.False(t, loop.Post(func() {}))
	assert.ErrorIs(t, loop.Call(context.Background(), func() {}), ErrLoopStopped)
}

func TestEventBus_TypedSubscription(t *testing.T) {
	bus := NewEventBus(zap.NewNop().Sugar())

	var users []domain.UserEvent
	var all int
	unsubUsers := On(bus, func(e domain.UserEvent) { users = append(users, e) })
	unsubAll := bus.Subscribe(func(domain.Event) { all++ })

	bus.Publish(domain.UserEvent{Action: domain.UserAdd, User: domain.User{ID: "u1"}})
	bus.Publish(domain.StreamEvent{StreamID: "s1"})
	unsubUsers()
	bus.Publish(domain.UserEvent{Action: domain.UserDelete, User: domain.User{ID: "u1"}})
	unsubAll()
	bus.Publish(domain.UserEvent{Action: domain.UserAdd})

	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].User.ID)
	assert.Equal(t, 3, all)
}

type collectingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *collectingSink) Handle(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEventBus_AttachSink(t *testing.T) {
	bus := NewEventBus(zap.NewNop().Sugar())
	sink := &collectingSink{}

	detach := bus.AttachSink(context.Background(), sink, 16)
	bus.Publish(domain.StreamEvent{StreamID: "s1"})
	bus.Publish(domain.StreamEvent{StreamID: "s1", Removed: true})

	assert.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	detach()

	bus.Publish(domain.StreamEvent{StreamID: "s2"})
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, sink.count())
}
