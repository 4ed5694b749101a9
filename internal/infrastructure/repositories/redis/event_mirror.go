package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pyrite/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultHistorySize bounds the list of recent events kept next to the channel.
const DefaultHistorySize = 100

// commands is the part of the Redis client the mirror uses.
type commands interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// envelope is the JSON document published for every session event.
type envelope struct {
	Type     domain.EventType `json:"type"`
	Instance string           `json:"instance"`
	Time     time.Time        `json:"time"`
	Payload  domain.Event     `json:"payload"`
}

// EventMirror publishes session events on a Redis channel and keeps the most
// recent ones in a list so late subscribers can catch up.
type EventMirror struct {
	client   commands
	channel  string
	instance string
	history  int64
	now      func() time.Time
	breaker  *breaker
}

type MirrorOption func(*EventMirror)

// WithCircuitBreaker suspends publishing for cooldown after threshold
// consecutive failures, so a dead Redis costs one probe per cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration, logger *zap.SugaredLogger) MirrorOption {
	return func(m *EventMirror) {
		m.breaker = newBreaker(threshold, cooldown)
		if logger != nil {
			m.breaker.onChange = func(from, to breakerState) {
				logger.Warnw("event mirror state changed", "from", from, "to", to)
			}
		}
	}
}

func NewEventMirror(client commands, channel, instance string, history int, opts ...MirrorOption) *EventMirror {
	if history <= 0 {
		history = DefaultHistorySize
	}
	m := &EventMirror{
		client:   client,
		channel:  channel,
		instance: instance,
		history:  int64(history),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *EventMirror) historyKey() string {
	return m.channel + ":history"
}

// Handle implements ports.EventSink.
func (m *EventMirror) Handle(ctx context.Context, event domain.Event) error {
	if m.breaker == nil {
		return m.publish(ctx, event)
	}
	if !m.breaker.allow() {
		return ErrSuspended
	}
	err := m.publish(ctx, event)
	m.breaker.record(err)
	return err
}

func (m *EventMirror) publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(envelope{
		Type:     event.Type(),
		Instance: m.instance,
		Time:     m.now().UTC(),
		Payload:  event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := m.client.Publish(ctx, m.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := m.client.LPush(ctx, m.historyKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if err := m.client.LTrim(ctx, m.historyKey(), 0, m.history-1).Err(); err != nil {
		return fmt.Errorf("failed to trim event history: %w", err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (m *EventMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
