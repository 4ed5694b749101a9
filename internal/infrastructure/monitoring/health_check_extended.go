package monitoring

import (
	"context"
	"errors"
	"time"
)

// Pinger is anything that can report its reachability, e.g. the Redis event mirror.
type Pinger interface {
	Ping(ctx context.Context) error
}

var errNotConnected = errors.New("not connected to the group server")

// AddPingCheck adds a check backed by p.Ping.
func (h *HealthChecker) AddPingCheck(name string, p Pinger, interval, timeout time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if err := p.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionCheck adds a check that fails while the signaling connection is down.
func (h *HealthChecker) AddSessionCheck(connected func() bool) {
	h.AddCheck("session", func(context.Context) (bool, error) {
		if !connected() {
			return false, errNotConnected
		}
		return true, nil
	}, 0, time.Second)
}

// IsReady reports whether every check passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == StatusHealthy
}
