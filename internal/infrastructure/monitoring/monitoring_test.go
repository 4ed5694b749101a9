package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pyrite/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordNotification(domain.LevelError)
	c.RecordNotification(domain.LevelError)
	c.RecordStreamOpened(domain.DirectionUp, domain.KindNameLocal)
	c.RecordStreamOpened(domain.DirectionUp, domain.KindNameLocal)
	c.RecordStreamClosed(domain.DirectionUp, domain.KindNameLocal)
	c.RecordCapApplied(700000)
	c.RecordCapApplied(0)
	c.RecordCapFailure()
	c.RecordConnectionState(true)
	c.RecordJoin(domain.JoinJoin)
	c.RecordDirective(domain.DirectiveMute, true)
	c.RecordCaptureFailure("camera")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.notificationsTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamsOpenedTotal.WithLabelValues("up", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamsActive.WithLabelValues("up", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.capFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.directivesTotal.WithLabelValues("mute", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.captureFailures.WithLabelValues("camera")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.appliedCapBps))

	c.RecordConnectionState(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.connected))
}

func TestHealthChecker_CheckAll(t *testing.T) {
	connected := false
	h := NewHealthChecker()
	h.AddSessionCheck(func() bool { return connected })
	h.AddPingCheck("redis", pingerFunc(func(context.Context) error { return nil }), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "not connected to the group server", status.Checks["session"])
	assert.Equal(t, StatusHealthy, status.Checks["redis"])
	assert.False(t, h.IsReady(context.Background()))

	connected = true
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_Timeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("slow", pingerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), 0, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_BackgroundFailures(t *testing.T) {
	h := NewHealthChecker()
	h.AddPingCheck("redis", pingerFunc(func(context.Context) error { return errors.New("down") }), 5*time.Millisecond, time.Second)

	var mu sync.Mutex
	var failures []string
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx, func(name, result string) {
		mu.Lock()
		failures = append(failures, name+": "+result)
		mu.Unlock()
	})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) >= 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "redis: down", failures[0])
	mu.Unlock()
}
