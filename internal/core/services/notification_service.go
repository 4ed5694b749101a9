package services

import (
	"sync"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"go.uber.org/zap"
)

// NotificationService keeps the set of active, self-expiring user notifications.
type NotificationService struct {
	mu             sync.Mutex
	nextID         domain.NotificationID
	active         []domain.Notification
	timers         map[domain.NotificationID]*time.Timer
	defaultTimeout time.Duration

	bus     *EventBus
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewNotificationService(
	bus *EventBus,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
	defaultTimeout time.Duration,
) *NotificationService {
	if defaultTimeout <= 0 {
		defaultTimeout = domain.DefaultNotificationTimeout
	}
	return &NotificationService{
		timers:         make(map[domain.NotificationID]*time.Timer),
		defaultTimeout: defaultTimeout,
		bus:            bus,
		metrics:        metrics,
		logger:         logger,
	}
}

// Notify posts a message that expires after timeout, or the default timeout
// when timeout is zero.
func (s *NotificationService) Notify(level domain.NotificationLevel, message string, timeout time.Duration) domain.Notification {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.mu.Lock()
	s.nextID++
	n := domain.Notification{
		ID:        s.nextID,
		Level:     level,
		Message:   message,
		Timeout:   timeout,
		CreatedAt: time.Now(),
	}
	s.active = append(s.active, n)
	s.timers[n.ID] = time.AfterFunc(timeout, func() { s.expire(n.ID) })
	s.mu.Unlock()

	s.logger.Infow("notification", "id", n.ID, "level", level, "message", message)
	s.metrics.RecordNotification(level)
	s.bus.Publish(domain.NotificationEvent{Notification: n})
	return n
}

func (s *NotificationService) Error(message string) domain.Notification {
	return s.Notify(domain.LevelError, message, 0)
}

func (s *NotificationService) Warning(message string) domain.Notification {
	return s.Notify(domain.LevelWarning, message, 0)
}

// Dismiss removes a notification before it expires.
func (s *NotificationService) Dismiss(id domain.NotificationID) bool {
	n, ok := s.remove(id)
	if ok {
		s.bus.Publish(domain.NotificationEvent{Expired: true, Notification: n})
	}
	return ok
}

func (s *NotificationService) Active() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Notification, len(s.active))
	copy(out, s.active)
	return out
}

// Close cancels every pending expiry.
func (s *NotificationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *NotificationService) expire(id domain.NotificationID) {
	if n, ok := s.remove(id); ok {
		s.bus.Publish(domain.NotificationEvent{Expired: true, Notification: n})
	}
}

func (s *NotificationService) remove(id domain.NotificationID) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	for i, n := range s.active {
		if n.ID == id {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return n, true
		}
	}
	return domain.Notification{}, false
}
