package services

import (
	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

var _ ports.MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNotification(domain.NotificationLevel) {}
func (NoopMetrics) RecordStreamOpened(domain.Direction, domain.KindName) {}
func (NoopMetrics) RecordStreamClosed(domain.Direction, domain.KindName) {}
func (NoopMetrics) RecordCapApplied(uint64) {}
func (NoopMetrics) RecordCapFailure() {}
func (NoopMetrics) RecordConnectionState(bool) {}
func (NoopMetrics) RecordJoin(domain.JoinKind) {}
func (NoopMetrics) RecordDirective(domain.DirectiveKind, bool) {}
func (NoopMetrics) RecordCaptureFailure(string) {}
