package ports

import (
	"context"

	"pyrite/internal/core/domain"
)

// Navigator follows a server redirect.
type Navigator interface {
	Navigate(target string)
}

// EventSink consumes session events outside the process, e.g. a pub/sub mirror.
type EventSink interface {
	Handle(ctx context.Context, event domain.Event) error
}

type MetricsRecorder interface {
	RecordNotification(level domain.NotificationLevel)
	RecordStreamOpened(direction domain.Direction, kind domain.KindName)
	RecordStreamClosed(direction domain.Direction, kind domain.KindName)
	RecordCapApplied(bps uint64)
	RecordCapFailure()
	RecordConnectionState(connected bool)
	RecordJoin(kind domain.JoinKind)
	RecordDirective(kind domain.DirectiveKind, privileged bool)
	RecordCaptureFailure(source string)
}
