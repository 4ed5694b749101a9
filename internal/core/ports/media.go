package ports

import (
	"context"

	"pyrite/internal/core/domain"
)

type Track interface {
	ID() domain.TrackID
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
	// OnEnded fires when the source ends on its own, not after Stop.
	OnEnded(func())
}

// ContentHinter is implemented by video tracks that accept an encoder hint.
type ContentHinter interface {
	SetContentHint(hint string)
}

type MediaStream interface {
	Tracks() []Track
}

// MediaCaptureProvider produces local media.
type MediaCaptureProvider interface {
	EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error)
	GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
	SupportsDisplayCapture() bool
	OpenFile(ctx context.Context, source string) (MediaStream, error)
}

// StopAll stops every track of s.
func StopAll(s MediaStream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
