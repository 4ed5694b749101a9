package webrtc

import (
	"context"
	"fmt"
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// Sender adapts one pion RTP sender. pion does not renegotiate encoding
// limits, so a committed cap is enforced at the capture source.
type Sender struct {
	track ports.Track

	mu     sync.Mutex
	params domain.SendParameters
}

func newSender(track ports.Track, encodings []webrtc.RTPEncodingParameters) *Sender {
	s := &Sender{track: track}
	for _, enc := range encodings {
		s.params.Encodings = append(s.params.Encodings, domain.Encoding{RID: enc.RID, Active: true})
	}
	return s
}

func (s *Sender) Kind() domain.TrackKind {
	if s.track == nil {
		return ""
	}
	return s.track.Kind()
}

func (s *Sender) Parameters() domain.SendParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SendParameters{Encodings: append([]domain.Encoding(nil), s.params.Encodings...)}
}

// SetParameters commits params. The effective limit is the largest cap of
// the active encodings; an active uncapped encoding lifts the limit.
func (s *Sender) SetParameters(ctx context.Context, params domain.SendParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	limiter, ok := s.track.(BitrateLimiter)
	if !ok {
		return fmt.Errorf("track %s: %w", s.track.ID(), domain.ErrParametersNotSupported)
	}

	var limit uint64
	for _, enc := range params.Encodings {
		if !enc.Active {
			continue
		}
		if enc.MaxBitrate == domain.Uncapped {
			limit = domain.Uncapped
			break
		}
		if enc.MaxBitrate > limit {
			limit = enc.MaxBitrate
		}
	}
	if err := limiter.SetMaxBitrate(limit); err != nil {
		return err
	}

	s.mu.Lock()
	s.params = domain.SendParameters{Encodings: append([]domain.Encoding(nil), params.Encodings...)}
	s.mu.Unlock()
	return nil
}
