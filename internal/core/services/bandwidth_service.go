package services

import (
	"context"
	"fmt"
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	apperrors "pyrite/pkg/errors"
	"pyrite/pkg/tracing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MaxThroughputFor maps an upstream tier to a video bitrate cap in bits per
// second. Unknown tiers get the normal cap.
func MaxThroughputFor(tier domain.UpstreamTier) uint64 {
	switch tier {
	case domain.TierLowest:
		return 150000
	case domain.TierLow:
		return 300000
	case domain.TierNormal:
		return 700000
	case domain.TierUnlimited:
		return domain.Uncapped
	default:
		return 700000
	}
}

// BandwidthService caps the video senders of up-streams.
type BandwidthService struct {
	notifier *NotificationService
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewBandwidthService(notifier *NotificationService, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *BandwidthService {
	return &BandwidthService{
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// ApplyCap sets, or clears for Uncapped, the maximum bitrate of every video
// sender of up. Audio senders are left alone. Each sender commits on its own;
// failures are reported and aggregated but never tear the stream down.
func (s *BandwidthService) ApplyCap(ctx context.Context, up ports.UpStream, bps uint64) error {
	ctx, span := tracing.TraceUpstream(ctx, "apply_cap", string(up.ID()), "")
	defer span.End()
	span.SetAttributes(tracing.BitrateKey.Int64(int64(bps)))

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for _, sender := range up.Senders() {
		if sender.Kind() != domain.TrackVideo {
			continue
		}
		wg.Add(1)
		go func(sender ports.Sender) {
			defer wg.Done()
			if err := s.commit(ctx, up.ID(), sender, bps); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(sender)
	}
	wg.Wait()

	if errs != nil {
		tracing.RecordError(ctx, errs)
	}
	return errs
}

func (s *BandwidthService) commit(ctx context.Context, id domain.StreamID, sender ports.Sender, bps uint64) error {
	params := sender.Parameters()
	if len(params.Encodings) == 0 {
		params.Encodings = []domain.Encoding{{Active: true}}
	}
	for i := range params.Encodings {
		params.Encodings[i].MaxBitrate = bps
	}

	if bps == domain.Uncapped {
		s.logger.Infow("uncap video bandwidth", "stream_id", id)
	} else {
		s.logger.Infow("cap video bandwidth", "stream_id", id, "bps", bps)
	}

	if err := sender.SetParameters(ctx, params); err != nil {
		negErr := apperrors.NewNegotiationError(fmt.Sprintf("couldn't set video bitrate on stream %s", id), err).
			WithContext("stream_id", string(id))
		s.logger.Warnw("sender parameter commit rejected", "stream_id", id, "bps", bps, "error", err)
		s.notifier.Error(negErr.Message)
		s.metrics.RecordCapFailure()
		return negErr
	}

	s.metrics.RecordCapApplied(bps)
	return nil
}
