package services

import (
	"context"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	apperrors "pyrite/pkg/errors"

	"go.uber.org/zap"
)

const capCommitTimeout = 10 * time.Second

type upEntry struct {
	handle ports.UpStream
	kind   domain.Kind
	media  ports.MediaStream
}

// UpstreamService builds and tears down outbound streams. All methods must be
// called from the event loop.
type UpstreamService struct {
	registry  ports.StreamRegistry
	bandwidth *BandwidthService
	notifier  *NotificationService
	bus       *EventBus
	loop      *EventLoop
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger

	conn       ports.SignalingConnection
	ups        map[domain.StreamID]*upEntry
	tier       domain.UpstreamTier
	micEnabled bool
	resolution domain.Resolution
}

func NewUpstreamService(
	registry ports.StreamRegistry,
	bandwidth *BandwidthService,
	notifier *NotificationService,
	bus *EventBus,
	loop *EventLoop,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *UpstreamService {
	return &UpstreamService{
		registry:   registry,
		bandwidth:  bandwidth,
		notifier:   notifier,
		bus:        bus,
		loop:       loop,
		metrics:    metrics,
		logger:     logger,
		ups:        make(map[domain.StreamID]*upEntry),
		tier:       domain.TierNormal,
		micEnabled: true,
		resolution: domain.ResolutionDefault,
	}
}

func (s *UpstreamService) SetConnection(conn ports.SignalingConnection) {
	s.conn = conn
}

func (s *UpstreamService) SetMicrophoneEnabled(enabled bool) {
	s.micEnabled = enabled
}

func (s *UpstreamService) SetResolution(r domain.Resolution) {
	s.resolution = r
}

func (s *UpstreamService) Tier() domain.UpstreamTier {
	return s.tier
}

// SetTier changes the upstream tier and re-applies the cap to every live up-stream.
func (s *UpstreamService) SetTier(tier domain.UpstreamTier) {
	s.tier = tier
	bps := MaxThroughputFor(tier)
	for _, e := range s.ups {
		s.applyCap(e.handle, bps)
	}
}

// CreateLocal publishes camera/microphone media. An existing local up-stream
// is torn down first and its id reused.
func (s *UpstreamService) CreateLocal(media ports.MediaStream) (domain.StreamID, error) {
	var id domain.StreamID
	if existing, ok := s.registry.FindByKind(domain.DirectionUp, domain.KindNameLocal); ok {
		s.logger.Debugw("removing old local up-stream", "stream_id", existing)
		if e, ok := s.ups[existing]; ok && e.media == media {
			// same capture is being republished; keep its tracks alive
			e.media = nil
		}
		_ = s.DelUpMedia(existing)
		id = existing
	}
	return s.create(id, domain.LocalKind{}, media)
}

func (s *UpstreamService) CreateScreenShare(media ports.MediaStream) (domain.StreamID, error) {
	return s.create("", domain.ScreenShareKind{}, media)
}

func (s *UpstreamService) CreateFileSource(source string, media ports.MediaStream) (domain.StreamID, error) {
	return s.create("", domain.FileKind{Source: source}, media)
}

func (s *UpstreamService) create(id domain.StreamID, kind domain.Kind, media ports.MediaStream) (domain.StreamID, error) {
	if s.conn == nil {
		return "", domain.ErrNotConnected
	}

	handle, err := s.conn.NewUpStream(id)
	if err != nil {
		return "", apperrors.NewTransportError("couldn't allocate up-stream", err)
	}
	id = handle.ID()

	record := domain.NewStreamRecord(id, domain.DirectionUp, kind)
	if err := s.registry.Add(record); err != nil {
		_ = handle.Close()
		return "", err
	}
	if err := s.registry.Index(kind.Name(), id); err != nil {
		_ = s.registry.Remove(id)
		_ = handle.Close()
		return "", err
	}

	entry := &upEntry{handle: handle, kind: kind, media: media}
	s.ups[id] = entry
	s.wireCallbacks(id, entry)

	for _, track := range media.Tracks() {
		if err := s.attach(id, entry, track); err != nil {
			s.logger.Errorw("couldn't add track", "stream_id", id, "track_id", track.ID(), "error", err)
			s.notifier.Error(err.Error())
			_ = s.DelUpMedia(id)
			return "", apperrors.NewNegotiationError("couldn't add track", err)
		}
	}

	s.logger.Infow("up-stream created", "stream_id", id, "kind", kind.Name())
	s.metrics.RecordStreamOpened(domain.DirectionUp, kind.Name())
	s.bus.Publish(domain.StreamEvent{StreamID: id, Direction: domain.DirectionUp, Kind: kind.Name()})
	return id, nil
}

func (s *UpstreamService) attach(id domain.StreamID, entry *upEntry, track ports.Track) error {
	_, screenShare := entry.kind.(domain.ScreenShareKind)
	_, local := entry.kind.(domain.LocalKind)

	label := string(track.Kind())
	if screenShare {
		label = "screenshare"
	}

	switch track.Kind() {
	case domain.TrackAudio:
		_ = s.registry.Update(id, func(r *domain.StreamRecord) { r.HasAudio = true })
		if local && !s.micEnabled {
			s.logger.Infow("muting local stream", "stream_id", id)
			track.SetEnabled(false)
		}
	case domain.TrackVideo:
		_ = s.registry.Update(id, func(r *domain.StreamRecord) { r.HasVideo = true })
		if local && s.resolution == domain.Resolution1080p {
			if h, ok := track.(ports.ContentHinter); ok {
				h.SetContentHint("detail")
			}
		}
	}

	if screenShare {
		// sharing stopped from outside, e.g. the capture source went away
		track.OnEnded(func() {
			s.loop.Post(func() {
				if s.ups[id] == entry {
					s.logger.Infow("screen share ended", "stream_id", id)
					_ = s.DelUpMedia(id)
				}
			})
		})
	}

	entry.handle.SetLabel(track.ID(), label)
	return entry.handle.AddTrack(track)
}

func (s *UpstreamService) wireCallbacks(id domain.StreamID, entry *upEntry) {
	entry.handle.OnError(func(err error) {
		s.loop.Post(func() {
			if s.ups[id] != entry {
				return
			}
			s.logger.Warnw("up-stream error", "stream_id", id, "error", err)
			s.notifier.Error(err.Error())
			_ = s.DelUpMedia(id)
		})
	})
	entry.handle.OnAbort(func() {
		s.loop.Post(func() {
			if s.ups[id] != entry {
				return
			}
			s.logger.Infow("up-stream aborted", "stream_id", id)
			_ = s.DelUpMedia(id)
		})
	})
	entry.handle.OnNegotiationCompleted(func() {
		s.loop.Post(func() {
			if s.ups[id] != entry {
				return
			}
			s.applyCap(entry.handle, MaxThroughputFor(s.tier))
		})
	})
}

// applyCap commits off the loop; failures are reported by the bandwidth service.
func (s *UpstreamService) applyCap(handle ports.UpStream, bps uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), capCommitTimeout)
		defer cancel()
		_ = s.bandwidth.ApplyCap(ctx, handle, bps)
	}()
}

// DelUpMedia tears an up-stream down: stop capture, drop the kind index
// entry, remove the record, close the handle, forget the handle. Tearing
// down an unknown id is reported and changes nothing.
func (s *UpstreamService) DelUpMedia(id domain.StreamID) error {
	entry, ok := s.ups[id]
	if !ok {
		s.logger.Debugw("up-stream already torn down", "stream_id", id)
		return apperrors.NewNotFoundError("up-stream " + string(id))
	}
	kind := entry.kind.Name()

	ports.StopAll(entry.media)

	if err := s.registry.Unindex(kind, id); err != nil {
		s.logger.Warnw("kind index out of sync", "stream_id", id, "kind", kind, "error", err)
	}
	if err := s.registry.Remove(id); err != nil {
		s.logger.Warnw("stream record out of sync", "stream_id", id, "error", err)
	}
	if err := entry.handle.Close(); err != nil {
		s.logger.Warnw("closing up-stream failed", "stream_id", id, "error", err)
	}
	delete(s.ups, id)

	s.logger.Debugw("up-stream removed", "stream_id", id, "kind", kind)
	s.metrics.RecordStreamClosed(domain.DirectionUp, kind)
	s.bus.Publish(domain.StreamEvent{Removed: true, StreamID: id, Direction: domain.DirectionUp, Kind: kind})
	return nil
}

// DelUpMediaKind tears down every up-stream of kind, or all of them when kind is empty.
func (s *UpstreamService) DelUpMediaKind(kind domain.KindName) {
	s.logger.Debugw("remove all up media", "kind", kind)
	for _, k := range domain.UpKindNames {
		if kind != "" && k != kind {
			continue
		}
		for _, id := range s.registry.Indexed(k) {
			_ = s.DelUpMedia(id)
		}
	}
	// anything that escaped the index
	for id, e := range s.ups {
		if kind == "" || e.kind.Name() == kind {
			_ = s.DelUpMedia(id)
		}
	}
}

func (s *UpstreamService) FindUpMedia(kind domain.KindName) (domain.StreamID, bool) {
	return s.registry.FindByKind(domain.DirectionUp, kind)
}

// MuteLocalTracks disables (muted) or re-enables the audio tracks of local up-streams.
func (s *UpstreamService) MuteLocalTracks(muted bool) {
	for id, e := range s.ups {
		if _, ok := e.kind.(domain.LocalKind); !ok || e.media == nil {
			continue
		}
		for _, t := range e.media.Tracks() {
			if t.Kind() == domain.TrackAudio {
				t.SetEnabled(!muted)
			}
		}
		s.logger.Debugw("local audio", "stream_id", id, "muted", muted)
	}
}

// RemoveTrack stops the tracks of one media kind and clears the matching flag.
func (s *UpstreamService) RemoveTrack(id domain.StreamID, kind domain.TrackKind) error {
	entry, ok := s.ups[id]
	if !ok {
		return apperrors.NewNotFoundError("up-stream " + string(id))
	}
	if entry.media != nil {
		for _, t := range entry.media.Tracks() {
			if t.Kind() == kind {
				s.logger.Debugw("stopping track", "stream_id", id, "track_id", t.ID())
				t.Stop()
			}
		}
	}
	return s.registry.Update(id, func(r *domain.StreamRecord) {
		switch kind {
		case domain.TrackAudio:
			r.HasAudio = false
		case domain.TrackVideo:
			r.HasVideo = false
		}
	})
}

// Handle returns the transport handle of a live up-stream.
func (s *UpstreamService) Handle(id domain.StreamID) (ports.UpStream, bool) {
	e, ok := s.ups[id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

func (s *UpstreamService) Count() int {
	return len(s.ups)
}
