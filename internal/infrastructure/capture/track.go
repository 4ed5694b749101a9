package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggSampleRate = 48000

// Track plays a media file into a pion sample track. It starts playing when
// created and keeps going until stopped or, for non-looping sources, until
// the file ends.
type Track struct {
	id     domain.TrackID
	kind   domain.TrackKind
	file   string
	loop   bool
	local  *webrtc.TrackLocalStaticSample
	gate   *FrameGate
	logger *zap.SugaredLogger

	enabled atomic.Bool
	restart atomic.Bool
	sent    atomic.Uint64

	mu      sync.Mutex
	hint    string
	onEnded func()
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newTrack(kind domain.TrackKind, file, streamID string, loop bool, logger *zap.SugaredLogger) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	if kind == domain.TrackVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}

	id := uuid.NewString()
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create sample track: %w", err)
	}

	t := &Track{
		id:     domain.TrackID(id),
		kind:   kind,
		file:   file,
		loop:   loop,
		local:  local,
		gate:   NewFrameGate(),
		logger: logger.With("track_id", id, "kind", kind, "file", file),
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	go t.run(ctx)
}

func (t *Track) ID() domain.TrackID { return t.id }
func (t *Track) Kind() domain.TrackKind { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled pauses or resumes sending; a disabled track keeps its place in
// the file.
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop ends playback for good. OnEnded is not called.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-t.done
	}
	t.logger.Debugw("track stopped", "frames_sent", t.sent.Load(), "frames_dropped", t.gate.Dropped())
}

func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

func (t *Track) SetContentHint(hint string) {
	t.mu.Lock()
	t.hint = hint
	t.mu.Unlock()
}

func (t *Track) ContentHint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hint
}

func (t *Track) SetMaxBitrate(bps uint64) error {
	if t.kind != domain.TrackVideo {
		return fmt.Errorf("track %s: %w", t.id, domain.ErrParametersNotSupported)
	}
	return t.gate.SetMaxBitrate(bps)
}

// RequestKeyFrame rewinds a looping source, whose first frame is a key frame.
func (t *Track) RequestKeyFrame() {
	if t.loop && t.kind == domain.TrackVideo {
		t.restart.Store(true)
	}
}

func (t *Track) run(ctx context.Context) {
	for {
		err := t.play(ctx)
		if ctx.Err() != nil {
			close(t.done)
			return
		}
		if errors.Is(err, errRestart) || (errors.Is(err, io.EOF) && t.loop) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			t.logger.Warnw("playback failed", "error", err)
		}
		break
	}
	close(t.done)

	t.logger.Infow("source ended")
	t.mu.Lock()
	fn, stopped := t.onEnded, t.stopped
	t.mu.Unlock()
	if fn != nil && !stopped {
		fn()
	}
}

var errRestart = errors.New("restart requested")

func (t *Track) play(ctx context.Context) error {
	f, err := os.Open(t.file)
	if err != nil {
		return err
	}
	defer f.Close()

	if t.kind == domain.TrackVideo {
		return t.playIVF(ctx, f)
	}
	return t.playOgg(ctx, f)
}

func (t *Track) playIVF(ctx context.Context, r io.Reader) error {
	reader, header, err := ivfreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if t.restart.Swap(false) {
				return errRestart
			}
			frame, _, err := reader.ParseNextFrame()
			if err != nil {
				return err
			}
			t.write(now, frame, frameDuration)
		}
	}
}

func (t *Track) playOgg(ctx context.Context, r io.Reader) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	const pageDuration = 20 * time.Millisecond
	ticker := time.NewTicker(pageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			page, header, err := reader.ParseNextPage()
			if err != nil {
				return err
			}
			samples := header.GranulePosition - lastGranule
			lastGranule = header.GranulePosition
			t.write(now, page, time.Duration(float64(samples)/oggSampleRate*float64(time.Second)))
		}
	}
}

func (t *Track) write(now time.Time, frame []byte, d time.Duration) {
	if !t.enabled.Load() {
		return
	}
	if !t.gate.Allow(now, PriorityOf(t.kind, frame), len(frame)) {
		return
	}
	if err := t.local.WriteSample(media.Sample{Data: frame, Duration: d}); err != nil {
		t.logger.Debugw("write sample failed", "error", err)
		return
	}
	t.sent.Add(1)
}

// Stream groups the tracks of one capture.
type Stream struct {
	id     string
	tracks []*Track
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []ports.Track {
	out := make([]ports.Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}
