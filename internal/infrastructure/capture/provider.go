package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	"pyrite/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDeviceNotFound    = errors.New("requested device not found")
	ErrUnsupportedSource = errors.New("unsupported media file")
)

// Provider implements capture from media files: configured virtual
// cameras and microphones, an optional display source, and arbitrary files.
type Provider struct {
	devices []config.DeviceConfig
	display string
	logger  *zap.SugaredLogger
}

func NewProvider(devices []config.DeviceConfig, displayFile string, logger *zap.SugaredLogger) *Provider {
	return &Provider{
		devices: devices,
		display: displayFile,
		logger:  logger,
	}
}

var _ ports.MediaCaptureProvider = (*Provider)(nil)

// EnumerateDevices lists the configured devices whose backing file exists.
func (p *Provider) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.DeviceInfo
	for _, d := range p.devices {
		if _, err := os.Stat(d.File); err != nil {
			p.logger.Debugw("skipping device without media", "device_id", d.ID, "file", d.File, "error", err)
			continue
		}
		out = append(out, domain.DeviceInfo{
			DeviceID: d.ID,
			Kind:     domain.DeviceKind(d.Kind),
			Label:    d.Label,
		})
	}
	return out, nil
}

// GetUserMedia opens one track per requested kind. Size hints are ignored:
// the file decides the resolution.
func (p *Provider) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (ports.MediaStream, error) {
	if c.Audio == nil && c.Video == nil {
		return nil, domain.ErrNoMediaRequested
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &Stream{id: uuid.NewString()}
	if c.Audio != nil {
		dev, err := p.device(domain.DeviceAudioInput, c.Audio.DeviceID)
		if err != nil {
			return nil, err
		}
		if err := p.addTrack(stream, domain.TrackAudio, dev.File, dev.Loop); err != nil {
			return nil, err
		}
	}
	if c.Video != nil {
		dev, err := p.device(domain.DeviceVideoInput, c.Video.DeviceID)
		if err != nil {
			ports.StopAll(stream)
			return nil, err
		}
		if err := p.addTrack(stream, domain.TrackVideo, dev.File, dev.Loop); err != nil {
			ports.StopAll(stream)
			return nil, err
		}
	}

	stream.start()
	p.logger.Infow("user media opened", "stream", stream.id, "tracks", len(stream.tracks))
	return stream, nil
}

func (p *Provider) SupportsDisplayCapture() bool {
	return p.display != ""
}

// GetDisplayMedia plays the display file once; its end stops the share.
func (p *Provider) GetDisplayMedia(ctx context.Context) (ports.MediaStream, error) {
	if !p.SupportsDisplayCapture() {
		return nil, domain.ErrNoDisplayCapture
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &Stream{id: uuid.NewString()}
	if err := p.addTrack(stream, domain.TrackVideo, p.display, false); err != nil {
		return nil, err
	}
	stream.start()
	return stream, nil
}

// OpenFile plays source. An IVF video picks up an Ogg audio file with the
// same base name when there is one.
func (p *Provider) OpenFile(ctx context.Context, source string) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(source); err != nil {
		return nil, err
	}

	stream := &Stream{id: uuid.NewString()}
	base := strings.TrimSuffix(source, filepath.Ext(source))

	switch strings.ToLower(filepath.Ext(source)) {
	case ".ivf":
		if err := p.addTrack(stream, domain.TrackVideo, source, false); err != nil {
			return nil, err
		}
		for _, ext := range []string{".ogg", ".opus"} {
			if _, err := os.Stat(base + ext); err == nil {
				if err := p.addTrack(stream, domain.TrackAudio, base+ext, false); err != nil {
					ports.StopAll(stream)
					return nil, err
				}
				break
			}
		}
	case ".ogg", ".opus":
		if err := p.addTrack(stream, domain.TrackAudio, source, false); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: %w", source, ErrUnsupportedSource)
	}

	stream.start()
	return stream, nil
}

func (p *Provider) device(kind domain.DeviceKind, id string) (config.DeviceConfig, error) {
	for _, d := range p.devices {
		if string(kind) == d.Kind && (id == "" || d.ID == id) {
			return d, nil
		}
	}
	return config.DeviceConfig{}, fmt.Errorf("%s %q: %w", kind, id, ErrDeviceNotFound)
}

func (p *Provider) addTrack(s *Stream, kind domain.TrackKind, file string, loop bool) error {
	t, err := newTrack(kind, file, s.id, loop, p.logger)
	if err != nil {
		return err
	}
	s.tracks = append(s.tracks, t)
	return nil
}

func (s *Stream) start() {
	for _, t := range s.tracks {
		t.start()
	}
}
