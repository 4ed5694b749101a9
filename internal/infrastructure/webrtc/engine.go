package webrtc

import (
	"fmt"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config holds the peer connection settings shared by every stream.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  PortRange
}

// PortRange limits the local UDP ports used for ICE. Zero means any port.
type PortRange struct {
	Min uint16
	Max uint16
}

// LocalTrack is a capture track that can be fed into a peer connection.
type LocalTrack interface {
	ports.Track
	Local() webrtc.TrackLocal
}

// BitrateLimiter is implemented by tracks whose source can be throttled.
// Zero removes the limit.
type BitrateLimiter interface {
	SetMaxBitrate(bps uint64) error
}

// KeyFrameRequester is implemented by video tracks that can be asked for a
// fresh key frame when the receiver reports picture loss.
type KeyFrameRequester interface {
	RequestKeyFrame()
}

// Signaler carries negotiation messages for one stream to the server.
type Signaler interface {
	SendOffer(id domain.StreamID, labels map[domain.TrackID]string, sdp string) error
	SendAnswer(id domain.StreamID, sdp string) error
	SendICE(id domain.StreamID, candidate webrtc.ICECandidateInit) error
	SendClose(id domain.StreamID) error
}

// Engine builds peer connections from one configured pion API.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger *zap.SugaredLogger
}

func NewEngine(cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{
			ICEServers:   cfg.ICEServers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
		},
		logger: logger,
	}, nil
}

func (e *Engine) newPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(e.config)
}

func trackKind(k webrtc.RTPCodecType) domain.TrackKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}
