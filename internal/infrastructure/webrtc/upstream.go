package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrUnsupportedTrack = errors.New("track cannot be sent over a peer connection")

// UpStream is an outbound stream backed by its own peer connection.
type UpStream struct {
	id       domain.StreamID
	pc       *webrtc.PeerConnection
	signaler Signaler
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	labels       map[domain.TrackID]string
	senders      []ports.Sender
	pending      []webrtc.ICECandidateInit
	onError      func(error)
	onAbort      func()
	onNegotiated func()
	closed       bool
}

func (e *Engine) NewUpStream(id domain.StreamID, signaler Signaler) (*UpStream, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	u := &UpStream{
		id:       id,
		pc:       pc,
		signaler: signaler,
		logger:   e.logger.With("stream_id", id, "direction", domain.DirectionUp),
		labels:   make(map[domain.TrackID]string),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := signaler.SendICE(id, c.ToJSON()); err != nil {
			u.logger.Debugw("couldn't send ICE candidate", "error", err)
		}
	})
	pc.OnNegotiationNeeded(func() {
		go u.negotiate()
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		u.logger.Debugw("connection state changed", "state", state)
		if state == webrtc.PeerConnectionStateFailed {
			u.fireError(fmt.Errorf("stream %s: connection failed", id))
		}
	})
	return u, nil
}

func (u *UpStream) ID() domain.StreamID { return u.id }

func (u *UpStream) AddTrack(track ports.Track) error {
	local, ok := track.(LocalTrack)
	if !ok {
		return fmt.Errorf("track %s: %w", track.ID(), ErrUnsupportedTrack)
	}

	rtpSender, err := u.pc.AddTrack(local.Local())
	if err != nil {
		return fmt.Errorf("add track %s: %w", track.ID(), err)
	}

	u.mu.Lock()
	u.senders = append(u.senders, newSender(track, rtpSender.GetParameters().Encodings))
	u.mu.Unlock()

	go u.readRTCP(rtpSender, track)
	return nil
}

func (u *UpStream) SetLabel(id domain.TrackID, label string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.labels[id] = label
}

func (u *UpStream) Senders() []ports.Sender {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ports.Sender(nil), u.senders...)
}

func (u *UpStream) OnError(fn func(error)) {
	u.mu.Lock()
	u.onError = fn
	u.mu.Unlock()
}

func (u *UpStream) OnAbort(fn func()) {
	u.mu.Lock()
	u.onAbort = fn
	u.mu.Unlock()
}

func (u *UpStream) OnNegotiationCompleted(fn func()) {
	u.mu.Lock()
	u.onNegotiated = fn
	u.mu.Unlock()
}

func (u *UpStream) negotiate() {
	offer, err := u.pc.CreateOffer(nil)
	if err != nil {
		u.fireError(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := u.pc.SetLocalDescription(offer); err != nil {
		u.fireError(fmt.Errorf("set local description: %w", err))
		return
	}

	u.mu.Lock()
	labels := make(map[domain.TrackID]string, len(u.labels))
	for k, v := range u.labels {
		labels[k] = v
	}
	u.mu.Unlock()

	if err := u.signaler.SendOffer(u.id, labels, offer.SDP); err != nil {
		u.fireError(fmt.Errorf("send offer: %w", err))
	}
}

// HandleAnswer applies the server's answer and completes negotiation.
func (u *UpStream) HandleAnswer(sdp string) error {
	err := u.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		u.fireError(fmt.Errorf("set remote description: %w", err))
		return err
	}

	u.mu.Lock()
	pending := u.pending
	u.pending = nil
	fn := u.onNegotiated
	u.mu.Unlock()

	for _, c := range pending {
		if err := u.pc.AddICECandidate(c); err != nil {
			u.logger.Debugw("couldn't add buffered candidate", "error", err)
		}
	}
	if fn != nil {
		fn()
	}
	return nil
}

// AddRemoteCandidate buffers candidates that arrive before the answer.
func (u *UpStream) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	u.mu.Lock()
	if u.pc.RemoteDescription() == nil {
		u.pending = append(u.pending, c)
		u.mu.Unlock()
		return nil
	}
	u.mu.Unlock()
	return u.pc.AddICECandidate(c)
}

// Abort reports that the server refused the stream.
func (u *UpStream) Abort() {
	u.mu.Lock()
	fn := u.onAbort
	u.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (u *UpStream) fireError(err error) {
	u.mu.Lock()
	fn, closed := u.onError, u.closed
	u.mu.Unlock()
	if closed {
		return
	}
	u.logger.Warnw("up-stream failed", "error", err)
	if fn != nil {
		fn(err)
	}
}

// Close tells the server the stream is gone and releases the peer
// connection. Closing twice is a no-op.
func (u *UpStream) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	if err := u.signaler.SendClose(u.id); err != nil {
		u.logger.Debugw("couldn't send close", "error", err)
	}
	return u.pc.Close()
}

// readRTCP drains receiver feedback for one sender until the connection closes.
func (u *UpStream) readRTCP(sender *webrtc.RTPSender, track ports.Track) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			switch pkt := p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if kr, ok := track.(KeyFrameRequester); ok {
					kr.RequestKeyFrame()
				}
			case *rtcp.ReceiverReport:
				for _, r := range pkt.Reports {
					u.logger.Debugw("receiver report",
						"track_id", track.ID(),
						"fraction_lost", r.FractionLost,
						"jitter", r.Jitter,
					)
				}
			case *rtcp.TransportLayerNack:
				u.logger.Debugw("nack", "track_id", track.ID(), "pairs", len(pkt.Nacks))
			}
		}
	}
}
