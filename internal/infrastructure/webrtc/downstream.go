package webrtc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"pyrite/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// DownStream is an inbound stream offered by the server. Events that happen
// before a callback is registered are replayed on registration, since the
// consumer attaches its callbacks asynchronously.
type DownStream struct {
	id       domain.StreamID
	source   string
	username string
	pc       *webrtc.PeerConnection
	signaler Signaler
	logger   *zap.SugaredLogger

	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64

	mu         sync.Mutex
	pending    []webrtc.ICECandidateInit
	kinds      []domain.TrackKind
	onTrack    func(domain.TrackKind)
	onError    func(error)
	onClose    func(bool)
	closedWith *bool
	closed     bool
}

func (e *Engine) NewDownStream(id domain.StreamID, source, username string, signaler Signaler) (*DownStream, error) {
	pc, err := e.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	d := &DownStream{
		id:       id,
		source:   source,
		username: username,
		pc:       pc,
		signaler: signaler,
		logger:   e.logger.With("stream_id", id, "direction", domain.DirectionDown),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := signaler.SendICE(id, c.ToJSON()); err != nil {
			d.logger.Debugw("couldn't send ICE candidate", "error", err)
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := trackKind(remote.Kind())
		d.logger.Infow("remote track", "track_id", remote.ID(), "kind", kind, "codec", remote.Codec().MimeType)
		if kind == domain.TrackVideo {
			d.requestKeyFrame(remote)
		}
		d.trackArrived(kind)
		go d.readRTP(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		d.logger.Debugw("connection state changed", "state", state)
		if state == webrtc.PeerConnectionStateFailed {
			d.fireError(fmt.Errorf("stream %s: connection failed", id))
		}
	})
	return d, nil
}

func (d *DownStream) ID() domain.StreamID { return d.id }
func (d *DownStream) Source() string { return d.source }
func (d *DownStream) Username() string { return d.username }

func (d *DownStream) OnTrack(fn func(domain.TrackKind)) {
	d.mu.Lock()
	d.onTrack = fn
	kinds := d.kinds
	d.kinds = nil
	d.mu.Unlock()
	for _, k := range kinds {
		fn(k)
	}
}

func (d *DownStream) OnError(fn func(error)) {
	d.mu.Lock()
	d.onError = fn
	d.mu.Unlock()
}

func (d *DownStream) OnClose(fn func(bool)) {
	d.mu.Lock()
	d.onClose = fn
	closedWith := d.closedWith
	d.mu.Unlock()
	if closedWith != nil {
		fn(*closedWith)
	}
}

func (d *DownStream) trackArrived(kind domain.TrackKind) {
	d.mu.Lock()
	fn := d.onTrack
	if fn == nil {
		d.kinds = append(d.kinds, kind)
	}
	d.mu.Unlock()
	if fn != nil {
		fn(kind)
	}
}

func (d *DownStream) fireError(err error) {
	d.mu.Lock()
	fn := d.onError
	d.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// HandleOffer answers an offer (or renegotiation) from the server.
func (d *DownStream) HandleOffer(sdp string) error {
	if err := d.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, c := range pending {
		if err := d.pc.AddICECandidate(c); err != nil {
			d.logger.Debugw("couldn't add buffered candidate", "error", err)
		}
	}

	answer, err := d.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := d.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return d.signaler.SendAnswer(d.id, answer.SDP)
}

func (d *DownStream) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	d.mu.Lock()
	if d.pc.RemoteDescription() == nil {
		d.pending = append(d.pending, c)
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.pc.AddICECandidate(c)
}

// Closed records that the server ended the stream. replace is true when a
// new stream takes its place.
func (d *DownStream) Closed(replace bool) {
	d.mu.Lock()
	if d.closedWith != nil {
		d.mu.Unlock()
		return
	}
	d.closedWith = &replace
	d.closed = true
	fn := d.onClose
	d.mu.Unlock()

	_ = d.pc.Close()
	if fn != nil {
		fn(replace)
	}
}

// Close refuses the stream and releases the peer connection.
func (d *DownStream) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	if err := d.signaler.SendClose(d.id); err != nil {
		d.logger.Debugw("couldn't send close", "error", err)
	}
	return d.pc.Close()
}

// Stats returns received packets, payload bytes and sequence gaps.
func (d *DownStream) Stats() (packets, bytes, lost uint64) {
	return d.packets.Load(), d.bytes.Load(), d.lost.Load()
}

func (d *DownStream) requestKeyFrame(remote *webrtc.TrackRemote) {
	pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}
	if err := d.pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
		d.logger.Debugw("couldn't send PLI", "error", err)
	}
}

func (d *DownStream) readRTP(remote *webrtc.TrackRemote) {
	var (
		pkt     *rtp.Packet
		err     error
		lastSeq uint16
		started bool
	)
	for {
		pkt, _, err = remote.ReadRTP()
		if err != nil {
			return
		}
		d.packets.Add(1)
		d.bytes.Add(uint64(len(pkt.Payload)))
		if started {
			if gap := pkt.SequenceNumber - lastSeq; gap > 1 && gap < 0x8000 {
				d.lost.Add(uint64(gap - 1))
			}
		}
		lastSeq, started = pkt.SequenceNumber, true
	}
}
