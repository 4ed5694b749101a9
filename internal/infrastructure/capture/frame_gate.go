package capture

import (
	"sync"
	"time"

	"pyrite/internal/core/domain"

	"golang.org/x/time/rate"
)

// FramePriority orders frames by how much the receiver depends on them.
type FramePriority int

const (
	PriorityAudio    FramePriority = iota // never dropped
	PriorityKeyFrame                      // always sent, counts against the budget
	PriorityDelta                         // dropped when over budget
)

// PriorityOf classifies one encoded frame. Only VP8 video is recognised; its
// frame tag has the inverse key frame bit in the lowest bit of the first byte.
func PriorityOf(kind domain.TrackKind, frame []byte) FramePriority {
	if kind == domain.TrackAudio {
		return PriorityAudio
	}
	if len(frame) > 0 && frame[0]&0x01 == 0 {
		return PriorityKeyFrame
	}
	return PriorityDelta
}

// FrameGate enforces a bitrate cap on an encoded frame sequence. Once a delta
// frame is dropped every following delta is dropped too until the next key
// frame, since the decoder could not use them.
type FrameGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	bps     uint64
	waitKey bool
	dropped uint64
}

func NewFrameGate() *FrameGate {
	return &FrameGate{}
}

// SetMaxBitrate installs a cap in bits per second; zero removes it.
func (g *FrameGate) SetMaxBitrate(bps uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.bps = bps
	if bps == domain.Uncapped {
		g.limiter = nil
		g.waitKey = false
		return nil
	}
	bytesPerSecond := float64(bps) / 8
	g.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))
	return nil
}

func (g *FrameGate) MaxBitrate() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bps
}

// Allow reports whether a frame of size bytes may be sent at now.
func (g *FrameGate) Allow(now time.Time, priority FramePriority, size int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if priority == PriorityAudio || g.limiter == nil {
		return true
	}

	if priority == PriorityKeyFrame {
		// may go into debt; the following deltas pay for it
		g.charge(now, size)
		g.waitKey = false
		return true
	}

	need := size
	if burst := g.limiter.Burst(); need > burst {
		need = burst
	}
	if g.waitKey || g.limiter.TokensAt(now) < float64(need) {
		g.waitKey = true
		g.dropped++
		return false
	}
	g.charge(now, size)
	return true
}

// charge takes size tokens from the limiter. A reservation above the burst
// would be refused without taking anything, so large frames are split.
func (g *FrameGate) charge(now time.Time, size int) {
	burst := g.limiter.Burst()
	for size > 0 {
		n := size
		if n > burst {
			n = burst
		}
		g.limiter.ReserveN(now, n)
		size -= n
	}
}

// Dropped returns how many frames the gate has refused.
func (g *FrameGate) Dropped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
