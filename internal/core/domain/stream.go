package domain

import (
	"encoding/json"
)

type StreamID string
type TrackID string

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Kind is the closed set of stream kinds. Only the variants declared in this
// package satisfy it.
type Kind interface {
	Name() KindName
	// DefaultMirror is the initial mirror flag for records of this kind.
	DefaultMirror() bool
	isKind()
}

// KindName keys the up-stream kind index.
type KindName string

const (
	KindNameLocal       KindName = "local"
	KindNameScreenShare KindName = "screenshare"
	KindNameFile        KindName = "file"
	KindNameRemote      KindName = "remote"
)

// LocalKind is camera and microphone capture.
type LocalKind struct{}

// ScreenShareKind is display capture. Its video track ending tears the stream down.
type ScreenShareKind struct{}

// FileKind plays a media file.
type FileKind struct {
	Source string
}

// RemoteKind is a stream received from another participant.
type RemoteKind struct{}

func (LocalKind) Name() KindName { return KindNameLocal }
func (ScreenShareKind) Name() KindName { return KindNameScreenShare }
func (FileKind) Name() KindName { return KindNameFile }
func (RemoteKind) Name() KindName { return KindNameRemote }

func (LocalKind) DefaultMirror() bool { return true }
func (ScreenShareKind) DefaultMirror() bool { return false }
func (FileKind) DefaultMirror() bool { return true }
func (RemoteKind) DefaultMirror() bool { return true }

func (LocalKind) isKind() {}
func (ScreenShareKind) isKind() {}
func (FileKind) isKind() {}
func (RemoteKind) isKind() {}

// UpKindNames lists the kinds that can back an up-stream, in teardown order.
var UpKindNames = []KindName{KindNameLocal, KindNameScreenShare, KindNameFile}

// ParseKindName validates a kind name coming from outside the process.
func ParseKindName(s string) (KindName, bool) {
	switch KindName(s) {
	case KindNameLocal, KindNameScreenShare, KindNameFile, KindNameRemote:
		return KindName(s), true
	}
	return "", false
}

type Volume struct {
	Locked bool `json:"locked"`
	Value  int  `json:"value"` // 0-100
}

type TrackSettings map[string]interface{}

type StreamSettings struct {
	Audio TrackSettings `json:"audio"`
	Video TrackSettings `json:"video"`
}

// StreamRecord is the state kept for one live stream. Identity, direction and
// kind are fixed at construction.
type StreamRecord struct {
	id        StreamID
	direction Direction
	kind      Kind

	HasAudio bool
	HasVideo bool
	Mirror   bool
	Volume   Volume
	Settings StreamSettings
}

func NewStreamRecord(id StreamID, direction Direction, kind Kind) *StreamRecord {
	return &StreamRecord{
		id:        id,
		direction: direction,
		kind:      kind,
		Mirror:    kind.DefaultMirror(),
		Volume:    Volume{Value: 100},
		Settings: StreamSettings{
			Audio: TrackSettings{},
			Video: TrackSettings{},
		},
	}
}

func (r *StreamRecord) ID() StreamID { return r.id }
func (r *StreamRecord) Direction() Direction { return r.direction }
func (r *StreamRecord) Kind() Kind { return r.kind }

// Is reports whether the record matches direction and kind name.
func (r *StreamRecord) Is(direction Direction, kind KindName) bool {
	return r.direction == direction && r.kind.Name() == kind
}

// Clone returns a copy safe to hand to another goroutine.
func (r *StreamRecord) Clone() *StreamRecord {
	c := *r
	c.Settings = StreamSettings{Audio: cloneSettings(r.Settings.Audio), Video: cloneSettings(r.Settings.Video)}
	return &c
}

func cloneSettings(s TrackSettings) TrackSettings {
	out := make(TrackSettings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type streamRecordJSON struct {
	ID        StreamID       `json:"id"`
	Direction Direction      `json:"direction"`
	Kind      KindName       `json:"kind"`
	Source    string         `json:"source,omitempty"`
	HasAudio  bool           `json:"hasAudio"`
	HasVideo  bool           `json:"hasVideo"`
	Mirror    bool           `json:"mirror"`
	Volume    Volume         `json:"volume"`
	Settings  StreamSettings `json:"settings"`
}

func (r *StreamRecord) MarshalJSON() ([]byte, error) {
	out := streamRecordJSON{
		ID:        r.id,
		Direction: r.direction,
		Kind:      r.kind.Name(),
		HasAudio:  r.HasAudio,
		HasVideo:  r.HasVideo,
		Mirror:    r.Mirror,
		Volume:    r.Volume,
		Settings:  r.Settings,
	}
	if f, ok := r.kind.(FileKind); ok {
		out.Source = f.Source
	}
	return json.Marshal(out)
}
