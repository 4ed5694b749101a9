package domain

type DeviceKind string

const (
	DeviceVideoInput DeviceKind = "videoinput"
	DeviceAudioInput DeviceKind = "audioinput"
)

// DeviceInfo is what the capture provider reports for one device.
type DeviceInfo struct {
	DeviceID string
	Kind     DeviceKind
	Label    string
}

type DeviceOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DeviceSelection struct {
	Options    []DeviceOption `json:"options"`
	Selected   *DeviceOption  `json:"selected,omitempty"`
	Resolution Resolution     `json:"resolution,omitempty"`
	Enabled    bool           `json:"enabled"`
}

// Presence says which capture kinds the user wants published.
type Presence struct {
	Camera     bool
	Microphone bool
}

// Range is an ideal/min constraint pair.
type Range struct {
	Ideal int
	Min   int
}

type VideoConstraints struct {
	DeviceID string
	Width    *Range
	Height   *Range
}

type AudioConstraints struct {
	DeviceID string
}

// MediaConstraints is passed to the capture provider. A nil member disables
// that kind.
type MediaConstraints struct {
	Audio *AudioConstraints
	Video *VideoConstraints
}

// TrackKind is the media type of one track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)
