package domain

// UpstreamTier is the user's outbound bandwidth policy.
type UpstreamTier string

const (
	TierLowest    UpstreamTier = "lowest"
	TierLow       UpstreamTier = "low"
	TierNormal    UpstreamTier = "normal"
	TierUnlimited UpstreamTier = "unlimited"
)

// Uncapped is the bitrate sentinel for "no maximum".
const Uncapped uint64 = 0

// Resolution is the requested camera resolution tier.
type Resolution string

const (
	ResolutionDefault Resolution = "default"
	Resolution720p    Resolution = "720p"
	Resolution1080p   Resolution = "1080p"
)

// Encoding mirrors one entry of a sender's encoding parameters.
type Encoding struct {
	RID        string
	Active     bool
	MaxBitrate uint64 // 0 means unset
}

// SendParameters is what a sender commits after negotiation.
type SendParameters struct {
	Encodings []Encoding
}
