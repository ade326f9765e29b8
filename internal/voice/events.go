package voice

// Transport-boundary event types. The voice transport (Discord adapter)
// translates its wire events into these before handing them to the
// aggregator, which keeps the engine testable without a live gateway.

// SpeakingUpdate announces the (possibly partial) SSRC -> user mapping and
// mic on/off transitions for one stream.
type SpeakingUpdate struct {
	SSRC     uint32
	UserID   string // empty when the transport has not resolved the user yet
	Speaking bool
}

// VoiceTick carries one scheduling quantum of decoded audio: PCM for every
// stream that produced samples, plus the set of known streams that fell
// silent this tick.
type VoiceTick struct {
	Speaking map[uint32][]int16
	Silent   []uint32
}

// Disconnect reports that a user dropped from the call. Every stream mapped
// to them must be flushed and forgotten.
type Disconnect struct {
	UserID string
}
