package voice

import (
	"sync"
	"time"

	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/telemetry"
)

// chunkItem is one drained chunk waiting on a stream's dispatch lane,
// carrying the attribution that was current when it was cut.
type chunkItem struct {
	pcm       []int16
	speaker   SpeakerIdentity
	startedAt time.Time
}

// streamBuffer accumulates decoded samples for a single SSRC. Each buffer
// owns a dispatch lane drained by one goroutine, so a slow transcription
// queue stalls only this stream while chunks stay in order.
type streamBuffer struct {
	ssrc uint32

	// mu guards everything below, including lane sends and close.
	mu           sync.Mutex
	samples      []int16
	speaker      SpeakerIdentity
	lastActivity time.Time
	lane         chan chunkItem
	closed       bool
}

func newStreamBuffer(ssrc uint32, laneCapacity int) *streamBuffer {
	return &streamBuffer{
		ssrc: ssrc,
		lane: make(chan chunkItem, laneCapacity),
	}
}

// enqueueLocked places a chunk on the lane without blocking. Callers hold
// sb.mu. A full lane drops the chunk; losing audio is preferable to
// stalling the voice receive path.
func (sb *streamBuffer) enqueueLocked(item chunkItem) {
	if sb.closed {
		return
	}
	select {
	case sb.lane <- item:
	default:
		telemetry.ChunkDropped()
		logging.Warnw("dispatch lane full, dropping chunk",
			"ssrc", sb.ssrc,
			"samples", len(item.pcm),
			"speaker", item.speaker.String(),
		)
	}
}

// adoptIdentityLocked upgrades the buffer's attribution. A known speaker
// is never replaced by a placeholder.
func (sb *streamBuffer) adoptIdentityLocked(id SpeakerIdentity) {
	if sb.speaker.IsKnown() {
		return
	}
	if sb.speaker.IsZero() || id.IsKnown() {
		sb.speaker = id
	}
}
