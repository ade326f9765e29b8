package transport

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/voice"
)

// tickInterval batches decoded packets before handing them to the
// aggregator; 20ms matches the Opus frame cadence Discord sends.
const tickInterval = 20 * time.Millisecond

// maxFrameSamples covers the largest Opus frame (120ms at 48kHz mono).
const maxFrameSamples = 5760

// tickSink consumes batched voice intervals. Implemented by the aggregator.
type tickSink interface {
	OnVoiceTick(tick voice.VoiceTick)
}

// receiver decodes incoming Opus packets per SSRC and delivers batched
// VoiceTicks to the sink.
type receiver struct {
	sink       tickSink
	sampleRate int

	// silentRetention bounds how long a quiet SSRC keeps being reported
	// as silent before its decoder state is dropped; it must exceed the
	// aggregator's flush threshold so the final partial chunk gets out.
	silentRetention time.Duration

	decoders map[uint32]*opus.Decoder
	pending  map[uint32][]int16
	lastSeen map[uint32]time.Time
}

func newReceiver(sink tickSink, sampleRate int, silentRetention time.Duration) *receiver {
	if silentRetention <= 0 {
		silentRetention = time.Second
	}
	return &receiver{
		sink:            sink,
		sampleRate:      sampleRate,
		silentRetention: silentRetention,
		decoders:        make(map[uint32]*opus.Decoder),
		pending:         make(map[uint32][]int16),
		lastSeen:        make(map[uint32]time.Time),
	}
}

// run consumes the voice connection's packet channel until the context is
// canceled or the channel closes. Single goroutine; no locking needed on
// the receiver's maps.
func (r *receiver) run(ctx context.Context, packets <-chan *discordgo.Packet) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flushTick()
			return
		case pkt, ok := <-packets:
			if !ok {
				r.flushTick()
				return
			}
			r.decodePacket(pkt)
		case <-ticker.C:
			r.flushTick()
		}
	}
}

func (r *receiver) decodePacket(pkt *discordgo.Packet) {
	if pkt == nil || len(pkt.Opus) == 0 {
		return
	}

	dec, ok := r.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(r.sampleRate, 1)
		if err != nil {
			logging.Errorw("opus decoder init failed", "ssrc", pkt.SSRC, "error", err)
			return
		}
		r.decoders[pkt.SSRC] = dec
		logging.Debugw("opus decoder created", "ssrc", pkt.SSRC, "sample_rate", r.sampleRate)
	}

	frame := make([]int16, maxFrameSamples)
	n, err := dec.Decode(pkt.Opus, frame)
	if err != nil {
		logging.Warnw("opus decode failed", "ssrc", pkt.SSRC, "error", err)
		return
	}

	r.pending[pkt.SSRC] = append(r.pending[pkt.SSRC], frame[:n]...)
	r.lastSeen[pkt.SSRC] = time.Now()
}

// flushTick hands the accumulated interval to the sink: samples for
// streams that spoke, and the tracked streams that stayed quiet. An SSRC
// quiet past the retention window is forgotten entirely so long-dead
// streams stop showing up in every tick.
func (r *receiver) flushTick() {
	tick := voice.VoiceTick{Speaking: make(map[uint32][]int16, len(r.pending))}
	for ssrc, pcm := range r.pending {
		tick.Speaking[ssrc] = pcm
		delete(r.pending, ssrc)
	}

	now := time.Now()
	for ssrc, last := range r.lastSeen {
		if _, spoke := tick.Speaking[ssrc]; spoke {
			continue
		}
		if now.Sub(last) >= r.silentRetention {
			delete(r.lastSeen, ssrc)
			delete(r.decoders, ssrc)
			logging.Debugw("forgetting long-silent stream", "ssrc", ssrc)
			continue
		}
		tick.Silent = append(tick.Silent, ssrc)
	}

	if len(tick.Speaking) == 0 && len(tick.Silent) == 0 {
		return
	}
	r.sink.OnVoiceTick(tick)
}
