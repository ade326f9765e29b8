// Package voice turns per-SSRC PCM streams into attributed, fixed-size
// audio chunks for transcription. It tracks speaker identity per stream,
// guesses speakers from channel occupancy when the gateway has not yet
// announced a mapping, and retroactively relabels placeholder attributions
// once the real speaker is learned.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/telemetry"
	"github.com/discord-voice-scribe/internal/transcription"
)

// JobSink accepts transcription jobs. Submit may block until queue space
// frees up; each stream's dispatch goroutine absorbs that backpressure.
type JobSink interface {
	Submit(ctx context.Context, job transcription.Job) error
}

// NameResolver maps a user ID to a display name.
type NameResolver interface {
	UserName(userID string) string
}

// Options configures an Aggregator for one voice channel attachment.
type Options struct {
	GuildID      string
	ChannelID    string
	ChunkSamples int
	SampleRate   int
	SilenceFlush time.Duration
	LaneCapacity int

	Sink       JobSink
	Names      NameResolver
	Captions   CaptionRelabeler
	Roster     *VoiceRoster
	Notifier   *SpeakerNotifier
	Identities *IdentityMap
}

// Aggregator owns the per-stream buffers for one voice channel. All event
// entry points are safe for concurrent use.
type Aggregator struct {
	guildID      string
	channelID    string
	chunkSamples int
	sampleRate   int
	silenceFlush time.Duration
	laneCap      int

	sink       JobSink
	names      NameResolver
	roster     *VoiceRoster
	notifier   *SpeakerNotifier
	identities *IdentityMap
	relabels   *relabeler

	mu           sync.Mutex
	buffers      map[uint32]*streamBuffer
	placeholders map[uint32]string // minted labels, kept past buffer flushes

	wg sync.WaitGroup
}

func NewAggregator(opts Options) *Aggregator {
	identities := opts.Identities
	if identities == nil {
		identities = NewIdentityMap()
	}
	return &Aggregator{
		guildID:      opts.GuildID,
		channelID:    opts.ChannelID,
		chunkSamples: opts.ChunkSamples,
		sampleRate:   opts.SampleRate,
		silenceFlush: opts.SilenceFlush,
		laneCap:      opts.LaneCapacity,
		sink:         opts.Sink,
		names:        opts.Names,
		roster:       opts.Roster,
		notifier:     opts.Notifier,
		identities:   identities,
		relabels:     newRelabeler(opts.GuildID, opts.ChannelID, opts.Captions, opts.Names),
		buffers:      make(map[uint32]*streamBuffer),
		placeholders: make(map[uint32]string),
	}
}

// OnSpeaking handles a gateway speaking announcement. A non-empty UserID
// binds the SSRC; if the stream had been running under a placeholder, the
// stored captions are relabeled in the background. Mic-off flushes the
// stream so trailing audio is not held until the next silence sweep.
func (a *Aggregator) OnSpeaking(su SpeakingUpdate) {
	if su.UserID != "" {
		a.identities.Bind(su.SSRC, su.UserID)
		a.promoteStream(su.SSRC, su.UserID)
	}

	if su.Speaking {
		if userID, ok := a.identities.Lookup(su.SSRC); ok {
			a.setCurrentSpeaker(userID)
		}
		return
	}

	a.flushStream(su.SSRC)
	if userID, ok := a.identities.Lookup(su.SSRC); ok {
		a.clearCurrentSpeaker(userID)
	}
}

// OnVoiceTick ingests one receive interval: decoded samples for streams
// that spoke, and the SSRCs that stayed silent.
func (a *Aggregator) OnVoiceTick(tick VoiceTick) {
	for ssrc, pcm := range tick.Speaking {
		if len(pcm) == 0 {
			continue
		}
		id := a.resolveIdentity(ssrc)
		a.consumeSamples(ssrc, id, pcm)
	}
	for _, ssrc := range tick.Silent {
		a.flushExpired(ssrc)
	}
}

// OnDisconnect flushes and removes every stream belonging to the user.
func (a *Aggregator) OnDisconnect(d Disconnect) {
	for _, ssrc := range a.identities.SessionsFor(d.UserID) {
		a.flushStream(ssrc)
		a.identities.Remove(ssrc)
	}
	a.clearCurrentSpeaker(d.UserID)
}

// Detach flushes every stream and waits for the dispatch lanes to drain.
// The aggregator must not be reused afterwards.
func (a *Aggregator) Detach() {
	a.mu.Lock()
	ssrcs := make([]uint32, 0, len(a.buffers))
	for ssrc := range a.buffers {
		ssrcs = append(ssrcs, ssrc)
	}
	a.mu.Unlock()

	for _, ssrc := range ssrcs {
		a.flushStream(ssrc)
	}
	a.wg.Wait()
	if a.notifier != nil {
		a.notifier.Clear()
	}
	logging.Infow("aggregator detached",
		append(logging.GuildFields(a.guildID, ""), logging.ChannelFields(a.channelID, "")...)...)
}

// resolveIdentity decides who a chunk from this SSRC belongs to. A known
// attribution already on the buffer wins; then the announced mapping; then
// a roster guess, which is written back so the stream keeps the same
// attribution even after the guessed user stops being the only candidate.
// Failing all of that, the stream's existing placeholder is reused before
// a new one is minted.
func (a *Aggregator) resolveIdentity(ssrc uint32) SpeakerIdentity {
	a.mu.Lock()
	sb := a.buffers[ssrc]
	a.mu.Unlock()

	if sb != nil {
		sb.mu.Lock()
		current := sb.speaker
		sb.mu.Unlock()
		if current.IsKnown() {
			return current
		}
	}

	if userID, ok := a.identities.Lookup(ssrc); ok {
		return KnownSpeaker(userID)
	}

	if a.roster != nil {
		if userID, ok := a.roster.GuessSpeaker(a.channelID); ok {
			a.identities.Bind(ssrc, userID)
			logging.Debugw("attributed stream by roster guess", "ssrc", ssrc, "user_id", userID)
			return KnownSpeaker(userID)
		}
	}

	a.mu.Lock()
	label, ok := a.placeholders[ssrc]
	if !ok {
		label = placeholderLabel(ssrc)
		a.placeholders[ssrc] = label
	}
	a.mu.Unlock()
	return PlaceholderSpeaker(label)
}

// consumeSamples appends decoded PCM to the stream's buffer and drains
// every complete chunk onto the dispatch lane.
func (a *Aggregator) consumeSamples(ssrc uint32, id SpeakerIdentity, pcm []int16) {
	sb := a.buffer(ssrc)

	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.closed {
		return
	}

	sb.adoptIdentityLocked(id)
	sb.samples = append(sb.samples, pcm...)
	sb.lastActivity = time.Now()

	for len(sb.samples) >= a.chunkSamples {
		chunk := make([]int16, a.chunkSamples)
		copy(chunk, sb.samples)
		sb.samples = sb.samples[a.chunkSamples:]
		sb.enqueueLocked(chunkItem{pcm: chunk, speaker: sb.speaker, startedAt: time.Now()})
	}
}

// flushExpired removes a stream that has been idle past the silence
// threshold, emitting its remainder as a single final chunk. The stream's
// identity bindings survive, so audio resuming on the same SSRC picks up
// the same attribution.
func (a *Aggregator) flushExpired(ssrc uint32) {
	a.mu.Lock()
	sb := a.buffers[ssrc]
	a.mu.Unlock()
	if sb == nil {
		return
	}

	sb.mu.Lock()
	expired := !sb.closed && len(sb.samples) > 0 && time.Since(sb.lastActivity) >= a.silenceFlush
	size := len(sb.samples)
	sb.mu.Unlock()
	if !expired {
		return
	}

	logging.Debugw("silence flush", logging.StreamFields(ssrc, size, samplesToMs(size, a.sampleRate))...)
	a.flushStream(ssrc)
}

// flushStream emits whatever is buffered and removes the stream entirely,
// closing its dispatch lane once the final chunk is on it.
func (a *Aggregator) flushStream(ssrc uint32) {
	a.mu.Lock()
	sb := a.buffers[ssrc]
	if sb != nil {
		delete(a.buffers, ssrc)
	}
	a.mu.Unlock()
	if sb == nil {
		return
	}

	sb.mu.Lock()
	if len(sb.samples) > 0 {
		chunk := sb.samples
		sb.samples = nil
		sb.enqueueLocked(chunkItem{pcm: chunk, speaker: sb.speaker, startedAt: time.Now()})
	}
	sb.closed = true
	close(sb.lane)
	sb.mu.Unlock()

	telemetry.StreamClosed()
}

// promoteStream retires the stream's placeholder, if one was ever used:
// the live buffer (when still present) switches to the announced user, and
// captions already written under the label are relabeled in the background.
func (a *Aggregator) promoteStream(ssrc uint32, userID string) {
	a.mu.Lock()
	sb := a.buffers[ssrc]
	label, hadPlaceholder := a.placeholders[ssrc]
	if hadPlaceholder {
		delete(a.placeholders, ssrc)
	}
	a.mu.Unlock()

	if sb != nil {
		sb.mu.Lock()
		if !sb.speaker.IsKnown() {
			sb.speaker = KnownSpeaker(userID)
		}
		sb.mu.Unlock()
	}

	if hadPlaceholder {
		logging.Infow("stream promoted to known speaker", "ssrc", ssrc, "user_id", userID, "placeholder", label)
		a.relabels.relabel(label, userID)
	}
}

// buffer returns the stream's buffer, creating it and starting its
// dispatch goroutine on first use.
func (a *Aggregator) buffer(ssrc uint32) *streamBuffer {
	a.mu.Lock()
	defer a.mu.Unlock()

	sb, ok := a.buffers[ssrc]
	if !ok {
		sb = newStreamBuffer(ssrc, a.laneCap)
		a.buffers[ssrc] = sb
		a.wg.Add(1)
		go a.dispatch(ssrc, sb.lane)
		telemetry.StreamOpened()
		logging.Debugw("stream buffer opened", "ssrc", ssrc)
	}
	return sb
}

// dispatch drains one stream's lane in order, resolving display names and
// submitting jobs. Submit blocking here suspends only this stream.
func (a *Aggregator) dispatch(ssrc uint32, lane <-chan chunkItem) {
	defer a.wg.Done()

	for item := range lane {
		speakerID := ""
		speakerName := item.speaker.Label()
		if item.speaker.IsKnown() {
			speakerID = item.speaker.UserID()
			speakerName = a.names.UserName(speakerID)
			if a.roster != nil {
				a.roster.NoteSpoke(speakerID)
			}
			a.setCurrentSpeaker(speakerID)
		}

		job := transcription.Job{
			GuildID:       a.guildID,
			ChannelID:     a.channelID,
			SpeakerID:     speakerID,
			SpeakerName:   speakerName,
			PCM:           item.pcm,
			SampleRate:    a.sampleRate,
			StartedAt:     item.startedAt,
			CorrelationID: uuid.NewString(),
		}
		if err := a.sink.Submit(context.Background(), job); err != nil {
			logging.Warnw("chunk submit failed", "ssrc", ssrc, "error", err)
			continue
		}
		telemetry.ChunkDispatched()
	}
}

func (a *Aggregator) setCurrentSpeaker(userID string) {
	if a.notifier != nil {
		a.notifier.Notify(userID)
	}
}

// clearCurrentSpeaker resets the notifier only if the user is still the
// one being shown.
func (a *Aggregator) clearCurrentSpeaker(userID string) {
	if a.notifier != nil && a.notifier.Current() == userID {
		a.notifier.Clear()
	}
}

func samplesToMs(samples, rate int) int {
	if rate <= 0 {
		return 0
	}
	return samples * 1000 / rate
}
