package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-voice-scribe/internal/transcription"
)

type recordingSink struct {
	mu      sync.Mutex
	jobs    []transcription.Job
	entered chan struct{}
	gate    chan struct{}
}

func (s *recordingSink) Submit(_ context.Context, job transcription.Job) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []transcription.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcription.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

type staticNames map[string]string

func (n staticNames) UserName(userID string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return userID
}

type relabelCall struct {
	placeholder string
	userID      string
	userName    string
}

type recordingRelabelStore struct {
	mu    sync.Mutex
	calls []relabelCall
	done  chan struct{}
}

func (r *recordingRelabelStore) RelabelPlaceholder(_, _, placeholder, userID, userName string) (bool, error) {
	r.mu.Lock()
	r.calls = append(r.calls, relabelCall{placeholder, userID, userName})
	r.mu.Unlock()
	r.done <- struct{}{}
	return true, nil
}

func testOptions(sink JobSink) Options {
	return Options{
		GuildID:      "g1",
		ChannelID:    "c1",
		ChunkSamples: 100,
		SampleRate:   16000,
		SilenceFlush: time.Hour,
		LaneCapacity: 16,
		Sink:         sink,
		Names:        staticNames{},
	}
}

func ramp(start, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(start + i)
	}
	return out
}

func TestChunksAreExactSizeAndOrdered(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(testOptions(sink))

	var fed []int16
	offset := 0
	for _, n := range []int{60, 60, 60, 70} {
		pcm := ramp(offset, n)
		fed = append(fed, pcm...)
		offset += n
		agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: pcm}})
	}
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 3)
	assert.Len(t, jobs[0].PCM, 100)
	assert.Len(t, jobs[1].PCM, 100)
	assert.Len(t, jobs[2].PCM, 50, "final flush carries the remainder")

	var got []int16
	for _, job := range jobs {
		got = append(got, job.PCM...)
		assert.Equal(t, "Speaker 42", job.SpeakerName)
		assert.Empty(t, job.SpeakerID)
		assert.NotEmpty(t, job.CorrelationID)
	}
	assert.Equal(t, fed, got, "chunks must cover the stream without loss, duplication, or reordering")
}

func TestSilenceFlushEmitsRemainderOnce(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.SilenceFlush = 5 * time.Millisecond
	agg := NewAggregator(opts)

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: ramp(0, 30)}})
	time.Sleep(15 * time.Millisecond)

	agg.OnVoiceTick(VoiceTick{Silent: []uint32{42}})
	agg.OnVoiceTick(VoiceTick{Silent: []uint32{42}})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 1, "idle remainder flushes exactly once")
	assert.Equal(t, ramp(0, 30), jobs[0].PCM)
}

func TestSilenceFlushWaitsForThreshold(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.SilenceFlush = time.Hour
	agg := NewAggregator(opts)

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: ramp(0, 30)}})
	agg.OnVoiceTick(VoiceTick{Silent: []uint32{42}})

	assert.Empty(t, sink.snapshot(), "remainder must stay buffered until the threshold passes")
	agg.Detach()
	require.Len(t, sink.snapshot(), 1)
}

func TestRosterGuessIsSticky(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.Roster = NewVoiceRoster("g1")
	opts.Names = staticNames{"alice": "Alice"}
	agg := NewAggregator(opts)

	opts.Roster.Reset("c1", []string{"alice"})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{5: ramp(0, 10)}})

	// A second occupant arriving later must not steal the attribution.
	opts.Roster.NoteJoin("c1", "bob")
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{5: ramp(10, 10)}})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, "alice", job.SpeakerID)
		assert.Equal(t, "Alice", job.SpeakerName)
	}
}

func TestAmbiguousOccupancyMintsPlaceholder(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.Roster = NewVoiceRoster("g1")
	agg := NewAggregator(opts)

	opts.Roster.Reset("c1", []string{"alice", "bob"})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{9: ramp(0, 10)}})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].SpeakerID)
	assert.Equal(t, "Speaker 9", jobs[0].SpeakerName)
}

func TestAnnouncementPromotesStreamAndRelabels(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingRelabelStore{done: make(chan struct{}, 1)}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.Captions = store
	opts.Names = staticNames{"u42": "Carol"}
	agg := NewAggregator(opts)

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{7: ramp(0, 10)}})
	agg.OnSpeaking(SpeakingUpdate{SSRC: 7, UserID: "u42", Speaking: true})

	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("relabel never reached the caption store")
	}
	store.mu.Lock()
	calls := append([]relabelCall(nil), store.calls...)
	store.mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, relabelCall{"Speaker 7", "u42", "Carol"}, calls[0])

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{7: ramp(10, 10)}})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, "u42", jobs[1].SpeakerID)
	assert.Equal(t, "Carol", jobs[1].SpeakerName)
}

func TestRelabelFiresAfterStreamFlushed(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingRelabelStore{done: make(chan struct{}, 1)}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.Captions = store
	agg := NewAggregator(opts)

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{7: ramp(0, 10)}})
	agg.OnSpeaking(SpeakingUpdate{SSRC: 7, Speaking: false}) // buffer gone

	agg.OnSpeaking(SpeakingUpdate{SSRC: 7, UserID: "u42", Speaking: true})
	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("relabel never reached the caption store")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.calls, 1)
	assert.Equal(t, "Speaker 7", store.calls[0].placeholder)
	assert.Equal(t, "u42", store.calls[0].userID)
	agg.Detach()
}

func TestKnownIdentitySurvivesMicOff(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	agg := NewAggregator(opts)

	agg.OnSpeaking(SpeakingUpdate{SSRC: 3, UserID: "u1", Speaking: true})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{3: ramp(0, 10)}})
	agg.OnSpeaking(SpeakingUpdate{SSRC: 3, Speaking: false})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{3: ramp(10, 10)}})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, "u1", job.SpeakerID, "announced mapping outlives the flushed buffer")
	}
}

func TestMicOffFlushesImmediately(t *testing.T) {
	sink := &recordingSink{}
	agg := NewAggregator(testOptions(sink))

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: ramp(0, 30)}})
	agg.OnSpeaking(SpeakingUpdate{SSRC: 42, Speaking: false})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, ramp(0, 30), jobs[0].PCM)
}

func TestDisconnectFlushesEveryUserStream(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	agg := NewAggregator(opts)

	agg.OnSpeaking(SpeakingUpdate{SSRC: 7, UserID: "u1", Speaking: true})
	agg.OnSpeaking(SpeakingUpdate{SSRC: 9, UserID: "u1", Speaking: true})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{
		7: ramp(0, 30),
		9: ramp(100, 40),
	}})

	agg.OnDisconnect(Disconnect{UserID: "u1"})
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 2)
	sizes := []int{len(jobs[0].PCM), len(jobs[1].PCM)}
	assert.ElementsMatch(t, []int{30, 40}, sizes)
	assert.Equal(t, 0, agg.identities.Len(), "disconnect removes the user's session mappings")
}

func TestFullLaneDropsChunks(t *testing.T) {
	sink := &recordingSink{
		entered: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.LaneCapacity = 1
	agg := NewAggregator(opts)

	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: ramp(0, 10)}})
	<-sink.entered // dispatcher is now stuck inside Submit

	// Three more chunks: one fits the lane, the rest are dropped.
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{42: ramp(10, 30)}})

	close(sink.gate)
	agg.Detach()

	jobs := sink.snapshot()
	require.Len(t, jobs, 2)
	assert.Equal(t, ramp(0, 10), jobs[0].PCM)
	assert.Equal(t, ramp(10, 10), jobs[1].PCM)
}

func TestCurrentSpeakerFollowsDispatch(t *testing.T) {
	sink := &recordingSink{}
	opts := testOptions(sink)
	opts.ChunkSamples = 10
	opts.Notifier = NewSpeakerNotifier()
	agg := NewAggregator(opts)

	agg.OnSpeaking(SpeakingUpdate{SSRC: 3, UserID: "u1", Speaking: true})
	agg.OnVoiceTick(VoiceTick{Speaking: map[uint32][]int16{3: ramp(0, 10)}})
	agg.Detach()

	assert.Equal(t, "", opts.Notifier.Current(), "detach clears the published speaker")

	jobs := sink.snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "u1", jobs[0].SpeakerID)
}
