package transcription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-voice-scribe/internal/captions"
)

type scriptedTranscriber struct {
	results map[string]string // correlation ID -> text
	err     error
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, job Job) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.results[job.CorrelationID], nil
}

type memoryStore struct {
	mu      sync.Mutex
	entries []captions.Entry
}

func (m *memoryStore) Append(_, _ string, entry captions.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryStore) snapshot() []captions.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]captions.Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

type memoryFeed struct {
	mu       sync.Mutex
	payloads []interface{}
}

func (m *memoryFeed) BroadcastJSON(v interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, v)
}

func runWorker(t *testing.T, q *Queue, tr Transcriber, store CaptionAppender, feed Broadcaster) func() {
	t.Helper()
	done := make(chan struct{})
	w := NewWorker(q, tr, store, feed)
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()
	return func() {
		q.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not drain after close")
		}
	}
}

func TestWorkerPersistsTranscribedLines(t *testing.T) {
	q := NewQueue(4)
	store := &memoryStore{}
	feed := &memoryFeed{}
	tr := &scriptedTranscriber{results: map[string]string{"j1": "  hello there  "}}
	wait := runWorker(t, q, tr, store, feed)

	started := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	require.NoError(t, q.Submit(context.Background(), Job{
		GuildID:       "g1",
		ChannelID:     "c1",
		SpeakerID:     "u1",
		SpeakerName:   "alice",
		PCM:           []int16{1, 2, 3},
		SampleRate:    16000,
		StartedAt:     started,
		CorrelationID: "j1",
	}))
	wait()

	entries := store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello there", entries[0].Comment)
	assert.Equal(t, "u1", entries[0].Speaker.ID)
	assert.Equal(t, "alice", entries[0].Speaker.Name)
	assert.Equal(t, "2026-08-26T10:30:00", entries[0].Timestamp)

	feed.mu.Lock()
	defer feed.mu.Unlock()
	require.Len(t, feed.payloads, 1)
	line, ok := feed.payloads[0].(CaptionLine)
	require.True(t, ok)
	assert.Equal(t, "caption", line.Type)
	assert.Equal(t, "hello there", line.Text)
}

func TestWorkerDropsBlankResults(t *testing.T) {
	q := NewQueue(4)
	store := &memoryStore{}
	tr := &scriptedTranscriber{results: map[string]string{
		"empty": "   ",
		"blank": "[BLANK_AUDIO]",
		"real":  "ok",
	}}
	wait := runWorker(t, q, tr, store, nil)

	for _, id := range []string{"empty", "blank", "real"} {
		require.NoError(t, q.Submit(context.Background(), Job{
			PCM:           []int16{1},
			CorrelationID: id,
		}))
	}
	wait()

	entries := store.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Comment)
}

func TestWorkerSkipsEmptyPCM(t *testing.T) {
	q := NewQueue(4)
	store := &memoryStore{}
	tr := &scriptedTranscriber{results: map[string]string{"j1": "should not run"}}
	wait := runWorker(t, q, tr, store, nil)

	require.NoError(t, q.Submit(context.Background(), Job{CorrelationID: "j1"}))
	wait()

	assert.Empty(t, store.snapshot())
}

func TestWorkerSurvivesTranscriberErrors(t *testing.T) {
	q := NewQueue(4)
	store := &memoryStore{}
	tr := &scriptedTranscriber{err: errors.New("stt unavailable")}
	wait := runWorker(t, q, tr, store, nil)

	require.NoError(t, q.Submit(context.Background(), Job{PCM: []int16{1}, CorrelationID: "j1"}))
	require.NoError(t, q.Submit(context.Background(), Job{PCM: []int16{2}, CorrelationID: "j2"}))
	wait()

	assert.Empty(t, store.snapshot(), "failed jobs produce no captions and no panic")
}
