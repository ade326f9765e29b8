// Package transcription owns the bounded job queue between the audio
// aggregator and the speech-to-text collaborator, plus the worker that
// drains it into the caption store.
package transcription

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Job is one chunk of PCM audio ready for transcription. SpeakerID is empty
// when the chunk is attributed to a placeholder; SpeakerName then carries the
// placeholder label so the persisted entry can be relabeled later.
type Job struct {
	GuildID       string
	ChannelID     string
	SpeakerID     string
	SpeakerName   string
	PCM           []int16
	SampleRate    int
	StartedAt     time.Time
	CorrelationID string
}

// ErrQueueClosed is returned by Submit once the queue has shut down.
var ErrQueueClosed = errors.New("transcription queue closed")

// Queue is a bounded handoff of transcription jobs. Submit blocks the
// calling goroutine when the queue is full; callers on the audio path must
// therefore submit from per-stream dispatch lanes, never from the tick loop.
type Queue struct {
	jobs chan Job

	closeOnce sync.Once
	done      chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		jobs: make(chan Job, capacity),
		done: make(chan struct{}),
	}
}

// Submit enqueues a job, blocking until there is room, the context is
// canceled, or the queue closes.
func (q *Queue) Submit(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs. Jobs already queued are still drained by the
// worker.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() int { return len(q.jobs) }
