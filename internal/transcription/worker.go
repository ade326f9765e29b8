package transcription

import (
	"context"
	"strings"

	"github.com/discord-voice-scribe/internal/captions"
	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/telemetry"
)

const blankAudioMarker = "[blank_audio]"

// Transcriber converts one chunk of PCM into text. An empty string with a
// nil error means no speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, job Job) (string, error)
}

// CaptionAppender is the slice of the caption store the worker needs.
type CaptionAppender interface {
	Append(guildID, channelID string, entry captions.Entry) error
}

// Broadcaster fans a finished caption line out to live observers. Optional.
type Broadcaster interface {
	BroadcastJSON(v interface{})
}

// CaptionLine is the payload published to the live feed for every
// transcribed line.
type CaptionLine struct {
	Type      string `json:"type"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Worker drains the queue, transcribes each job, and persists non-empty
// results. Per-job failures are logged and never stop the loop.
type Worker struct {
	queue       *Queue
	transcriber Transcriber
	store       CaptionAppender
	feed        Broadcaster // may be nil
}

func NewWorker(queue *Queue, transcriber Transcriber, store CaptionAppender, feed Broadcaster) *Worker {
	return &Worker{queue: queue, transcriber: transcriber, store: store, feed: feed}
}

// Run processes jobs until the context is canceled or the queue is closed
// and fully drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue.jobs:
			w.process(ctx, job)
		case <-w.queue.done:
			for {
				select {
				case job := <-w.queue.jobs:
					w.process(ctx, job)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	if len(job.PCM) == 0 {
		return
	}

	text, err := w.transcriber.Transcribe(ctx, job)
	if err != nil {
		telemetry.TranscriptionFailed()
		logging.Errorw("transcription failed",
			"correlation_id", job.CorrelationID, "speaker", job.SpeakerName, "err", err)
		return
	}

	normalized := strings.TrimSpace(text)
	if normalized == "" || strings.EqualFold(normalized, blankAudioMarker) {
		return
	}

	entry := captions.Entry{
		Speaker:   captions.SpeakerInfo{ID: job.SpeakerID, Name: job.SpeakerName},
		Comment:   normalized,
		Timestamp: job.StartedAt.Format("2006-01-02T15:04:05"),
	}
	if err := w.store.Append(job.GuildID, job.ChannelID, entry); err != nil {
		logging.Errorw("failed to persist caption entry",
			"correlation_id", job.CorrelationID, "speaker", job.SpeakerName, "err", err)
		return
	}

	telemetry.CaptionLineRecorded()
	logging.Infow("captured transcript line",
		"guild_id", job.GuildID, "channel_id", job.ChannelID,
		"speaker", job.SpeakerName, "speaker_id", job.SpeakerID,
		"correlation_id", job.CorrelationID, "text", normalized)

	if w.feed != nil {
		w.feed.BroadcastJSON(CaptionLine{
			Type:      "caption",
			GuildID:   job.GuildID,
			ChannelID: job.ChannelID,
			SpeakerID: job.SpeakerID,
			Speaker:   job.SpeakerName,
			Text:      normalized,
			Timestamp: entry.Timestamp,
		})
	}
}
