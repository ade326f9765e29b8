// Package telemetry exposes Prometheus metrics and a websocket feed of
// live caption lines.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_chunks_dispatched_total",
		Help: "Audio chunks handed to the transcription queue.",
	})
	chunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_chunks_dropped_total",
		Help: "Audio chunks dropped because a dispatch lane was full.",
	})
	captionLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_caption_lines_total",
		Help: "Caption lines written to the session transcript.",
	})
	relabels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_relabels_total",
		Help: "Placeholder speakers retroactively relabeled.",
	})
	transcriptionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_transcription_failures_total",
		Help: "Transcription requests that failed after retries.",
	})
	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_active_streams",
		Help: "Audio streams currently buffering samples.",
	})
)

func ChunkDispatched() { chunksDispatched.Inc() }

func ChunkDropped() { chunksDropped.Inc() }

func CaptionLineRecorded() { captionLines.Inc() }

func PlaceholderRelabeled() { relabels.Inc() }

func TranscriptionFailed() { transcriptionFailures.Inc() }

func StreamOpened() { activeStreams.Inc() }

func StreamClosed() { activeStreams.Dec() }
