// Package config loads the bot configuration from environment variables.
// A .env file is honored when present (loaded by main before Load runs).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultChunkSecs    = 3.0
	minChunkSecs        = 0.5
	defaultSampleRate   = 16000
	defaultSilenceSecs  = 1.0
	defaultQueueSize    = 32
	defaultCaptionDir   = "captions"
	defaultWhisperMS    = 30000
	defaultOpenAIModel  = "gpt-4o-mini"
	defaultLaneCapacity = 16
)

// Config holds everything the bot needs at runtime. All values come from
// the environment; Load applies defaults and validates.
type Config struct {
	DiscordToken string

	// Optional auto-join target. When both are set the bot arms the caption
	// pipeline at startup without waiting for a /join command.
	GuildID        string
	VoiceChannelID string

	// Chunking parameters for the caption pipeline.
	ChunkDuration time.Duration
	SampleRate    int
	SilenceFlush  time.Duration

	// Transcription collaborator.
	WhisperURL      string
	WhisperLanguage string
	WhisperTimeout  time.Duration
	QueueSize       int
	LaneCapacity    int

	// Caption persistence.
	CaptionDir string

	// Telemetry HTTP server; empty disables it.
	TelemetryAddr string

	// Optional session summaries.
	OpenAIKey                string
	OpenAIModel              string
	IncludeTranscriptUploads bool
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	token := strings.TrimSpace(os.Getenv("DISCORD_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("missing DISCORD_TOKEN in environment")
	}

	chunkSecs := envFloat("CAPTION_CHUNK_SECS", defaultChunkSecs)
	if chunkSecs < minChunkSecs {
		chunkSecs = minChunkSecs
	}

	sampleRate := envInt("DECODE_SAMPLE_RATE", defaultSampleRate)
	if sampleRate <= 0 {
		return nil, fmt.Errorf("DECODE_SAMPLE_RATE must be positive, got %d", sampleRate)
	}

	silenceSecs := envFloat("SILENCE_FLUSH_SECS", defaultSilenceSecs)
	if silenceSecs <= 0 {
		return nil, fmt.Errorf("SILENCE_FLUSH_SECS must be positive, got %v", silenceSecs)
	}

	queueSize := envInt("TRANSCRIPTION_QUEUE_SIZE", defaultQueueSize)
	if queueSize <= 0 {
		return nil, fmt.Errorf("TRANSCRIPTION_QUEUE_SIZE must be positive, got %d", queueSize)
	}

	captionDir := strings.TrimSpace(os.Getenv("CAPTION_OUTPUT_DIR"))
	if captionDir == "" {
		captionDir = defaultCaptionDir
	}
	captionDir, err := absolutePath(captionDir)
	if err != nil {
		return nil, err
	}

	whisperURL := strings.TrimSpace(os.Getenv("WHISPER_URL"))
	if whisperURL == "" {
		return nil, fmt.Errorf("missing WHISPER_URL in environment")
	}

	cfg := &Config{
		DiscordToken:             token,
		GuildID:                  strings.TrimSpace(os.Getenv("GUILD_ID")),
		VoiceChannelID:           strings.TrimSpace(os.Getenv("VOICE_CHANNEL_ID")),
		ChunkDuration:            time.Duration(chunkSecs * float64(time.Second)),
		SampleRate:               sampleRate,
		SilenceFlush:             time.Duration(silenceSecs * float64(time.Second)),
		WhisperURL:               whisperURL,
		WhisperLanguage:          strings.TrimSpace(os.Getenv("WHISPER_LANGUAGE")),
		WhisperTimeout:           time.Duration(envInt("WHISPER_TIMEOUT_MS", defaultWhisperMS)) * time.Millisecond,
		QueueSize:                queueSize,
		LaneCapacity:             envInt("DISPATCH_LANE_CAPACITY", defaultLaneCapacity),
		CaptionDir:               captionDir,
		TelemetryAddr:            strings.TrimSpace(os.Getenv("TELEMETRY_ADDR")),
		OpenAIKey:                strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:              envString("OPENAI_MODEL", defaultOpenAIModel),
		IncludeTranscriptUploads: envBool("INCLUDE_TRANSCRIPT_UPLOADS", true),
	}

	if cfg.LaneCapacity <= 0 {
		cfg.LaneCapacity = defaultLaneCapacity
	}
	if !cfg.IncludeTranscriptUploads && cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("INCLUDE_TRANSCRIPT_UPLOADS=false requires OPENAI_API_KEY; summary-only flow needs a summarizer")
	}

	return cfg, nil
}

// ChunkSamples derives the fixed per-chunk sample count from the configured
// chunk duration and sample rate. Never returns less than 1.
func (c *Config) ChunkSamples() int {
	samples := c.ChunkDuration.Seconds() * float64(c.SampleRate)
	if samples < 1 {
		return 1
	}
	return int(samples + 0.5)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func absolutePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("unable to read current directory: %w", err)
	}
	return filepath.Join(cwd, path), nil
}
