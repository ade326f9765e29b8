package transcription

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/discord-voice-scribe/internal/logging"
)

// whisperSampleRate is the rate the STT service expects; higher-rate chunks
// are decimated locally before upload.
const whisperSampleRate = 16000

// WhisperClient POSTs WAV-wrapped PCM chunks to a Whisper-compatible HTTP
// endpoint and returns the recognized text.
type WhisperClient struct {
	URL      string
	Language string
	Timeout  time.Duration
	HTTP     *http.Client
}

func NewWhisperClient(endpoint, language string, timeout time.Duration) *WhisperClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhisperClient{
		URL:      endpoint,
		Language: language,
		Timeout:  timeout,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Transcribe wraps the job's PCM into a WAV and POSTs it, retrying up to
// three times with exponential backoff on transient failures.
func (c *WhisperClient) Transcribe(ctx context.Context, job Job) (string, error) {
	if c.URL == "" {
		return "", fmt.Errorf("whisper endpoint not configured")
	}

	endpoint := c.URL
	if u, err := url.Parse(c.URL); err == nil && c.Language != "" {
		q := u.Query()
		q.Set("language", c.Language)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	pcm := job.PCM
	rate := job.SampleRate
	if rate > whisperSampleRate {
		pcm = downsample(pcm, rate, whisperSampleRate)
		rate = whisperSampleRate
	}
	wav := buildWAV(pcmBytes(pcm), rate, 1, 16)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(wav))
		if err != nil {
			cancel()
			return "", err
		}
		req.Header.Set("Content-Type", "audio/wav")
		if job.CorrelationID != "" {
			req.Header.Set("X-Correlation-ID", job.CorrelationID)
		}

		resp, err := c.HTTP.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			logging.Warnw("HTTP send error to whisper",
				"correlation_id", job.CorrelationID, "attempt", attempt, "err", err)
			time.Sleep(time.Duration(1<<attempt) * time.Second)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("whisper server error status=%d", resp.StatusCode)
			logging.Warnw("STT server error",
				"correlation_id", job.CorrelationID, "status", resp.StatusCode, "attempt", attempt)
			time.Sleep(time.Duration(1<<attempt) * time.Second)
			continue
		}
		if resp.StatusCode >= 300 {
			resp.Body.Close()
			return "", fmt.Errorf("whisper rejected request status=%d", resp.StatusCode)
		}

		var out struct {
			Text string `json:"text"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("decoding whisper response: %w", err)
		}
		return out.Text, nil
	}
	return "", lastErr
}

// buildWAV creates a simple RIFF/WAVE header for 16-bit PCM and returns the
// concatenated bytes (header + data).
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)
	return buf.Bytes()
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// downsample decimates PCM by nearest-sample selection. Crude but adequate
// for speech handed to the STT service.
func downsample(samples []int16, from, to int) []int16 {
	if from <= to || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	targetLen := int(float64(len(samples))/ratio + 0.5)
	out := make([]int16, 0, targetLen)
	for i := 0; i < targetLen; i++ {
		src := int(float64(i) * ratio)
		if src >= len(samples) {
			break
		}
		out = append(out, samples[src])
	}
	return out
}
