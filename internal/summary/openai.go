// Package summary turns a finished session transcript into a short
// meeting summary via the OpenAI API.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/discord-voice-scribe/internal/captions"
	"github.com/discord-voice-scribe/internal/logging"
)

const (
	defaultBaseURL = "https://api.openai.com"
	responsesPath  = "/v1/responses"

	// transcriptCharLimit keeps the request inside the model's context
	// window for long sessions.
	transcriptCharLimit = 60000

	systemPrompt = "You summarize voice call transcripts. Produce a concise summary " +
		"with the main topics discussed, decisions made, and any action items. " +
		"Attribute points to speakers by name where it matters."
)

// Client calls the OpenAI Responses API.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesReply struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// SummarizeSession flattens the transcript and asks the model for a
// summary. Sessions with no transcribed lines are an error, not an empty
// summary.
func (c *Client) SummarizeSession(ctx context.Context, doc *captions.SessionDocument) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("summary requested but no API key configured")
	}
	transcript, err := flattenTranscript(doc)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(responsesRequest{
		Model: c.model,
		Input: []inputMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+responsesPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling summarizer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("summarizer status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var reply responsesReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return "", fmt.Errorf("decoding summarizer response: %w", err)
	}
	for _, out := range reply.Output {
		for _, block := range out.Content {
			if block.Type == "output_text" && block.Text != "" {
				logging.Infow("session summary generated", "chars", len(block.Text))
				return block.Text, nil
			}
		}
	}
	return "", fmt.Errorf("summarizer response contained no text output")
}

// flattenTranscript renders a session document as plain text: metadata
// header followed by one "[timestamp] speaker: line" row per entry.
func flattenTranscript(doc *captions.SessionDocument) (string, error) {
	if doc == nil || len(doc.Transcriptions) == 0 {
		return "", fmt.Errorf("session has no transcribed lines to summarize")
	}

	var b strings.Builder
	if doc.Metadata.Title != "" {
		fmt.Fprintf(&b, "Session: %s\n", doc.Metadata.Title)
	}
	if doc.Metadata.StartedAt != "" {
		fmt.Fprintf(&b, "Started: %s\n", doc.Metadata.StartedAt)
	}
	if doc.Metadata.DurationFormatted != "" {
		fmt.Fprintf(&b, "Duration: %s\n", doc.Metadata.DurationFormatted)
	}
	b.WriteString("\n")

	for _, entry := range doc.Transcriptions {
		fmt.Fprintf(&b, "[%s] %s: %s\n", entry.Timestamp, entry.Speaker.Name, entry.Comment)
		if b.Len() > transcriptCharLimit {
			b.WriteString("\n[Transcript truncated]")
			break
		}
	}
	return b.String(), nil
}
