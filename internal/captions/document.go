// Package captions persists per-session transcript documents and supports
// retroactive relabeling of placeholder speakers.
package captions

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SpeakerInfo identifies who said a line. ID is empty for placeholder
// attributions; those entries remain eligible for relabeling.
type SpeakerInfo struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Entry is one transcribed line.
type Entry struct {
	Speaker   SpeakerInfo `json:"speaker"`
	Comment   string      `json:"comment"`
	Timestamp string      `json:"timestamp"`
}

// SessionMetadata describes the recording session wrapped around the
// transcript lines.
type SessionMetadata struct {
	Title             string `json:"title,omitempty"`
	StartedAt         string `json:"started_at"`
	EndedAt           string `json:"ended_at,omitempty"`
	DurationSeconds   uint64 `json:"duration_seconds,omitempty"`
	DurationFormatted string `json:"duration_formatted,omitempty"`
}

// SessionDocument is the on-disk JSON shape of one session.
type SessionDocument struct {
	Metadata       SessionMetadata `json:"metadata"`
	Transcriptions []Entry         `json:"transcriptions"`
}

// UnmarshalJSON accepts both the current document shape and the legacy
// format that was a bare array of entries.
func (d *SessionDocument) UnmarshalJSON(data []byte) error {
	type plain SessionDocument
	var doc plain
	if err := json.Unmarshal(data, &doc); err == nil {
		*d = SessionDocument(doc)
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("caption document is neither a session document nor a legacy entry array")
	}
	d.Transcriptions = entries
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatDuration(d time.Duration) string {
	total := uint64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// slugifyTitle reduces a session title to a filesystem-friendly slug, or
// empty when nothing survives.
func slugifyTitle(input string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(input) {
		if b.Len() >= 48 {
			break
		}
		switch {
		case ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == ' ' || ch == '-' || ch == '_':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
