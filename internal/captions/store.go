package captions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/discord-voice-scribe/internal/logging"
)

// Store manages one JSON transcript file per active guild/channel session.
// All mutation goes through Store, which serializes writers per session.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	path      string
	title     string
	startedAt time.Time
}

// SessionSummary is returned when a session ends.
type SessionSummary struct {
	Path     string
	Title    string
	Duration time.Duration
	Lines    int
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create caption dir: %w", err)
	}
	return &Store{root: dir, sessions: make(map[string]*session)}, nil
}

func sessionKey(guildID, channelID string) string {
	return guildID + "/" + channelID
}

// StartSession opens a new transcript document for the guild/channel pair,
// replacing any session already tracked for it.
func (s *Store) StartSession(guildID, channelID, title string) (string, error) {
	now := time.Now()
	name := fmt.Sprintf("%s_%s_%s", guildID, channelID, now.Format("20060102_150405"))
	if slug := slugifyTitle(title); slug != "" {
		name += "_" + slug
	}
	path := filepath.Join(s.root, name+".json")

	doc := SessionDocument{
		Metadata: SessionMetadata{
			Title:     title,
			StartedAt: formatTimestamp(now),
		},
		Transcriptions: []Entry{},
	}
	if err := writeDocumentAtomic(path, &doc); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[sessionKey(guildID, channelID)] = &session{path: path, title: title, startedAt: now}
	s.mu.Unlock()

	logging.Infow("caption session started", "guild_id", guildID, "channel_id", channelID, "path", path)
	return path, nil
}

// EndSession finalizes the session metadata and stops tracking the session.
func (s *Store) EndSession(guildID, channelID string) (*SessionSummary, error) {
	key := sessionKey(guildID, channelID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no active caption session for %s", key)
	}

	doc, err := loadSessionDocument(sess.path)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	elapsed := now.Sub(sess.startedAt)
	doc.Metadata.EndedAt = formatTimestamp(now)
	doc.Metadata.DurationSeconds = uint64(elapsed.Seconds())
	doc.Metadata.DurationFormatted = formatDuration(elapsed)
	if err := writeDocumentAtomic(sess.path, doc); err != nil {
		return nil, err
	}

	return &SessionSummary{
		Path:     sess.path,
		Title:    sess.title,
		Duration: elapsed,
		Lines:    len(doc.Transcriptions),
	}, nil
}

// SessionPath reports the transcript path of the active session, if any.
func (s *Store) SessionPath(guildID, channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey(guildID, channelID)]
	if !ok {
		return "", false
	}
	return sess.path, true
}

// Append adds one transcript line to the active session document.
func (s *Store) Append(guildID, channelID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey(guildID, channelID)]
	if !ok {
		return fmt.Errorf("no active caption session for %s/%s", guildID, channelID)
	}
	doc, err := loadSessionDocument(sess.path)
	if err != nil {
		return err
	}
	doc.Transcriptions = append(doc.Transcriptions, entry)
	return writeDocumentAtomic(sess.path, doc)
}

// RelabelPlaceholder rewrites every entry still attributed to the placeholder
// label, assigning the resolved speaker. Entries that already carry a user ID
// are left alone, so repeated calls are no-ops after the first. It reports
// whether anything changed.
func (s *Store) RelabelPlaceholder(guildID, channelID, placeholder, userID, userName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionKey(guildID, channelID)]
	if !ok {
		return false, fmt.Errorf("no active caption session for %s/%s", guildID, channelID)
	}
	doc, err := loadSessionDocument(sess.path)
	if err != nil {
		return false, err
	}

	changed := false
	for i := range doc.Transcriptions {
		sp := &doc.Transcriptions[i].Speaker
		if sp.ID == "" && sp.Name == placeholder {
			sp.ID = userID
			sp.Name = userName
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	if err := writeDocumentAtomic(sess.path, doc); err != nil {
		return false, err
	}
	return true, nil
}

func loadSessionDocument(path string) (*SessionDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read caption document: %w", err)
	}
	var doc SessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse caption document %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// writeDocumentAtomic writes via a temp file and rename so readers never see
// a partially written document.
func writeDocumentAtomic(path string, doc *SessionDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode caption document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write caption document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace caption document: %w", err)
	}
	return nil
}
