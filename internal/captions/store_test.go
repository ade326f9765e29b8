package captions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStartAppendEnd(t *testing.T) {
	store := newTestStore(t)

	path, err := store.StartSession("g1", "c1", "Sprint Planning")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "sprint-planning")

	require.NoError(t, store.Append("g1", "c1", Entry{
		Speaker:   SpeakerInfo{ID: "u1", Name: "alice"},
		Comment:   "hello",
		Timestamp: "2026-08-26T10:00:00",
	}))

	summary, err := store.EndSession("g1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Lines)
	assert.Equal(t, "Sprint Planning", summary.Title)

	doc, err := loadSessionDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "Sprint Planning", doc.Metadata.Title)
	assert.NotEmpty(t, doc.Metadata.EndedAt)
	require.Len(t, doc.Transcriptions, 1)
	assert.Equal(t, "hello", doc.Transcriptions[0].Comment)
}

func TestAppendWithoutSession(t *testing.T) {
	store := newTestStore(t)
	err := store.Append("g1", "c1", Entry{Comment: "orphan"})
	assert.Error(t, err)
}

func TestRelabelPlaceholderIdempotent(t *testing.T) {
	store := newTestStore(t)
	path, err := store.StartSession("g1", "c1", "")
	require.NoError(t, err)

	require.NoError(t, store.Append("g1", "c1", Entry{
		Speaker: SpeakerInfo{Name: "Speaker 7"},
		Comment: "first",
	}))
	require.NoError(t, store.Append("g1", "c1", Entry{
		Speaker: SpeakerInfo{ID: "u2", Name: "bob"},
		Comment: "second",
	}))

	changed, err := store.RelabelPlaceholder("g1", "c1", "Speaker 7", "u42", "carol")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.RelabelPlaceholder("g1", "c1", "Speaker 7", "u42", "carol")
	require.NoError(t, err)
	assert.False(t, changed, "second relabel should find nothing to change")

	doc, err := loadSessionDocument(path)
	require.NoError(t, err)
	require.Len(t, doc.Transcriptions, 2)
	assert.Equal(t, "u42", doc.Transcriptions[0].Speaker.ID)
	assert.Equal(t, "carol", doc.Transcriptions[0].Speaker.Name)
	assert.Equal(t, "u2", doc.Transcriptions[1].Speaker.ID)
	assert.Equal(t, "bob", doc.Transcriptions[1].Speaker.Name)
}

func TestLegacyBareArrayDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.json")
	legacy := []Entry{{Speaker: SpeakerInfo{Name: "Speaker 3"}, Comment: "old format"}}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	doc, err := loadSessionDocument(path)
	require.NoError(t, err)
	require.Len(t, doc.Transcriptions, 1)
	assert.Equal(t, "old format", doc.Transcriptions[0].Comment)
}

func TestSlugifyTitle(t *testing.T) {
	assert.Equal(t, "sprint-planning", slugifyTitle("Sprint Planning"))
	assert.Equal(t, "", slugifyTitle("!!!"))
	assert.Equal(t, "a-b", slugifyTitle("  a  b  "))
}
