package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuessSpeakerSinglePendingConsumed(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice"})

	userID, ok := roster.GuessSpeaker("c1")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)

	// Pending entry consumed, but alice is still the only participant, so
	// the occupancy heuristic keeps picking her.
	userID, ok = roster.GuessSpeaker("c1")
	assert.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestGuessSpeakerAmbiguousOccupancy(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice", "bob"})

	_, ok := roster.GuessSpeaker("c1")
	assert.False(t, ok, "two pending joins must not produce a guess")

	roster.NoteSpoke("alice")
	roster.NoteSpoke("bob")
	_, ok = roster.GuessSpeaker("c1")
	assert.False(t, ok, "two participants must not produce a guess")
}

func TestGuessSpeakerPendingScopedToChannel(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice"})
	roster.NoteJoin("c2", "bob")

	userID, ok := roster.GuessSpeaker("c2")
	assert.True(t, ok)
	assert.Equal(t, "bob", userID)
}

func TestNoteSpokeClearsPending(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice", "bob"})
	roster.NoteSpoke("bob")

	userID, ok := roster.GuessSpeaker("c1")
	assert.True(t, ok, "after bob confirmed, alice is the only pending join")
	assert.Equal(t, "alice", userID)
}

func TestNoteLeaveRemovesCandidate(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice"})
	roster.NoteLeave("alice")

	_, ok := roster.GuessSpeaker("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, roster.ParticipantCount())
}

func TestResetDropsPreviousCallState(t *testing.T) {
	roster := NewVoiceRoster("g1")
	roster.Reset("c1", []string{"alice", "bob"})
	roster.NoteSpoke("alice")

	roster.Reset("c2", []string{"carol"})

	userID, ok := roster.GuessSpeaker("c2")
	assert.True(t, ok)
	assert.Equal(t, "carol", userID)

	_, ok = roster.GuessSpeaker("c1")
	assert.False(t, ok, "participants from the previous call must be gone")
	assert.Equal(t, 1, roster.ParticipantCount())
}
