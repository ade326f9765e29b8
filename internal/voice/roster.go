package voice

import (
	"sync"
	"time"

	"github.com/discord-voice-scribe/internal/logging"
)

// VoiceRoster tracks who is in the monitored voice channel and which of them
// have not yet been confirmed as an audio source. It backs the heuristic
// identity guesses the aggregator makes when the transport has announced no
// SSRC mapping yet.
//
// One mutex guards both the participant table and the pending queue:
// membership churn is rare next to audio ticks, and guesses need a
// consistent snapshot of both structures.
type VoiceRoster struct {
	guildID string

	mu           sync.Mutex
	participants map[string]*participantRecord
	pending      []pendingJoin // join order preserved
}

type participantRecord struct {
	channelID   string
	joinedAt    time.Time
	lastSpokeAt time.Time
}

type pendingJoin struct {
	userID    string
	channelID string
	joinedAt  time.Time
}

func NewVoiceRoster(guildID string) *VoiceRoster {
	return &VoiceRoster{
		guildID:      guildID,
		participants: make(map[string]*participantRecord),
	}
}

// Reset atomically replaces the whole roster with the given channel
// occupants. Called once per call-join so state from a previous call in the
// same guild can never leak into the new one. Every seeded occupant starts
// pending until confirmed as an audio source.
func (r *VoiceRoster) Reset(channelID string, initialUsers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.participants = make(map[string]*participantRecord, len(initialUsers))
	r.pending = r.pending[:0]
	for _, userID := range initialUsers {
		r.participants[userID] = &participantRecord{channelID: channelID, joinedAt: now}
		r.pending = append(r.pending, pendingJoin{userID: userID, channelID: channelID, joinedAt: now})
	}
	logging.Debugw("voice roster reset",
		"guild_id", r.guildID, "channel_id", channelID, "participants", len(r.participants))
}

// NoteJoin records a user entering the tracked channel. Re-joins restart the
// pending window.
func (r *VoiceRoster) NoteJoin(channelID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.participants[userID] = &participantRecord{channelID: channelID, joinedAt: now}
	r.removePendingLocked(userID)
	r.pending = append(r.pending, pendingJoin{userID: userID, channelID: channelID, joinedAt: now})
	logging.Debugw("participant joined tracked voice channel",
		"guild_id", r.guildID, "channel_id", channelID, "user_id", userID)
}

// NoteLeave removes a user from both the participant table and the pending
// queue, from whatever state they were in.
func (r *VoiceRoster) NoteLeave(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, userID)
	r.removePendingLocked(userID)
	logging.Debugw("participant left tracked channel", "guild_id", r.guildID, "user_id", userID)
}

// NoteSpoke confirms a user as an audio source: stamps their record and
// drops them from the pending queue.
func (r *VoiceRoster) NoteSpoke(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.participants[userID]; ok {
		rec.lastSpokeAt = time.Now()
	}
	r.removePendingLocked(userID)
}

// GuessSpeaker returns a heuristic speaker candidate for the channel, or
// false when the situation is ambiguous. Exactly one pending join in the
// channel wins and is consumed; otherwise exactly one tracked participant in
// the channel wins (without consuming anything). Two or more candidates mean
// no guess.
func (r *VoiceRoster) GuessSpeaker(channelID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.takePendingLocked(channelID); ok {
		logging.Debugw("pending join assigned as speaker candidate",
			"guild_id", r.guildID, "channel_id", channelID, "user_id", userID)
		return userID, true
	}

	var candidate string
	count := 0
	for userID, rec := range r.participants {
		if rec.channelID != channelID {
			continue
		}
		candidate = userID
		count++
		if count > 1 {
			return "", false
		}
	}
	if count == 1 {
		logging.Debugw("single participant heuristic picked speaker",
			"guild_id", r.guildID, "channel_id", channelID, "user_id", candidate)
		return candidate, true
	}
	return "", false
}

// ParticipantCount reports the tracked membership size.
func (r *VoiceRoster) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Clear empties the roster; used when the bot leaves the call.
func (r *VoiceRoster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[string]*participantRecord)
	r.pending = r.pending[:0]
}

func (r *VoiceRoster) removePendingLocked(userID string) {
	for i, p := range r.pending {
		if p.userID == userID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// takePendingLocked consumes the single pending join for the channel. A
// queue with more than one entry is ambiguous and yields nothing.
func (r *VoiceRoster) takePendingLocked(channelID string) (string, bool) {
	matching := -1
	for i, p := range r.pending {
		if p.channelID != channelID {
			continue
		}
		if matching >= 0 {
			return "", false
		}
		matching = i
	}
	if matching < 0 {
		return "", false
	}
	userID := r.pending[matching].userID
	r.pending = append(r.pending[:matching], r.pending[matching+1:]...)
	return userID, true
}
