package voice

import (
	"sync"

	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/telemetry"
)

// CaptionRelabeler rewrites stored placeholder attributions once the real
// speaker is known. Implemented by the captions store.
type CaptionRelabeler interface {
	RelabelPlaceholder(guildID, channelID, placeholder, userID, userName string) (bool, error)
}

// relabeler serializes relabel attempts per placeholder label so concurrent
// promotions of the same label cannot interleave store updates.
type relabeler struct {
	guildID   string
	channelID string
	store     CaptionRelabeler
	names     NameResolver

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRelabeler(guildID, channelID string, store CaptionRelabeler, names NameResolver) *relabeler {
	return &relabeler{
		guildID:   guildID,
		channelID: channelID,
		store:     store,
		names:     names,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (r *relabeler) labelLock(label string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[label]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[label] = lock
	}
	return lock
}

// relabel runs in the background; failures are logged, never surfaced to
// the audio path.
func (r *relabeler) relabel(placeholder, userID string) {
	if r.store == nil {
		return
	}
	go func() {
		lock := r.labelLock(placeholder)
		lock.Lock()
		defer lock.Unlock()

		name := r.names.UserName(userID)
		changed, err := r.store.RelabelPlaceholder(r.guildID, r.channelID, placeholder, userID, name)
		if err != nil {
			logging.Warnw("caption relabel failed",
				"placeholder", placeholder,
				"user_id", userID,
				"error", err,
			)
			return
		}
		if changed {
			telemetry.PlaceholderRelabeled()
			logging.Infow("captions relabeled",
				append(logging.UserFields(userID, name), "placeholder", placeholder)...)
		}
	}()
}
