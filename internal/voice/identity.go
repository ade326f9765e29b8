package voice

import (
	"fmt"
	"sync"
)

// SpeakerIdentity is the attribution attached to a stream's audio: either a
// resolved user ID or a provisional placeholder label. The explicit
// two-variant shape keeps resolution logic from ever treating a placeholder
// string as a real identifier.
type SpeakerIdentity struct {
	userID string
	label  string
}

// KnownSpeaker returns an identity resolved to a concrete user.
func KnownSpeaker(userID string) SpeakerIdentity {
	return SpeakerIdentity{userID: userID}
}

// PlaceholderSpeaker returns a provisional identity carrying only a label.
func PlaceholderSpeaker(label string) SpeakerIdentity {
	return SpeakerIdentity{label: label}
}

// IsKnown reports whether the identity is bound to a user ID.
func (s SpeakerIdentity) IsKnown() bool { return s.userID != "" }

// IsPlaceholder reports whether the identity is an unresolved placeholder.
func (s SpeakerIdentity) IsPlaceholder() bool { return s.userID == "" && s.label != "" }

// IsZero reports whether the identity carries neither a user nor a label.
func (s SpeakerIdentity) IsZero() bool { return s.userID == "" && s.label == "" }

// UserID returns the resolved user ID, empty for placeholders.
func (s SpeakerIdentity) UserID() string { return s.userID }

// Label returns the placeholder label, empty for known identities.
func (s SpeakerIdentity) Label() string { return s.label }

func (s SpeakerIdentity) String() string {
	if s.IsKnown() {
		return "user:" + s.userID
	}
	if s.label != "" {
		return "placeholder:" + s.label
	}
	return "unattributed"
}

// placeholderLabel derives the deterministic provisional label for a stream
// session id so every chunk from the same unresolved stream shares one name.
func placeholderLabel(ssrc uint32) string {
	return fmt.Sprintf("Speaker %d", ssrc)
}

// IdentityMap is the mutable SSRC -> user table fed by speaking-state
// announcements and, opportunistically, by roster guesses. Reads happen on
// every tick; writes only on announcements and first-resolution, so a single
// RWMutex over the map is enough.
type IdentityMap struct {
	mu sync.RWMutex
	m  map[uint32]string
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{m: make(map[uint32]string)}
}

// Lookup returns the user bound to the SSRC, if any.
func (im *IdentityMap) Lookup(ssrc uint32) (string, bool) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	uid, ok := im.m[ssrc]
	return uid, ok
}

// Bind records ssrc -> userID, overwriting any previous binding. Protocol
// announcements always win over heuristic guesses, so callers on the
// announcement path call Bind unconditionally.
func (im *IdentityMap) Bind(ssrc uint32, userID string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.m[ssrc] = userID
}

// Remove drops the binding for a disconnected stream.
func (im *IdentityMap) Remove(ssrc uint32) {
	im.mu.Lock()
	defer im.mu.Unlock()
	delete(im.m, ssrc)
}

// SessionsFor returns every SSRC currently bound to userID. A user can own
// several live streams after reconnects.
func (im *IdentityMap) SessionsFor(userID string) []uint32 {
	im.mu.RLock()
	defer im.mu.RUnlock()
	var ssrcs []uint32
	for ssrc, uid := range im.m {
		if uid == userID {
			ssrcs = append(ssrcs, ssrc)
		}
	}
	return ssrcs
}

// Len reports the number of live bindings.
func (im *IdentityMap) Len() int {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return len(im.m)
}
