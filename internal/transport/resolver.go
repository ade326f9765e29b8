// Package transport adapts the Discord gateway and voice UDP stream to the
// engine's event types, keeping discordgo out of the core packages.
package transport

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-scribe/internal/logging"
)

const nameCacheTTL = 5 * time.Minute

type cachedName struct {
	name    string
	fetched time.Time
}

// NameCache resolves user IDs to display names, preferring the guild
// nickname, with a TTL cache in front of the state and REST lookups.
type NameCache struct {
	session *discordgo.Session
	guildID string

	mu    sync.Mutex
	cache map[string]cachedName
}

func NewNameCache(session *discordgo.Session, guildID string) *NameCache {
	return &NameCache{
		session: session,
		guildID: guildID,
		cache:   make(map[string]cachedName),
	}
}

func (c *NameCache) UserName(userID string) string {
	if userID == "" {
		return ""
	}

	c.mu.Lock()
	if hit, ok := c.cache[userID]; ok && time.Since(hit.fetched) < nameCacheTTL {
		c.mu.Unlock()
		return hit.name
	}
	c.mu.Unlock()

	name := c.resolve(userID)
	c.mu.Lock()
	c.cache[userID] = cachedName{name: name, fetched: time.Now()}
	c.mu.Unlock()
	return name
}

func (c *NameCache) resolve(userID string) string {
	if member, err := c.session.State.Member(c.guildID, userID); err == nil && member != nil {
		if member.Nick != "" {
			return member.Nick
		}
		if member.User != nil && member.User.Username != "" {
			return member.User.Username
		}
	}
	if member, err := c.session.GuildMember(c.guildID, userID); err == nil && member != nil {
		if member.Nick != "" {
			return member.Nick
		}
		if member.User != nil && member.User.Username != "" {
			return member.User.Username
		}
	}
	if user, err := c.session.User(userID); err == nil && user != nil && user.Username != "" {
		return user.Username
	}
	logging.Debugw("could not resolve display name, falling back to ID", logging.UserFields(userID, "")...)
	return userID
}
