// Package presence mirrors the current speaker into the bot's Discord
// status line.
package presence

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-scribe/internal/logging"
)

// NameResolver maps user IDs to display names for the status line.
type NameResolver interface {
	UserName(userID string) string
}

// Run consumes current-speaker updates until the context ends. Updates are
// best-effort: a failed status call is logged and the loop moves on.
func Run(ctx context.Context, session *discordgo.Session, updates <-chan string, names NameResolver) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-updates:
			status := ""
			if userID != "" {
				status = names.UserName(userID)
			}
			if err := session.UpdateListeningStatus(status); err != nil {
				logging.Warnw("presence update failed", "user_id", userID, "error", err)
			}
		}
	}
}
