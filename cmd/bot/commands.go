package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-scribe/internal/captions"
	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/summary"
	"github.com/discord-voice-scribe/internal/transcription"
	"github.com/discord-voice-scribe/internal/transport"
)

// Bot wires slash commands to the voice pipeline and caption store.
type Bot struct {
	session    *discordgo.Session
	pipeline   *transport.Pipeline
	store      *captions.Store
	queue      *transcription.Queue
	summarizer *summary.Client // nil when summaries are disabled

	uploadTranscripts bool
	registered        []*discordgo.ApplicationCommand
}

var commandDefinitions = []*discordgo.ApplicationCommand{
	{
		Name:        "join",
		Description: "Join a voice channel and start transcribing",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Voice channel to join (defaults to yours)",
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildVoice,
					discordgo.ChannelTypeGuildStageVoice,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "title",
				Description: "Session title for the transcript",
			},
		},
	},
	{
		Name:        "leave",
		Description: "Stop transcribing and post the transcript",
	},
	{
		Name:        "ping",
		Description: "Check that the bot is alive",
	},
}

// RegisterCommands creates the slash commands, guild-scoped when a guild is
// configured so they show up immediately.
func (b *Bot) RegisterCommands(guildID string) error {
	appID := b.session.State.User.ID
	for _, def := range commandDefinitions {
		cmd, err := b.session.ApplicationCommandCreate(appID, guildID, def)
		if err != nil {
			return fmt.Errorf("registering /%s: %w", def.Name, err)
		}
		b.registered = append(b.registered, cmd)
	}
	return nil
}

// UnregisterCommands removes the commands created by RegisterCommands.
func (b *Bot) UnregisterCommands(guildID string) {
	appID := b.session.State.User.ID
	for _, cmd := range b.registered {
		if err := b.session.ApplicationCommandDelete(appID, guildID, cmd.ID); err != nil {
			logging.Warnw("failed to remove command", "command", cmd.Name, "error", err)
		}
	}
}

// HandleInteraction dispatches slash command invocations.
func (b *Bot) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	switch i.ApplicationCommandData().Name {
	case "join":
		b.handleJoin(s, i)
	case "leave":
		b.handleLeave(s, i)
	case "ping":
		respond(s, i, "pong")
	}
}

func (b *Bot) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID := i.GuildID
	channelID := ""
	title := ""
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "channel":
			channelID = opt.ChannelValue(nil).ID
		case "title":
			title = opt.StringValue()
		}
	}
	if channelID == "" {
		channelID = b.invokerVoiceChannel(guildID, i)
	}
	if channelID == "" {
		respond(s, i, "Join a voice channel first, or pass one with the channel option.")
		return
	}

	if err := b.pipeline.Attach(guildID, channelID); err != nil {
		logging.Errorw("voice attach failed", "guild_id", guildID, "channel_id", channelID, "error", err)
		respond(s, i, fmt.Sprintf("Could not join the channel: %v", err))
		return
	}
	if _, err := b.store.StartSession(guildID, channelID, title); err != nil {
		logging.Errorw("caption session start failed", "guild_id", guildID, "error", err)
		b.pipeline.Detach()
		respond(s, i, fmt.Sprintf("Could not start the transcript: %v", err))
		return
	}
	respond(s, i, "Joined. Transcribing this call.")
}

func (b *Bot) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	guildID, channelID, ok := b.pipeline.Attached()
	if !ok {
		respond(s, i, "Not in a voice channel.")
		return
	}

	// The flush and drain can take a moment; acknowledge first.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		logging.Warnw("interaction defer failed", "error", err)
	}

	if err := b.pipeline.Detach(); err != nil {
		logging.Warnw("voice detach failed", "error", err)
	}
	b.waitForDrain(10 * time.Second)

	result, err := b.store.EndSession(guildID, channelID)
	if err != nil {
		logging.Errorw("caption session end failed", "guild_id", guildID, "error", err)
		followup(s, i, "Left the channel, but the transcript could not be finalized.")
		return
	}

	msg := fmt.Sprintf("Session over: %d lines in %s.", result.Lines, result.Duration.Round(time.Second))
	if b.uploadTranscripts {
		b.followupWithTranscript(s, i, msg, result.Path)
	} else {
		followup(s, i, msg)
	}

	if b.summarizer != nil {
		b.postSummary(s, i, result.Path)
	}
}

// waitForDrain gives queued chunks a chance to be transcribed before the
// transcript is finalized.
func (b *Bot) waitForDrain(limit time.Duration) {
	deadline := time.Now().Add(limit)
	for b.queue.Depth() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	// One extra beat for the job the worker already pulled.
	time.Sleep(250 * time.Millisecond)
}

func (b *Bot) followupWithTranscript(s *discordgo.Session, i *discordgo.InteractionCreate, msg, path string) {
	f, err := os.Open(path)
	if err != nil {
		logging.Warnw("transcript open failed", "path", path, "error", err)
		followup(s, i, msg)
		return
	}
	defer f.Close()

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: msg,
		Files: []*discordgo.File{{
			Name:        filepath.Base(path),
			ContentType: "application/json",
			Reader:      f,
		}},
	})
	if err != nil {
		logging.Warnw("transcript upload failed", "path", path, "error", err)
	}
}

func (b *Bot) postSummary(s *discordgo.Session, i *discordgo.InteractionCreate, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warnw("transcript read for summary failed", "path", path, "error", err)
		return
	}
	var doc captions.SessionDocument
	if err := doc.UnmarshalJSON(data); err != nil {
		logging.Warnw("transcript parse for summary failed", "path", path, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	text, err := b.summarizer.SummarizeSession(ctx, &doc)
	if err != nil {
		logging.Warnw("session summary failed", "error", err)
		return
	}
	followup(s, i, "**Summary**\n"+text)
}

// invokerVoiceChannel finds the voice channel the invoking user is in.
func (b *Bot) invokerVoiceChannel(guildID string, i *discordgo.InteractionCreate) string {
	if i.Member == nil || i.Member.User == nil {
		return ""
	}
	guild, err := b.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == i.Member.User.ID {
			return vs.ChannelID
		}
	}
	return ""
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	})
	if err != nil {
		logging.Warnw("interaction respond failed", "error", err)
	}
}

func followup(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: msg}); err != nil {
		logging.Warnw("interaction followup failed", "error", err)
	}
}
