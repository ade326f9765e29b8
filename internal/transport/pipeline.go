package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/voice"
)

// Options carries the tuning the pipeline hands to each aggregator.
type Options struct {
	SampleRate   int
	ChunkSamples int
	SilenceFlush time.Duration
	LaneCapacity int

	Sink     voice.JobSink
	Captions voice.CaptionRelabeler
	Notifier *voice.SpeakerNotifier
}

// Pipeline manages at most one live voice channel attachment: the voice
// connection, the packet receiver, the roster fed by gateway events, and
// the aggregator they drive.
type Pipeline struct {
	session *discordgo.Session
	names   *NameCache
	opts    Options

	mu     sync.Mutex
	active *attachment
}

type attachment struct {
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection
	agg       *voice.Aggregator
	roster    *voice.VoiceRoster

	cancel    context.CancelFunc
	recvDone  chan struct{}
	removeVSU func()
}

func NewPipeline(session *discordgo.Session, names *NameCache, opts Options) *Pipeline {
	return &Pipeline{session: session, names: names, opts: opts}
}

// Attach joins the voice channel, seeds the roster with its current
// occupants, and starts decoding. Only one attachment may be live.
func (p *Pipeline) Attach(guildID, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return fmt.Errorf("already attached to channel %s", p.active.channelID)
	}

	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return fmt.Errorf("joining voice channel: %w", err)
	}

	roster := voice.NewVoiceRoster(guildID)
	roster.Reset(channelID, p.channelOccupants(guildID, channelID))

	agg := voice.NewAggregator(voice.Options{
		GuildID:      guildID,
		ChannelID:    channelID,
		ChunkSamples: p.opts.ChunkSamples,
		SampleRate:   p.opts.SampleRate,
		SilenceFlush: p.opts.SilenceFlush,
		LaneCapacity: p.opts.LaneCapacity,
		Sink:         p.opts.Sink,
		Names:        p.names,
		Captions:     p.opts.Captions,
		Roster:       roster,
		Notifier:     p.opts.Notifier,
	})

	att := &attachment{
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		agg:       agg,
		roster:    roster,
		recvDone:  make(chan struct{}),
	}

	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		agg.OnSpeaking(voice.SpeakingUpdate{
			SSRC:     uint32(su.SSRC),
			UserID:   su.UserID,
			Speaking: su.Speaking,
		})
	})
	att.removeVSU = p.session.AddHandler(func(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
		p.handleVoiceState(att, vsu)
	})

	ctx, cancel := context.WithCancel(context.Background())
	att.cancel = cancel
	rcv := newReceiver(agg, p.opts.SampleRate, 2*p.opts.SilenceFlush)
	go func() {
		defer close(att.recvDone)
		rcv.run(ctx, vc.OpusRecv)
	}()

	p.active = att
	logging.Infow("voice pipeline attached",
		append(logging.GuildFields(guildID, ""), logging.ChannelFields(channelID, "")...)...)
	return nil
}

// Detach stops decoding, flushes every stream, and leaves the channel.
func (p *Pipeline) Detach() error {
	p.mu.Lock()
	att := p.active
	p.active = nil
	p.mu.Unlock()
	if att == nil {
		return fmt.Errorf("not attached to a voice channel")
	}

	att.cancel()
	<-att.recvDone
	att.removeVSU()
	att.agg.Detach()
	att.roster.Clear()

	if err := att.vc.Disconnect(); err != nil {
		logging.Warnw("voice disconnect failed", "channel_id", att.channelID, "error", err)
	}
	logging.Infow("voice pipeline detached",
		append(logging.GuildFields(att.guildID, ""), logging.ChannelFields(att.channelID, "")...)...)
	return nil
}

// Attached reports the live guild/channel pair, if any.
func (p *Pipeline) Attached() (guildID, channelID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return "", "", false
	}
	return p.active.guildID, p.active.channelID, true
}

func (p *Pipeline) handleVoiceState(att *attachment, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.GuildID != att.guildID {
		return
	}
	if p.session.State.User != nil && vsu.UserID == p.session.State.User.ID {
		return
	}

	wasInChannel := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == att.channelID
	switch {
	case vsu.ChannelID == att.channelID:
		// Mute, deafen, and suppress toggles fire this event too; only a
		// transition into the channel counts as a join, otherwise a user
		// already confirmed as a speaker would land back in the pending
		// queue and skew the guess heuristics.
		if !wasInChannel {
			att.roster.NoteJoin(att.channelID, vsu.UserID)
		}
	case wasInChannel:
		att.roster.NoteLeave(vsu.UserID)
		att.agg.OnDisconnect(voice.Disconnect{UserID: vsu.UserID})
	}
}

// channelOccupants lists non-bot users currently in the channel according
// to gateway state.
func (p *Pipeline) channelOccupants(guildID, channelID string) []string {
	guild, err := p.session.State.Guild(guildID)
	if err != nil || guild == nil {
		logging.Warnw("guild state unavailable, roster starts empty", "guild_id", guildID, "error", err)
		return nil
	}
	botID := ""
	if p.session.State.User != nil {
		botID = p.session.State.User.ID
	}
	var users []string
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		users = append(users, vs.UserID)
	}
	return users
}
