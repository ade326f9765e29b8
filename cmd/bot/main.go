package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"

	"github.com/discord-voice-scribe/internal/captions"
	"github.com/discord-voice-scribe/internal/config"
	"github.com/discord-voice-scribe/internal/logging"
	"github.com/discord-voice-scribe/internal/presence"
	"github.com/discord-voice-scribe/internal/summary"
	"github.com/discord-voice-scribe/internal/telemetry"
	"github.com/discord-voice-scribe/internal/transcription"
	"github.com/discord-voice-scribe/internal/transport"
	"github.com/discord-voice-scribe/internal/voice"
)

func main() {
	_ = godotenv.Load()
	logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalw("configuration error", "error", err)
	}

	store, err := captions.NewStore(cfg.CaptionDir)
	if err != nil {
		logging.Fatalw("caption store init failed", "error", err)
	}

	hub := telemetry.NewHub()
	var telemetryServer *telemetry.Server
	if cfg.TelemetryAddr != "" {
		telemetryServer = telemetry.NewServer(cfg.TelemetryAddr, hub)
		telemetryServer.Start()
	}

	queue := transcription.NewQueue(cfg.QueueSize)
	whisper := transcription.NewWhisperClient(cfg.WhisperURL, cfg.WhisperLanguage, cfg.WhisperTimeout)
	worker := transcription.NewWorker(queue, whisper, store, hub)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logging.Fatalw("discord session init failed", "error", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	names := transport.NewNameCache(session, cfg.GuildID)
	notifier := voice.NewSpeakerNotifier()
	pipeline := transport.NewPipeline(session, names, transport.Options{
		SampleRate:   cfg.SampleRate,
		ChunkSamples: cfg.ChunkSamples(),
		SilenceFlush: cfg.SilenceFlush,
		LaneCapacity: cfg.LaneCapacity,
		Sink:         queue,
		Captions:     store,
		Notifier:     notifier,
	})

	bot := &Bot{
		session:           session,
		pipeline:          pipeline,
		store:             store,
		queue:             queue,
		uploadTranscripts: cfg.IncludeTranscriptUploads,
	}
	if cfg.OpenAIKey != "" {
		bot.summarizer = summary.NewClient(cfg.OpenAIKey, cfg.OpenAIModel)
	}
	session.AddHandler(bot.HandleInteraction)

	if err := session.Open(); err != nil {
		logging.Fatalw("discord gateway open failed", "error", err)
	}
	logging.Infow("gateway connected", "user", session.State.User.Username)

	if err := bot.RegisterCommands(cfg.GuildID); err != nil {
		logging.Errorw("slash command registration failed", "error", err)
	}

	presenceCtx, stopPresence := context.WithCancel(context.Background())
	go presence.Run(presenceCtx, session, notifier.Subscribe(), names)
	go func() {
		updates := notifier.Subscribe()
		for {
			select {
			case <-presenceCtx.Done():
				return
			case userID := <-updates:
				hub.BroadcastJSON(map[string]string{"type": "speaker", "user_id": userID})
			}
		}
	}()

	// Optional unattended mode: join a configured channel on startup.
	if cfg.GuildID != "" && cfg.VoiceChannelID != "" {
		if err := pipeline.Attach(cfg.GuildID, cfg.VoiceChannelID); err != nil {
			logging.Errorw("startup voice attach failed",
				"guild_id", cfg.GuildID, "channel_id", cfg.VoiceChannelID, "error", err)
		} else if _, err := store.StartSession(cfg.GuildID, cfg.VoiceChannelID, ""); err != nil {
			logging.Errorw("startup caption session failed", "error", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Infow("shutting down")

	if guildID, channelID, ok := pipeline.Attached(); ok {
		if err := pipeline.Detach(); err != nil {
			logging.Warnw("voice detach on shutdown failed", "error", err)
		}
		if _, err := store.EndSession(guildID, channelID); err != nil {
			logging.Warnw("caption session end on shutdown failed", "error", err)
		}
	}

	queue.Close()
	select {
	case <-workerDone:
	case <-time.After(30 * time.Second):
		logging.Warnw("worker did not drain in time")
	}
	stopWorker()
	stopPresence()

	if telemetryServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := telemetryServer.Shutdown(ctx); err != nil {
			logging.Warnw("telemetry shutdown failed", "error", err)
		}
		cancel()
	}

	bot.UnregisterCommands(cfg.GuildID)
	if err := session.Close(); err != nil {
		logging.Warnw("gateway close failed", "error", err)
	}
}
