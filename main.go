package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	telego "github.com/mymmrac/telego"

	"chanwatch-bot/internal/analysis"
	"chanwatch-bot/internal/config"
	"chanwatch-bot/internal/database"
	"chanwatch-bot/internal/database/models"
	"chanwatch-bot/internal/locales"
	"chanwatch-bot/internal/media"
	"chanwatch-bot/internal/mediagroups"
	"chanwatch-bot/internal/moderation"
	"chanwatch-bot/internal/monitor"
	"chanwatch-bot/internal/notifier"
	"chanwatch-bot/internal/publisher"
	"chanwatch-bot/internal/supervisor"
	"chanwatch-bot/pkg/retry"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize localization bundle
	locales.Init(cfg.DefaultLanguage)

	// Initialize Sentry (if DSN is provided)
	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.AppEnv,
		Release:          cfg.Version,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Open SQLite and build repositories
	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}
	channelRepo := database.NewGormChannelRepository(db)
	postRepo := database.NewGormPostRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed the channel registry from MONITORED_CHANNELS
	for _, channelID := range cfg.MonitoredChannelIDs {
		if err := channelRepo.Upsert(ctx, &models.Channel{ChannelID: channelID, IsActive: true}); err != nil {
			sentry.CaptureException(err)
			log.Fatalf("Failed to register channel %d: %v", channelID, err)
		}
	}

	// Create the raw telego bot instance
	var bot *telego.Bot
	if cfg.Debug {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultDebugLogger())
	} else {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, false))
	}
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create telego bot: %v", err)
	}

	// Ingestion pipeline: downloader, group buffer, filter, coordinator
	downloader, err := media.NewDownloader(bot, cfg.MediaRoot, retry.Policy{
		Attempts:  cfg.DownloadAttempts,
		BaseDelay: cfg.DownloadBaseDelay,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	groups := mediagroups.NewManager(cfg.MediaGroupDelay, mediagroups.DefaultMaxGroupSize)
	defer groups.Shutdown()

	filter := monitor.NewActivityFilter(channelRepo, postRepo, cfg.ChannelCacheTTL, cfg.MaxPostAge)
	ownerNotifier := notifier.NewTelegramNotifier(bot, channelRepo, cfg.OwnerChatID, cfg.DefaultLanguage)

	coordinator, err := monitor.NewCoordinator(monitor.CoordinatorDeps{
		Filter:     filter,
		Groups:     groups,
		Downloader: downloader,
		Posts:      postRepo,
		Channels:   channelRepo,
		Notifier:   ownerNotifier,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	// Moderation: analyzer (restyle optional), publisher, callback handler
	var rewriter analysis.TextRewriter
	if cfg.OpenAIKey != "" {
		rewriter = analysis.NewRewriter(cfg.OpenAIKey, cfg.OpenAIModel, cfg.RewriteVoice)
	}
	analyzer := analysis.NewAnalyzer(analysis.DefaultScorer(), rewriter)
	channelPublisher := publisher.NewPublisher(bot, postRepo, cfg.TargetChannelID)
	moderationHandler := moderation.NewHandler(
		bot,
		postRepo,
		channelRepo,
		channelPublisher,
		analyzer,
		ownerNotifier,
		cfg.OwnerChatID,
		cfg.DefaultLanguage,
	)

	// Route updates to the pipeline and the moderation handler
	route := func(ctx context.Context, update telego.Update) {
		switch {
		case update.ChannelPost != nil:
			coordinator.HandleChannelPost(ctx, *update.ChannelPost)
		case update.CallbackQuery != nil:
			if !moderationHandler.HandleCallbackQuery(ctx, *update.CallbackQuery) {
				log.Printf("Unhandled callback data: %q", update.CallbackQuery.Data)
			}
		}
	}

	conn, err := supervisor.New(supervisor.Options{
		Source:  supervisor.NewLongPollingSource(bot),
		Health:  bot,
		Handler: route,
		Alerts:  ownerNotifier,
		Policy: retry.Policy{
			Attempts:  cfg.ReconnectAttempts,
			BaseDelay: cfg.ReconnectBaseDelay,
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
		RecycleInterval:   cfg.RecycleInterval,
		StateFile:         supervisor.NewStateFile(cfg.StateFilePath, cfg.MaxPostAge),
		Lang:              cfg.DefaultLanguage,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}
	channelPublisher.WithProbe(conn)

	log.Printf("Starting chanwatch-bot %s, monitoring %d channel(s)", cfg.Version, len(cfg.MonitoredChannelIDs))
	if err := conn.Run(ctx); err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Supervisor stopped: %v", err)
	}
	log.Println("Bot shutdown complete.")
}
