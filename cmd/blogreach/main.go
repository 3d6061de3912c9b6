// Command blogreach runs the outreach service: the HTTP API, the crawl and
// messaging pipelines, and the notification hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/blogreach/blogreach/internal/api"
	"github.com/blogreach/blogreach/internal/bot"
	"github.com/blogreach/blogreach/internal/clock/system"
	"github.com/blogreach/blogreach/internal/config"
	"github.com/blogreach/blogreach/internal/crawl"
	"github.com/blogreach/blogreach/internal/logging"
	"github.com/blogreach/blogreach/internal/manager"
	"github.com/blogreach/blogreach/internal/message"
	"github.com/blogreach/blogreach/internal/notify"
	"github.com/blogreach/blogreach/internal/notify/sinks"
	"github.com/blogreach/blogreach/internal/scheduler"
	"github.com/blogreach/blogreach/internal/site"
	"github.com/blogreach/blogreach/internal/storage/gcs"
	"github.com/blogreach/blogreach/internal/storage/memory"
	"github.com/blogreach/blogreach/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "blogreach: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()

	var (
		botStore     bot.BotStore
		accountStore bot.AccountStore
		logStore     bot.LogStore
	)
	if cfg.DB.DSN != "" {
		store, err := postgres.NewStore(ctx, cfg.DB.DSN, cfg.DB.CredentialSecret)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		botStore = store.Bots()
		accountStore = store.Accounts()
		logStore = store.Logs()
		logger.Info("using postgres stores")
	} else {
		accounts := memory.NewAccountStore()
		logs := memory.NewLogStore()
		botStore = memory.NewBotStore().Cascade(accounts, logs)
		accountStore = accounts
		logStore = logs
		logger.Warn("db.dsn not set, using in-memory stores")
	}

	var snapshots bot.SnapshotStore
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		defer client.Close() //nolint:errcheck
		snapshots, err = gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return err
		}
	default:
		snapshots = memory.NewBlobStore()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return err
	}
	wsSink := sinks.NewWebsocketSink(logger.Named("ws"))
	hubSinks := []notify.Sink{
		sinks.NewLogSink(logger.Named("notify")),
		promSink,
		wsSink,
	}
	if cfg.PubSub.ProjectID != "" {
		pubsubSink, err := sinks.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("create pubsub sink: %w", err)
		}
		hubSinks = append(hubSinks, pubsubSink)
	}

	hub := notify.NewHub(notify.Config{Logger: logger.Named("hub")}, hubSinks...)
	notifier := notify.NewBroadcaster(hub, clock)

	client := site.NewClient(site.Config{
		BaseURL:   cfg.Site.BaseURL,
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.Site.Timeout,
	}, logger.Named("site"))
	sessions := site.NewSessionCache(client, clock, cfg.Session.TTL, logger.Named("sessions"))

	sched, err := scheduler.New(ctx, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	if err := sched.ScheduleRecurring("session-sweep", cfg.Session.TTL, func(context.Context) {
		sessions.Sweep()
	}); err != nil {
		return err
	}

	crawler := crawl.New(sessions, client, accountStore, snapshots, notifier, clock,
		crawl.Config{PageDelay: cfg.Crawl.PageDelay}, logger.Named("crawl"))
	messenger := message.New(sessions, client, botStore, accountStore, logStore, notifier, clock,
		message.Config{
			SendDelay:    cfg.Messaging.SendDelay,
			Cooldown:     cfg.Messaging.Cooldown,
			FailureLimit: cfg.Messaging.FailureLimit,
			Text:         cfg.Messaging.Text,
			LinkURL:      cfg.Messaging.LinkURL,
		}, logger.Named("message"))

	mgr := manager.New(ctx, botStore, accountStore, logStore, sessions, crawler, messenger,
		sched, notifier, logger.Named("manager"))

	server := api.NewServer(mgr, accountStore, logStore, wsSink.Handler(), registry, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("notification hub shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
