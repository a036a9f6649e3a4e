// cmd/forecastd is the forecasting service's single binary: it wires the
// Window Loader, Prediction Orchestrator, Training Queue, Drift/Health
// Monitor, Regime Similarity Store, and Subscription Hub behind the
// internal/api HTTP/WS surface, replacing the teacher's five separate
// per-concern binaries with one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketforecast/config"
	"marketforecast/internal/api"
	"marketforecast/internal/bot"
	"marketforecast/internal/cache"
	internalconfig "marketforecast/internal/config"
	"marketforecast/internal/clock"
	"marketforecast/internal/health"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/logger"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/notification"
	"marketforecast/internal/orchestrator"
	"marketforecast/internal/similarity"
	"marketforecast/internal/store"
	"marketforecast/internal/trainqueue"
	"marketforecast/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "forecastd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log, err := logger.New("forecastd", envOr("LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("forecastd: logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	sqlStore, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("forecastd: open sqlite store: %w", err)
	}
	defer sqlStore.Close()

	var archive *store.MongoArchive
	if cfg.MongoURI != "" {
		archive, err = store.NewMongoArchive(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return fmt.Errorf("forecastd: open mongo archive: %w", err)
		}
		defer archive.Close()
	} else {
		log.Warn("forecastd: MONGO_URI unset, training records will never be cold-archived")
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	hot, err := cache.NewHot(cfg.RedisAddr, cfg.RedisPassword, 0, cfg.HotCacheTTL, log)
	if err != nil {
		return fmt.Errorf("forecastd: connect hot cache: %w", err)
	}
	warm := cache.NewWarm(cfg.WarmCacheCapacity)

	var cold *cache.Cold
	if cfg.S3Bucket != "" {
		cold, err = cache.NewCold(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return fmt.Errorf("forecastd: open cold archive: %w", err)
		}
	} else {
		log.Warn("forecastd: S3_BUCKET unset, cold cache tier disabled")
	}

	creds, err := upstream.LoadCredentials(ctx, cfg.AWSRegion, cfg.AngelSecretsID, upstream.Credentials{
		APIKey:     cfg.AngelAPIKey,
		ClientCode: cfg.AngelClientCode,
		Password:   cfg.AngelPassword,
		TOTPSecret: cfg.AngelTOTPSecret,
	})
	if err != nil {
		return fmt.Errorf("forecastd: load primary credentials: %w", err)
	}
	primary := upstream.NewPrimaryAdapter(creds, log)
	fallback := upstream.NewFallbackAdapter(cfg.BinanceAPIKey, cfg.BinanceAPISecret)
	chain := upstream.NewChain(m, log, primary, fallback)

	cal := clock.NewNSECalendar(clock.DefaultNSEHolidays2026())

	ldr := loader.New(hot, warm, cold, sqlStore, chain, cal, cfg.MinCandlesPerWindow, m, log)

	bots := []bot.Bot{
		bot.NewTrendBot(9, 21),
		bot.NewNaiveBot(),
	}

	h := hub.New(m, log)
	tun := internalconfig.NewStore(internalconfig.DefaultTunables())

	var simStore *similarity.Store
	if cfg.SimilarityDSN != "" {
		simStore, err = similarity.Open(cfg.SimilarityDSN, log)
		if err != nil {
			log.Warn("forecastd: regime similarity store unavailable, continuing without it", zap.Error(err))
			simStore = nil
		} else {
			defer simStore.Close()
		}
	} else {
		log.Warn("forecastd: SIMILARITY_DSN unset, regime similarity lookups disabled")
	}

	var archiveStore model.ArchiveStore
	if archive != nil {
		archiveStore = archive
	}

	newID := func() string { return uuid.NewString() }

	orch := orchestrator.New(ldr, bots, sqlStore, h, tun, newID, simStore, m, log)
	queue := trainqueue.New(ldr, bots, sqlStore, archiveStore, h, newID, m, log)
	monitor := health.NewMonitor(sqlStore, tun, m, log).WithNotifier(buildNotifier(cfg))
	monitor.Start(ctx, 5*time.Minute)

	httpStatus := metrics.NewHealthStatus()
	httpStatus.StartLivenessChecker(ctx, redisPinger{redisClient}, sqlPinger{sqlStore}, 15*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, httpStatus)
	metricsSrv.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		metricsSrv.Stop(stopCtx)
	}()

	apiServer := api.NewServer(ldr, orch, queue, sqlStore, sqlStore, monitor, h, newID, m, log)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer.Router()}

	go func() {
		log.Info("forecastd: http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("forecastd: http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("forecastd: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queue.Stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forecastd: http server shutdown error", zap.Error(err))
	}

	log.Info("forecastd: shutdown complete")
	return nil
}

// buildNotifier composes whichever alert channels are configured. A nil
// Notifier (neither configured) is a valid no-op for health.Monitor.
func buildNotifier(cfg *config.Config) notification.Notifier {
	var notifiers []notification.Notifier
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return fanoutNotifier(notifiers)
	}
}

// fanoutNotifier sends the same alert to every configured channel,
// returning the first error encountered (delivery to the rest still runs).
type fanoutNotifier []notification.Notifier

func (f fanoutNotifier) Send(ctx context.Context, alert notification.Alert) error {
	var firstErr error
	for _, n := range f {
		if err := n.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type redisPinger struct{ client *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

type sqlPinger struct{ store *store.SQLite }

func (p sqlPinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}
