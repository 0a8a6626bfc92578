package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/apimonitor/internal/breaker"
	"github.com/hamed0406/apimonitor/internal/config"
	"github.com/hamed0406/apimonitor/internal/cooldown"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/httpapi"
	"github.com/hamed0406/apimonitor/internal/logging"
	"github.com/hamed0406/apimonitor/internal/notify"
	"github.com/hamed0406/apimonitor/internal/probe"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	"github.com/hamed0406/apimonitor/internal/repo/postgres"
	"github.com/hamed0406/apimonitor/internal/retry"
	"github.com/hamed0406/apimonitor/internal/scheduler"
	"github.com/hamed0406/apimonitor/internal/uptime"
)

type stores struct {
	endpoints repo.EndpointStore
	results   repo.ResultStore
	notifyLog repo.NotificationLogStore
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store_open_failed", zap.Error(err))
	}
	defer cleanup()

	if err := seedEndpoints(ctx, st.endpoints, cfg.Endpoints); err != nil {
		logger.Fatal("seed_failed", zap.Error(err))
	}

	gate, revalidator := newCooldownGate(cfg, logger)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	}, logger)

	prober := probe.New(breakers, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Multiplier:  cfg.Retry.Multiplier,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, cfg.Retry.Enabled, cfg.Monitoring.MaxConcurrentChecks, logger)

	notifier := notify.NewManager(
		buildChannels(cfg.Notifications),
		st.notifyLog,
		cfg.Notifications.SendRecovery,
		logger,
	)

	sched := scheduler.New(st.endpoints, st.results, prober, gate, notifier, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("scheduler_start_failed", zap.Error(err))
	}

	api := &httpapi.Server{
		Logger:    logger,
		Endpoints: st.endpoints,
		Results:   st.results,
		Checker:   prober,
		Jobs:      sched,
		Stats:     uptime.New(st.endpoints, st.results),
		Breakers:  breakers,
		Cooldown:  revalidator,
		APIKey:    cfg.Server.APIKey,
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listen", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("exit_with_error", zap.Error(err))
	}
	logger.Info("stopped")
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("store_memory")
		m := memory.New()
		return stores{endpoints: m, results: m, notifyLog: m}, func() {}, nil
	}

	pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return stores{}, nil, err
	}
	logger.Info("store_postgres")
	return stores{endpoints: pg, results: pg, notifyLog: pg}, pg.Close, nil
}

// newCooldownGate prefers redis so cooldown state survives restarts and is
// shared across replicas; without a redis URL (or when it is unreachable at
// boot) alerts are tracked in process memory.
func newCooldownGate(cfg *config.Config, logger *zap.Logger) (cooldown.Gate, httpapi.Revalidator) {
	if cfg.RedisURL == "" {
		return cooldown.NewLocal(cfg.Notifications.Cooldown), nil
	}
	r, err := cooldown.NewRedis(cfg.RedisURL, cfg.Notifications.Cooldown, logger)
	if err != nil {
		logger.Warn("cooldown_redis_unavailable", zap.Error(err))
		return cooldown.NewLocal(cfg.Notifications.Cooldown), nil
	}
	return r, r
}

func buildChannels(cfg config.NotificationsConfig) []notify.Channel {
	var out []notify.Channel
	if cfg.SlackWebhookURL != "" {
		out = append(out, notify.Channel{Name: "slack", Notifier: notify.NewSlack(cfg.SlackWebhookURL)})
	}
	if cfg.Webhook.URL != "" {
		w := notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.RetryCount, cfg.Webhook.RetryDelay)
		if cfg.Webhook.Method != "" {
			w.Method = cfg.Webhook.Method
		}
		out = append(out, notify.Channel{Name: "webhook", Notifier: w})
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		out = append(out, notify.Channel{Name: "telegram", Notifier: notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)})
	}
	return out
}

// seedEndpoints upserts config-declared endpoints by name so restarts do not
// duplicate them and edits in the file take effect.
func seedEndpoints(ctx context.Context, store repo.EndpointStore, seeds []config.EndpointConfig) error {
	if len(seeds) == 0 {
		return nil
	}
	existing, err := store.List(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]domain.Endpoint, len(existing))
	for _, ep := range existing {
		byName[ep.Name] = ep
	}

	for _, seed := range seeds {
		ep := domain.Endpoint{
			Name:           seed.Name,
			URL:            seed.URL,
			Method:         seed.Method,
			Interval:       seed.Interval,
			Timeout:        seed.Timeout,
			ExpectedStatus: seed.ExpectedStatus,
			Headers:        seed.Headers,
			Body:           []byte(seed.Body),
			Active:         seed.Active == nil || *seed.Active,
		}
		if ep.ExpectedStatus == 0 {
			ep.ExpectedStatus = http.StatusOK
		}

		if cur, ok := byName[seed.Name]; ok {
			ep.ID = cur.ID
			if err := store.Update(ctx, &ep); err != nil {
				return err
			}
			continue
		}
		if err := store.Add(ctx, &ep); err != nil {
			return err
		}
	}
	return nil
}
