package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/GuildMirror/internal/adapter/discord"
	gmhttp "github.com/Strob0t/GuildMirror/internal/adapter/http"
	gmnats "github.com/Strob0t/GuildMirror/internal/adapter/nats"
	gmotel "github.com/Strob0t/GuildMirror/internal/adapter/otel"
	"github.com/Strob0t/GuildMirror/internal/adapter/postgres"
	"github.com/Strob0t/GuildMirror/internal/adapter/ristretto"
	"github.com/Strob0t/GuildMirror/internal/adapter/webhook"
	"github.com/Strob0t/GuildMirror/internal/config"
	"github.com/Strob0t/GuildMirror/internal/domain/mirror"
	"github.com/Strob0t/GuildMirror/internal/logger"
	"github.com/Strob0t/GuildMirror/internal/port/messagequeue"
	"github.com/Strob0t/GuildMirror/internal/resilience"
	"github.com/Strob0t/GuildMirror/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"bots", len(cfg.Discord.Bots),
		"reconcile_interval", cfg.Reconcile.Interval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	// NATS JetStream. Optional: without it the engine still syncs, it just
	// emits no audit events and ignores remote reconcile triggers.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		natsQueue, err := gmnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsQueue.Drain() }()
		queue = natsQueue
	} else {
		log.Warn("nats disabled, audit events will not be published")
	}

	// Member snapshot cache, shared by all bot sessions.
	memberCache, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer memberCache.Close()

	// Metrics
	shutdownMeter, err := gmotel.InitMeter(ctx, cfg.Logging.Service, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Interval)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	metrics, err := gmotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	alerts := webhook.New(cfg.Alert.WebhookURL)

	// --- Services ---

	store := postgres.NewStore(pool)
	registry := service.NewBotRegistry(log)
	mirrorSvc := service.NewMirrorService(store, log)
	incrementalSvc := service.NewIncrementalSyncService(store, registry, queue, metrics, log)
	reconcileSvc := service.NewReconcileService(
		store, registry, queue, metrics, alerts,
		cfg.Reconcile.Interval, cfg.Reconcile.MaxParallel, log,
	)

	// --- Bot sessions ---

	for _, bot := range cfg.Discord.Bots {
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		client := discord.NewClient(cfg.Discord.APIBaseURL, bot.Token, breaker)
		session := discord.NewSession(bot.ID, client, memberCache, cfg.Cache.MemberTTL, log)

		session.OnMemberUpdate(func(delta mirror.MemberDelta) {
			go func() {
				if err := incrementalSvc.HandleMemberUpdate(ctx, delta); err != nil {
					log.Error("incremental sync failed",
						"guild_id", delta.GuildID, "user_id", delta.UserID, "error", err)
				}
			}()
		})
		session.OnGuildsChanged(func() {
			if err := registry.RebuildIndex(ctx); err != nil {
				log.Error("guild index rebuild failed", "error", err)
			}
		})

		if err := session.Connect(ctx, cfg.Discord.GatewayURL, bot.Token); err != nil {
			return fmt.Errorf("connect bot %s: %w", bot.ID, err)
		}
		registry.Register(session)
		log.Info("bot connected", "bot_id", bot.ID)
	}

	// A guild visible to two bots at startup is a deployment error.
	if err := registry.RebuildIndex(ctx); err != nil {
		return fmt.Errorf("guild index: %w", err)
	}

	reconcileSvc.Start(ctx)

	if queue != nil {
		unsubscribe, err := queue.Subscribe(ctx, messagequeue.SubjectReconcileRequest, func(ctx context.Context, subject string, data []byte) error {
			var req messagequeue.ReconcileRequestPayload
			if err := json.Unmarshal(data, &req); err != nil {
				log.Warn("invalid reconcile request", "error", err)
				return nil
			}
			if _, err := reconcileSvc.ReconcileNow(ctx, req.GuildIDs); err != nil {
				log.Warn("requested reconciliation not run", "error", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("reconcile trigger subscriber: %w", err)
		}
		defer unsubscribe()
	}

	// --- HTTP ---

	handlers := &gmhttp.Handlers{
		Mirror:    mirrorSvc,
		Reconcile: reconcileSvc,
	}

	r := chi.NewRouter()
	r.Use(gmhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(gmhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Get("/health", healthHandler(registry, queue))

	gmhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "guildmirror-api"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports service health and the current bot footprint.
func healthHandler(registry *service.BotRegistry, queue messagequeue.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status string `json:"status"`
		Bots   int    `json:"bots"`
		NATS   bool   `json:"nats"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status: "ok",
			Bots:   registry.Len(),
			NATS:   queue != nil,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
