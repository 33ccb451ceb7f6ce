package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"

	"github.com/lendfield/rcs-dispatch/internal/api"
	"github.com/lendfield/rcs-dispatch/internal/cache"
	"github.com/lendfield/rcs-dispatch/internal/config"
	"github.com/lendfield/rcs-dispatch/internal/dispatch"
	"github.com/lendfield/rcs-dispatch/internal/gateway"
	"github.com/lendfield/rcs-dispatch/internal/intake"
	"github.com/lendfield/rcs-dispatch/internal/leads"
	"github.com/lendfield/rcs-dispatch/internal/model"
	"github.com/lendfield/rcs-dispatch/internal/render"
	"github.com/lendfield/rcs-dispatch/internal/repo"
	"github.com/lendfield/rcs-dispatch/internal/resolver"
	"github.com/lendfield/rcs-dispatch/internal/rules"
	"github.com/lendfield/rcs-dispatch/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(rootCtx, cfg.Database.PostgresURL)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
	if err := pool.Ping(pingCtx); err != nil {
		cancel()
		log.Fatalf("ping postgres: %v", err)
	}
	cancel()

	queue := repo.NewPostgres(pool)
	if err := queue.EnsureSchema(rootCtx); err != nil {
		log.Fatalf("queue schema: %v", err)
	}

	ruleStore := rules.NewPostgres(pool)
	if err := ruleStore.EnsureSchema(rootCtx); err != nil {
		log.Fatalf("rules schema: %v", err)
	}

	leadStore := leads.NewPostgres(pool)

	registry, err := buildRegistry(rootCtx, ruleStore)
	if err != nil {
		log.Fatalf("build template registry: %v", err)
	}

	gw := gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	d := dispatch.New(queue, ruleStore, leadStore, registry, gw, dispatch.Options{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BatchSize:   cfg.Dispatch.BatchSize,
		Concurrency: cfg.Dispatch.Concurrency,
		SendTimeout: cfg.Gateway.Timeout,
	})

	var receipts cache.ReceiptCache = cache.Noop{}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		receipts = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}
	d.WithHooks(
		func(ctx context.Context, entry model.QueueEntry, _ gateway.Result) error {
			return receipts.StoreReceipt(ctx, entry.ID, entry.LeadID, "sent", time.Now())
		},
		func(ctx context.Context, entry model.QueueEntry, _ string) error {
			return receipts.StoreReceipt(ctx, entry.ID, entry.LeadID, "failed", time.Now())
		},
	)

	sched, err := scheduler.New(cfg.Scheduler.Interval, func(ctx context.Context) error {
		_, err := d.Tick(ctx)
		return err
	})
	if err != nil {
		log.Fatalf("create scheduler: %v", err)
	}
	sched.Start()

	if cfg.Intake.Enabled {
		conn, err := amqp.Dial(cfg.Intake.URL)
		if err != nil {
			log.Fatalf("connect amqp: %v", err)
		}
		defer conn.Close()

		consumer := intake.NewConsumer(resolver.New(ruleStore), queue, cfg.Intake.Queue)
		go func() {
			if err := consumer.Run(rootCtx, conn); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("intake consumer stopped", "error", err)
			}
		}()
	}

	h := api.NewHandler(queue, ruleStore, d, sched)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("rcs dispatch listening",
			"addr", cfg.Server.Address,
			"interval", cfg.Scheduler.Interval.String(),
			"redis", cfg.Redis.Enabled,
			"intake", cfg.Intake.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-rootCtx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	sched.Stop()
	slog.Info("bye")
}

// buildRegistry registers one offer template per lender that appears in any
// configured distribution rule, plus the shared fallback campaign template.
// Lenders added to a rule after startup need a restart to get a template;
// until then their entries fail fast at render time.
func buildRegistry(ctx context.Context, provider rules.Provider) (*render.Registry, error) {
	registry := render.NewRegistry()
	registry.RegisterFallback(render.NewCampaignInvite())

	configured, err := provider.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range configured {
		for _, lp := range rule.LenderPriority {
			registry.RegisterLender(lp.Lender, render.NewLenderOffer(lp.Lender))
		}
	}
	return registry, nil
}
