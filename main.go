package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"ms-checkin/internal/breaker"
	"ms-checkin/internal/broadcast"
	"ms-checkin/internal/cache"
	"ms-checkin/internal/checkin/checkin_api"
	checkin_db "ms-checkin/internal/checkin/db"
	checkin "ms-checkin/internal/checkin/service"
	"ms-checkin/internal/config"
	"ms-checkin/internal/importer"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/occupancy"
	"ms-checkin/internal/sse"
	"ms-checkin/internal/upstream"
	"ms-checkin/internal/utils"
)

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	if err := run(logger); err != nil {
		logger.Fatal("APP", err.Error())
	}
}

func run(logger *logger.Logger) error {
	logger.Info("APP", "Starting Check-in Service initialization")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bunDB, err := connectPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer bunDB.Close()

	if err := runMigrations(bunDB, cfg.Database, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	backend, redisClient := connectRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := checkin_db.New(bunDB, cfg.Database.LockTimeout)
	coordinator := cache.NewCoordinator(backend, logger)
	hub := sse.NewHub()

	var broadcaster broadcast.Broadcaster = hub
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topic}
		if cfg.Kafka.SyncRequestsTopic != "" {
			topics = append(topics, cfg.Kafka.SyncRequestsTopic)
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}

		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer producer.Close()
		broadcaster = broadcast.Multi{hub, producer}
		logger.Info("KAFKA", "Kafka producer initialized successfully")

		if cfg.Kafka.SyncRequestsTopic != "" {
			consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.SyncRequestsTopic, cfg.Kafka.GroupID, logger)
			defer consumer.Close()
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, live updates stay local")
	}

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		OnStateChange: func(name string, from, to breaker.State) {
			logger.LogBreaker(name, from.String(), to.String())
		},
	})

	guarded := upstream.NewGuarded(upstream.NewHTTPClient(cfg.Upstream.BulkTimeout), breakers)
	guarded.BulkTimeout = cfg.Upstream.BulkTimeout
	guarded.CallTimeout = cfg.Upstream.CallTimeout

	counter := occupancy.NewCounter(store, coordinator, broadcaster, logger,
		occupancy.WithIdleTimeout(cfg.Occupancy.IdleTimeout))
	defer counter.Close()

	syncer := importer.NewSyncer(store, guarded, coordinator, logger)
	syncer.PerPage = cfg.Upstream.PerPage
	syncs := importer.NewManager(syncer, logger)

	service := checkin.NewService(store, coordinator, counter, broadcaster, logger)
	service.Location = cfg.Location()

	handler := checkin_api.NewHandler(service, syncs, hub, breakers, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", map[string]string{
			"node":  coordinator.NodeID(),
			"cache": coordinator.Backend().Name(),
		}))
	})
	r.Route("/api/checkin", handler.Routes)
	logger.Info("ROUTER", "Check-in routes registered under /api/checkin")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP", fmt.Sprintf("🚀 Check-in Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := coordinator.Listen(gctx); err != nil {
			logger.Warn("CACHE", fmt.Sprintf("Invalidation listener stopped: %v", err))
		}
		return nil
	})

	if consumer != nil {
		g.Go(func() error {
			return consumer.Start(gctx, func(ctx context.Context, req kafka.SyncRequest) error {
				return syncs.Start(req.EventID)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
		}
		return nil
	})

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	err = g.Wait()

	syncs.Shutdown()
	service.Wait()
	logger.Info("HTTP", "✅ Check-in Service shutdown complete")
	return err
}
