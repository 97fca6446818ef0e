// Command checkin-sync pulls one event from the upstream ticketing platform
// into the check-in database and exits. It is meant for cron jobs and for
// operators recovering an event while the service itself is down. With
// --ticket it only prints the platform's view of one ticket.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkin/internal/breaker"
	"ms-checkin/internal/cache"
	checkin_db "ms-checkin/internal/checkin/db"
	"ms-checkin/internal/config"
	"ms-checkin/internal/importer"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/upstream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var eventID int64
	var perPage int
	var noCache bool
	var checksum string

	flagSet := pflag.NewFlagSet("checkin-sync", pflag.ContinueOnError)
	flagSet.Int64Var(&eventID, "event", 0, "id of the event to synchronize (required)")
	flagSet.IntVar(&perPage, "per-page", 0, "tickets per upstream page (default from UPSTREAM_PER_PAGE)")
	flagSet.BoolVar(&noCache, "no-cache", false, "skip Redis; running services keep stale entries until their TTLs expire")
	flagSet.StringVar(&checksum, "ticket", "", "print the upstream status of the ticket with this checksum instead of syncing")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if eventID <= 0 {
		return errors.New("--event is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if perPage > 0 {
		cfg.Upstream.PerPage = perPage
	}

	log := logger.NewLogger()
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	var backend cache.Backend = cache.NoopBackend{}
	if cfg.Redis.Enabled && !noCache {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", fmt.Sprintf("Redis unreachable, cache invalidations skipped: %v", err))
		} else {
			backend = cache.NewRedisBackend(client)
		}
	}

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		OnStateChange: func(name string, from, to breaker.State) {
			log.LogBreaker(name, from.String(), to.String())
		},
	})
	guarded := upstream.NewGuarded(upstream.NewHTTPClient(cfg.Upstream.BulkTimeout), breakers)
	guarded.BulkTimeout = cfg.Upstream.BulkTimeout
	guarded.CallTimeout = cfg.Upstream.CallTimeout

	syncer := importer.NewSyncer(
		checkin_db.New(bunDB, cfg.Database.LockTimeout),
		guarded,
		cache.NewCoordinator(backend, log),
		log,
	)
	syncer.PerPage = cfg.Upstream.PerPage

	if checksum != "" {
		st, err := syncer.TicketStatus(ctx, eventID, checksum)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", checksum, err)
		}
		return json.NewEncoder(os.Stdout).Encode(st)
	}

	// Ctrl-C cancels between pages so committed pages stay in place.
	ctl := importer.NewControl()
	go func() {
		<-ctx.Done()
		ctl.Cancel()
	}()

	report, err := syncer.Run(context.WithoutCancel(ctx), eventID, ctl)
	if err != nil {
		return fmt.Errorf("sync event %d: %w", eventID, err)
	}
	return json.NewEncoder(os.Stdout).Encode(report)
}
