// Command chandragen is the ChandraGen daemon binary.
//
// Subcommands:
//
//	serve    — run the pool supervisor plus the ops HTTP listener
//	worker   — child-process entry point spawned by the supervisor (hidden)
//	migrate  — run pending database migrations and exit
//	enqueue  — insert a job into the queue and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/thanosengine/ChandraGen/internal/config"
	"github.com/thanosengine/ChandraGen/internal/job"
	"github.com/thanosengine/ChandraGen/internal/ops"
	"github.com/thanosengine/ChandraGen/internal/pool"
	"github.com/thanosengine/ChandraGen/internal/proto"
	"github.com/thanosengine/ChandraGen/internal/store"
	"github.com/thanosengine/ChandraGen/internal/worker"
	"github.com/thanosengine/ChandraGen/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "chandragen",
		Short: "ChandraGen — self-scaling document conversion worker pool",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		enqueueCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pool supervisor and the ops HTTP listener",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(db)
	reg := job.Builtin(st)

	bin := cfg.WorkerBin
	if bin == "" {
		if bin, err = os.Executable(); err != nil {
			return fmt.Errorf("resolve worker binary: %w", err)
		}
	}

	sup := pool.New(pool.Config{
		MinWorkers:     cfg.MinWorkers,
		MaxWorkers:     cfg.MaxWorkers,
		TickInterval:   cfg.TickInterval,
		ControlTimeout: cfg.ControlTimeout,
	}, st, reg, pool.ExecSpawner(bin))

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		if err := sup.Run(ctx); err != nil {
			slog.Error("supervisor error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ops.NewRouter(sup, st),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("ops server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("ops server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops server shutdown", "error", err)
	}

	// Let the control loop dispatch its per-worker stop coordinators, then
	// wait for all of them to finish.
	<-supDone
	sup.Wait()
	slog.Info("pool stopped")
	return nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker process (spawned by the supervisor)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, workerID)
		},
	}
	cmd.Flags().StringVar(&workerID, "worker-id", "", "identity assigned by the supervisor")
	return cmd
}

func runWorker(cmd *cobra.Command, workerID string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Logs go to stderr only; stdout carries the control protocol.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	id := uuid.New()
	if workerID != "" {
		if id, err = uuid.Parse(workerID); err != nil {
			return fmt.Errorf("worker-id: %w", err)
		}
	}

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(db)
	conn := proto.NewConn(os.Stdin, os.Stdout)
	w := worker.New(id, st, job.Builtin(st), conn, cfg.QueueBackoff)

	// A runner failure or unknown job type returns an error here, and the
	// process exits non-zero with its claim still held. That is the crash
	// signal the supervisor's reconciliation recovers from.
	return w.Run(ctx)
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.Info("running migrations")

	// Source: embedded SQL files from the migrations package.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide. No pooling needed for a one-shot run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var (
		jobType string
		payload string
		input   string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Insert a job into the queue and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// --input/--output are shorthand for a convert_document payload.
			if input != "" || output != "" {
				b, err := json.Marshal(map[string]string{
					"input_path":  input,
					"output_path": output,
				})
				if err != nil {
					return fmt.Errorf("build payload: %w", err)
				}
				payload = string(b)
			}
			return runEnqueue(cmd, jobType, payload)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", job.TypeConvertDocument, "job type key")
	cmd.Flags().StringVar(&payload, "payload", "{}", "job payload as JSON")
	cmd.Flags().StringVar(&input, "input", "", "input document path (convert_document shorthand)")
	cmd.Flags().StringVar(&output, "output", "", "output document path (convert_document shorthand)")
	return cmd
}

func runEnqueue(cmd *cobra.Command, jobType, payload string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	id, err := store.New(db).EnqueueJob(cmd.Context(), jobType, []byte(payload))
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// newPool creates and validates a pgxpool. Retries with linear backoff to
// handle the Docker Compose startup race where Postgres is not immediately
// ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// PgBouncer transaction-pooling compatibility.
	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				break
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying",
			"attempt", attempt,
			"error", connErr,
		)
		// time.NewTimer (not time.After) so the timer is released if ctx is
		// cancelled before it fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if connErr != nil {
		return nil, fmt.Errorf("database unavailable after retries: %w", connErr)
	}

	// Warn when the pool could exhaust the server-side connection budget:
	// each worker process opens its own pool against the same server.
	var pgMaxConnsStr string
	if err := db.QueryRow(ctx, "SHOW max_connections").Scan(&pgMaxConnsStr); err == nil {
		if pgMaxConns, err := strconv.Atoi(pgMaxConnsStr); err == nil {
			budget := int(cfg.DBMaxConns) * (cfg.MaxWorkers + 1)
			if budget > int(float64(pgMaxConns)*0.8) {
				slog.Warn("DB_MAX_CONNS x (MAX_WORKERS+1) exceeds 80% of Postgres max_connections",
					"connection_budget", budget,
					"postgres_max_connections", pgMaxConns,
				)
			}
		}
	}

	return db, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" || cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
