// Command dcbstore runs the course subscription scenario against a DCB event store:
// it defines a course, registers students, lets them race for the seats, and then
// catches up the CourseSubscriptions read model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AntonStoeckl/dcb-eventstore-go/catchup"
	"github.com/AntonStoeckl/dcb-eventstore-go/command"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/memoryengine"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/postgresengine"
	"github.com/AntonStoeckl/dcb-eventstore-go/eventstore/sqliteengine"
	"github.com/AntonStoeckl/dcb-eventstore-go/example/coursesubscription"
	"github.com/AntonStoeckl/dcb-eventstore-go/internal/config"
	"github.com/AntonStoeckl/dcb-eventstore-go/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

const instrumentationName = "github.com/AntonStoeckl/dcb-eventstore-go"

// store is what the scenario needs from an engine.
type store interface {
	eventstore.EventStore
	CatchupHandlers(ctx context.Context, registry *catchup.Registry, options ...catchup.Option) (catchup.Report, error)
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present, before the log level is read.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("DCB_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}

	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("dcbstore starting", "version", version, "engine", cfg.Engine)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	es, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStore()

	commandOptions := []command.Option{
		command.WithLogger(logger),
		command.WithRetryOptions(
			command.WithMaxAttempts(cfg.RetryMaxAttempts),
			command.WithBaseDelay(cfg.RetryBaseDelay),
		),
	}
	if telemetry.Enabled(cfg.OTELEndpoint) {
		commandOptions = append(commandOptions,
			command.WithMetricsCollector(oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))),
			command.WithTracingCollector(oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))),
		)
	}

	handler := coursesubscription.NewCommandHandler(es, commandOptions...)

	if err := runScenario(ctx, cfg, handler); err != nil {
		return err
	}

	readModel := coursesubscription.NewCourseSubscriptions()
	registry, err := catchup.NewRegistry(readModel.Handler())
	if err != nil {
		return err
	}

	if err := catchUp(ctx, es, registry, readModel, logger); err != nil {
		return err
	}

	if !cfg.Follow {
		return nil
	}

	ticker := time.NewTicker(cfg.CatchupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("dcbstore stopping")
			return nil
		case <-ticker.C:
			if err := catchUp(ctx, es, registry, readModel, logger); err != nil && !errors.Is(err, eventstore.ErrHandlerLocked) {
				return err
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.Engine {
	case config.EnginePostgres:
		return openPostgres(ctx, cfg, logger)

	case config.EngineSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, nil, err
			}
		}

		es, db, err := sqliteengine.Open(
			ctx,
			cfg.SQLitePath,
			sqliteengine.WithTableName(cfg.EventsTable),
			sqliteengine.WithBookmarksTableName(cfg.BookmarksTable),
			sqliteengine.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}

		if err := es.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}

		return es, func() { _ = db.Close() }, nil

	default:
		return memoryengine.NewEventStore(memoryengine.WithLogger(logger)), func() {}, nil
	}
}

func openPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, func(), error) {
	pool, err := newPool(ctx, cfg.DatabaseURL, cfg.MaxConns)
	if err != nil {
		return nil, nil, err
	}

	closers := []func(){pool.Close}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	options := []postgresengine.Option{
		postgresengine.WithTableName(cfg.EventsTable),
		postgresengine.WithBookmarksTableName(cfg.BookmarksTable),
		postgresengine.WithFetchSize(cfg.FetchSize),
	}
	if !telemetry.Enabled(cfg.OTELEndpoint) {
		options = append(options, postgresengine.WithLogger(logger))
	} else {
		options = append(options,
			postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger(instrumentationName)),
			postgresengine.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))),
			postgresengine.WithTracing(oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))),
		)
	}

	var es *postgresengine.EventStore
	if cfg.ReplicaURL != "" {
		replica, replicaErr := newPool(ctx, cfg.ReplicaURL, cfg.MaxConns)
		if replicaErr != nil {
			closeAll()
			return nil, nil, replicaErr
		}

		closers = append(closers, replica.Close)
		es, err = postgresengine.NewEventStoreFromPGXPoolAndReplica(pool, replica, options...)
	} else {
		es, err = postgresengine.NewEventStoreFromPGXPool(pool, options...)
	}

	if err != nil {
		closeAll()
		return nil, nil, err
	}

	if err := es.CreateSchema(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}

	return es, closeAll, nil
}

func newPool(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = int32(maxConns) //nolint:gosec // validated positive in config.Validate

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// runScenario defines one course and lets every registered student try to subscribe concurrently.
func runScenario(ctx context.Context, cfg config.Config, handler coursesubscription.CommandHandler) error {
	now := time.Now()
	courseID := uuid.New()

	if _, err := handler.HandleDefineCourse(ctx, coursesubscription.BuildDefineCourse(courseID, "Dynamic Consistency Boundaries", cfg.CourseCapacity, now)); err != nil {
		return fmt.Errorf("define course: %w", err)
	}

	studentIDs := make([]uuid.UUID, 0, cfg.Students)
	for i := range cfg.Students {
		studentID := uuid.New()
		if _, err := handler.HandleRegisterStudent(ctx, coursesubscription.BuildRegisterStudent(studentID, fmt.Sprintf("student %d", i+1), now)); err != nil {
			return fmt.Errorf("register student: %w", err)
		}

		studentIDs = append(studentIDs, studentID)
	}

	var subscribed, rejected atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Concurrency)

	for _, studentID := range studentIDs {
		group.Go(func() error {
			commandCtx, cancel := context.WithTimeout(groupCtx, cfg.CommandTimeout)
			defer cancel()

			_, err := handler.HandleSubscribeStudentToCourse(
				commandCtx,
				coursesubscription.BuildSubscribeStudentToCourse(courseID, studentID, time.Now()),
			)

			switch {
			case err == nil:
				subscribed.Add(1)
				return nil
			case errors.Is(err, coursesubscription.ErrCourseFull), errors.Is(err, eventstore.ErrConcurrencyConflict):
				rejected.Add(1)
				return nil
			default:
				return fmt.Errorf("subscribe student: %w", err)
			}
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("scenario completed",
		"course_id", courseID.String(),
		"capacity", cfg.CourseCapacity,
		"subscribed", subscribed.Load(),
		"rejected", rejected.Load(),
	)

	return nil
}

func catchUp(
	ctx context.Context,
	es store,
	registry *catchup.Registry,
	readModel *coursesubscription.CourseSubscriptions,
	logger *slog.Logger,
) error {

	report, err := es.CatchupHandlers(ctx, registry, catchup.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("catch-up: %w", err)
	}

	if report.Delivered() == 0 {
		return nil
	}

	for _, course := range readModel.Courses() {
		slog.Info("course subscriptions",
			"course_id", course.CourseID,
			"title", course.Title,
			"capacity", course.Capacity,
			"subscribed", len(course.StudentIDs),
			"free_seats", course.FreeSeats(),
		)
	}

	return nil
}
