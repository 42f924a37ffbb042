package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hmis/tracker/internal/config"
	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/access"
	"github.com/hmis/tracker/internal/importer/enrollment"
	"github.com/hmis/tracker/internal/importer/event"
	"github.com/hmis/tracker/internal/importer/job"
	"github.com/hmis/tracker/internal/importer/relationship"
	"github.com/hmis/tracker/internal/importer/trackedentity"
	"github.com/hmis/tracker/internal/importer/validation"
	"github.com/hmis/tracker/internal/platform/db"
	"github.com/hmis/tracker/internal/platform/notifier"
	"github.com/hmis/tracker/internal/platform/reservedvalue"
)

// app holds the import pipeline shared by the serve and import commands.
type app struct {
	trackedEntities *trackedentity.Importer
	enrollments     *enrollment.Importer
	runner          *job.Runner
	tasks           *notifier.InMemory
}

func newApp(pool db.Beginner, reserved importer.ReservedValueService, cfg *config.Config, logger zerolog.Logger) *app {
	store := metadata.NewStorePG(pool)
	gateway := tracker.NewGatewayPG(pool)
	validator := validation.New(gateway, reserved)
	accessManager := access.NewManager()

	events := event.New(gateway, store, logger, cfg.ImportCacheSize)
	relationships := relationship.New(gateway, store, accessManager, logger, cfg.ImportCacheSize)
	enrollments := enrollment.New(gateway, store, validator, accessManager, events, logger, enrollment.Config{
		FlushFrequency: cfg.ImportFlushFrequency,
		CacheSize:      cfg.ImportCacheSize,
	})
	teis := trackedentity.New(gateway, store, validator, accessManager, enrollments, relationships, logger, trackedentity.Config{
		FlushFrequency: cfg.ImportFlushFrequency,
		CacheSize:      cfg.ImportCacheSize,
	})

	tasks := notifier.NewInMemory(time.Duration(cfg.ImportTaskRetentionHours) * time.Hour)
	return &app{
		trackedEntities: teis,
		enrollments:     enrollments,
		runner:          job.NewRunner(cfg.ImportMaxConcurrentJobs, tasks, logger),
		tasks:           tasks,
	}
}

// newReservedValues connects to Redis when REDIS_URL is set and falls back
// to a process-local pool otherwise.
func newReservedValues(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (reservedvalue.Store, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set; reserved values are kept in memory")
		return reservedvalue.NewMemoryStore(), func() {}, nil
	}
	client, err := reservedvalue.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return reservedvalue.NewRedisStore(client), func() { _ = client.Close() }, nil
}
