// Package job runs import batches as jobs: bounded in number, reported to
// the notifier, with systemic failures turned into an error summary.
package job

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/platform/metrics"
	"github.com/hmis/tracker/internal/platform/notifier"
)

type Type string

const (
	TypeTrackedEntityImport Type = "TEI_IMPORT"
	TypeEnrollmentImport    Type = "ENROLLMENT_IMPORT"
)

func (t Type) startMessage() string {
	if t == TypeEnrollmentImport {
		return "Importing enrollments"
	}
	return "Importing tracked entities"
}

// Func is the work of one job.
type Func func(ctx context.Context) (*importer.ImportSummaries, error)

type Runner struct {
	sem      *semaphore.Weighted
	notifier notifier.Notifier
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewRunner(maxConcurrent int, n notifier.Notifier, logger zerolog.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		notifier: n,
		logger:   logger.With().Str("component", "job-runner").Logger(),
	}
}

// Run executes fn synchronously under id. It never returns an error: a
// failure of fn, including a panic, comes back as a single ERROR summary.
func (r *Runner) Run(ctx context.Context, id string, jobType Type, fn Func) *importer.ImportSummaries {
	if id == "" {
		id = uuid.NewString()
		if err := r.notifier.Start(ctx, id, string(jobType)); err != nil {
			return failed(err)
		}
	}
	log := r.logger.With().Str("job_id", id).Str("job_type", string(jobType)).Logger()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		log.Warn().Err(err).Msg("import job cancelled before start")
		summaries := failed(err)
		done := context.WithoutCancel(ctx)
		r.notify(done, log, id, notifier.LevelError, "Process failed: "+err.Error(), true)
		if err := r.notifier.Complete(done, id, summaries); err != nil {
			log.Warn().Err(err).Msg("record job summary")
		}
		return summaries
	}
	defer r.sem.Release(1)
	metrics.JobStarted()
	defer metrics.JobFinished()

	start := time.Now()
	r.notify(ctx, log, id, notifier.LevelInfo, jobType.startMessage(), false)

	summaries, err := r.call(ctx, fn)
	if err != nil {
		log.Error().Err(err).Msg("import job failed")
		r.notify(ctx, log, id, notifier.LevelError, "Process failed: "+err.Error(), true)
		summaries = failed(err)
	} else {
		r.notify(ctx, log, id, notifier.LevelInfo, "Import done", true)
	}
	if err := r.notifier.Complete(ctx, id, summaries); err != nil {
		log.Warn().Err(err).Msg("record job summary")
	}

	metrics.ObserveJob(string(jobType), string(summaries.Status), metrics.Counts{
		Imported: summaries.Imported,
		Updated:  summaries.Updated,
		Deleted:  summaries.Deleted,
		Ignored:  summaries.Ignored,
	}, start)
	log.Info().
		Str("status", string(summaries.Status)).
		Int("imported", summaries.Imported).
		Int("updated", summaries.Updated).
		Int("deleted", summaries.Deleted).
		Int("ignored", summaries.Ignored).
		Dur("duration", time.Since(start)).
		Msg("import job finished")
	return summaries
}

// Submit starts fn in the background and returns the job id to poll. The
// job outlives the request that submitted it.
func (r *Runner) Submit(ctx context.Context, jobType Type, fn Func) (string, error) {
	id := uuid.NewString()
	if err := r.notifier.Start(ctx, id, string(jobType)); err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}
	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Run(bg, id, jobType, fn)
	}()
	return id, nil
}

// Wait blocks until every submitted job has finished.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) call(ctx context.Context, fn Func) (summaries *importer.ImportSummaries, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("import job panicked")
			err = fmt.Errorf("%v", p)
		}
	}()
	summaries, err = fn(ctx)
	if err == nil && summaries == nil {
		summaries = importer.NewImportSummaries()
	}
	return summaries, err
}

func (r *Runner) notify(ctx context.Context, log zerolog.Logger, id string, level notifier.Level, msg string, completed bool) {
	if err := r.notifier.Notify(ctx, id, level, msg, completed); err != nil {
		log.Debug().Err(err).Str("message", msg).Msg("job notification dropped")
	}
}

func failed(err error) *importer.ImportSummaries {
	return importer.Single(importer.NewErrorSummary("The import process failed: "+err.Error(), ""))
}
