// Package enrollment imports enrollments (program instances) and cascades
// their events into the event sub-importer.
package enrollment

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
	"github.com/hmis/tracker/internal/importer/validation"
)

const DefaultFlushFrequency = 100

var tracer = otel.Tracer("github.com/hmis/tracker/internal/importer/enrollment")

// Config bounds the work done per chunk.
type Config struct {
	FlushFrequency int
	CacheSize      int
}

type Importer struct {
	gateway   tracker.Gateway
	store     metadata.Store
	validator *validation.Validator
	access    importer.AccessManager
	events    importer.EventImporter
	logger    zerolog.Logger
	cfg       Config
}

var _ importer.EnrollmentImporter = (*Importer)(nil)

func New(
	gateway tracker.Gateway,
	store metadata.Store,
	validator *validation.Validator,
	access importer.AccessManager,
	events importer.EventImporter,
	logger zerolog.Logger,
	cfg Config,
) *Importer {
	if cfg.FlushFrequency <= 0 {
		cfg.FlushFrequency = DefaultFlushFrequency
	}
	return &Importer{
		gateway:   gateway,
		store:     store,
		validator: validator,
		access:    access,
		events:    events,
		logger:    logger.With().Str("component", "enrollment-importer").Logger(),
		cfg:       cfg,
	}
}

// ImportEnrollments routes every enrollment to create, update or delete
// according to the import strategy. CREATE_AND_UPDATE and SYNC decide by
// existence; SYNC additionally deletes enrollments flagged deleted.
func (im *Importer) ImportEnrollments(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	ctx, span := tracer.Start(ctx, "enrollment.ImportEnrollments", trace.WithAttributes(
		attribute.Int("enrollments", len(enrollments)),
		attribute.String("strategy", string(opts.Strategy)),
	))
	defer span.End()

	var create, update, del []*importer.Enrollment
	switch opts.Strategy {
	case importer.StrategyCreate:
		create = enrollments
	case importer.StrategyUpdate:
		update = enrollments
	case importer.StrategyDelete:
		del = enrollments
	default:
		ids := lo.FilterMap(enrollments, func(e *importer.Enrollment, _ int) (string, bool) {
			return e.Enrollment, e.Enrollment != ""
		})
		found, err := im.gateway.Existing(ctx, tracker.KindEnrollment, ids, false)
		if err != nil {
			return nil, err
		}
		existing := importer.UIDSet(found)
		for _, e := range enrollments {
			_, ok := existing[e.Enrollment]
			switch {
			case opts.Strategy.IsSync() && e.Deleted:
				del = append(del, e)
			case ok:
				update = append(update, e)
			default:
				create = append(create, e)
			}
		}
	}

	summaries := importer.NewImportSummaries()
	for _, step := range []struct {
		batch []*importer.Enrollment
		run   func(context.Context, []*importer.Enrollment, *importer.ImportOptions) (*importer.ImportSummaries, error)
	}{
		{create, im.AddEnrollments},
		{update, im.UpdateEnrollments},
		{del, im.DeleteEnrollments},
	} {
		if len(step.batch) == 0 {
			continue
		}
		ss, err := step.run(ctx, step.batch, opts)
		if err != nil {
			return nil, err
		}
		summaries.AddAll(ss)
	}
	return summaries, nil
}

// AddEnrollments creates enrollments chunk by chunk, then cascades the
// events of every enrollment that was imported.
func (im *Importer) AddEnrollments(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()

	todo, err := im.rejectDuplicates(ctx, enrollments, summaries)
	if err != nil {
		return nil, err
	}
	events, err := im.inChunks(ctx, todo, opts, summaries, im.addEnrollment)
	if err != nil {
		return nil, err
	}
	if err := im.cascadeEvents(ctx, summaries, events, opts); err != nil {
		return nil, err
	}
	im.logger.Info().
		Int("imported", summaries.Imported).
		Int("ignored", summaries.Ignored).
		Str("status", string(summaries.Status)).
		Msg("enrollments created")
	return summaries, nil
}

// UpdateEnrollments updates enrollments chunk by chunk, then cascades events.
func (im *Importer) UpdateEnrollments(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()

	events, err := im.inChunks(ctx, enrollments, opts, summaries, im.updateEnrollment)
	if err != nil {
		return nil, err
	}
	if err := im.cascadeEvents(ctx, summaries, events, opts); err != nil {
		return nil, err
	}
	im.logger.Info().
		Int("updated", summaries.Updated).
		Int("ignored", summaries.Ignored).
		Str("status", string(summaries.Status)).
		Msg("enrollments updated")
	return summaries, nil
}

func (im *Importer) DeleteEnrollments(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	for _, chunk := range lo.Chunk(enrollments, im.cfg.FlushFrequency) {
		for _, e := range chunk {
			s, err := im.deleteEnrollment(ctx, e, opts)
			if err != nil {
				return nil, err
			}
			summaries.Add(s)
		}
		if err := im.gateway.Flush(ctx); err != nil {
			return nil, err
		}
	}
	im.logger.Info().
		Int("deleted", summaries.Deleted).
		Int("ignored", summaries.Ignored).
		Msg("enrollments deleted")
	return summaries, nil
}

// AddEnrollment creates a single enrollment.
func (im *Importer) AddEnrollment(ctx context.Context, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return first(im.AddEnrollments(ctx, []*importer.Enrollment{e}, opts))
}

// UpdateEnrollment updates a single enrollment.
func (im *Importer) UpdateEnrollment(ctx context.Context, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return first(im.UpdateEnrollments(ctx, []*importer.Enrollment{e}, opts))
}

// DeleteEnrollment deletes a single enrollment by uid.
func (im *Importer) DeleteEnrollment(ctx context.Context, uid string, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return im.deleteEnrollment(ctx, &importer.Enrollment{Enrollment: uid}, importer.Normalize(opts))
}

func first(ss *importer.ImportSummaries, err error) (*importer.ImportSummary, error) {
	if err != nil {
		return nil, err
	}
	return ss.ImportSummaries[0], nil
}

// rejectDuplicates adds an ERROR summary for every enrollment whose uid was
// ever stored, soft-deleted rows included, or appeared earlier in the batch,
// and returns the rest.
func (im *Importer) rejectDuplicates(ctx context.Context, enrollments []*importer.Enrollment, summaries *importer.ImportSummaries) ([]*importer.Enrollment, error) {
	ids := lo.FilterMap(enrollments, func(e *importer.Enrollment, _ int) (string, bool) {
		return e.Enrollment, e.Enrollment != ""
	})
	found, err := im.gateway.Existing(ctx, tracker.KindEnrollment, ids, true)
	if err != nil {
		return nil, err
	}
	dups := importer.UIDSet(found)
	return lo.Filter(enrollments, func(e *importer.Enrollment, _ int) bool {
		if _, dup := dups[e.Enrollment]; !dup {
			if e.Enrollment != "" {
				dups[e.Enrollment] = struct{}{}
			}
			return true
		}
		s := importer.NewErrorSummary("Enrollment "+e.Enrollment+" already exists or was deleted earlier", e.Enrollment)
		s.IncrementIgnored()
		summaries.Add(s)
		return false
	}), nil
}

type recordFunc func(ctx context.Context, cache *resolver.Cache, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error)

// inChunks runs fn over enrollments in chunks of the flush frequency with a
// cache prepared per chunk. It returns the events of successful records.
func (im *Importer) inChunks(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions, summaries *importer.ImportSummaries, fn recordFunc) ([]*importer.Event, error) {
	if len(enrollments) == 0 {
		return nil, nil
	}
	cache, err := resolver.New(im.store, im.gateway, opts.IDSchemes, im.cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	defer cache.Clear()

	var events []*importer.Event
	for _, chunk := range lo.Chunk(enrollments, im.cfg.FlushFrequency) {
		if err := cache.Prepare(ctx, refsOf(chunk)); err != nil {
			return nil, err
		}
		for _, e := range chunk {
			s, err := fn(ctx, cache, e, opts)
			if err != nil {
				return nil, err
			}
			summaries.Add(s)
			if s.Status == importer.StatusSuccess {
				events = append(events, e.Events...)
			}
		}
		if err := im.gateway.Flush(ctx); err != nil {
			return nil, err
		}
		cache.Clear()
	}
	return events, nil
}

func refsOf(enrollments []*importer.Enrollment) resolver.Refs {
	refs := resolver.Refs{}
	for _, e := range enrollments {
		refs.OrgUnits = append(refs.OrgUnits, e.OrgUnit)
		refs.Programs = append(refs.Programs, e.Program)
		refs.TrackedEntities = append(refs.TrackedEntities, e.TrackedEntityInstance)
		for _, a := range e.Attributes {
			refs.Attributes = append(refs.Attributes, a.Attribute)
		}
	}
	return refs
}
