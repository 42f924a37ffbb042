// Package trackedentity imports tracked entity instances. Enrollments and
// relationships carried by the payload are cascaded into their own
// importers once the entities are written.
package trackedentity

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

var tracer = otel.Tracer("github.com/hmis/tracker/internal/importer/trackedentity")

type Config struct {
	FlushFrequency int
	CacheSize      int
}

type Importer struct {
	gateway       tracker.Gateway
	store         metadata.Store
	validator     *validation.Validator
	access        importer.AccessManager
	enrollments   importer.EnrollmentImporter
	relationships importer.RelationshipImporter
	logger        zerolog.Logger
	cfg           Config
}

func New(
	gateway tracker.Gateway,
	store metadata.Store,
	validator *validation.Validator,
	access importer.AccessManager,
	enrollments importer.EnrollmentImporter,
	relationships importer.RelationshipImporter,
	logger zerolog.Logger,
	cfg Config,
) *Importer {
	if cfg.FlushFrequency <= 0 {
		cfg.FlushFrequency = DefaultFlushFrequency
	}
	return &Importer{
		gateway:       gateway,
		store:         store,
		validator:     validator,
		access:        access,
		enrollments:   enrollments,
		relationships: relationships,
		logger:        logger.With().Str("component", "tei-importer").Logger(),
		cfg:           cfg,
	}
}

// ImportTrackedEntityInstances routes every instance to create, update or
// delete according to the import strategy.
func (im *Importer) ImportTrackedEntityInstances(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	ctx, span := tracer.Start(ctx, "trackedentity.ImportTrackedEntityInstances", trace.WithAttributes(
		attribute.Int("trackedEntityInstances", len(teis)),
		attribute.String("strategy", string(opts.Strategy)),
	))
	defer span.End()

	var create, update, del []*importer.TrackedEntityInstance
	switch opts.Strategy {
	case importer.StrategyCreate:
		create = teis
	case importer.StrategyUpdate:
		update = teis
	case importer.StrategyDelete:
		del = teis
	default:
		found, err := im.gateway.Existing(ctx, tracker.KindTrackedEntity, uidsOf(teis), false)
		if err != nil {
			return nil, err
		}
		existing := importer.UIDSet(found)
		for _, tei := range teis {
			_, ok := existing[tei.TrackedEntityInstance]
			switch {
			case opts.Strategy.IsSync() && tei.Deleted:
				del = append(del, tei)
			case ok:
				update = append(update, tei)
			default:
				create = append(create, tei)
			}
		}
	}

	summaries := importer.NewImportSummaries()
	for _, step := range []struct {
		batch []*importer.TrackedEntityInstance
		run   func(context.Context, []*importer.TrackedEntityInstance, *importer.ImportOptions) (*importer.ImportSummaries, error)
	}{
		{create, im.AddTrackedEntityInstances},
		{update, im.UpdateTrackedEntityInstances},
		{del, im.DeleteTrackedEntityInstances},
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

// AddTrackedEntityInstances creates instances chunk by chunk, then cascades
// the relationships and enrollments of every instance that was imported.
func (im *Importer) AddTrackedEntityInstances(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	trimAll(teis)

	found, err := im.gateway.Existing(ctx, tracker.KindTrackedEntity, uidsOf(teis), true)
	if err != nil {
		return nil, err
	}
	dups := importer.UIDSet(found)
	todo := lo.Filter(teis, func(tei *importer.TrackedEntityInstance, _ int) bool {
		if _, dup := dups[tei.TrackedEntityInstance]; !dup {
			if tei.TrackedEntityInstance != "" {
				dups[tei.TrackedEntityInstance] = struct{}{}
			}
			return true
		}
		s := importer.NewErrorSummary("Tracked entity instance "+tei.TrackedEntityInstance+" already exists or was deleted earlier", tei.TrackedEntityInstance)
		s.IncrementIgnored()
		summaries.Add(s)
		return false
	})

	if err := im.inChunks(ctx, todo, opts, summaries, im.addTrackedEntity); err != nil {
		return nil, err
	}
	im.logger.Info().
		Int("imported", summaries.Imported).
		Int("ignored", summaries.Ignored).
		Str("status", string(summaries.Status)).
		Msg("tracked entity instances created")
	return summaries, nil
}

// UpdateTrackedEntityInstances updates instances chunk by chunk, then
// cascades relationships and enrollments.
func (im *Importer) UpdateTrackedEntityInstances(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	trimAll(teis)
	if err := im.inChunks(ctx, teis, opts, summaries, im.updateTrackedEntity); err != nil {
		return nil, err
	}
	im.logger.Info().
		Int("updated", summaries.Updated).
		Int("ignored", summaries.Ignored).
		Str("status", string(summaries.Status)).
		Msg("tracked entity instances updated")
	return summaries, nil
}

func (im *Importer) DeleteTrackedEntityInstances(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	for _, chunk := range lo.Chunk(teis, im.cfg.FlushFrequency) {
		for _, tei := range chunk {
			s, err := im.deleteTrackedEntity(ctx, tei, opts)
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
		Msg("tracked entity instances deleted")
	return summaries, nil
}

func (im *Importer) AddTrackedEntityInstance(ctx context.Context, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return first(im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{tei}, opts))
}

func (im *Importer) UpdateTrackedEntityInstance(ctx context.Context, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return first(im.UpdateTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{tei}, opts))
}

func (im *Importer) DeleteTrackedEntityInstance(ctx context.Context, uid string, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	return im.deleteTrackedEntity(ctx, &importer.TrackedEntityInstance{TrackedEntityInstance: uid}, importer.Normalize(opts))
}

func first(ss *importer.ImportSummaries, err error) (*importer.ImportSummary, error) {
	if err != nil {
		return nil, err
	}
	return ss.ImportSummaries[0], nil
}

// trimAll turns blank identifiers and values into empty ones so they count
// as absent.
func trimAll(teis []*importer.TrackedEntityInstance) {
	for _, tei := range teis {
		tei.TrimValues()
	}
}

func uidsOf(teis []*importer.TrackedEntityInstance) []string {
	return lo.FilterMap(teis, func(tei *importer.TrackedEntityInstance, _ int) (string, bool) {
		return tei.TrackedEntityInstance, tei.TrackedEntityInstance != ""
	})
}

type recordFunc func(ctx context.Context, cache *resolver.Cache, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error)

// inChunks runs fn over teis with a cache prepared per chunk. Relationships
// and enrollments of successful records are cascaded after the last chunk
// so that they may reference any entity of the batch.
func (im *Importer) inChunks(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions, summaries *importer.ImportSummaries, fn recordFunc) error {
	if len(teis) == 0 {
		return nil
	}
	cache, err := resolver.New(im.store, im.gateway, opts.IDSchemes, im.cfg.CacheSize)
	if err != nil {
		return err
	}
	defer cache.Clear()

	var written []*importer.TrackedEntityInstance
	for _, chunk := range lo.Chunk(teis, im.cfg.FlushFrequency) {
		if err := cache.Prepare(ctx, refsOf(chunk)); err != nil {
			return err
		}
		for _, tei := range chunk {
			s, err := fn(ctx, cache, tei, opts)
			if err != nil {
				return err
			}
			summaries.Add(s)
			if s.Status == importer.StatusSuccess {
				written = append(written, tei)
			}
		}
		if err := im.gateway.Flush(ctx); err != nil {
			return err
		}
		cache.Clear()
	}

	if err := im.cascadeRelationships(ctx, summaries, written, opts); err != nil {
		return err
	}
	return im.cascadeEnrollments(ctx, summaries, written, opts)
}

func refsOf(teis []*importer.TrackedEntityInstance) resolver.Refs {
	refs := resolver.Refs{}
	for _, tei := range teis {
		refs.OrgUnits = append(refs.OrgUnits, tei.OrgUnit)
		refs.TrackedEntityTypes = append(refs.TrackedEntityTypes, tei.TrackedEntityType)
		refs.TrackedEntities = append(refs.TrackedEntities, tei.TrackedEntityInstance)
		for _, a := range tei.Attributes {
			refs.Attributes = append(refs.Attributes, a.Attribute)
		}
	}
	return refs
}
