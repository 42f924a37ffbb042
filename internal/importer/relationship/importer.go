// Package relationship imports relationships between tracked entities. It is
// the cascade target of the tracked entity importer.
package relationship

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
)

type Importer struct {
	gateway   tracker.Gateway
	store     metadata.Store
	access    importer.AccessManager
	logger    zerolog.Logger
	cacheSize int
}

var _ importer.RelationshipImporter = (*Importer)(nil)

func New(gateway tracker.Gateway, store metadata.Store, access importer.AccessManager, logger zerolog.Logger, cacheSize int) *Importer {
	return &Importer{
		gateway:   gateway,
		store:     store,
		access:    access,
		logger:    logger.With().Str("component", "relationship-importer").Logger(),
		cacheSize: cacheSize,
	}
}

func (im *Importer) newCache(ctx context.Context, rels []*importer.Relationship, opts *importer.ImportOptions) (*resolver.Cache, error) {
	cache, err := resolver.New(im.store, im.gateway, opts.IDSchemes, im.cacheSize)
	if err != nil {
		return nil, err
	}
	refs := resolver.Refs{}
	for _, r := range rels {
		refs.RelationshipTypes = append(refs.RelationshipTypes, r.RelationshipType)
		refs.TrackedEntities = append(refs.TrackedEntities, r.From.TrackedEntity(), r.To.TrackedEntity())
	}
	if err := cache.Prepare(ctx, refs); err != nil {
		return nil, err
	}
	return cache, nil
}

func (im *Importer) AddRelationships(ctx context.Context, rels []*importer.Relationship, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	if len(rels) == 0 {
		return summaries, nil
	}
	cache, err := im.newCache(ctx, rels, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		s, err := im.addRelationship(ctx, cache, r, opts)
		if err != nil {
			return nil, err
		}
		summaries.Add(s)
	}
	return summaries, nil
}

func (im *Importer) addRelationship(ctx context.Context, cache *resolver.Cache, r *importer.Relationship, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	if r.Relationship != "" {
		exists, err := tracker.ExistsIncludingDeleted(ctx, im.gateway, tracker.KindRelationship, r.Relationship)
		if err != nil {
			return nil, err
		}
		if exists {
			s := importer.NewErrorSummary("Relationship "+r.Relationship+" already exists or was deleted earlier", r.Relationship)
			s.IncrementIgnored()
			return s, nil
		}
	}
	if !importer.IsValidUID(r.Relationship) {
		r.Relationship = importer.GenerateUID()
	}
	s := importer.NewImportSummary(r.Relationship)

	model, err := im.buildRelationship(ctx, cache, r, nil, opts, s)
	if err != nil {
		return nil, err
	}
	if s.IsError() {
		s.IncrementIgnored()
		return s, nil
	}
	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		return im.gateway.CreateRelationship(ctx, model)
	}); err != nil {
		return nil, fmt.Errorf("create relationship %s: %w", r.Relationship, err)
	}
	s.IncrementImported()
	return s, nil
}

func (im *Importer) UpdateRelationships(ctx context.Context, rels []*importer.Relationship, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	if len(rels) == 0 {
		return summaries, nil
	}
	cache, err := im.newCache(ctx, rels, opts)
	if err != nil {
		return nil, err
	}
	for _, r := range rels {
		s := importer.NewImportSummary(r.Relationship)
		existing, err := im.gateway.GetRelationship(ctx, r.Relationship)
		if err != nil && !errors.Is(err, tracker.ErrNotFound) {
			return nil, err
		}
		if existing == nil {
			s.Fail("Relationship '" + r.Relationship + "' doesn't exist.")
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		model, err := im.buildRelationship(ctx, cache, r, existing, opts, s)
		if err != nil {
			return nil, err
		}
		if s.IsError() {
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
			return im.gateway.UpdateRelationship(ctx, model)
		}); err != nil {
			return nil, fmt.Errorf("update relationship %s: %w", r.Relationship, err)
		}
		s.IncrementUpdated()
		summaries.Add(s)
	}
	return summaries, nil
}

func (im *Importer) DeleteRelationships(ctx context.Context, rels []*importer.Relationship, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	for _, r := range rels {
		s := importer.NewImportSummary(r.Relationship)
		existing, err := im.gateway.GetRelationship(ctx, r.Relationship)
		if err != nil && !errors.Is(err, tracker.ErrNotFound) {
			return nil, err
		}
		if existing == nil {
			s.Description = "Relationship " + r.Relationship + " cannot be deleted as it is not present in the system"
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		relType, err := metadata.ByUID[metadata.RelationshipType](ctx, im.store, metadata.KindRelationshipType, existing.Type)
		if err != nil {
			return nil, err
		}
		if errs := im.access.CanWriteRelationship(opts.User, existing, relType); len(errs) > 0 {
			s.Fail(fmt.Sprint(errs))
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		if err := im.gateway.DeleteRelationship(ctx, existing.UID); err != nil {
			return nil, fmt.Errorf("delete relationship %s: %w", existing.UID, err)
		}
		s.Description = "Deletion of relationship " + existing.UID + " was successful"
		s.IncrementDeleted()
		summaries.Add(s)
	}
	return summaries, nil
}

// buildRelationship resolves the type and both sides of r. Conflicts and
// access violations are recorded on s, which is failed when there are any.
func (im *Importer) buildRelationship(ctx context.Context, cache *resolver.Cache, r *importer.Relationship, existing *tracker.Relationship, opts *importer.ImportOptions, s *importer.ImportSummary) (*tracker.Relationship, error) {
	model := existing
	if model == nil {
		model = &tracker.Relationship{UID: r.Relationship}
	}

	rt, err := cache.RelationshipType(ctx, r.RelationshipType)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		s.AddConflict("Relationship.relationshipType", "Invalid relationship type "+r.RelationshipType)
	} else {
		model.Type = rt.UID
		model.Bidirectional = rt.Bidirectional
	}

	var from *tracker.TrackedEntity
	for _, side := range []struct {
		name string
		item *importer.RelationshipItem
		dst  *string
	}{
		{"from", r.From, &model.From},
		{"to", r.To, &model.To},
	} {
		te, err := im.resolveSide(ctx, cache, side.name, side.item, s)
		if err != nil {
			return nil, err
		}
		if te == nil {
			continue
		}
		*side.dst = te.UID
		if side.name == "from" {
			from = te
		}
	}
	if s.HasConflicts() {
		s.Fail("")
		return model, nil
	}

	errs := im.access.CanWriteRelationship(opts.User, model, rt)
	if from != nil {
		errs = append(errs, im.access.CanWrite(opts.User, from, nil)...)
	}
	if len(errs) > 0 {
		s.Fail(fmt.Sprint(errs))
	}
	return model, nil
}

func (im *Importer) resolveSide(ctx context.Context, cache *resolver.Cache, name string, item *importer.RelationshipItem, s *importer.ImportSummary) (*tracker.TrackedEntity, error) {
	object := "Relationship." + name
	switch {
	case item == nil:
		s.AddConflict(object, "Missing "+name+" side of relationship")
		return nil, nil
	case item.TrackedEntityInstance == nil:
		s.AddConflict(object, "Only tracked entity instances can be related")
		return nil, nil
	}
	uid := item.TrackedEntity()
	te, err := cache.TrackedEntity(ctx, uid)
	if err != nil {
		return nil, err
	}
	if te == nil {
		s.AddConflict(object, "Invalid tracked entity instance "+uid)
	}
	return te, nil
}
