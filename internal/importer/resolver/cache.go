// Package resolver resolves external identifiers of one import batch to
// metadata and tracked entities.
//
// A Cache belongs to exactly one batch invocation. The importers call
// Prepare at the start of every chunk to bulk load the chunk's references
// and Clear at the end of it.
package resolver

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
)

const DefaultSize = 10000

// Refs lists the identifiers referenced by a chunk, per kind.
type Refs struct {
	OrgUnits           []string
	Programs           []string
	ProgramStages      []string
	TrackedEntityTypes []string
	Attributes         []string
	RelationshipTypes  []string
	TrackedEntities    []string
}

// Cache is a write-through cache over the metadata store and the tracked
// entity store. Lookups return nil without error when nothing matches.
type Cache struct {
	orgUnits           *kindCache[metadata.OrganisationUnit]
	programs           *kindCache[metadata.Program]
	programStages      *kindCache[metadata.ProgramStage]
	trackedEntityTypes *kindCache[metadata.TrackedEntityType]
	attributes         *kindCache[metadata.Attribute]
	relationshipTypes  *kindCache[metadata.RelationshipType]
	trackedEntities    *kindCache[tracker.TrackedEntity]
}

// New builds a cache holding at most size objects per kind.
func New(store metadata.Store, entities tracker.TrackedEntityStore, schemes importer.IDSchemes, size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache{}
	var err error

	ouScheme := schemes.For(metadata.KindOrganisationUnit)
	if c.orgUnits, err = newKindCache(size, metadata.KindOrganisationUnit,
		func(ctx context.Context, ids []string) ([]*metadata.OrganisationUnit, error) {
			return store.OrganisationUnits(ctx, ouScheme, ids)
		},
		func(o *metadata.OrganisationUnit) string { return o.Identifier(ouScheme) }); err != nil {
		return nil, err
	}

	prScheme := schemes.For(metadata.KindProgram)
	if c.programs, err = newKindCache(size, metadata.KindProgram,
		func(ctx context.Context, ids []string) ([]*metadata.Program, error) {
			return store.Programs(ctx, prScheme, ids)
		},
		func(p *metadata.Program) string { return p.Identifier(prScheme) }); err != nil {
		return nil, err
	}

	psScheme := schemes.For(metadata.KindProgramStage)
	if c.programStages, err = newKindCache(size, metadata.KindProgramStage,
		func(ctx context.Context, ids []string) ([]*metadata.ProgramStage, error) {
			return store.ProgramStages(ctx, psScheme, ids)
		},
		func(p *metadata.ProgramStage) string { return p.Identifier(psScheme) }); err != nil {
		return nil, err
	}

	ttScheme := schemes.For(metadata.KindTrackedEntityType)
	if c.trackedEntityTypes, err = newKindCache(size, metadata.KindTrackedEntityType,
		func(ctx context.Context, ids []string) ([]*metadata.TrackedEntityType, error) {
			return store.TrackedEntityTypes(ctx, ttScheme, ids)
		},
		func(t *metadata.TrackedEntityType) string { return t.Identifier(ttScheme) }); err != nil {
		return nil, err
	}

	atScheme := schemes.For(metadata.KindAttribute)
	if c.attributes, err = newKindCache(size, metadata.KindAttribute,
		func(ctx context.Context, ids []string) ([]*metadata.Attribute, error) {
			return store.Attributes(ctx, atScheme, ids)
		},
		func(a *metadata.Attribute) string { return a.Identifier(atScheme) }); err != nil {
		return nil, err
	}

	rtScheme := schemes.For(metadata.KindRelationshipType)
	if c.relationshipTypes, err = newKindCache(size, metadata.KindRelationshipType,
		func(ctx context.Context, ids []string) ([]*metadata.RelationshipType, error) {
			return store.RelationshipTypes(ctx, rtScheme, ids)
		},
		func(r *metadata.RelationshipType) string { return r.Identifier(rtScheme) }); err != nil {
		return nil, err
	}

	if c.trackedEntities, err = newKindCache(size, metadata.Kind(tracker.KindTrackedEntity),
		entities.TrackedEntities,
		func(te *tracker.TrackedEntity) string { return te.UID }); err != nil {
		return nil, err
	}
	return c, nil
}

// Prepare bulk loads every reference of a chunk with one query per kind.
// Identifiers requested here and not found are remembered so that later
// lookups fail fast.
func (c *Cache) Prepare(ctx context.Context, refs Refs) error {
	steps := []func() error{
		func() error { return c.orgUnits.prefetch(ctx, refs.OrgUnits) },
		func() error { return c.programs.prefetch(ctx, refs.Programs) },
		func() error { return c.programStages.prefetch(ctx, refs.ProgramStages) },
		func() error { return c.trackedEntityTypes.prefetch(ctx, refs.TrackedEntityTypes) },
		func() error { return c.attributes.prefetch(ctx, refs.Attributes) },
		func() error { return c.relationshipTypes.prefetch(ctx, refs.RelationshipTypes) },
		func() error { return c.trackedEntities.prefetch(ctx, refs.TrackedEntities) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every cached object and every remembered miss.
func (c *Cache) Clear() {
	c.orgUnits.clear()
	c.programs.clear()
	c.programStages.clear()
	c.trackedEntityTypes.clear()
	c.attributes.clear()
	c.relationshipTypes.clear()
	c.trackedEntities.clear()
}

func (c *Cache) OrganisationUnit(ctx context.Context, id string) (*metadata.OrganisationUnit, error) {
	return c.orgUnits.get(ctx, id)
}

func (c *Cache) Program(ctx context.Context, id string) (*metadata.Program, error) {
	return c.programs.get(ctx, id)
}

func (c *Cache) ProgramStage(ctx context.Context, id string) (*metadata.ProgramStage, error) {
	return c.programStages.get(ctx, id)
}

func (c *Cache) TrackedEntityType(ctx context.Context, id string) (*metadata.TrackedEntityType, error) {
	return c.trackedEntityTypes.get(ctx, id)
}

func (c *Cache) Attribute(ctx context.Context, id string) (*metadata.Attribute, error) {
	return c.attributes.get(ctx, id)
}

func (c *Cache) RelationshipType(ctx context.Context, id string) (*metadata.RelationshipType, error) {
	return c.relationshipTypes.get(ctx, id)
}

// TrackedEntity resolves a non-deleted tracked entity by uid.
func (c *Cache) TrackedEntity(ctx context.Context, uid string) (*tracker.TrackedEntity, error) {
	return c.trackedEntities.get(ctx, uid)
}

// Remember caches a tracked entity written during the batch.
func (c *Cache) Remember(te *tracker.TrackedEntity) {
	delete(c.trackedEntities.missing, te.UID)
	c.trackedEntities.items.Add(te.UID, te)
}

// Forget evicts a tracked entity, e.g. after it was soft-deleted.
func (c *Cache) Forget(uid string) {
	c.trackedEntities.items.Remove(uid)
}

type kindCache[T any] struct {
	kind    metadata.Kind
	items   *lru.Cache[string, *T]
	missing map[string]struct{}
	fetch   func(ctx context.Context, ids []string) ([]*T, error)
	key     func(*T) string
}

func newKindCache[T any](size int, kind metadata.Kind, fetch func(context.Context, []string) ([]*T, error), key func(*T) string) (*kindCache[T], error) {
	items, err := lru.New[string, *T](size)
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", kind, err)
	}
	return &kindCache[T]{kind: kind, items: items, missing: map[string]struct{}{}, fetch: fetch, key: key}, nil
}

func (k *kindCache[T]) prefetch(ctx context.Context, ids []string) error {
	wanted := lo.Filter(lo.Uniq(ids), func(id string, _ int) bool {
		if id == "" || k.items.Contains(id) {
			return false
		}
		_, miss := k.missing[id]
		return !miss
	})
	if len(wanted) == 0 {
		return nil
	}
	found, err := k.fetch(ctx, wanted)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", k.kind, err)
	}
	keys := importer.UIDSet(lo.Map(found, func(obj *T, _ int) string { return k.key(obj) }))
	for _, obj := range found {
		k.items.Add(k.key(obj), obj)
	}
	// Only ids absent from the result are missing; a fetched object the
	// LRU already evicted is fetched again on lookup.
	for _, id := range wanted {
		if _, ok := keys[id]; !ok {
			k.missing[id] = struct{}{}
		}
	}
	return nil
}

func (k *kindCache[T]) get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, nil
	}
	if obj, ok := k.items.Get(id); ok {
		return obj, nil
	}
	if _, miss := k.missing[id]; miss {
		return nil, nil
	}
	found, err := k.fetch(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("resolve %s %s: %w", k.kind, id, err)
	}
	for _, obj := range found {
		if k.key(obj) == id {
			k.items.Add(id, obj)
			return obj, nil
		}
	}
	k.missing[id] = struct{}{}
	return nil, nil
}

func (k *kindCache[T]) clear() {
	k.items.Purge()
	clear(k.missing)
}
