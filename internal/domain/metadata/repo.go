package metadata

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("metadata object not found")

// Kind names a class of metadata object.
type Kind string

const (
	KindOrganisationUnit  Kind = "organisationUnit"
	KindProgram           Kind = "program"
	KindProgramStage      Kind = "programStage"
	KindTrackedEntityType Kind = "trackedEntityType"
	KindAttribute         Kind = "trackedEntityAttribute"
	KindRelationshipType  Kind = "relationshipType"
)

// Store looks up metadata by external identifier. Every method is a bulk
// query: ids are matched under scheme and objects that do not exist are
// simply absent from the result.
type Store interface {
	OrganisationUnits(ctx context.Context, scheme IDScheme, ids []string) ([]*OrganisationUnit, error)
	Programs(ctx context.Context, scheme IDScheme, ids []string) ([]*Program, error)
	ProgramStages(ctx context.Context, scheme IDScheme, ids []string) ([]*ProgramStage, error)
	TrackedEntityTypes(ctx context.Context, scheme IDScheme, ids []string) ([]*TrackedEntityType, error)
	Attributes(ctx context.Context, scheme IDScheme, ids []string) ([]*Attribute, error)
	RelationshipTypes(ctx context.Context, scheme IDScheme, ids []string) ([]*RelationshipType, error)
}

// GetByIDScheme resolves a single object of the given kind. It returns
// ErrNotFound when no object matches.
func GetByIDScheme(ctx context.Context, s Store, kind Kind, scheme IDScheme, id string) (any, error) {
	ids := []string{id}
	switch kind {
	case KindOrganisationUnit:
		return single(s.OrganisationUnits(ctx, scheme, ids))
	case KindProgram:
		return single(s.Programs(ctx, scheme, ids))
	case KindProgramStage:
		return single(s.ProgramStages(ctx, scheme, ids))
	case KindTrackedEntityType:
		return single(s.TrackedEntityTypes(ctx, scheme, ids))
	case KindAttribute:
		return single(s.Attributes(ctx, scheme, ids))
	case KindRelationshipType:
		return single(s.RelationshipTypes(ctx, scheme, ids))
	}
	return nil, errors.New("unknown metadata kind " + string(kind))
}

// ByUID resolves a single object of kind by uid. Unlike GetByIDScheme it
// returns nil without error when nothing matches.
func ByUID[T any](ctx context.Context, s Store, kind Kind, uid string) (*T, error) {
	if uid == "" {
		return nil, nil
	}
	obj, err := GetByIDScheme(ctx, s, kind, UIDScheme, uid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, _ := obj.(*T)
	return t, nil
}

func single[T any](items []*T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}
