package tracker

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("tracker object not found")

// Kind names a class of persisted tracker object.
type Kind string

const (
	KindTrackedEntity Kind = "trackedEntityInstance"
	KindEnrollment    Kind = "enrollment"
	KindEvent         Kind = "event"
	KindRelationship  Kind = "relationship"
	KindNote          Kind = "note"
)

// TrackedEntityStore persists tracked entities. Getters ignore soft-deleted
// rows and return ErrNotFound for them.
type TrackedEntityStore interface {
	GetTrackedEntity(ctx context.Context, uid string) (*TrackedEntity, error)
	TrackedEntities(ctx context.Context, uids []string) ([]*TrackedEntity, error)
	CreateTrackedEntity(ctx context.Context, te *TrackedEntity) error
	UpdateTrackedEntity(ctx context.Context, te *TrackedEntity) error
	DeleteTrackedEntity(ctx context.Context, uid string) error
}

// AttributeValueStore holds at most one value per (entity, attribute).
type AttributeValueStore interface {
	AttributeValues(ctx context.Context, entity string) ([]*AttributeValue, error)
	AddAttributeValue(ctx context.Context, v *AttributeValue) error
	UpdateAttributeValue(ctx context.Context, v *AttributeValue) error
	DeleteAttributeValue(ctx context.Context, entity, attribute string) error
	// EntitiesWithAttributeValue returns the non-deleted entities holding
	// value for attribute, compared case-insensitively. A non-empty
	// orgUnitPath restricts the search to that org unit subtree.
	EntitiesWithAttributeValue(ctx context.Context, attribute, value, orgUnitPath string) ([]string, error)
}

type EnrollmentStore interface {
	GetEnrollment(ctx context.Context, uid string) (*ProgramInstance, error)
	// EnrollmentsFor lists non-deleted enrollments of entity. An empty
	// program lists enrollments in every program.
	EnrollmentsFor(ctx context.Context, entity, program string) ([]*ProgramInstance, error)
	CreateEnrollment(ctx context.Context, pi *ProgramInstance) error
	UpdateEnrollment(ctx context.Context, pi *ProgramInstance) error
	DeleteEnrollment(ctx context.Context, uid string) error
	AssignOwnership(ctx context.Context, entity, program, orgUnit string) error
	CreateComment(ctx context.Context, c *Comment) error
}

type EventStore interface {
	GetEvent(ctx context.Context, uid string) (*Event, error)
	EventsFor(ctx context.Context, enrollment string) ([]*Event, error)
	CreateEvent(ctx context.Context, ev *Event) error
	UpdateEvent(ctx context.Context, ev *Event) error
	DeleteEvent(ctx context.Context, uid string) error
}

type RelationshipStore interface {
	GetRelationship(ctx context.Context, uid string) (*Relationship, error)
	// RelationshipsFor lists non-deleted relationships with entity on
	// either side.
	RelationshipsFor(ctx context.Context, entity string) ([]*Relationship, error)
	CreateRelationship(ctx context.Context, r *Relationship) error
	UpdateRelationship(ctx context.Context, r *Relationship) error
	DeleteRelationship(ctx context.Context, uid string) error
}

// Gateway is everything the importers need from persistence.
type Gateway interface {
	TrackedEntityStore
	AttributeValueStore
	EnrollmentStore
	EventStore
	RelationshipStore

	// Existing returns the subset of uids that exist for kind.
	// Soft-deleted rows count only when includeDeleted is set.
	Existing(ctx context.Context, kind Kind, uids []string, includeDeleted bool) ([]string, error)
	// InTx runs fn as one unit of work.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	// Flush makes pending writes visible to later reads.
	Flush(ctx context.Context) error
}

// Exists reports whether a non-deleted object of kind exists.
func Exists(ctx context.Context, g Gateway, kind Kind, uid string) (bool, error) {
	return exists(ctx, g, kind, uid, false)
}

// ExistsIncludingDeleted reports whether an object of kind was ever stored.
func ExistsIncludingDeleted(ctx context.Context, g Gateway, kind Kind, uid string) (bool, error) {
	return exists(ctx, g, kind, uid, true)
}

func exists(ctx context.Context, g Gateway, kind Kind, uid string, includeDeleted bool) (bool, error) {
	if uid == "" {
		return false, nil
	}
	found, err := g.Existing(ctx, kind, []string{uid}, includeDeleted)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}
