package importer

import (
	"context"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/platform/auth"
)

// The importers talk to each other and to collaborators only through the
// interfaces below. A returned error is a systemic failure: validation
// problems are reported in the summaries.

type EventImporter interface {
	AddEvents(ctx context.Context, events []*Event, opts *ImportOptions) (*ImportSummaries, error)
	UpdateEvents(ctx context.Context, events []*Event, opts *ImportOptions) (*ImportSummaries, error)
	DeleteEvents(ctx context.Context, events []*Event, opts *ImportOptions) (*ImportSummaries, error)
}

type RelationshipImporter interface {
	AddRelationships(ctx context.Context, rels []*Relationship, opts *ImportOptions) (*ImportSummaries, error)
	UpdateRelationships(ctx context.Context, rels []*Relationship, opts *ImportOptions) (*ImportSummaries, error)
	DeleteRelationships(ctx context.Context, rels []*Relationship, opts *ImportOptions) (*ImportSummaries, error)
}

// EnrollmentImporter is what the tracked entity importer cascades into.
// ImportEnrollments partitions the list by the options' strategy.
type EnrollmentImporter interface {
	ImportEnrollments(ctx context.Context, enrollments []*Enrollment, opts *ImportOptions) (*ImportSummaries, error)
}

// ReservedValueService tells whether a value was handed out from the
// reservation pool of a text pattern.
type ReservedValueService interface {
	IsReserved(ctx context.Context, pattern, value string) (bool, error)
}

// AccessManager returns human-readable violations; an empty result grants
// access.
type AccessManager interface {
	CanRead(user *auth.User, te *tracker.TrackedEntity, typ *metadata.TrackedEntityType) []string
	CanWrite(user *auth.User, te *tracker.TrackedEntity, typ *metadata.TrackedEntityType) []string
	CanCreate(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string
	CanUpdate(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string
	CanDelete(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string
	CanWriteRelationship(user *auth.User, r *tracker.Relationship, rt *metadata.RelationshipType) []string
}
