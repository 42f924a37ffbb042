// Package access decides whether a user may read or write tracker data.
//
// Access to a record combines three checks: the record's org unit must lie
// inside one of the user's capture org units, and the user needs data write
// access to the tracked entity type or program unless it is public. Users
// holding ALL bypass every check, and a nil user is the system itself.
package access

import (
	"slices"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/platform/auth"
)

// Manager is the default importer.AccessManager.
type Manager struct{}

var _ importer.AccessManager = Manager{}

func NewManager() Manager { return Manager{} }

func bypass(user *auth.User) bool {
	return user == nil || user.IsSuper()
}

func inCaptureScope(user *auth.User, path string) bool {
	if path == "" {
		return false
	}
	return slices.ContainsFunc(user.OrgUnits, func(root string) bool {
		return metadata.PathWithin(path, root)
	})
}

func (Manager) CanRead(user *auth.User, te *tracker.TrackedEntity, typ *metadata.TrackedEntityType) []string {
	return entityAccess(user, te, typ, "read")
}

func (Manager) CanWrite(user *auth.User, te *tracker.TrackedEntity, typ *metadata.TrackedEntityType) []string {
	return entityAccess(user, te, typ, "write")
}

func entityAccess(user *auth.User, te *tracker.TrackedEntity, typ *metadata.TrackedEntityType, mode string) []string {
	if bypass(user) {
		return nil
	}
	var errs []string
	if typ != nil && !typ.PublicDataWrite && !slices.Contains(user.TrackedEntityTypes, typ.UID) {
		errs = append(errs, "User has no data "+mode+" access to tracked entity: "+typ.UID)
	}
	if te != nil && !inCaptureScope(user, te.OrgUnitPath) {
		errs = append(errs, "User has no "+mode+" access to organisation unit: "+te.OrgUnit)
	}
	return errs
}

func (Manager) CanCreate(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string {
	return enrollmentAccess(user, pi, program, orgUnit)
}

func (Manager) CanUpdate(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string {
	return enrollmentAccess(user, pi, program, orgUnit)
}

func (Manager) CanDelete(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string {
	return enrollmentAccess(user, pi, program, orgUnit)
}

func enrollmentAccess(user *auth.User, pi *tracker.ProgramInstance, program *metadata.Program, orgUnit *metadata.OrganisationUnit) []string {
	if bypass(user) {
		return nil
	}
	var errs []string
	if program != nil && !program.PublicDataWrite && !slices.Contains(user.Programs, program.UID) {
		errs = append(errs, "User has no data write access to program: "+program.UID)
	}
	if orgUnit != nil && !inCaptureScope(user, orgUnit.Path) {
		errs = append(errs, "User has no write access to organisation unit: "+orgUnit.UID)
	} else if orgUnit == nil && pi != nil {
		errs = append(errs, "User has no write access to organisation unit: "+pi.OrgUnit)
	}
	return errs
}

// CanWriteRelationship allows the system and superusers everything; other
// users need a relationship type to write against.
func (Manager) CanWriteRelationship(user *auth.User, r *tracker.Relationship, rt *metadata.RelationshipType) []string {
	if bypass(user) {
		return nil
	}
	if rt == nil {
		return []string{"User has no data write access to relationship: " + r.UID}
	}
	return nil
}
