package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer/importertest"
)

func TestManager_TrackedEntity(t *testing.T) {
	md := importertest.NewFixture()
	m := NewManager()
	person := md.TypeList[0]
	inBo := &tracker.TrackedEntity{UID: "teInBo00001", OrgUnit: importertest.ClinicOU, OrgUnitPath: md.OrgUnitByUID(importertest.ClinicOU).Path}
	outside := &tracker.TrackedEntity{UID: "teOutside01", OrgUnit: importertest.OtherOU, OrgUnitPath: md.OrgUnitByUID(importertest.OtherOU).Path}

	assert.Empty(t, m.CanWrite(importertest.Clerk(), inBo, person))
	assert.Equal(t, []string{"User has no write access to organisation unit: " + importertest.OtherOU},
		m.CanWrite(importertest.Clerk(), outside, person))
	assert.Equal(t, []string{"User has no data read access to tracked entity: " + importertest.AreaType},
		m.CanRead(importertest.Clerk(), inBo, md.TypeList[1]))

	assert.Empty(t, m.CanWrite(importertest.Admin(), outside, md.TypeList[1]))
	assert.Empty(t, m.CanWrite(nil, outside, md.TypeList[1]))
}

func TestManager_PublicTypeNeedsNoGrant(t *testing.T) {
	m := NewManager()
	public := &metadata.TrackedEntityType{Identifiable: metadata.Identifiable{UID: "publicType1"}, PublicDataWrite: true}
	te := &tracker.TrackedEntity{OrgUnit: importertest.DistrOU, OrgUnitPath: "/" + importertest.RootOU + "/" + importertest.DistrOU}

	assert.Empty(t, m.CanWrite(importertest.Clerk(), te, public))
}

func TestManager_Enrollment(t *testing.T) {
	md := importertest.NewFixture()
	m := NewManager()
	pi := &tracker.ProgramInstance{UID: "enrollment1"}

	assert.Empty(t, m.CanCreate(importertest.Clerk(), pi, md.ProgramByUID(importertest.ChildProgram), md.OrgUnitByUID(importertest.ClinicOU)))

	errs := m.CanUpdate(importertest.Clerk(), pi, md.ProgramByUID(importertest.SingleEvent), md.OrgUnitByUID(importertest.OtherOU))
	assert.Equal(t, []string{
		"User has no data write access to program: " + importertest.SingleEvent,
		"User has no write access to organisation unit: " + importertest.OtherOU,
	}, errs)

	assert.Empty(t, m.CanDelete(importertest.Admin(), pi, md.ProgramByUID(importertest.SingleEvent), md.OrgUnitByUID(importertest.OtherOU)))
}

func TestManager_Relationship(t *testing.T) {
	m := NewManager()
	r := &tracker.Relationship{UID: "relation001"}

	assert.Empty(t, m.CanWriteRelationship(importertest.Clerk(), r, &metadata.RelationshipType{}))
	assert.NotEmpty(t, m.CanWriteRelationship(importertest.Clerk(), r, nil))
	assert.Empty(t, m.CanWriteRelationship(nil, r, nil))
}
