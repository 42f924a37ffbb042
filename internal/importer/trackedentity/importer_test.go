package trackedentity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/access"
	"github.com/hmis/tracker/internal/importer/enrollment"
	"github.com/hmis/tracker/internal/importer/event"
	"github.com/hmis/tracker/internal/importer/importertest"
	"github.com/hmis/tracker/internal/importer/relationship"
	"github.com/hmis/tracker/internal/importer/validation"
	"github.com/hmis/tracker/internal/platform/auth"
)

const (
	jane    = "PQfMcpmXeFE"
	faraway = "farAwayTE01"
)

func setup(t *testing.T) (*Importer, *importertest.Gateway) {
	t.Helper()
	md := importertest.NewFixture()
	gw := importertest.NewGateway()
	gw.OrgUnitPaths = md.OrgUnitPaths()
	gw.PutTrackedEntity(&tracker.TrackedEntity{UID: jane, OrgUnit: importertest.ClinicOU, Type: importertest.PersonType})
	gw.PutTrackedEntity(&tracker.TrackedEntity{UID: faraway, OrgUnit: importertest.OtherOU, Type: importertest.PersonType})
	gw.PutAttributeValue(jane, importertest.FirstName, "Jane")
	gw.PutAttributeValue(faraway, importertest.FirstName, "Amara")

	validator := validation.New(gw, nil)
	manager := access.NewManager()
	events := event.New(gw, md, zerolog.Nop(), 0)
	enrollments := enrollment.New(gw, md, validator, manager, events, zerolog.Nop(), enrollment.Config{FlushFrequency: 2})
	relationships := relationship.New(gw, md, manager, zerolog.Nop(), 0)
	im := New(gw, md, validator, manager, enrollments, relationships, zerolog.Nop(), Config{FlushFrequency: 2})
	return im, gw
}

func person(uid, firstName string) *importer.TrackedEntityInstance {
	return &importer.TrackedEntityInstance{
		TrackedEntityInstance: uid,
		TrackedEntityType:     importertest.PersonType,
		OrgUnit:               importertest.ClinicOU,
		Attributes:            []importer.Attribute{{Attribute: importertest.FirstName, Value: firstName}},
	}
}

func TestAddTrackedEntityInstances(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	tei := person("teiNewAAA01", "Mariama")
	tei.Geometry = tracker.Point(-11.73, 8.11)
	tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.NationalID, Value: " NID-77 "})
	tei.Enrollments = []*importer.Enrollment{{
		Program:        importertest.ChildProgram,
		EnrollmentDate: "2024-02-01",
		IncidentDate:   "2024-01-30",
		Events:         []*importer.Event{{ProgramStage: importertest.BirthStage, EventDate: "2024-02-01"}},
	}}
	tei.Relationships = []*importer.Relationship{{
		RelationshipType: importertest.ChildMotherRel,
		To:               importer.EntityItem(jane),
	}}

	ss, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{tei}, importertest.Options(importertest.Clerk(), importer.StrategyCreate))
	require.NoError(t, err)
	require.Equal(t, 1, ss.Len())
	assert.Equal(t, 1, ss.Imported)

	s := ss.ImportSummaries[0]
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.Equal(t, "teiNewAAA01", s.Reference)

	te := gw.TrackedEntity("teiNewAAA01")
	require.NotNil(t, te)
	assert.Equal(t, importertest.PersonType, te.Type)
	assert.Equal(t, "Point", te.Geometry.Type)
	assert.Equal(t, map[string]string{importertest.FirstName: "Mariama", importertest.NationalID: "NID-77"}, gw.Values("teiNewAAA01"))

	require.NotNil(t, s.Enrollments)
	require.Equal(t, 1, s.Enrollments.Len())
	assert.Equal(t, 1, s.Enrollments.Imported)
	es := s.Enrollments.ImportSummaries[0]
	assert.Equal(t, tei.Enrollments[0].Enrollment, es.Reference)
	assert.Equal(t, "teiNewAAA01", tei.Enrollments[0].TrackedEntityInstance)
	require.NotNil(t, es.Events)
	assert.Equal(t, 1, es.Events.Imported)

	require.NotNil(t, s.Relationships)
	require.Equal(t, 1, s.Relationships.Len())
	assert.Equal(t, 1, s.Relationships.Imported)
	rel := gw.Relationship(s.Relationships.ImportSummaries[0].Reference)
	require.NotNil(t, rel)
	assert.Equal(t, "teiNewAAA01", rel.From, "a relationship without the instance on either side starts from it")
	assert.Equal(t, jane, rel.To)
}

func TestAddTrackedEntityInstances_DuplicateIncludingDeleted(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.PutTrackedEntity(&tracker.TrackedEntity{UID: "teiGoneAA01", OrgUnit: importertest.ClinicOU, Type: importertest.PersonType, Deleted: true})

	ss, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{person("teiGoneAA01", "Fatu"), person(jane, "Jane")}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, ss.Len())
	assert.Equal(t, 2, ss.Ignored)
	for _, s := range ss.ImportSummaries {
		assert.Equal(t, importer.StatusError, s.Status)
		assert.Equal(t, "Tracked entity instance "+s.Reference+" already exists or was deleted earlier", s.Description)
	}
	assert.True(t, gw.TrackedEntity("teiGoneAA01").Deleted)
}

func TestAddTrackedEntityInstances_DuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	ss, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{
		person("newPerson01", "Kadiatu"),
		person("newPerson01", "Hawa"),
	}, importertest.Options(importertest.Clerk(), importer.StrategyCreate))
	require.NoError(t, err)
	require.Equal(t, 2, ss.Len())
	assert.Equal(t, 1, ss.Imported)
	assert.Equal(t, 1, ss.Ignored)

	var rejected *importer.ImportSummary
	for _, s := range ss.ImportSummaries {
		if s.IsError() {
			rejected = s
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, "Tracked entity instance newPerson01 already exists or was deleted earlier", rejected.Description)
	require.NotNil(t, gw.TrackedEntity("newPerson01"))
	assert.Equal(t, "Kadiatu", gw.Values("newPerson01")[importertest.FirstName])
}

func TestAddTrackedEntityInstances_GeneratesUID(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	tei := person("not a uid", "Isatu")
	s, err := im.AddTrackedEntityInstance(ctx, tei, nil)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.True(t, importer.IsValidUID(s.Reference))
	assert.Equal(t, s.Reference, tei.TrackedEntityInstance)
	assert.NotNil(t, gw.TrackedEntity(s.Reference))
}

func TestAddTrackedEntityInstances_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*importer.TrackedEntityInstance)
		opts     *importer.ImportOptions
		object   string
		conflict string
		desc     string
	}{
		{
			name:     "missing type",
			mutate:   func(tei *importer.TrackedEntityInstance) { tei.TrackedEntityType = "" },
			object:   objectType,
			conflict: "Missing required property trackedEntityType",
		},
		{
			name:     "unknown type",
			mutate:   func(tei *importer.TrackedEntityInstance) { tei.TrackedEntityType = "noSuchType1" },
			object:   objectType,
			conflict: "Invalid trackedEntityType noSuchType1",
		},
		{
			name: "unknown attribute",
			mutate: func(tei *importer.TrackedEntityInstance) {
				tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: "noSuchAttr1", Value: "x"})
			},
			object:   validation.ObjectAttribute,
			conflict: "Invalid attribute noSuchAttr1",
		},
		{
			name: "value type",
			mutate: func(tei *importer.TrackedEntityInstance) {
				tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.Gender, Value: "Unknown"})
			},
			object:   validation.ObjectAttributeValue,
			conflict: "Value 'Unknown' is not a valid option for attribute " + importertest.Gender + " and option set",
		},
		{
			name: "non-unique value",
			mutate: func(tei *importer.TrackedEntityInstance) {
				tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.NationalID, Value: "nid-1"})
			},
			object:   validation.ObjectAttributeValue,
			conflict: "Non-unique attribute value 'nid-1' for attribute " + importertest.NationalID,
		},
		{
			name: "pattern",
			mutate: func(tei *importer.TrackedEntityInstance) {
				tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.GeneratedID, Value: "ABC"})
			},
			object:   validation.ObjectAttributeValue,
			conflict: "Value does not match the attribute pattern",
		},
		{
			name:     "no org unit",
			mutate:   func(tei *importer.TrackedEntityInstance) { tei.OrgUnit = "" },
			object:   "teiRejAAA01",
			conflict: "No org unit ID in tracked entity instance object",
		},
		{
			name:     "unknown org unit",
			mutate:   func(tei *importer.TrackedEntityInstance) { tei.OrgUnit = "noSuchOU001" },
			object:   "teiRejAAA01",
			conflict: "Invalid org unit ID: noSuchOU001",
		},
		{
			name:   "outside capture scope",
			mutate: func(tei *importer.TrackedEntityInstance) { tei.OrgUnit = importertest.OtherOU },
			opts:   importertest.Options(importertest.Clerk(), importer.StrategyCreate),
			desc:   "[User has no write access to organisation unit: " + importertest.OtherOU + "]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			im, gw := setup(t)
			gw.PutAttributeValue(jane, importertest.NationalID, "NID-1")
			before := gw.Count(tracker.KindTrackedEntity)

			tei := person("teiRejAAA01", "Kadiatu")
			tt.mutate(tei)
			s, err := im.AddTrackedEntityInstance(ctx, tei, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, importer.StatusError, s.Status)
			assert.Equal(t, 1, s.ImportCount.Ignored)
			if tt.conflict != "" {
				assert.Contains(t, s.Conflicts, importer.ImportConflict{Object: tt.object, Value: tt.conflict})
			}
			if tt.desc != "" {
				assert.Equal(t, tt.desc, s.Description)
			}
			assert.Equal(t, before, gw.Count(tracker.KindTrackedEntity))
		})
	}
}

func TestAddTrackedEntityInstances_SkipPatternValidation(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	tei := person("teiPatAAA01", "Hawa")
	tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.GeneratedID, Value: "LEGACY-9"})
	opts := importer.DefaultImportOptions()
	opts.SkipPatternValidation = true

	s, err := im.AddTrackedEntityInstance(ctx, tei, opts)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.Equal(t, "LEGACY-9", gw.Values("teiPatAAA01")[importertest.GeneratedID])
}

func TestAddTrackedEntityInstances_Geometry(t *testing.T) {
	polygon := &tracker.Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[[[0,0],[1,0],[1,1],[0,0]]]`)}

	tests := []struct {
		name     string
		typ      string
		geometry *tracker.Geometry
		feature  string
		coords   string
		conflict string
		want     string
	}{
		{name: "point for point type", typ: importertest.PersonType, geometry: tracker.Point(1, 2), want: "Point"},
		{name: "polygon for point type", typ: importertest.PersonType, geometry: polygon, conflict: "Geometry does not conform to feature type 'POINT'"},
		{name: "any geometry for a type without one", typ: importertest.AreaType, geometry: tracker.Point(1, 2), conflict: "Geometry does not conform to feature type 'NONE'"},
		{name: "legacy coordinates", typ: importertest.PersonType, feature: "POINT", coords: "[-11.5, 8.2]", want: "Point"},
		{name: "legacy polygon", typ: importertest.PersonType, feature: "POLYGON", coords: `[[[0,0],[1,0],[1,1],[0,0]]]`, want: "Polygon"},
		{name: "unparsable coordinates", typ: importertest.PersonType, feature: "POINT", coords: "north", conflict: "Could not parse coordinates"},
		{name: "no geometry", typ: importertest.AreaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			im, gw := setup(t)

			tei := person("teiGeoAAA01", "Sia")
			tei.TrackedEntityType = tt.typ
			tei.Geometry = tt.geometry
			tei.FeatureType = tt.feature
			tei.Coordinates = tt.coords
			s, err := im.AddTrackedEntityInstance(ctx, tei, nil)
			require.NoError(t, err)

			if tt.conflict != "" {
				assert.Equal(t, importer.StatusError, s.Status)
				assert.Contains(t, s.Conflicts, importer.ImportConflict{Object: "teiGeoAAA01", Value: tt.conflict})
				assert.Nil(t, gw.TrackedEntity("teiGeoAAA01"), "a non-conforming instance is not stored")
				assert.Empty(t, gw.Values("teiGeoAAA01"))
				return
			}
			assert.Equal(t, importer.StatusSuccess, s.Status)
			te := gw.TrackedEntity("teiGeoAAA01")
			require.NotNil(t, te)
			if tt.want == "" {
				assert.Nil(t, te.Geometry)
			} else {
				require.NotNil(t, te.Geometry)
				assert.Equal(t, tt.want, te.Geometry.Type)
			}
		})
	}
}

func TestAddTrackedEntityInstances_CascadeLinksMixedResults(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	good := person("teiGoodAA01", "Aminata")
	good.Enrollments = []*importer.Enrollment{
		{Enrollment: "enrollGood1", Program: importertest.ChildProgram, EnrollmentDate: "2024-03-01", IncidentDate: "2024-03-01"},
		{Enrollment: "enrollBad01", Program: "noSuchProg1", EnrollmentDate: "2024-03-01"},
	}
	bad := person("teiBadAAA01", "Musu")
	bad.TrackedEntityType = ""
	bad.Enrollments = []*importer.Enrollment{{Enrollment: "enrollOrph1", Program: importertest.ChildProgram}}
	third := person("teiThirdA01", "Yeabu")

	ss, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{good, bad, third}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, ss.Len())
	assert.Equal(t, 2, ss.Imported)
	assert.Equal(t, 1, ss.Ignored)
	assert.Equal(t, importer.StatusError, ss.Status)

	gs := ss.ByReference("teiGoodAA01")
	require.NotNil(t, gs.Enrollments)
	assert.Equal(t, 2, gs.Enrollments.Len())
	assert.Equal(t, 1, gs.Enrollments.Imported)
	assert.Equal(t, importer.StatusError, gs.Enrollments.ByReference("enrollBad01").Status)

	bs := ss.ByReference("teiBadAAA01")
	require.NotNil(t, bs.Enrollments)
	assert.Zero(t, bs.Enrollments.Len(), "enrollments of a rejected instance are not imported")
	assert.Nil(t, gw.Enrollment("enrollOrph1"))

	ts := ss.ByReference("teiThirdA01")
	require.NotNil(t, ts.Enrollments)
	assert.Zero(t, ts.Enrollments.Len())
	assert.Equal(t, 1, gw.Count(tracker.KindEnrollment))
	assert.GreaterOrEqual(t, gw.Flushes, 2, "three records in chunks of two flush twice")
}

func TestAddTrackedEntityInstances_RelationshipWithinBatch(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	mother := person("teiMotherA1", "Adama")
	child := person("teiChildAA1", "Binta")
	child.Relationships = []*importer.Relationship{{
		RelationshipType: importertest.ChildMotherRel,
		From:             importer.EntityItem("teiChildAA1"),
		To:               importer.EntityItem("teiMotherA1"),
	}}
	filler := person("teiFillerA1", "Mbalu")

	ss, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{child, filler, mother}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ss.Imported)

	rs := ss.ByReference("teiChildAA1").Relationships
	require.NotNil(t, rs)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, importer.StatusSuccess, rs.ImportSummaries[0].Status, "the other side may come from a later chunk")
	assert.Equal(t, "teiMotherA1", gw.Relationship(rs.ImportSummaries[0].Reference).To)
}

func TestUpdateTrackedEntityInstances_MergesAndPrunes(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.PutAttributeValue(jane, importertest.Gender, "Female")
	gw.PutAttributeValue(jane, importertest.Weight, "3.1")
	gw.PutAttributeValue(jane, importertest.NationalID, "NID-9")

	tei := person(jane, "Janet")
	tei.Attributes = append(tei.Attributes, importer.Attribute{Attribute: importertest.Gender, Value: ""})
	opts := importertest.Options(importertest.Clerk(), importer.StrategyUpdate)
	opts.Program = importertest.ChildProgram

	ss, err := im.UpdateTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{tei}, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, ss.Updated)

	assert.Equal(t, map[string]string{
		importertest.FirstName:  "Janet",
		importertest.NationalID: "NID-9",
	}, gw.Values(jane), "an empty value deletes and a missing program attribute is pruned")
}

func TestUpdateTrackedEntityInstances_IgnoreEmptyCollection(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.PutRelationship(&tracker.Relationship{UID: "relKeepAA01", Type: importertest.ChildMotherRel, From: jane, To: faraway})

	tei := person(jane, "")
	tei.Attributes = nil
	tei.Inactive = true
	opts := importer.DefaultImportOptions().WithStrategy(importer.StrategyUpdate)
	opts.IgnoreEmptyCollection = true

	s, err := im.UpdateTrackedEntityInstance(ctx, tei, opts)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.True(t, gw.TrackedEntity(jane).Inactive)
	assert.Equal(t, "Jane", gw.Values(jane)[importertest.FirstName])
	assert.False(t, gw.Relationship("relKeepAA01").Deleted)
	assert.Nil(t, s.Relationships)
}

func TestUpdateTrackedEntityInstances_Relationships(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.PutRelationship(&tracker.Relationship{UID: "relStaleA01", Type: importertest.ChildMotherRel, From: jane, To: faraway})
	gw.PutRelationship(&tracker.Relationship{UID: "relForeign1", Type: importertest.ChildMotherRel, From: faraway, To: jane})

	tei := person(jane, "Jane")
	tei.Relationships = []*importer.Relationship{{
		Relationship:     "relForeign1",
		RelationshipType: importertest.ChildMotherRel,
		From:             importer.EntityItem(faraway),
		To:               importer.EntityItem(jane),
	}}

	s, err := im.UpdateTrackedEntityInstance(ctx, tei, nil)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)

	require.NotNil(t, s.Relationships)
	owner := s.Relationships.ByReference("relForeign1")
	require.NotNil(t, owner)
	assert.Equal(t, importer.StatusError, owner.Status)
	assert.Equal(t, "Can't update relationship 'relForeign1': TrackedEntityInstance '"+jane+"' is not the owner of the relationship", owner.Description)

	assert.True(t, gw.Relationship("relStaleA01").Deleted, "stored relationships missing from the payload are removed")
	assert.False(t, gw.Relationship("relForeign1").Deleted)
	assert.Equal(t, 1, s.Relationships.Deleted)
}

func TestUpdateTrackedEntityInstances_Rejections(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	s, err := im.UpdateTrackedEntityInstance(ctx, person("missingTE01", "X"), nil)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusError, s.Status)
	assert.Contains(t, s.Conflicts, importer.ImportConflict{Object: "TrackedEntityInstance", Value: "Tracked entity instance missingTE01 does not exist"})

	far := person(faraway, "Amara")
	far.OrgUnit = importertest.OtherOU
	s, err = im.UpdateTrackedEntityInstance(ctx, far, importertest.Options(importertest.Clerk(), importer.StrategyUpdate))
	require.NoError(t, err)
	assert.Equal(t, importer.StatusError, s.Status)
	assert.Equal(t, "[User has no write access to organisation unit: "+importertest.OtherOU+"]", s.Description)

	moved := person(jane, "Jane")
	moved.OrgUnit = "noSuchOU001"
	s, err = im.UpdateTrackedEntityInstance(ctx, moved, nil)
	require.NoError(t, err)
	assert.Contains(t, s.Conflicts, importer.ImportConflict{Object: "OrganisationUnit", Value: "Org unit noSuchOU001 does not exist"})

	scoped := person(jane, "Jane")
	scoped.Attributes = append(scoped.Attributes, importer.Attribute{Attribute: importertest.CaseNotes, Value: "seen"})
	opts := importer.DefaultImportOptions().WithStrategy(importer.StrategyUpdate)
	opts.Program = importertest.ChildProgram
	s, err = im.UpdateTrackedEntityInstance(ctx, scoped, opts)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusError, s.Status)
	assert.Contains(t, s.Conflicts, importer.ImportConflict{
		Object: validation.ObjectAttribute,
		Value:  "Attribute " + importertest.CaseNotes + " is not a program or tracked entity type attribute",
	})
	assert.Equal(t, "Jane", gw.Values(jane)[importertest.FirstName])
	assert.NotContains(t, gw.Values(jane), importertest.CaseNotes)
}

func TestDeleteTrackedEntityInstances(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.PutEnrollment(&tracker.ProgramInstance{UID: "enrollJane1", Entity: jane, Program: importertest.ChildProgram, OrgUnit: importertest.ClinicOU, Status: tracker.ProgramStatusActive})
	gw.PutEvent(&tracker.Event{UID: "eventJane01", Enrollment: "enrollJane1", ProgramStage: importertest.BirthStage, OrgUnit: importertest.ClinicOU})

	s, err := im.DeleteTrackedEntityInstance(ctx, jane, importertest.Options(importertest.Clerk(), importer.StrategyDelete))
	require.NoError(t, err)
	assert.Equal(t, importer.StatusError, s.Status)
	assert.Contains(t, s.Conflicts, importer.ImportConflict{
		Object: jane,
		Value: "Tracked entity instance " + jane + " cannot be deleted as it has associated enrollments and user does not have authority " +
			auth.AuthorityTEICascadeDelete,
	})
	assert.False(t, gw.TrackedEntity(jane).Deleted)

	s, err = im.DeleteTrackedEntityInstance(ctx, jane, importertest.Options(importertest.Admin(), importer.StrategyDelete))
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.Equal(t, "Deletion of tracked entity instance "+jane+" was successful", s.Description)
	assert.Equal(t, 1, s.ImportCount.Deleted)
	assert.True(t, gw.TrackedEntity(jane).Deleted)
	assert.True(t, gw.Enrollment("enrollJane1").Deleted)
	assert.True(t, gw.Event("eventJane01").Deleted)

	s, err = im.DeleteTrackedEntityInstance(ctx, "missingTE01", nil)
	require.NoError(t, err)
	assert.Equal(t, importer.StatusSuccess, s.Status)
	assert.Equal(t, "Tracked entity instance missingTE01 cannot be deleted as it is not present in the system", s.Description)
	assert.Equal(t, 1, s.ImportCount.Ignored)
}

func TestImportTrackedEntityInstances_CreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	ss, err := im.ImportTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{
		person(jane, "Jane Doe"),
		person("teiFreshA01", "Kumba"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, ss.Imported)
	assert.Equal(t, 1, ss.Updated)
	assert.Equal(t, "Jane Doe", gw.Values(jane)[importertest.FirstName])
	assert.NotNil(t, gw.TrackedEntity("teiFreshA01"))
}

func TestImportTrackedEntityInstances_SyncDeletes(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)

	gone := person(faraway, "Amara")
	gone.Deleted = true
	ss, err := im.ImportTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{gone}, importertest.Options(nil, importer.StrategySync))
	require.NoError(t, err)
	assert.Equal(t, 1, ss.Deleted)
	assert.True(t, gw.TrackedEntity(faraway).Deleted)
}

func TestAddTrackedEntityInstances_StoreFailure(t *testing.T) {
	ctx := context.Background()
	im, gw := setup(t)
	gw.FailOn["AddAttributeValue"] = assert.AnError

	_, err := im.AddTrackedEntityInstances(ctx, []*importer.TrackedEntityInstance{person("teiFailAA01", "Nenneh")}, nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, gw.TrackedEntity("teiFailAA01"), "the record's transaction is rolled back")
}
