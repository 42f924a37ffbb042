package importertest

import (
	"context"
	"slices"
	"sync"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/platform/auth"
)

// Metadata is an in-memory metadata.Store. Calls counts bulk queries per
// kind.
type Metadata struct {
	OrgUnitList   []*metadata.OrganisationUnit
	ProgramList   []*metadata.Program
	StageList     []*metadata.ProgramStage
	TypeList      []*metadata.TrackedEntityType
	AttributeList []*metadata.Attribute
	RelTypeList   []*metadata.RelationshipType

	mu    sync.Mutex
	Calls map[metadata.Kind]int
}

var _ metadata.Store = (*Metadata)(nil)

func NewMetadata() *Metadata {
	return &Metadata{Calls: map[metadata.Kind]int{}}
}

func (m *Metadata) count(kind metadata.Kind) {
	m.mu.Lock()
	m.Calls[kind]++
	m.mu.Unlock()
}

func match[T any](items []*T, ident func(*T) string, ids []string) []*T {
	var out []*T
	for _, it := range items {
		if slices.Contains(ids, ident(it)) {
			out = append(out, it)
		}
	}
	return out
}

func (m *Metadata) OrganisationUnits(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.OrganisationUnit, error) {
	m.count(metadata.KindOrganisationUnit)
	return match(m.OrgUnitList, func(o *metadata.OrganisationUnit) string { return o.Identifier(scheme) }, ids), nil
}

func (m *Metadata) Programs(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.Program, error) {
	m.count(metadata.KindProgram)
	return match(m.ProgramList, func(p *metadata.Program) string { return p.Identifier(scheme) }, ids), nil
}

func (m *Metadata) ProgramStages(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.ProgramStage, error) {
	m.count(metadata.KindProgramStage)
	return match(m.StageList, func(p *metadata.ProgramStage) string { return p.Identifier(scheme) }, ids), nil
}

func (m *Metadata) TrackedEntityTypes(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.TrackedEntityType, error) {
	m.count(metadata.KindTrackedEntityType)
	return match(m.TypeList, func(t *metadata.TrackedEntityType) string { return t.Identifier(scheme) }, ids), nil
}

func (m *Metadata) Attributes(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.Attribute, error) {
	m.count(metadata.KindAttribute)
	return match(m.AttributeList, func(a *metadata.Attribute) string { return a.Identifier(scheme) }, ids), nil
}

func (m *Metadata) RelationshipTypes(_ context.Context, scheme metadata.IDScheme, ids []string) ([]*metadata.RelationshipType, error) {
	m.count(metadata.KindRelationshipType)
	return match(m.RelTypeList, func(r *metadata.RelationshipType) string { return r.Identifier(scheme) }, ids), nil
}

// OrgUnitPaths maps every org unit uid to its path, for Gateway.
func (m *Metadata) OrgUnitPaths() map[string]string {
	out := map[string]string{}
	for _, ou := range m.OrgUnitList {
		out[ou.UID] = ou.Path
	}
	return out
}

// Fixture uids shared by the importer tests.
const (
	RootOU   = "ImspTQPwCqd"
	DistrOU  = "O6uvpzGd5pu"
	ClinicOU = "DiszpKrYNg8"
	OtherOU  = "PMa2VCrupOd"

	PersonType = "nEenWmSyUEp"
	AreaType   = "bVkFujnp3F2"

	FirstName   = "w75KJ2mc4zz"
	NationalID  = "lZGmxYbs97q"
	Gender      = "cejWyOfXge6"
	Weight      = "GbKWvM2JgiM"
	GeneratedID = "AuPLng5hLbE"
	CaseNotes   = "kKUD3oQ5pHr"

	ChildProgram   = "IpHINAT79UW"
	OnceProgram    = "uy2gU8kT1jF"
	SingleEvent    = "eBAyeGv0exc"
	BirthStage     = "A03MvHHogjR"
	ChildMotherRel = "l1VmqIHKk6t"
	SiblingRel     = "NR3MkQ1wDfz"
)

// NewFixture returns a small metadata set: a three level org unit tree
// plus a sibling, a person type with point geometry, an area type with no
// geometry, a registration program with a mandatory first name, an enroll
// once program and a program without registration.
func NewFixture() *Metadata {
	m := NewMetadata()
	m.OrgUnitList = []*metadata.OrganisationUnit{
		{Identifiable: metadata.Identifiable{UID: RootOU, Code: "OU_ROOT", Name: "Sierra Leone"}, Path: "/" + RootOU},
		{Identifiable: metadata.Identifiable{UID: DistrOU, Code: "OU_BO", Name: "Bo"}, Path: "/" + RootOU + "/" + DistrOU},
		{Identifiable: metadata.Identifiable{UID: ClinicOU, Code: "OU_NGELEHUN", Name: "Ngelehun CHC"}, Path: "/" + RootOU + "/" + DistrOU + "/" + ClinicOU},
		{Identifiable: metadata.Identifiable{UID: OtherOU, Code: "OU_KAILAHUN", Name: "Kailahun"}, Path: "/" + RootOU + "/" + OtherOU},
	}
	firstName := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: FirstName, Code: "FIRST_NAME", Name: "First name"}, ValueType: metadata.ValueTypeText}
	nationalID := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: NationalID, Code: "NATIONAL_ID", Name: "National ID"}, ValueType: metadata.ValueTypeText, Unique: true, OrgUnitScope: true}
	gender := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: Gender, Code: "GENDER", Name: "Gender"}, ValueType: metadata.ValueTypeText, OptionSet: []string{"Male", "Female"}}
	weight := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: Weight, Code: "WEIGHT", Name: "Weight"}, ValueType: metadata.ValueTypeNumber}
	generated := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: GeneratedID, Code: "UNIQUE_ID", Name: "Unique ID"}, ValueType: metadata.ValueTypeText, Unique: true, Generated: true, Pattern: `"ID-" + SEQUENTIAL(####)`}
	notes := &metadata.Attribute{Identifiable: metadata.Identifiable{UID: CaseNotes, Code: "CASE_NOTES", Name: "Case notes"}, ValueType: metadata.ValueTypeLongText}
	m.AttributeList = []*metadata.Attribute{firstName, nationalID, gender, weight, generated, notes}

	m.TypeList = []*metadata.TrackedEntityType{
		{Identifiable: metadata.Identifiable{UID: PersonType, Code: "PERSON", Name: "Person"}, FeatureType: metadata.FeatureTypePoint,
			Attributes: []*metadata.Attribute{firstName, nationalID, gender, generated}},
		{Identifiable: metadata.Identifiable{UID: AreaType, Code: "AREA", Name: "Area"}, FeatureType: metadata.FeatureTypeNone,
			Attributes: []*metadata.Attribute{firstName}},
	}
	m.ProgramList = []*metadata.Program{
		{Identifiable: metadata.Identifiable{UID: ChildProgram, Code: "CHILD", Name: "Child Programme"}, Type: metadata.ProgramWithRegistration,
			DisplayIncidentDate: true, FeatureType: metadata.FeatureTypePoint, TrackedEntityType: PersonType,
			Attributes: []*metadata.ProgramAttribute{{Attribute: firstName, Mandatory: true}, {Attribute: weight}, {Attribute: gender}}},
		{Identifiable: metadata.Identifiable{UID: OnceProgram, Code: "ONCE", Name: "Birth registration"}, Type: metadata.ProgramWithRegistration,
			OnlyEnrollOnce: true, TrackedEntityType: PersonType,
			Attributes: []*metadata.ProgramAttribute{{Attribute: firstName}}},
		{Identifiable: metadata.Identifiable{UID: SingleEvent, Code: "SINGLE", Name: "Inpatient morbidity"}, Type: metadata.ProgramWithoutRegistration},
	}
	m.StageList = []*metadata.ProgramStage{
		{Identifiable: metadata.Identifiable{UID: BirthStage, Code: "BIRTH", Name: "Birth"}, Program: ChildProgram},
	}
	m.RelTypeList = []*metadata.RelationshipType{
		{Identifiable: metadata.Identifiable{UID: ChildMotherRel, Code: "MOTHER_CHILD", Name: "Mother-Child"}},
		{Identifiable: metadata.Identifiable{UID: SiblingRel, Code: "SIBLING", Name: "Sibling"}, Bidirectional: true},
	}
	return m
}

// Admin is a superuser.
func Admin() *auth.User {
	return &auth.User{UID: "xE7jOejl9FI", Username: "admin", Authorities: []string{auth.AuthorityAll}, OrgUnits: []string{"/" + RootOU}}
}

// Clerk may capture data in the Bo district only and holds no authorities.
func Clerk() *auth.User {
	return &auth.User{
		UID: "DXyJmlo9rge", Username: "clerk",
		OrgUnits:           []string{"/" + RootOU + "/" + DistrOU},
		Programs:           []string{ChildProgram, OnceProgram},
		TrackedEntityTypes: []string{PersonType},
	}
}

// Options returns import options acting as user with strategy.
func Options(user *auth.User, strategy importer.ImportStrategy) *importer.ImportOptions {
	return &importer.ImportOptions{Strategy: strategy, User: user}
}

func (m *Metadata) ProgramByUID(uid string) *metadata.Program {
	for _, p := range m.ProgramList {
		if p.UID == uid {
			return p
		}
	}
	return nil
}

func (m *Metadata) AttributeByUID(uid string) *metadata.Attribute {
	for _, a := range m.AttributeList {
		if a.UID == uid {
			return a
		}
	}
	return nil
}

func (m *Metadata) OrgUnitByUID(uid string) *metadata.OrganisationUnit {
	for _, ou := range m.OrgUnitList {
		if ou.UID == uid {
			return ou
		}
	}
	return nil
}
