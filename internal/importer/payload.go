package importer

import (
	"strings"

	"github.com/hmis/tracker/internal/domain/tracker"
)

// Attribute is an attribute value as submitted by a client.
type Attribute struct {
	Attribute   string `json:"attribute" validate:"required"`
	Value       string `json:"value"`
	DisplayName string `json:"displayName,omitempty"`
	ValueType   string `json:"valueType,omitempty"`
	StoredBy    string `json:"storedBy,omitempty"`
}

type Note struct {
	Note       string `json:"note,omitempty"`
	Value      string `json:"value"`
	StoredBy   string `json:"storedBy,omitempty"`
	StoredDate string `json:"storedDate,omitempty"`
}

type DataValue struct {
	DataElement string `json:"dataElement" validate:"required"`
	Value       string `json:"value"`
}

type Event struct {
	Event                 string      `json:"event,omitempty"`
	Enrollment            string      `json:"enrollment,omitempty"`
	Program               string      `json:"program,omitempty"`
	ProgramStage          string      `json:"programStage,omitempty"`
	TrackedEntityInstance string      `json:"trackedEntityInstance,omitempty"`
	OrgUnit               string      `json:"orgUnit,omitempty"`
	Status                string      `json:"status,omitempty"`
	EventDate             string      `json:"eventDate,omitempty"`
	DueDate               string      `json:"dueDate,omitempty"`
	CompletedDate         string      `json:"completedDate,omitempty"`
	CompletedBy           string      `json:"completedBy,omitempty"`
	StoredBy              string      `json:"storedBy,omitempty"`
	Deleted               bool        `json:"deleted,omitempty"`
	DataValues            []DataValue `json:"dataValues,omitempty" validate:"dive"`
	Notes                 []Note      `json:"notes,omitempty"`
}

type Enrollment struct {
	Enrollment            string                `json:"enrollment,omitempty"`
	TrackedEntityInstance string                `json:"trackedEntityInstance,omitempty"`
	TrackedEntityType     string                `json:"trackedEntityType,omitempty"`
	Program               string                `json:"program,omitempty"`
	OrgUnit               string                `json:"orgUnit,omitempty"`
	Status                tracker.ProgramStatus `json:"status,omitempty"`
	EnrollmentDate        string                `json:"enrollmentDate,omitempty"`
	IncidentDate          string                `json:"incidentDate,omitempty"`
	CompletedDate         string                `json:"completedDate,omitempty"`
	CompletedBy           string                `json:"completedBy,omitempty"`
	StoredBy              string                `json:"storedBy,omitempty"`
	FollowUp              *bool                 `json:"followup,omitempty"`
	Deleted               bool                  `json:"deleted,omitempty"`
	Geometry              *tracker.Geometry     `json:"geometry,omitempty"`
	Coordinate            string                `json:"coordinate,omitempty"`
	CreatedAtClient       string                `json:"createdAtClient,omitempty"`
	LastUpdatedAtClient   string                `json:"lastUpdatedAtClient,omitempty"`
	Attributes            []Attribute           `json:"attributes,omitempty" validate:"dive"`
	Events                []*Event              `json:"events,omitempty" validate:"dive"`
	Notes                 []Note                `json:"notes,omitempty"`
}

type TrackedEntityRef struct {
	TrackedEntityInstance string `json:"trackedEntityInstance"`
}

type EnrollmentRef struct {
	Enrollment string `json:"enrollment"`
}

type EventRef struct {
	Event string `json:"event"`
}

// RelationshipItem is one side of a relationship. Exactly one field is set.
type RelationshipItem struct {
	TrackedEntityInstance *TrackedEntityRef `json:"trackedEntityInstance,omitempty"`
	Enrollment            *EnrollmentRef    `json:"enrollment,omitempty"`
	Event                 *EventRef         `json:"event,omitempty"`
}

// TrackedEntity returns the tracked entity uid of the item, or "".
func (i *RelationshipItem) TrackedEntity() string {
	if i == nil || i.TrackedEntityInstance == nil {
		return ""
	}
	return i.TrackedEntityInstance.TrackedEntityInstance
}

// EntityItem builds an item pointing at a tracked entity.
func EntityItem(uid string) *RelationshipItem {
	return &RelationshipItem{TrackedEntityInstance: &TrackedEntityRef{TrackedEntityInstance: uid}}
}

type Relationship struct {
	Relationship     string            `json:"relationship,omitempty"`
	RelationshipType string            `json:"relationshipType" validate:"required"`
	Bidirectional    bool              `json:"bidirectional,omitempty"`
	From             *RelationshipItem `json:"from,omitempty"`
	To               *RelationshipItem `json:"to,omitempty"`
}

type TrackedEntityInstance struct {
	TrackedEntityInstance string            `json:"trackedEntityInstance,omitempty"`
	TrackedEntityType     string            `json:"trackedEntityType,omitempty"`
	OrgUnit               string            `json:"orgUnit,omitempty"`
	Geometry              *tracker.Geometry `json:"geometry,omitempty"`
	FeatureType           string            `json:"featureType,omitempty"`
	Coordinates           string            `json:"coordinates,omitempty"`
	Inactive              bool              `json:"inactive,omitempty"`
	Deleted               bool              `json:"deleted,omitempty"`
	StoredBy              string            `json:"storedBy,omitempty"`
	CreatedAtClient       string            `json:"createdAtClient,omitempty"`
	LastUpdatedAtClient   string            `json:"lastUpdatedAtClient,omitempty"`
	Attributes            []Attribute       `json:"attributes,omitempty" validate:"dive"`
	Enrollments           []*Enrollment     `json:"enrollments,omitempty" validate:"dive"`
	Relationships         []*Relationship   `json:"relationships,omitempty" validate:"dive"`
}

// TrimValues turns whitespace-only identifiers and attribute values into
// empty strings so they count as absent.
func (t *TrackedEntityInstance) TrimValues() {
	t.TrackedEntityInstance = strings.TrimSpace(t.TrackedEntityInstance)
	t.TrackedEntityType = strings.TrimSpace(t.TrackedEntityType)
	t.OrgUnit = strings.TrimSpace(t.OrgUnit)
	for i := range t.Attributes {
		t.Attributes[i].Attribute = strings.TrimSpace(t.Attributes[i].Attribute)
		t.Attributes[i].Value = strings.TrimSpace(t.Attributes[i].Value)
	}
}

// TrackedEntityInstances is the request envelope of a TEI batch.
type TrackedEntityInstances struct {
	TrackedEntityInstances []*TrackedEntityInstance `json:"trackedEntityInstances" validate:"required,dive,required"`
}

// Enrollments is the request envelope of an enrollment batch.
type Enrollments struct {
	Enrollments []*Enrollment `json:"enrollments" validate:"required,dive,required"`
}
