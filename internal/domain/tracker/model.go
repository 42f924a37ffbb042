package tracker

import "time"

type ProgramStatus string

const (
	ProgramStatusActive    ProgramStatus = "ACTIVE"
	ProgramStatusCompleted ProgramStatus = "COMPLETED"
	ProgramStatusCancelled ProgramStatus = "CANCELLED"
)

type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusCompleted EventStatus = "COMPLETED"
	EventStatusVisited   EventStatus = "VISITED"
	EventStatusSchedule  EventStatus = "SCHEDULE"
	EventStatusOverdue   EventStatus = "OVERDUE"
	EventStatusSkipped   EventStatus = "SKIPPED"
)

// TrackedEntity is the persisted subject record (a person, a case).
type TrackedEntity struct {
	UID                 string     `json:"trackedEntityInstance"`
	OrgUnit             string     `json:"orgUnit"`
	OrgUnitPath         string     `json:"-"`
	Type                string     `json:"trackedEntityType"`
	Geometry            *Geometry  `json:"geometry,omitempty"`
	Inactive            bool       `json:"inactive"`
	Deleted             bool       `json:"deleted"`
	StoredBy            string     `json:"storedBy,omitempty"`
	Created             time.Time  `json:"created"`
	LastUpdated         time.Time  `json:"lastUpdated"`
	CreatedAtClient     *time.Time `json:"createdAtClient,omitempty"`
	LastUpdatedAtClient *time.Time `json:"lastUpdatedAtClient,omitempty"`
}

// AttributeValue is keyed by (Entity, Attribute).
type AttributeValue struct {
	Entity      string    `json:"trackedEntityInstance"`
	Attribute   string    `json:"attribute"`
	Value       string    `json:"value"`
	StoredBy    string    `json:"storedBy,omitempty"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ProgramInstance is a persisted enrollment of an entity into a program.
type ProgramInstance struct {
	UID                 string        `json:"enrollment"`
	Entity              string        `json:"trackedEntityInstance"`
	Program             string        `json:"program"`
	OrgUnit             string        `json:"orgUnit"`
	Status              ProgramStatus `json:"status"`
	EnrollmentDate      *time.Time    `json:"enrollmentDate,omitempty"`
	IncidentDate        *time.Time    `json:"incidentDate,omitempty"`
	EndDate             *time.Time    `json:"completedDate,omitempty"`
	CompletedBy         string        `json:"completedBy,omitempty"`
	FollowUp            bool          `json:"followup"`
	Geometry            *Geometry     `json:"geometry,omitempty"`
	StoredBy            string        `json:"storedBy,omitempty"`
	Deleted             bool          `json:"deleted"`
	Created             time.Time     `json:"created"`
	LastUpdated         time.Time     `json:"lastUpdated"`
	CreatedAtClient     *time.Time    `json:"createdAtClient,omitempty"`
	LastUpdatedAtClient *time.Time    `json:"lastUpdatedAtClient,omitempty"`
}

// Event is a persisted program stage instance.
type Event struct {
	UID           string            `json:"event"`
	Enrollment    string            `json:"enrollment"`
	ProgramStage  string            `json:"programStage"`
	OrgUnit       string            `json:"orgUnit"`
	Status        EventStatus       `json:"status"`
	EventDate     *time.Time        `json:"eventDate,omitempty"`
	DueDate       *time.Time        `json:"dueDate,omitempty"`
	CompletedDate *time.Time        `json:"completedDate,omitempty"`
	CompletedBy   string            `json:"completedBy,omitempty"`
	StoredBy      string            `json:"storedBy,omitempty"`
	DataValues    map[string]string `json:"dataValues,omitempty"`
	Deleted       bool              `json:"deleted"`
	Created       time.Time         `json:"created"`
	LastUpdated   time.Time         `json:"lastUpdated"`
}

// Relationship links two tracked entities. From is the owning side unless
// the relationship type is bidirectional.
type Relationship struct {
	UID           string    `json:"relationship"`
	Type          string    `json:"relationshipType"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Bidirectional bool      `json:"bidirectional"`
	Deleted       bool      `json:"deleted"`
	Created       time.Time `json:"created"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// Involves reports whether entity may write the relationship: it is the
// from side, or either side of a bidirectional relationship.
func (r *Relationship) Involves(entity string) bool {
	if r.From == entity {
		return true
	}
	return r.Bidirectional && r.To == entity
}

// Comment is a note attached to an enrollment.
type Comment struct {
	UID        string    `json:"note"`
	Enrollment string    `json:"enrollment"`
	Text       string    `json:"value"`
	Creator    string    `json:"storedBy"`
	Created    time.Time `json:"storedDate"`
}
