package importer

import "slices"

type ImportStatus string

const (
	StatusSuccess ImportStatus = "SUCCESS"
	StatusWarning ImportStatus = "WARNING"
	StatusError   ImportStatus = "ERROR"
)

// ImportConflict is a validation failure on one property of one object.
type ImportConflict struct {
	Object string `json:"object"`
	Value  string `json:"value"`
}

type ImportCount struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Ignored  int `json:"ignored"`
	Deleted  int `json:"deleted"`
}

// ImportSummary is the outcome for a single imported object. Conflicts form
// an ordered set.
type ImportSummary struct {
	ResponseType  string           `json:"responseType"`
	Status        ImportStatus     `json:"status"`
	Description   string           `json:"description,omitempty"`
	ImportCount   ImportCount      `json:"importCount"`
	Reference     string           `json:"reference,omitempty"`
	Conflicts     []ImportConflict `json:"conflicts,omitempty"`
	Enrollments   *ImportSummaries `json:"enrollments,omitempty"`
	Events        *ImportSummaries `json:"events,omitempty"`
	Relationships *ImportSummaries `json:"relationships,omitempty"`
}

func NewImportSummary(reference string) *ImportSummary {
	return &ImportSummary{ResponseType: "ImportSummary", Status: StatusSuccess, Reference: reference}
}

// NewErrorSummary returns an ERROR summary carrying description.
func NewErrorSummary(description, reference string) *ImportSummary {
	s := NewImportSummary(reference)
	s.Status = StatusError
	s.Description = description
	return s
}

// AddConflict records a conflict unless an identical one is present.
func (s *ImportSummary) AddConflict(object, value string) {
	c := ImportConflict{Object: object, Value: value}
	if slices.Contains(s.Conflicts, c) {
		return
	}
	s.Conflicts = append(s.Conflicts, c)
}

func (s *ImportSummary) AddConflicts(conflicts []ImportConflict) {
	for _, c := range conflicts {
		s.AddConflict(c.Object, c.Value)
	}
}

func (s *ImportSummary) HasConflicts() bool { return len(s.Conflicts) > 0 }

// Fail marks the summary ERROR.
func (s *ImportSummary) Fail(description string) *ImportSummary {
	s.Status = StatusError
	if description != "" {
		s.Description = description
	}
	return s
}

func (s *ImportSummary) IsError() bool { return s.Status == StatusError }

func (s *ImportSummary) IncrementImported() { s.ImportCount.Imported++ }
func (s *ImportSummary) IncrementUpdated()  { s.ImportCount.Updated++ }
func (s *ImportSummary) IncrementIgnored()  { s.ImportCount.Ignored++ }
func (s *ImportSummary) IncrementDeleted()  { s.ImportCount.Deleted++ }

// ImportSummaries aggregates summaries of a batch. Status is ERROR once any
// ERROR summary is added, otherwise WARNING once any WARNING is added.
type ImportSummaries struct {
	ResponseType    string           `json:"responseType"`
	Status          ImportStatus     `json:"status"`
	Imported        int              `json:"imported"`
	Updated         int              `json:"updated"`
	Deleted         int              `json:"deleted"`
	Ignored         int              `json:"ignored"`
	ImportSummaries []*ImportSummary `json:"importSummaries"`
}

func NewImportSummaries() *ImportSummaries {
	return &ImportSummaries{ResponseType: "ImportSummaries", Status: StatusSuccess, ImportSummaries: []*ImportSummary{}}
}

// Add appends s and folds its counters and status into the totals.
func (ss *ImportSummaries) Add(s *ImportSummary) {
	if s == nil {
		return
	}
	ss.ImportSummaries = append(ss.ImportSummaries, s)
	ss.Imported += s.ImportCount.Imported
	ss.Updated += s.ImportCount.Updated
	ss.Deleted += s.ImportCount.Deleted
	ss.Ignored += s.ImportCount.Ignored

	switch {
	case s.Status == StatusError:
		ss.Status = StatusError
	case s.Status == StatusWarning && ss.Status != StatusError:
		ss.Status = StatusWarning
	}
}

// AddAll folds every summary of other into ss.
func (ss *ImportSummaries) AddAll(other *ImportSummaries) {
	if other == nil {
		return
	}
	for _, s := range other.ImportSummaries {
		ss.Add(s)
	}
}

// ByReference returns the first summary with the given reference, or nil.
func (ss *ImportSummaries) ByReference(ref string) *ImportSummary {
	for _, s := range ss.ImportSummaries {
		if s.Reference == ref {
			return s
		}
	}
	return nil
}

func (ss *ImportSummaries) Len() int { return len(ss.ImportSummaries) }

// Single wraps one summary.
func Single(s *ImportSummary) *ImportSummaries {
	ss := NewImportSummaries()
	ss.Add(s)
	return ss
}
