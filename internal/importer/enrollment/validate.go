package enrollment

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
	"github.com/hmis/tracker/internal/importer/validation"
	"github.com/hmis/tracker/internal/platform/auth"
)

func withoutRegistration(program *metadata.Program) string {
	return "Provided program " + program.UID +
		" is a program without registration. An enrollment cannot be created into program without registration."
}

// validateRequest runs the create-time checks. It reports done when s was
// failed and the record must not be written.
func (im *Importer) validateRequest(
	ctx context.Context,
	cache *resolver.Cache,
	e *importer.Enrollment,
	status tracker.ProgramStatus,
	te *tracker.TrackedEntity,
	program *metadata.Program,
	opts *importer.ImportOptions,
	s *importer.ImportSummary,
) (bool, error) {
	if !program.IsRegistration() {
		s.Fail(withoutRegistration(program))
		s.IncrementIgnored()
		return true, nil
	}

	if status != tracker.ProgramStatusCancelled {
		current, err := im.gateway.EnrollmentsFor(ctx, te.UID, program.UID)
		if err != nil {
			return false, fmt.Errorf("list enrollments of %s: %w", te.UID, err)
		}
		active := lo.ContainsBy(current, func(pi *tracker.ProgramInstance) bool {
			return pi.Status == tracker.ProgramStatusActive
		})
		if status == tracker.ProgramStatusActive && active {
			s.Fail("TrackedEntityInstance " + te.UID + " already has an active enrollment in program " + program.UID)
			s.IncrementIgnored()
			return true, nil
		}
		if program.OnlyEnrollOnce && lo.ContainsBy(current, func(pi *tracker.ProgramInstance) bool {
			return pi.Status == tracker.ProgramStatusActive || pi.Status == tracker.ProgramStatusCompleted
		}) {
			s.Fail("TrackedEntityInstance " + te.UID + " already has an active or completed enrollment in program " +
				program.UID + ", and this program only allows enrolling one time")
			s.IncrementIgnored()
			return true, nil
		}
	}

	if err := im.checkAttributes(ctx, cache, e, te, program, opts, s); err != nil {
		return false, err
	}
	checkFutureDates(e, program, s)
	if s.HasConflicts() {
		ignore(s)
		return true, nil
	}
	return false, nil
}

// checkAttributes validates the attributes an enrollment carries against
// the program. Stored values of program attributes count towards the
// mandatory check.
func (im *Importer) checkAttributes(
	ctx context.Context,
	cache *resolver.Cache,
	e *importer.Enrollment,
	te *tracker.TrackedEntity,
	program *metadata.Program,
	opts *importer.ImportOptions,
	s *importer.ImportSummary,
) error {
	stored, err := im.gateway.AttributeValues(ctx, te.UID)
	if err != nil {
		return fmt.Errorf("load attribute values of %s: %w", te.UID, err)
	}
	values := make(map[string]string, len(stored)+len(e.Attributes))
	for _, v := range stored {
		if program.Attribute(v.Attribute) != nil {
			values[v.Attribute] = v.Value
		}
	}

	incoming := make(map[string]*metadata.Attribute, len(e.Attributes))
	for _, a := range e.Attributes {
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			s.AddConflict(validation.ObjectAttribute, "Does not point to a valid attribute.")
			continue
		}
		incoming[attr.UID] = attr
		values[attr.UID] = a.Value
		if c := im.validator.ValidateValueType(attr, a.Value); c != nil {
			s.AddConflict(c.Object, c.Value)
		}
	}

	s.AddConflicts(validation.CheckMandatory(program, values, opts.User))

	orgUnit := &metadata.OrganisationUnit{Identifiable: metadata.Identifiable{UID: te.OrgUnit}, Path: te.OrgUnitPath}
	for _, pa := range program.Attributes {
		if pa.Attribute == nil || !pa.Attribute.Unique {
			continue
		}
		c, err := im.validator.ValidateUniqueness(ctx, pa.Attribute, values[pa.Attribute.UID], te.UID, orgUnit)
		if err != nil {
			return err
		}
		if c != nil {
			s.AddConflict(c.Object, c.Value)
		}
	}

	var foreign []string
	for uid := range incoming {
		if program.Attribute(uid) == nil {
			foreign = append(foreign, uid)
		}
	}
	if len(foreign) > 0 {
		slices.Sort(foreign)
		s.AddConflict(validation.ObjectAttribute, "Only program attributes is allowed for enrollment "+fmt.Sprint(foreign))
	}
	return nil
}

func checkFutureDates(e *importer.Enrollment, program *metadata.Program, s *importer.ImportSummary) {
	now := time.Now()
	if d, _ := importer.ParseDate(e.EnrollmentDate); d != nil && !program.SelectEnrollmentDatesInFuture && d.After(now) {
		s.AddConflict("Enrollment.date", "Enrollment Date can't be future date :"+e.EnrollmentDate)
	}
	if d, _ := importer.ParseDate(e.IncidentDate); d != nil && !program.SelectIncidentDatesInFuture && d.After(now) {
		s.AddConflict("Enrollment.incidentDate", "Incident Date can't be future date :"+e.IncidentDate)
	}
}

// enrollmentDates holds the parsed client dates of a payload. invalid names
// the first date that did not parse.
type enrollmentDates struct {
	enrollment          *time.Time
	incident            *time.Time
	completed           *time.Time
	createdAtClient     *time.Time
	lastUpdatedAtClient *time.Time
	invalid             string
}

func parseDates(e *importer.Enrollment) enrollmentDates {
	var d enrollmentDates
	for _, f := range []struct {
		raw  string
		dst  **time.Time
		what string
	}{
		{e.IncidentDate, &d.incident, "Invalid enrollment incident date: "},
		{e.EnrollmentDate, &d.enrollment, "Invalid enrollment date: "},
		{e.CreatedAtClient, &d.createdAtClient, "Invalid enrollment created at client date: "},
		{e.LastUpdatedAtClient, &d.lastUpdatedAtClient, "Invalid enrollment last updated at client date: "},
		{e.CompletedDate, &d.completed, ""},
	} {
		t, err := importer.ParseDate(f.raw)
		if err != nil {
			if d.invalid == "" && f.what != "" {
				d.invalid = f.what + f.raw
			}
			continue
		}
		*f.dst = t
	}
	return d
}

// postSaveProblem returns why a written enrollment must be rolled back, or
// "".
func postSaveProblem(program *metadata.Program, pi *tracker.ProgramInstance, d enrollmentDates) string {
	if program.DisplayIncidentDate && pi.IncidentDate == nil {
		return "DisplayIncidentDate is true but IncidentDate is null"
	}
	return d.invalid
}

func parseStatus(s tracker.ProgramStatus) (tracker.ProgramStatus, bool) {
	switch s {
	case "":
		return tracker.ProgramStatusActive, true
	case tracker.ProgramStatusActive, tracker.ProgramStatusCompleted, tracker.ProgramStatusCancelled:
		return s, true
	}
	return s, false
}

// closeEnrollment stamps completion details on a COMPLETED or CANCELLED
// enrollment.
func closeEnrollment(pi *tracker.ProgramInstance, e *importer.Enrollment, d enrollmentDates, user *auth.User) {
	pi.EndDate = d.completed
	if pi.EndDate == nil {
		now := time.Now().UTC()
		pi.EndDate = &now
	}
	pi.CompletedBy = e.CompletedBy
	if pi.CompletedBy == "" {
		pi.CompletedBy = user.UsernameOr(importer.SystemProcess)
	}
}

func transition(pi *tracker.ProgramInstance, status tracker.ProgramStatus, e *importer.Enrollment, d enrollmentDates, user *auth.User) {
	switch status {
	case tracker.ProgramStatusCompleted, tracker.ProgramStatusCancelled:
		closeEnrollment(pi, e, d, user)
	case tracker.ProgramStatusActive:
		pi.EndDate = nil
		pi.CompletedBy = ""
	}
	pi.Status = status
}

// geometryFor derives the enrollment geometry from the program feature type.
func geometryFor(program *metadata.Program, e *importer.Enrollment, current *tracker.Geometry) *tracker.Geometry {
	switch program.FeatureType {
	case metadata.FeatureTypeNone:
		return nil
	case "":
		if e.Geometry != nil {
			return e.Geometry
		}
		return current
	}
	if e.Geometry != nil {
		return e.Geometry
	}
	if program.FeatureType == metadata.FeatureTypePoint && e.Coordinate != "" {
		g, err := tracker.ParseCoordinate(e.Coordinate)
		if err != nil {
			return nil
		}
		return g
	}
	return current
}
