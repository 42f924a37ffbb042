package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
	"github.com/hmis/tracker/internal/platform/auth"
)

// rejection aborts the transaction of a record. The record is reported
// failed with the description; it is not a systemic error.
type rejection struct{ description string }

func (r *rejection) Error() string { return r.description }

func ignore(s *importer.ImportSummary) *importer.ImportSummary {
	s.Fail("")
	s.IncrementIgnored()
	return s
}

func (im *Importer) addEnrollment(ctx context.Context, cache *resolver.Cache, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	if !importer.IsValidUID(e.Enrollment) {
		e.Enrollment = importer.GenerateUID()
	}
	s := importer.NewImportSummary(e.Enrollment)

	te, err := cache.TrackedEntity(ctx, e.TrackedEntityInstance)
	if err != nil {
		return nil, err
	}
	if te == nil {
		s.AddConflict("TrackedEntityInstance", "Invalid tracked entity instance "+e.TrackedEntityInstance)
		return ignore(s), nil
	}
	program, err := cache.Program(ctx, e.Program)
	if err != nil {
		return nil, err
	}
	if program == nil {
		s.AddConflict("Enrollment.program", "Invalid program "+e.Program)
		return ignore(s), nil
	}

	status, ok := parseStatus(e.Status)
	if !ok {
		s.AddConflict("Enrollment.status", "Invalid enrollment status "+string(e.Status))
		return ignore(s), nil
	}
	done, err := im.validateRequest(ctx, cache, e, status, te, program, opts, s)
	if err != nil {
		return nil, err
	}
	if done {
		return s, nil
	}

	orgUnit, err := im.enrollmentOrgUnit(ctx, cache, e, te)
	if err != nil {
		return nil, err
	}
	if orgUnit == nil {
		s.AddConflict("Enrollment.orgUnit", "Invalid org unit "+e.OrgUnit)
		return ignore(s), nil
	}

	dates := parseDates(e)
	now := time.Now().UTC()
	pi := &tracker.ProgramInstance{
		UID:                 e.Enrollment,
		Entity:              te.UID,
		Program:             program.UID,
		OrgUnit:             orgUnit.UID,
		Status:              status,
		EnrollmentDate:      dates.enrollment,
		IncidentDate:        dates.incident,
		CreatedAtClient:     dates.createdAtClient,
		LastUpdatedAtClient: dates.lastUpdatedAtClient,
		Geometry:            geometryFor(program, e, nil),
		Created:             now,
		LastUpdated:         now,
	}
	if pi.EnrollmentDate == nil {
		pi.EnrollmentDate = &now
	}
	if e.FollowUp != nil {
		pi.FollowUp = *e.FollowUp
	}

	if errs := im.access.CanCreate(opts.User, pi, program, orgUnit); len(errs) > 0 {
		s.Fail(fmt.Sprint(errs))
		s.IncrementIgnored()
		return s, nil
	}
	if status == tracker.ProgramStatusCompleted || status == tracker.ProgramStatusCancelled {
		closeEnrollment(pi, e, dates, opts.User)
	}
	pi.StoredBy = importer.ResolveStoredBy(e.StoredBy, opts.User, s)

	err = im.gateway.InTx(ctx, func(ctx context.Context) error {
		if err := im.gateway.CreateEnrollment(ctx, pi); err != nil {
			return fmt.Errorf("create enrollment %s: %w", pi.UID, err)
		}
		if desc := postSaveProblem(program, pi, dates); desc != "" {
			return &rejection{description: desc}
		}
		if err := im.writeAttributeValues(ctx, cache, te.UID, e.Attributes, opts.User); err != nil {
			return err
		}
		if err := im.gateway.AssignOwnership(ctx, te.UID, program.UID, orgUnit.UID); err != nil {
			return fmt.Errorf("assign ownership of %s: %w", te.UID, err)
		}
		return im.saveNotes(ctx, pi, e.Notes, pi.StoredBy)
	})
	var rej *rejection
	if errors.As(err, &rej) {
		s.Fail(rej.description)
		s.IncrementIgnored()
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.IncrementImported()
	stampEvents(e, pi)
	return s, nil
}

func (im *Importer) updateEnrollment(ctx context.Context, cache *resolver.Cache, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	if e == nil || e.Enrollment == "" {
		s := importer.NewErrorSummary("No enrollment or enrollment ID was supplied", "")
		s.IncrementIgnored()
		return s, nil
	}
	pi, err := im.gateway.GetEnrollment(ctx, e.Enrollment)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, err
	}
	if pi == nil {
		s := importer.NewErrorSummary("ID "+e.Enrollment+" doesn't point to a valid enrollment.", e.Enrollment)
		s.IncrementIgnored()
		return s, nil
	}
	s := importer.NewImportSummary(e.Enrollment)

	current, currentOU, err := im.enrollmentScope(ctx, pi)
	if err != nil {
		return nil, err
	}
	if errs := im.access.CanUpdate(opts.User, pi, current, currentOU); len(errs) > 0 {
		s.Fail(fmt.Sprint(errs))
		s.IncrementIgnored()
		return s, nil
	}

	program := current
	if e.Program != "" {
		if program, err = cache.Program(ctx, e.Program); err != nil {
			return nil, err
		}
	}
	if program == nil {
		s.AddConflict("Enrollment.program", "Invalid program "+e.Program)
		return ignore(s), nil
	}
	te, err := cache.TrackedEntity(ctx, pi.Entity)
	if err != nil {
		return nil, err
	}
	if te == nil {
		s.AddConflict("TrackedEntityInstance", "Invalid tracked entity instance "+pi.Entity)
		return ignore(s), nil
	}
	if err := im.checkAttributes(ctx, cache, e, te, program, opts, s); err != nil {
		return nil, err
	}
	if s.HasConflicts() {
		return ignore(s), nil
	}
	if !program.IsRegistration() {
		s.Fail(withoutRegistration(program))
		s.IncrementIgnored()
		return s, nil
	}

	dates := parseDates(e)
	pi.Program = program.UID
	if dates.incident != nil {
		pi.IncidentDate = dates.incident
	}
	if dates.enrollment != nil {
		pi.EnrollmentDate = dates.enrollment
	}
	if e.OrgUnit != "" {
		ou, err := cache.OrganisationUnit(ctx, e.OrgUnit)
		if err != nil {
			return nil, err
		}
		if ou == nil {
			s.AddConflict("Enrollment.orgUnit", "Invalid org unit "+e.OrgUnit)
			return ignore(s), nil
		}
		pi.OrgUnit = ou.UID
	}
	if e.FollowUp != nil {
		pi.FollowUp = *e.FollowUp
	}
	pi.Geometry = geometryFor(program, e, pi.Geometry)

	if status, ok := parseStatus(e.Status); !ok {
		s.AddConflict("Enrollment.status", "Invalid enrollment status "+string(e.Status))
		return ignore(s), nil
	} else if e.Status != "" && status != pi.Status {
		transition(pi, status, e, dates, opts.User)
	}
	if dates.lastUpdatedAtClient != nil {
		pi.LastUpdatedAtClient = dates.lastUpdatedAtClient
	}
	pi.LastUpdated = time.Now().UTC()
	storedBy := importer.ResolveStoredBy(e.StoredBy, opts.User, s)

	err = im.gateway.InTx(ctx, func(ctx context.Context) error {
		if err := im.gateway.UpdateEnrollment(ctx, pi); err != nil {
			return fmt.Errorf("update enrollment %s: %w", pi.UID, err)
		}
		if desc := postSaveProblem(program, pi, dates); desc != "" {
			return &rejection{description: desc}
		}
		if err := im.writeAttributeValues(ctx, cache, te.UID, e.Attributes, opts.User); err != nil {
			return err
		}
		return im.saveNotes(ctx, pi, e.Notes, storedBy)
	})
	var rej *rejection
	if errors.As(err, &rej) {
		s.Fail(rej.description)
		s.IncrementIgnored()
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	s.IncrementUpdated()
	e.TrackedEntityInstance = te.UID
	stampEvents(e, pi)
	return s, nil
}

func (im *Importer) deleteEnrollment(ctx context.Context, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	uid := e.Enrollment
	s := importer.NewImportSummary(uid)
	pi, err := im.gateway.GetEnrollment(ctx, uid)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, err
	}
	if pi == nil {
		s.Description = "Enrollment " + uid + " cannot be deleted as it is not present in the system"
		s.IncrementIgnored()
		return s, nil
	}

	if len(e.Events) > 0 {
		e.TrackedEntityInstance = pi.Entity
		stampEvents(e, pi)
		nested, err := im.handleEvents(ctx, e.Events, opts)
		if err != nil {
			return nil, err
		}
		s.Events = nested
	}

	events, err := im.gateway.EventsFor(ctx, pi.UID)
	if err != nil {
		return nil, err
	}
	if opts.User != nil {
		if len(events) > 0 && !opts.User.IsAuthorized(auth.AuthorityEnrollmentCascadeDelete) {
			s.AddConflict(pi.UID, "Enrollment "+pi.UID+" cannot be deleted as it has associated events and user does not have authority: "+auth.AuthorityEnrollmentCascadeDelete)
		}
		program, orgUnit, err := im.enrollmentScope(ctx, pi)
		if err != nil {
			return nil, err
		}
		for _, msg := range im.access.CanDelete(opts.User, pi, program, orgUnit) {
			s.AddConflict(pi.UID, msg)
		}
		if s.HasConflicts() {
			return ignore(s), nil
		}
	}

	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		for _, ev := range events {
			if err := im.gateway.DeleteEvent(ctx, ev.UID); err != nil {
				return fmt.Errorf("delete event %s: %w", ev.UID, err)
			}
		}
		return im.gateway.DeleteEnrollment(ctx, pi.UID)
	}); err != nil {
		return nil, fmt.Errorf("delete enrollment %s: %w", pi.UID, err)
	}
	s.Description = "Deletion of enrollment " + uid + " was successful"
	s.IncrementDeleted()
	return s, nil
}

// enrollmentOrgUnit resolves the payload org unit, defaulting to the org unit
// of the tracked entity.
func (im *Importer) enrollmentOrgUnit(ctx context.Context, cache *resolver.Cache, e *importer.Enrollment, te *tracker.TrackedEntity) (*metadata.OrganisationUnit, error) {
	if e.OrgUnit == "" {
		return &metadata.OrganisationUnit{Identifiable: metadata.Identifiable{UID: te.OrgUnit}, Path: te.OrgUnitPath}, nil
	}
	return cache.OrganisationUnit(ctx, e.OrgUnit)
}

// enrollmentScope loads the program and org unit a stored enrollment
// currently belongs to.
func (im *Importer) enrollmentScope(ctx context.Context, pi *tracker.ProgramInstance) (*metadata.Program, *metadata.OrganisationUnit, error) {
	program, err := metadata.ByUID[metadata.Program](ctx, im.store, metadata.KindProgram, pi.Program)
	if err != nil {
		return nil, nil, err
	}
	orgUnit, err := metadata.ByUID[metadata.OrganisationUnit](ctx, im.store, metadata.KindOrganisationUnit, pi.OrgUnit)
	if err != nil {
		return nil, nil, err
	}
	return program, orgUnit, nil
}

// writeAttributeValues stores the enrollment's attributes on the tracked
// entity. Existing values are overwritten and an empty value removes one.
func (im *Importer) writeAttributeValues(ctx context.Context, cache *resolver.Cache, entity string, attrs []importer.Attribute, user *auth.User) error {
	if len(attrs) == 0 {
		return nil
	}
	stored, err := im.gateway.AttributeValues(ctx, entity)
	if err != nil {
		return fmt.Errorf("load attribute values of %s: %w", entity, err)
	}
	byAttr := make(map[string]*tracker.AttributeValue, len(stored))
	for _, v := range stored {
		byAttr[v.Attribute] = v
	}
	now := time.Now().UTC()
	for _, a := range attrs {
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			continue
		}
		existing, ok := byAttr[attr.UID]
		switch {
		case ok && a.Value == "":
			err = im.gateway.DeleteAttributeValue(ctx, entity, attr.UID)
		case ok:
			existing.Value = a.Value
			existing.StoredBy = importer.AttributeStoredBy(a.StoredBy, user)
			existing.LastUpdated = now
			err = im.gateway.UpdateAttributeValue(ctx, existing)
		case a.Value != "":
			err = im.gateway.AddAttributeValue(ctx, &tracker.AttributeValue{
				Entity:      entity,
				Attribute:   attr.UID,
				Value:       a.Value,
				StoredBy:    importer.AttributeStoredBy(a.StoredBy, user),
				Created:     now,
				LastUpdated: now,
			})
		}
		if err != nil {
			return fmt.Errorf("write attribute value %s of %s: %w", attr.UID, entity, err)
		}
	}
	return nil
}
