package trackedentity

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

func (im *Importer) addTrackedEntity(ctx context.Context, cache *resolver.Cache, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	s := importer.NewImportSummary(tei.TrackedEntityInstance)

	typ, err := im.checkType(ctx, cache, tei, s)
	if err != nil {
		return nil, err
	}
	orgUnit, err := cache.OrganisationUnit(ctx, tei.OrgUnit)
	if err != nil {
		return nil, err
	}
	if err := im.checkAttributes(ctx, cache, tei.Attributes, nil, "", orgUnit, opts, s); err != nil {
		return nil, err
	}
	if s.HasConflicts() {
		return ignore(s), nil
	}

	switch {
	case tei.OrgUnit == "":
		s.AddConflict(tei.TrackedEntityInstance, "No org unit ID in tracked entity instance object")
		return ignore(s), nil
	case orgUnit == nil:
		s.AddConflict(tei.TrackedEntityInstance, "Invalid org unit ID: "+tei.OrgUnit)
		return ignore(s), nil
	}
	geometry, ok := resolveGeometry(tei, typ, s)
	if !ok {
		return ignore(s), nil
	}

	if !importer.IsValidUID(tei.TrackedEntityInstance) {
		tei.TrackedEntityInstance = importer.GenerateUID()
	}
	s.Reference = tei.TrackedEntityInstance
	now := time.Now().UTC()
	te := &tracker.TrackedEntity{
		UID:         tei.TrackedEntityInstance,
		OrgUnit:     orgUnit.UID,
		OrgUnitPath: orgUnit.Path,
		Type:        typ.UID,
		Geometry:    geometry,
		Inactive:    tei.Inactive,
		StoredBy:    importer.AttributeStoredBy(tei.StoredBy, opts.User),
		Created:     now,
		LastUpdated: now,
	}
	applyClientDates(tei, te)

	if errs := im.access.CanWrite(opts.User, te, typ); len(errs) > 0 {
		s.Fail(fmt.Sprint(errs))
		s.IncrementIgnored()
		return s, nil
	}

	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		if err := im.gateway.CreateTrackedEntity(ctx, te); err != nil {
			return fmt.Errorf("create tracked entity %s: %w", te.UID, err)
		}
		return im.addAttributeValues(ctx, cache, te.UID, tei.Attributes, opts.User)
	}); err != nil {
		return nil, err
	}

	s.IncrementImported()
	cache.Remember(te)
	stampEnrollments(tei)
	return s, nil
}

func (im *Importer) updateTrackedEntity(ctx context.Context, cache *resolver.Cache, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	uid := tei.TrackedEntityInstance
	s := importer.NewImportSummary(uid)

	te, err := cache.TrackedEntity(ctx, uid)
	if err != nil {
		return nil, err
	}
	var (
		typ    *metadata.TrackedEntityType
		errs   []string
		stored []*tracker.AttributeValue
	)
	if te != nil {
		if typ, err = metadata.ByUID[metadata.TrackedEntityType](ctx, im.store, metadata.KindTrackedEntityType, te.Type); err != nil {
			return nil, err
		}
		errs = im.access.CanWrite(opts.User, te, typ)
		if stored, err = im.gateway.AttributeValues(ctx, te.UID); err != nil {
			return nil, fmt.Errorf("load attribute values of %s: %w", te.UID, err)
		}
	}
	orgUnit, err := cache.OrganisationUnit(ctx, tei.OrgUnit)
	if err != nil {
		return nil, err
	}
	program, err := cache.Program(ctx, opts.Program)
	if err != nil {
		return nil, err
	}

	old := make(map[string]string, len(stored))
	for _, v := range stored {
		old[v.Attribute] = v.Value
	}
	if err := im.checkAttributes(ctx, cache, tei.Attributes, old, uid, orgUnit, opts, s); err != nil {
		return nil, err
	}
	if program != nil {
		if err := checkScope(ctx, cache, tei.Attributes, program, typ, s); err != nil {
			return nil, err
		}
	}

	switch {
	case te == nil:
		s.AddConflict("TrackedEntityInstance", "Tracked entity instance "+uid+" does not exist")
		return ignore(s), nil
	case len(errs) > 0:
		s.Fail(fmt.Sprint(errs))
		s.IncrementIgnored()
		return s, nil
	case orgUnit == nil:
		s.AddConflict("OrganisationUnit", "Org unit "+tei.OrgUnit+" does not exist")
		return ignore(s), nil
	case s.HasConflicts():
		return ignore(s), nil
	}

	geometry, ok := resolveGeometry(tei, typ, s)
	if !ok {
		return ignore(s), nil
	}
	updated := *te
	updated.OrgUnit = orgUnit.UID
	updated.OrgUnitPath = orgUnit.Path
	updated.Inactive = tei.Inactive
	updated.Geometry = geometry
	updated.LastUpdated = time.Now().UTC()
	applyClientDates(tei, &updated)

	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		if err := im.gateway.UpdateTrackedEntity(ctx, &updated); err != nil {
			return fmt.Errorf("update tracked entity %s: %w", uid, err)
		}
		if opts.IgnoreEmptyCollection && len(tei.Attributes) == 0 {
			return nil
		}
		return im.mergeAttributeValues(ctx, cache, uid, tei.Attributes, stored, program, opts.User)
	}); err != nil {
		return nil, err
	}

	s.IncrementUpdated()
	cache.Remember(&updated)
	stampEnrollments(tei)
	return s, nil
}

func (im *Importer) deleteTrackedEntity(ctx context.Context, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	uid := tei.TrackedEntityInstance
	s := importer.NewImportSummary(uid)
	te, err := im.gateway.GetTrackedEntity(ctx, uid)
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		return nil, err
	}
	if te == nil {
		s.Description = "Tracked entity instance " + uid + " cannot be deleted as it is not present in the system"
		s.IncrementIgnored()
		return s, nil
	}

	if len(tei.Enrollments) > 0 {
		stampEnrollments(tei)
		nested, err := im.enrollments.ImportEnrollments(ctx, tei.Enrollments, opts.WithStrategy(importer.StrategySync))
		if err != nil {
			return nil, err
		}
		s.Enrollments = nested
	}

	enrollments, err := im.gateway.EnrollmentsFor(ctx, uid, "")
	if err != nil {
		return nil, err
	}
	if opts.User != nil {
		if len(enrollments) > 0 && !opts.User.IsAuthorized(auth.AuthorityTEICascadeDelete) {
			s.AddConflict(uid, "Tracked entity instance "+uid+
				" cannot be deleted as it has associated enrollments and user does not have authority "+auth.AuthorityTEICascadeDelete)
		}
		typ, err := metadata.ByUID[metadata.TrackedEntityType](ctx, im.store, metadata.KindTrackedEntityType, te.Type)
		if err != nil {
			return nil, err
		}
		for _, msg := range im.access.CanWrite(opts.User, te, typ) {
			s.AddConflict(uid, msg)
		}
		if s.HasConflicts() {
			return ignore(s), nil
		}
	}

	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		for _, pi := range enrollments {
			events, err := im.gateway.EventsFor(ctx, pi.UID)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := im.gateway.DeleteEvent(ctx, ev.UID); err != nil {
					return err
				}
			}
			if err := im.gateway.DeleteEnrollment(ctx, pi.UID); err != nil {
				return err
			}
		}
		return im.gateway.DeleteTrackedEntity(ctx, uid)
	}); err != nil {
		return nil, fmt.Errorf("delete tracked entity %s: %w", uid, err)
	}
	s.Description = "Deletion of tracked entity instance " + uid + " was successful"
	s.IncrementDeleted()
	return s, nil
}

func applyClientDates(tei *importer.TrackedEntityInstance, te *tracker.TrackedEntity) {
	if d, err := importer.ParseDate(tei.CreatedAtClient); err == nil && d != nil {
		te.CreatedAtClient = d
	}
	if d, err := importer.ParseDate(tei.LastUpdatedAtClient); err == nil && d != nil {
		te.LastUpdatedAtClient = d
	}
}

// stampEnrollments points the enrollments of tei at the written entity.
func stampEnrollments(tei *importer.TrackedEntityInstance) {
	for _, e := range tei.Enrollments {
		if e == nil {
			continue
		}
		e.TrackedEntityInstance = tei.TrackedEntityInstance
		e.TrackedEntityType = tei.TrackedEntityType
		if !importer.IsValidUID(e.Enrollment) {
			e.Enrollment = importer.GenerateUID()
		}
	}
}

func (im *Importer) addAttributeValues(ctx context.Context, cache *resolver.Cache, entity string, attrs []importer.Attribute, user *auth.User) error {
	now := time.Now().UTC()
	for _, a := range attrs {
		if a.Value == "" {
			continue
		}
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			continue
		}
		if err := im.gateway.AddAttributeValue(ctx, &tracker.AttributeValue{
			Entity:      entity,
			Attribute:   attr.UID,
			Value:       a.Value,
			StoredBy:    importer.AttributeStoredBy(a.StoredBy, user),
			Created:     now,
			LastUpdated: now,
		}); err != nil {
			return fmt.Errorf("add attribute value %s of %s: %w", attr.UID, entity, err)
		}
	}
	return nil
}

// mergeAttributeValues reconciles the stored values of entity with the
// incoming ones. Values of program attributes that are not part of the
// payload are removed.
func (im *Importer) mergeAttributeValues(
	ctx context.Context,
	cache *resolver.Cache,
	entity string,
	attrs []importer.Attribute,
	stored []*tracker.AttributeValue,
	program *metadata.Program,
	user *auth.User,
) error {
	byAttr := make(map[string]*tracker.AttributeValue, len(stored))
	for _, v := range stored {
		byAttr[v.Attribute] = v
	}
	incoming := make(map[string]struct{}, len(attrs))
	now := time.Now().UTC()

	for _, a := range attrs {
		attr, err := cache.Attribute(ctx, a.Attribute)
		if err != nil {
			return err
		}
		if attr == nil {
			continue
		}
		incoming[attr.UID] = struct{}{}
		existing, ok := byAttr[attr.UID]
		switch {
		case ok && a.Value == "":
			err = im.gateway.DeleteAttributeValue(ctx, entity, attr.UID)
		case ok && existing.Value != a.Value:
			existing.Value = a.Value
			existing.StoredBy = importer.AttributeStoredBy(a.StoredBy, user)
			existing.LastUpdated = now
			err = im.gateway.UpdateAttributeValue(ctx, existing)
		case !ok && a.Value != "":
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

	if program == nil {
		return nil
	}
	for _, pa := range program.Attributes {
		if pa.Attribute == nil {
			continue
		}
		if _, ok := byAttr[pa.Attribute.UID]; !ok {
			continue
		}
		if _, ok := incoming[pa.Attribute.UID]; ok {
			continue
		}
		if err := im.gateway.DeleteAttributeValue(ctx, entity, pa.Attribute.UID); err != nil {
			return fmt.Errorf("prune attribute value %s of %s: %w", pa.Attribute.UID, entity, err)
		}
	}
	return nil
}
