// Package event is the default event sub-importer the enrollment importer
// cascades into.
package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/resolver"
)

type Importer struct {
	gateway   tracker.Gateway
	store     metadata.Store
	logger    zerolog.Logger
	cacheSize int
}

var _ importer.EventImporter = (*Importer)(nil)

func New(gateway tracker.Gateway, store metadata.Store, logger zerolog.Logger, cacheSize int) *Importer {
	return &Importer{
		gateway:   gateway,
		store:     store,
		logger:    logger.With().Str("component", "event-importer").Logger(),
		cacheSize: cacheSize,
	}
}

func (im *Importer) newCache(ctx context.Context, events []*importer.Event, opts *importer.ImportOptions) (*resolver.Cache, error) {
	cache, err := resolver.New(im.store, im.gateway, opts.IDSchemes, im.cacheSize)
	if err != nil {
		return nil, err
	}
	refs := resolver.Refs{}
	for _, ev := range events {
		refs.ProgramStages = append(refs.ProgramStages, ev.ProgramStage)
		refs.OrgUnits = append(refs.OrgUnits, ev.OrgUnit)
	}
	if err := cache.Prepare(ctx, refs); err != nil {
		return nil, err
	}
	return cache, nil
}

func (im *Importer) AddEvents(ctx context.Context, events []*importer.Event, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	if len(events) == 0 {
		return summaries, nil
	}
	cache, err := im.newCache(ctx, events, opts)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s, err := im.addEvent(ctx, cache, ev, opts)
		if err != nil {
			return nil, err
		}
		summaries.Add(s)
	}
	return summaries, nil
}

func (im *Importer) addEvent(ctx context.Context, cache *resolver.Cache, ev *importer.Event, opts *importer.ImportOptions) (*importer.ImportSummary, error) {
	if ev.Event != "" {
		exists, err := tracker.ExistsIncludingDeleted(ctx, im.gateway, tracker.KindEvent, ev.Event)
		if err != nil {
			return nil, err
		}
		if exists {
			s := importer.NewErrorSummary("Event "+ev.Event+" already exists or was deleted earlier", ev.Event)
			s.IncrementIgnored()
			return s, nil
		}
	}
	if !importer.IsValidUID(ev.Event) {
		ev.Event = importer.GenerateUID()
	}
	s := importer.NewImportSummary(ev.Event)

	model, err := im.buildEvent(ctx, cache, ev, nil, opts, s)
	if err != nil {
		return nil, err
	}
	if s.HasConflicts() {
		s.Fail("")
		s.IncrementIgnored()
		return s, nil
	}
	model.StoredBy = importer.ResolveStoredBy(ev.StoredBy, opts.User, s)
	if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
		return im.gateway.CreateEvent(ctx, model)
	}); err != nil {
		return nil, fmt.Errorf("create event %s: %w", ev.Event, err)
	}
	s.IncrementImported()
	return s, nil
}

func (im *Importer) UpdateEvents(ctx context.Context, events []*importer.Event, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	opts = importer.Normalize(opts)
	summaries := importer.NewImportSummaries()
	if len(events) == 0 {
		return summaries, nil
	}
	cache, err := im.newCache(ctx, events, opts)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s := importer.NewImportSummary(ev.Event)
		existing, err := im.gateway.GetEvent(ctx, ev.Event)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if existing == nil {
			s.Fail("ID " + ev.Event + " doesn't point to a valid event.")
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		model, err := im.buildEvent(ctx, cache, ev, existing, opts, s)
		if err != nil {
			return nil, err
		}
		if s.HasConflicts() {
			s.Fail("")
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		model.StoredBy = importer.ResolveStoredBy(ev.StoredBy, opts.User, s)
		if err := im.gateway.InTx(ctx, func(ctx context.Context) error {
			return im.gateway.UpdateEvent(ctx, model)
		}); err != nil {
			return nil, fmt.Errorf("update event %s: %w", ev.Event, err)
		}
		s.IncrementUpdated()
		summaries.Add(s)
	}
	return summaries, nil
}

func (im *Importer) DeleteEvents(ctx context.Context, events []*importer.Event, _ *importer.ImportOptions) (*importer.ImportSummaries, error) {
	summaries := importer.NewImportSummaries()
	for _, ev := range events {
		s := importer.NewImportSummary(ev.Event)
		exists, err := tracker.Exists(ctx, im.gateway, tracker.KindEvent, ev.Event)
		if err != nil {
			return nil, err
		}
		if !exists {
			s.Description = "Event " + ev.Event + " cannot be deleted as it is not present in the system"
			s.IncrementIgnored()
			summaries.Add(s)
			continue
		}
		if err := im.gateway.DeleteEvent(ctx, ev.Event); err != nil {
			return nil, fmt.Errorf("delete event %s: %w", ev.Event, err)
		}
		s.Description = "Deletion of event " + ev.Event + " was successful"
		s.IncrementDeleted()
		summaries.Add(s)
	}
	return summaries, nil
}

// buildEvent validates ev and maps it onto existing, or onto a new event
// when existing is nil. Problems are recorded on s.
func (im *Importer) buildEvent(ctx context.Context, cache *resolver.Cache, ev *importer.Event, existing *tracker.Event, opts *importer.ImportOptions, s *importer.ImportSummary) (*tracker.Event, error) {
	model := existing
	if model == nil {
		model = &tracker.Event{UID: ev.Event}
	}

	enrollmentID, stageID := ev.Enrollment, ev.ProgramStage
	if existing != nil {
		enrollmentID = lo.CoalesceOrEmpty(enrollmentID, existing.Enrollment)
		stageID = lo.CoalesceOrEmpty(stageID, existing.ProgramStage)
	}

	enrollment, err := im.gateway.GetEnrollment(ctx, enrollmentID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if enrollment == nil {
		s.AddConflict("Event.enrollment", "Invalid enrollment "+enrollmentID)
	} else {
		model.Enrollment = enrollment.UID
	}

	stage, err := cache.ProgramStage(ctx, stageID)
	if err != nil {
		return nil, err
	}
	switch {
	case stage == nil:
		s.AddConflict("Event.programStage", "Invalid program stage "+stageID)
	case enrollment != nil && stage.Program != enrollment.Program:
		s.AddConflict("Event.programStage", fmt.Sprintf("Program stage %s does not belong to program %s", stage.UID, enrollment.Program))
	default:
		model.ProgramStage = stage.UID
	}

	orgUnitID := ev.OrgUnit
	switch {
	case orgUnitID == "" && existing != nil:
	case orgUnitID == "" && enrollment != nil:
		model.OrgUnit = enrollment.OrgUnit
	default:
		ou, err := cache.OrganisationUnit(ctx, orgUnitID)
		if err != nil {
			return nil, err
		}
		if ou == nil {
			s.AddConflict("Event.orgUnit", "Invalid org unit "+orgUnitID)
		} else {
			model.OrgUnit = ou.UID
		}
	}

	status := tracker.EventStatus(strings.ToUpper(ev.Status))
	switch status {
	case "":
		status = tracker.EventStatusActive
		if existing != nil {
			status = existing.Status
		}
	case tracker.EventStatusActive, tracker.EventStatusCompleted, tracker.EventStatusVisited,
		tracker.EventStatusSchedule, tracker.EventStatusOverdue, tracker.EventStatusSkipped:
	default:
		s.AddConflict("Event.status", "Invalid event status "+ev.Status)
	}
	model.Status = status

	for _, d := range []struct {
		field, value string
		dst          **time.Time
	}{
		{"Event.eventDate", ev.EventDate, &model.EventDate},
		{"Event.dueDate", ev.DueDate, &model.DueDate},
		{"Event.completedDate", ev.CompletedDate, &model.CompletedDate},
	} {
		t, err := importer.ParseDate(d.value)
		if err != nil {
			s.AddConflict(d.field, "Invalid date "+d.value)
			continue
		}
		if t != nil {
			*d.dst = t
		}
	}
	if status == tracker.EventStatusCompleted {
		if model.CompletedDate == nil {
			now := time.Now().UTC()
			model.CompletedDate = &now
		}
		model.CompletedBy = ev.CompletedBy
		if model.CompletedBy == "" {
			model.CompletedBy = opts.User.UsernameOr(importer.SystemProcess)
		}
	}

	if len(ev.DataValues) > 0 || model.DataValues == nil {
		values := make(map[string]string, len(ev.DataValues))
		for _, dv := range ev.DataValues {
			values[dv.DataElement] = dv.Value
		}
		model.DataValues = values
	}
	return model, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, tracker.ErrNotFound)
}
