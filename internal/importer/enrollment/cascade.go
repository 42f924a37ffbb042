package enrollment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
)

// stampEvents points the events of e at the written enrollment. Events
// without a usable uid get one so their summaries can be linked back.
func stampEvents(e *importer.Enrollment, pi *tracker.ProgramInstance) {
	for _, ev := range e.Events {
		if ev == nil {
			continue
		}
		ev.Enrollment = pi.UID
		ev.Program = pi.Program
		ev.TrackedEntityInstance = pi.Entity
		if !importer.IsValidUID(ev.Event) {
			ev.Event = importer.GenerateUID()
		}
	}
}

// cascadeEvents imports the collected events and attaches their summaries
// to the enrollment summaries they belong to.
func (im *Importer) cascadeEvents(ctx context.Context, summaries *importer.ImportSummaries, events []*importer.Event, opts *importer.ImportOptions) error {
	events = lo.Compact(events)
	nested, err := im.handleEvents(ctx, events, opts)
	if err != nil {
		return err
	}
	importer.LinkChildren(summaries, events, nested,
		func(ev *importer.Event) string { return ev.Enrollment },
		func(ev *importer.Event) string { return ev.Event },
		importer.AttachEvents,
	)
	return nil
}

// handleEvents sends events to the event importer: deletions first (SYNC
// only), then updates of existing events, then creations.
func (im *Importer) handleEvents(ctx context.Context, events []*importer.Event, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	summaries := importer.NewImportSummaries()
	if len(events) == 0 {
		return summaries, nil
	}
	ids := lo.FilterMap(events, func(ev *importer.Event, _ int) (string, bool) { return ev.Event, ev.Event != "" })
	found, err := im.gateway.Existing(ctx, tracker.KindEvent, ids, false)
	if err != nil {
		return nil, err
	}
	existing := importer.UIDSet(found)

	var create, update, del []*importer.Event
	for _, ev := range events {
		_, ok := existing[ev.Event]
		switch {
		case opts.Strategy.IsSync() && ev.Deleted:
			del = append(del, ev)
		case ok:
			update = append(update, ev)
		default:
			create = append(create, ev)
		}
	}

	if len(del) > 0 {
		ss, err := im.events.DeleteEvents(ctx, del, opts)
		if err != nil {
			return nil, err
		}
		summaries.AddAll(ss)
	}
	if len(update) > 0 {
		ss, err := im.events.UpdateEvents(ctx, update, opts)
		if err != nil {
			return nil, err
		}
		summaries.AddAll(ss)
	}
	if len(create) > 0 {
		ss, err := im.events.AddEvents(ctx, create, opts)
		if err != nil {
			return nil, err
		}
		summaries.AddAll(ss)
	}
	return summaries, nil
}

func (im *Importer) saveNotes(ctx context.Context, pi *tracker.ProgramInstance, notes []importer.Note, storedBy string) error {
	for _, n := range notes {
		if strings.TrimSpace(n.Value) == "" {
			continue
		}
		uid := n.Note
		if importer.IsValidUID(uid) {
			exists, err := tracker.ExistsIncludingDeleted(ctx, im.gateway, tracker.KindNote, uid)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
		} else {
			uid = importer.GenerateUID()
		}

		creator := n.StoredBy
		if creator == "" {
			creator = storedBy
		}
		created := time.Now().UTC()
		if d, err := importer.ParseDate(n.StoredDate); err == nil && d != nil {
			created = *d
		}
		if err := im.gateway.CreateComment(ctx, &tracker.Comment{
			UID:        uid,
			Enrollment: pi.UID,
			Text:       n.Value,
			Creator:    creator,
			Created:    created,
		}); err != nil {
			return fmt.Errorf("save note %s of %s: %w", uid, pi.UID, err)
		}
	}
	return nil
}
