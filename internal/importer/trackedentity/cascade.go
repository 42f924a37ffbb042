package trackedentity

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
)

func (im *Importer) cascadeRelationships(ctx context.Context, summaries *importer.ImportSummaries, written []*importer.TrackedEntityInstance, opts *importer.ImportOptions) error {
	for _, tei := range written {
		if opts.IgnoreEmptyCollection && len(tei.Relationships) == 0 {
			continue
		}
		s := summaries.ByReference(tei.TrackedEntityInstance)
		if s == nil {
			continue
		}
		nested, err := im.handleRelationships(ctx, tei, opts)
		if err != nil {
			return err
		}
		s.Relationships = nested
	}
	return nil
}

// handleRelationships reconciles the stored relationships of tei with the
// ones in its payload.
func (im *Importer) handleRelationships(ctx context.Context, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error) {
	uid := tei.TrackedEntityInstance
	summaries := importer.NewImportSummaries()
	rels := lo.Compact(tei.Relationships)

	referenced := importer.UIDSet(lo.FilterMap(rels, func(r *importer.Relationship, _ int) (string, bool) {
		return r.Relationship, r.Relationship != ""
	}))
	stored, err := im.gateway.RelationshipsFor(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load relationships of %s: %w", uid, err)
	}

	var create, update, del []*importer.Relationship
	for _, r := range stored {
		if _, ok := referenced[r.UID]; ok || !r.Involves(uid) {
			continue
		}
		rt, err := metadata.ByUID[metadata.RelationshipType](ctx, im.store, metadata.KindRelationshipType, r.Type)
		if err != nil {
			return nil, err
		}
		if len(im.access.CanWriteRelationship(opts.User, r, rt)) == 0 {
			del = append(del, &importer.Relationship{Relationship: r.UID, RelationshipType: r.Type})
		}
	}

	for _, rel := range rels {
		partOf := rel.From.TrackedEntity() == uid || (rel.Bidirectional && rel.To.TrackedEntity() == uid)
		switch {
		case opts.Strategy.IsSync() && tei.Deleted:
			del = append(del, rel)
		case rel.Relationship == "":
			if !partOf {
				rel.From = importer.EntityItem(uid)
			}
			create = append(create, rel)
		case partOf:
			ok, err := tracker.Exists(ctx, im.gateway, tracker.KindRelationship, rel.Relationship)
			if err != nil {
				return nil, err
			}
			if ok {
				update = append(update, rel)
			} else {
				create = append(create, rel)
			}
		default:
			s := importer.NewErrorSummary("Can't update relationship '"+rel.Relationship+"': TrackedEntityInstance '"+uid+
				"' is not the owner of the relationship", rel.Relationship)
			s.IncrementIgnored()
			summaries.Add(s)
		}
	}

	for _, step := range []struct {
		batch []*importer.Relationship
		run   func(context.Context, []*importer.Relationship, *importer.ImportOptions) (*importer.ImportSummaries, error)
	}{
		{create, im.relationships.AddRelationships},
		{update, im.relationships.UpdateRelationships},
		{del, im.relationships.DeleteRelationships},
	} {
		if len(step.batch) == 0 {
			continue
		}
		ss, err := step.run(ctx, step.batch, opts)
		if err != nil {
			return nil, err
		}
		summaries.AddAll(ss)
	}
	return summaries, nil
}

// cascadeEnrollments imports the enrollments of the written instances in
// one batch and links the results back to their parents. Outside of SYNC
// the enrollments are created or updated depending on whether they exist.
func (im *Importer) cascadeEnrollments(ctx context.Context, summaries *importer.ImportSummaries, written []*importer.TrackedEntityInstance, opts *importer.ImportOptions) error {
	var enrollments []*importer.Enrollment
	for _, tei := range written {
		enrollments = append(enrollments, lo.Compact(tei.Enrollments)...)
	}

	var nested *importer.ImportSummaries
	if len(enrollments) > 0 {
		cascadeOpts := opts
		if !opts.Strategy.IsSync() {
			cascadeOpts = opts.WithStrategy(importer.StrategyCreateAndUpdate)
		}
		var err error
		if nested, err = im.enrollments.ImportEnrollments(ctx, enrollments, cascadeOpts); err != nil {
			return err
		}
	}
	importer.LinkChildren(summaries, enrollments, nested,
		func(e *importer.Enrollment) string { return e.TrackedEntityInstance },
		func(e *importer.Enrollment) string { return e.Enrollment },
		importer.AttachEnrollments,
	)
	return nil
}
