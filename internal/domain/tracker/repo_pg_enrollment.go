package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// -- Enrollments --

const enrollmentCols = `uid, entity_uid, program_uid, org_unit_uid, status, enrollment_date, incident_date,
	end_date, COALESCE(completed_by, ''), followup, geometry, COALESCE(stored_by, ''), deleted,
	created, last_updated, created_at_client, last_updated_at_client`

func scanEnrollment(row pgx.Row) (*ProgramInstance, error) {
	var pi ProgramInstance
	err := row.Scan(&pi.UID, &pi.Entity, &pi.Program, &pi.OrgUnit, &pi.Status, &pi.EnrollmentDate,
		&pi.IncidentDate, &pi.EndDate, &pi.CompletedBy, &pi.FollowUp, &pi.Geometry, &pi.StoredBy,
		&pi.Deleted, &pi.Created, &pi.LastUpdated, &pi.CreatedAtClient, &pi.LastUpdatedAtClient)
	if err != nil {
		return nil, err
	}
	return &pi, nil
}

func (g *gatewayPG) GetEnrollment(ctx context.Context, uid string) (*ProgramInstance, error) {
	pi, err := scanEnrollment(g.conn(ctx).QueryRow(ctx,
		`SELECT `+enrollmentCols+` FROM enrollment WHERE uid = $1 AND deleted = false`, uid))
	return pi, notFound(err)
}

func (g *gatewayPG) EnrollmentsFor(ctx context.Context, entity, program string) ([]*ProgramInstance, error) {
	rows, err := g.conn(ctx).Query(ctx, `
		SELECT `+enrollmentCols+` FROM enrollment
		WHERE entity_uid = $1 AND ($2::text = '' OR program_uid = $2::text) AND deleted = false
		ORDER BY created`, entity, program)
	if err != nil {
		return nil, fmt.Errorf("query enrollments of %s: %w", entity, err)
	}
	defer rows.Close()

	var out []*ProgramInstance
	for rows.Next() {
		pi, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, pi)
	}
	return out, rows.Err()
}

func (g *gatewayPG) CreateEnrollment(ctx context.Context, pi *ProgramInstance) error {
	now := time.Now().UTC()
	pi.Created, pi.LastUpdated = now, now
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO enrollment (uid, entity_uid, program_uid, org_unit_uid, status, enrollment_date,
			incident_date, end_date, completed_by, followup, geometry, stored_by, deleted,
			created, last_updated, created_at_client, last_updated_at_client)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false,$13,$14,$15,$16)`,
		pi.UID, pi.Entity, pi.Program, pi.OrgUnit, pi.Status, pi.EnrollmentDate,
		pi.IncidentDate, pi.EndDate, pi.CompletedBy, pi.FollowUp, pi.Geometry, pi.StoredBy,
		pi.Created, pi.LastUpdated, pi.CreatedAtClient, pi.LastUpdatedAtClient)
	if err != nil {
		return fmt.Errorf("insert enrollment %s: %w", pi.UID, err)
	}
	return nil
}

func (g *gatewayPG) UpdateEnrollment(ctx context.Context, pi *ProgramInstance) error {
	pi.LastUpdated = time.Now().UTC()
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE enrollment SET org_unit_uid=$2, status=$3, enrollment_date=$4, incident_date=$5,
			end_date=$6, completed_by=$7, followup=$8, geometry=$9, stored_by=$10,
			last_updated=$11, last_updated_at_client=$12
		WHERE uid = $1`,
		pi.UID, pi.OrgUnit, pi.Status, pi.EnrollmentDate, pi.IncidentDate,
		pi.EndDate, pi.CompletedBy, pi.FollowUp, pi.Geometry, pi.StoredBy,
		pi.LastUpdated, pi.LastUpdatedAtClient)
	if err != nil {
		return fmt.Errorf("update enrollment %s: %w", pi.UID, err)
	}
	return nil
}

func (g *gatewayPG) DeleteEnrollment(ctx context.Context, uid string) error {
	_, err := g.conn(ctx).Exec(ctx,
		`UPDATE enrollment SET deleted = true, last_updated = NOW() WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete enrollment %s: %w", uid, err)
	}
	return nil
}

func (g *gatewayPG) AssignOwnership(ctx context.Context, entity, program, orgUnit string) error {
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO program_ownership (entity_uid, program_uid, org_unit_uid)
		VALUES ($1,$2,$3)
		ON CONFLICT (entity_uid, program_uid) DO UPDATE SET org_unit_uid = EXCLUDED.org_unit_uid`,
		entity, program, orgUnit)
	if err != nil {
		return fmt.Errorf("assign ownership of %s in %s: %w", entity, program, err)
	}
	return nil
}

func (g *gatewayPG) CreateComment(ctx context.Context, c *Comment) error {
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO enrollment_note (uid, enrollment_uid, text, creator, created)
		VALUES ($1,$2,$3,$4,$5)`,
		c.UID, c.Enrollment, c.Text, c.Creator, c.Created)
	if err != nil {
		return fmt.Errorf("insert note %s: %w", c.UID, err)
	}
	return nil
}

// -- Events --

const eventCols = `uid, enrollment_uid, program_stage_uid, org_unit_uid, status, event_date, due_date,
	completed_date, COALESCE(completed_by, ''), COALESCE(stored_by, ''), COALESCE(data_values, '{}'::jsonb),
	deleted, created, last_updated`

func scanEvent(row pgx.Row) (*Event, error) {
	var ev Event
	err := row.Scan(&ev.UID, &ev.Enrollment, &ev.ProgramStage, &ev.OrgUnit, &ev.Status, &ev.EventDate,
		&ev.DueDate, &ev.CompletedDate, &ev.CompletedBy, &ev.StoredBy, &ev.DataValues,
		&ev.Deleted, &ev.Created, &ev.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (g *gatewayPG) GetEvent(ctx context.Context, uid string) (*Event, error) {
	ev, err := scanEvent(g.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM event WHERE uid = $1 AND deleted = false`, uid))
	return ev, notFound(err)
}

func (g *gatewayPG) EventsFor(ctx context.Context, enrollment string) ([]*Event, error) {
	rows, err := g.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM event WHERE enrollment_uid = $1 AND deleted = false ORDER BY created`, enrollment)
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", enrollment, err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (g *gatewayPG) CreateEvent(ctx context.Context, ev *Event) error {
	now := time.Now().UTC()
	ev.Created, ev.LastUpdated = now, now
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO event (uid, enrollment_uid, program_stage_uid, org_unit_uid, status, event_date,
			due_date, completed_date, completed_by, stored_by, data_values, deleted, created, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,false,$12,$13)`,
		ev.UID, ev.Enrollment, ev.ProgramStage, ev.OrgUnit, ev.Status, ev.EventDate,
		ev.DueDate, ev.CompletedDate, ev.CompletedBy, ev.StoredBy, ev.DataValues, ev.Created, ev.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.UID, err)
	}
	return nil
}

func (g *gatewayPG) UpdateEvent(ctx context.Context, ev *Event) error {
	ev.LastUpdated = time.Now().UTC()
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE event SET org_unit_uid=$2, status=$3, event_date=$4, due_date=$5, completed_date=$6,
			completed_by=$7, stored_by=$8, data_values=$9, last_updated=$10
		WHERE uid = $1`,
		ev.UID, ev.OrgUnit, ev.Status, ev.EventDate, ev.DueDate, ev.CompletedDate,
		ev.CompletedBy, ev.StoredBy, ev.DataValues, ev.LastUpdated)
	if err != nil {
		return fmt.Errorf("update event %s: %w", ev.UID, err)
	}
	return nil
}

func (g *gatewayPG) DeleteEvent(ctx context.Context, uid string) error {
	_, err := g.conn(ctx).Exec(ctx,
		`UPDATE event SET deleted = true, last_updated = NOW() WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", uid, err)
	}
	return nil
}

// -- Relationships --

const relationshipCols = `uid, type_uid, from_entity_uid, to_entity_uid, bidirectional, deleted, created, last_updated`

func scanRelationship(row pgx.Row) (*Relationship, error) {
	var r Relationship
	err := row.Scan(&r.UID, &r.Type, &r.From, &r.To, &r.Bidirectional, &r.Deleted, &r.Created, &r.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (g *gatewayPG) GetRelationship(ctx context.Context, uid string) (*Relationship, error) {
	r, err := scanRelationship(g.conn(ctx).QueryRow(ctx,
		`SELECT `+relationshipCols+` FROM relationship WHERE uid = $1 AND deleted = false`, uid))
	return r, notFound(err)
}

func (g *gatewayPG) RelationshipsFor(ctx context.Context, entity string) ([]*Relationship, error) {
	rows, err := g.conn(ctx).Query(ctx, `
		SELECT `+relationshipCols+` FROM relationship
		WHERE (from_entity_uid = $1 OR to_entity_uid = $1) AND deleted = false`, entity)
	if err != nil {
		return nil, fmt.Errorf("query relationships of %s: %w", entity, err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (g *gatewayPG) CreateRelationship(ctx context.Context, r *Relationship) error {
	now := time.Now().UTC()
	r.Created, r.LastUpdated = now, now
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO relationship (uid, type_uid, from_entity_uid, to_entity_uid, bidirectional, deleted, created, last_updated)
		VALUES ($1,$2,$3,$4,$5,false,$6,$7)`,
		r.UID, r.Type, r.From, r.To, r.Bidirectional, r.Created, r.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert relationship %s: %w", r.UID, err)
	}
	return nil
}

func (g *gatewayPG) UpdateRelationship(ctx context.Context, r *Relationship) error {
	r.LastUpdated = time.Now().UTC()
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE relationship SET type_uid=$2, from_entity_uid=$3, to_entity_uid=$4, bidirectional=$5, last_updated=$6
		WHERE uid = $1`,
		r.UID, r.Type, r.From, r.To, r.Bidirectional, r.LastUpdated)
	if err != nil {
		return fmt.Errorf("update relationship %s: %w", r.UID, err)
	}
	return nil
}

func (g *gatewayPG) DeleteRelationship(ctx context.Context, uid string) error {
	_, err := g.conn(ctx).Exec(ctx,
		`UPDATE relationship SET deleted = true, last_updated = NOW() WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete relationship %s: %w", uid, err)
	}
	return nil
}
