package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hmis/tracker/internal/platform/db"
)

type gatewayPG struct{ pool db.Beginner }

func NewGatewayPG(pool db.Beginner) Gateway {
	return &gatewayPG{pool: pool}
}

func (g *gatewayPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, g.pool)
}

func (g *gatewayPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.InTx(ctx, g.pool, fn)
}

// Flush is a no-op: every record commits in its own transaction, so writes
// are already visible to later chunks.
func (g *gatewayPG) Flush(context.Context) error { return nil }

var kindTables = map[Kind]string{
	KindTrackedEntity: "tracked_entity",
	KindEnrollment:    "enrollment",
	KindEvent:         "event",
	KindRelationship:  "relationship",
	KindNote:          "enrollment_note",
}

func (g *gatewayPG) Existing(ctx context.Context, kind Kind, uids []string, includeDeleted bool) ([]string, error) {
	table, ok := kindTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown tracker kind %q", kind)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	query := `SELECT uid FROM ` + table + ` WHERE uid = ANY($1)`
	if !includeDeleted {
		query += ` AND deleted = false`
	}
	rows, err := g.conn(ctx).Query(ctx, query, uids)
	if err != nil {
		return nil, fmt.Errorf("query existing %s: %w", kind, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan existing %s: %w", kind, err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Tracked entities --

const teCols = `te.uid, te.org_unit_uid, COALESCE(ou.path, ''), te.type_uid, te.geometry, te.inactive, te.deleted,
	COALESCE(te.stored_by, ''), te.created, te.last_updated, te.created_at_client, te.last_updated_at_client`

const teFrom = ` FROM tracked_entity te LEFT JOIN organisation_unit ou ON ou.uid = te.org_unit_uid`

func scanTrackedEntity(row pgx.Row) (*TrackedEntity, error) {
	var te TrackedEntity
	err := row.Scan(&te.UID, &te.OrgUnit, &te.OrgUnitPath, &te.Type, &te.Geometry, &te.Inactive, &te.Deleted,
		&te.StoredBy, &te.Created, &te.LastUpdated, &te.CreatedAtClient, &te.LastUpdatedAtClient)
	if err != nil {
		return nil, err
	}
	return &te, nil
}

func (g *gatewayPG) GetTrackedEntity(ctx context.Context, uid string) (*TrackedEntity, error) {
	te, err := scanTrackedEntity(g.conn(ctx).QueryRow(ctx,
		`SELECT `+teCols+teFrom+` WHERE te.uid = $1 AND te.deleted = false`, uid))
	return te, notFound(err)
}

func (g *gatewayPG) TrackedEntities(ctx context.Context, uids []string) ([]*TrackedEntity, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	rows, err := g.conn(ctx).Query(ctx,
		`SELECT `+teCols+teFrom+` WHERE te.uid = ANY($1) AND te.deleted = false`, uids)
	if err != nil {
		return nil, fmt.Errorf("query tracked entities: %w", err)
	}
	defer rows.Close()

	var out []*TrackedEntity
	for rows.Next() {
		te, err := scanTrackedEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked entity: %w", err)
		}
		out = append(out, te)
	}
	return out, rows.Err()
}

func (g *gatewayPG) CreateTrackedEntity(ctx context.Context, te *TrackedEntity) error {
	now := time.Now().UTC()
	te.Created, te.LastUpdated = now, now
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO tracked_entity (uid, org_unit_uid, type_uid, geometry, inactive, deleted, stored_by,
			created, last_updated, created_at_client, last_updated_at_client)
		VALUES ($1,$2,$3,$4,$5,false,$6,$7,$8,$9,$10)`,
		te.UID, te.OrgUnit, te.Type, te.Geometry, te.Inactive, te.StoredBy,
		te.Created, te.LastUpdated, te.CreatedAtClient, te.LastUpdatedAtClient)
	if err != nil {
		return fmt.Errorf("insert tracked entity %s: %w", te.UID, err)
	}
	return nil
}

func (g *gatewayPG) UpdateTrackedEntity(ctx context.Context, te *TrackedEntity) error {
	te.LastUpdated = time.Now().UTC()
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE tracked_entity SET org_unit_uid=$2, geometry=$3, inactive=$4, stored_by=$5,
			last_updated=$6, created_at_client=$7, last_updated_at_client=$8
		WHERE uid = $1`,
		te.UID, te.OrgUnit, te.Geometry, te.Inactive, te.StoredBy,
		te.LastUpdated, te.CreatedAtClient, te.LastUpdatedAtClient)
	if err != nil {
		return fmt.Errorf("update tracked entity %s: %w", te.UID, err)
	}
	return nil
}

func (g *gatewayPG) DeleteTrackedEntity(ctx context.Context, uid string) error {
	_, err := g.conn(ctx).Exec(ctx,
		`UPDATE tracked_entity SET deleted = true, last_updated = NOW() WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete tracked entity %s: %w", uid, err)
	}
	return nil
}

// -- Attribute values --

func (g *gatewayPG) AttributeValues(ctx context.Context, entity string) ([]*AttributeValue, error) {
	rows, err := g.conn(ctx).Query(ctx, `
		SELECT entity_uid, attribute_uid, value, COALESCE(stored_by, ''), created, last_updated
		FROM tracked_entity_attribute_value WHERE entity_uid = $1`, entity)
	if err != nil {
		return nil, fmt.Errorf("query attribute values: %w", err)
	}
	defer rows.Close()

	var out []*AttributeValue
	for rows.Next() {
		var v AttributeValue
		if err := rows.Scan(&v.Entity, &v.Attribute, &v.Value, &v.StoredBy, &v.Created, &v.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan attribute value: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (g *gatewayPG) AddAttributeValue(ctx context.Context, v *AttributeValue) error {
	now := time.Now().UTC()
	v.Created, v.LastUpdated = now, now
	_, err := g.conn(ctx).Exec(ctx, `
		INSERT INTO tracked_entity_attribute_value (entity_uid, attribute_uid, value, stored_by, created, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		v.Entity, v.Attribute, v.Value, v.StoredBy, v.Created, v.LastUpdated)
	if err != nil {
		return fmt.Errorf("insert attribute value %s/%s: %w", v.Entity, v.Attribute, err)
	}
	return nil
}

func (g *gatewayPG) UpdateAttributeValue(ctx context.Context, v *AttributeValue) error {
	v.LastUpdated = time.Now().UTC()
	_, err := g.conn(ctx).Exec(ctx, `
		UPDATE tracked_entity_attribute_value SET value=$3, stored_by=$4, last_updated=$5
		WHERE entity_uid = $1 AND attribute_uid = $2`,
		v.Entity, v.Attribute, v.Value, v.StoredBy, v.LastUpdated)
	if err != nil {
		return fmt.Errorf("update attribute value %s/%s: %w", v.Entity, v.Attribute, err)
	}
	return nil
}

func (g *gatewayPG) DeleteAttributeValue(ctx context.Context, entity, attribute string) error {
	_, err := g.conn(ctx).Exec(ctx,
		`DELETE FROM tracked_entity_attribute_value WHERE entity_uid = $1 AND attribute_uid = $2`,
		entity, attribute)
	if err != nil {
		return fmt.Errorf("delete attribute value %s/%s: %w", entity, attribute, err)
	}
	return nil
}

func (g *gatewayPG) EntitiesWithAttributeValue(ctx context.Context, attribute, value, orgUnitPath string) ([]string, error) {
	rows, err := g.conn(ctx).Query(ctx, `
		SELECT te.uid
		FROM tracked_entity_attribute_value v
		JOIN tracked_entity te ON te.uid = v.entity_uid
		JOIN organisation_unit ou ON ou.uid = te.org_unit_uid
		WHERE v.attribute_uid = $1 AND lower(v.value) = lower($2) AND te.deleted = false
			AND ($3::text = '' OR ou.path = $3::text OR ou.path LIKE $3::text || '/%')`,
		attribute, value, orgUnitPath)
	if err != nil {
		return nil, fmt.Errorf("query attribute value owners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan attribute value owner: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}
