package metadata

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hmis/tracker/internal/platform/db"
)

type storePG struct{ pool db.Querier }

func NewStorePG(pool db.Querier) Store {
	return &storePG{pool: pool}
}

func (s *storePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

// schemeFilter renders the WHERE clause matching ids under scheme. ids is
// always bound to $1; attribute schemes bind the attribute uid to $2.
func schemeFilter(scheme IDScheme, alias string) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	switch scheme.Type {
	case IDSchemeCode:
		return col("code") + ` = ANY($1)`, nil
	case IDSchemeName:
		return col("name") + ` = ANY($1)`, nil
	case IDSchemeAttribute:
		return col("attribute_values") + ` ->> $2 = ANY($1)`, []any{scheme.Attribute}
	default:
		return col("uid") + ` = ANY($1)`, nil
	}
}

const identifiableCols = `uid, COALESCE(code, ''), COALESCE(name, ''), COALESCE(attribute_values, '{}'::jsonb)`

func (s *storePG) OrganisationUnits(ctx context.Context, scheme IDScheme, ids []string) ([]*OrganisationUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "")
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+identifiableCols+`, path FROM organisation_unit WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query organisation units: %w", err)
	}
	defer rows.Close()

	var out []*OrganisationUnit
	for rows.Next() {
		var o OrganisationUnit
		if err := rows.Scan(&o.UID, &o.Code, &o.Name, &o.AttributeValues, &o.Path); err != nil {
			return nil, fmt.Errorf("scan organisation unit: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

const attributeCols = `a.uid, COALESCE(a.code, ''), COALESCE(a.name, ''), COALESCE(a.attribute_values, '{}'::jsonb),
	a.value_type, a.is_unique, a.org_unit_scope, a.generated, COALESCE(a.pattern, ''),
	COALESCE(a.option_set, '{}'::text[]), a.confidential`

func scanAttribute(row pgx.Row, extra ...any) (*Attribute, error) {
	var a Attribute
	dest := append(extra, &a.UID, &a.Code, &a.Name, &a.AttributeValues,
		&a.ValueType, &a.Unique, &a.OrgUnitScope, &a.Generated, &a.Pattern,
		&a.OptionSet, &a.Confidential)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *storePG) Attributes(ctx context.Context, scheme IDScheme, ids []string) ([]*Attribute, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "a")
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+attributeCols+` FROM tracked_entity_attribute a WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer rows.Close()

	var out []*Attribute
	for rows.Next() {
		a, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *storePG) TrackedEntityTypes(ctx context.Context, scheme IDScheme, ids []string) ([]*TrackedEntityType, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "")
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+identifiableCols+`, feature_type, public_data_write FROM tracked_entity_type WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query tracked entity types: %w", err)
	}

	var out []*TrackedEntityType
	byUID := map[string]*TrackedEntityType{}
	for rows.Next() {
		var t TrackedEntityType
		if err := rows.Scan(&t.UID, &t.Code, &t.Name, &t.AttributeValues, &t.FeatureType, &t.PublicDataWrite); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tracked entity type: %w", err)
		}
		out = append(out, &t)
		byUID[t.UID] = &t
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	attrRows, err := s.conn(ctx).Query(ctx, `
		SELECT ta.type_uid, `+attributeCols+`
		FROM tracked_entity_type_attribute ta
		JOIN tracked_entity_attribute a ON a.uid = ta.attribute_uid
		WHERE ta.type_uid = ANY($1)
		ORDER BY ta.type_uid, ta.sort_order`, keys(byUID))
	if err != nil {
		return nil, fmt.Errorf("query tracked entity type attributes: %w", err)
	}
	defer attrRows.Close()
	for attrRows.Next() {
		var typeUID string
		a, err := scanAttribute(attrRows, &typeUID)
		if err != nil {
			return nil, fmt.Errorf("scan tracked entity type attribute: %w", err)
		}
		if t := byUID[typeUID]; t != nil {
			t.Attributes = append(t.Attributes, a)
		}
	}
	return out, attrRows.Err()
}

func (s *storePG) Programs(ctx context.Context, scheme IDScheme, ids []string) ([]*Program, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "")
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+identifiableCols+`, program_type, only_enroll_once, display_incident_date,
			select_enrollment_dates_in_future, select_incident_dates_in_future,
			COALESCE(feature_type, 'NONE'), COALESCE(tracked_entity_type_uid, ''), public_data_write
		FROM program WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}

	var out []*Program
	byUID := map[string]*Program{}
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.UID, &p.Code, &p.Name, &p.AttributeValues, &p.Type, &p.OnlyEnrollOnce,
			&p.DisplayIncidentDate, &p.SelectEnrollmentDatesInFuture, &p.SelectIncidentDatesInFuture,
			&p.FeatureType, &p.TrackedEntityType, &p.PublicDataWrite); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan program: %w", err)
		}
		out = append(out, &p)
		byUID[p.UID] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	attrRows, err := s.conn(ctx).Query(ctx, `
		SELECT pa.program_uid, pa.mandatory, `+attributeCols+`
		FROM program_attribute pa
		JOIN tracked_entity_attribute a ON a.uid = pa.attribute_uid
		WHERE pa.program_uid = ANY($1)
		ORDER BY pa.program_uid, pa.sort_order`, keys(byUID))
	if err != nil {
		return nil, fmt.Errorf("query program attributes: %w", err)
	}
	defer attrRows.Close()
	for attrRows.Next() {
		var programUID string
		var mandatory bool
		a, err := scanAttribute(attrRows, &programUID, &mandatory)
		if err != nil {
			return nil, fmt.Errorf("scan program attribute: %w", err)
		}
		if p := byUID[programUID]; p != nil {
			p.Attributes = append(p.Attributes, &ProgramAttribute{Attribute: a, Mandatory: mandatory})
		}
	}
	return out, attrRows.Err()
}

func (s *storePG) ProgramStages(ctx context.Context, scheme IDScheme, ids []string) ([]*ProgramStage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "")
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+identifiableCols+`, program_uid FROM program_stage WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query program stages: %w", err)
	}
	defer rows.Close()

	var out []*ProgramStage
	for rows.Next() {
		var ps ProgramStage
		if err := rows.Scan(&ps.UID, &ps.Code, &ps.Name, &ps.AttributeValues, &ps.Program); err != nil {
			return nil, fmt.Errorf("scan program stage: %w", err)
		}
		out = append(out, &ps)
	}
	return out, rows.Err()
}

func (s *storePG) RelationshipTypes(ctx context.Context, scheme IDScheme, ids []string) ([]*RelationshipType, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where, extra := schemeFilter(scheme, "")
	rows, err := s.conn(ctx).Query(ctx,
		`SELECT `+identifiableCols+`, bidirectional FROM relationship_type WHERE `+where,
		append([]any{ids}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("query relationship types: %w", err)
	}
	defer rows.Close()

	var out []*RelationshipType
	for rows.Next() {
		var rt RelationshipType
		if err := rows.Scan(&rt.UID, &rt.Code, &rt.Name, &rt.AttributeValues, &rt.Bidirectional); err != nil {
			return nil, fmt.Errorf("scan relationship type: %w", err)
		}
		out = append(out, &rt)
	}
	return out, rows.Err()
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
