package metadata

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePG_OrganisationUnitsByCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM organisation_unit WHERE code = ANY`).
		WithArgs([]string{"OU_559"}).
		WillReturnRows(pgxmock.NewRows([]string{"uid", "code", "name", "attribute_values", "path"}).
			AddRow("DiszpKrYNg8", "OU_559", "Ngelehun CHC", map[string]string{}, "/ImspTQPwCqd/DiszpKrYNg8"))

	store := NewStorePG(mock)
	units, err := store.OrganisationUnits(context.Background(), IDScheme{Type: IDSchemeCode}, []string{"OU_559"})
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "DiszpKrYNg8", units[0].UID)
	assert.Equal(t, "/ImspTQPwCqd/DiszpKrYNg8", units[0].Path)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePG_RelationshipTypesByAttribute(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM relationship_type WHERE attribute_values ->>`).
		WithArgs([]string{"MOTHER"}, "l1VmqIHKk6t").
		WillReturnRows(pgxmock.NewRows([]string{"uid", "code", "name", "attribute_values", "bidirectional"}).
			AddRow("xLmPUYJX8Ks", "", "Mother-child", map[string]string{"l1VmqIHKk6t": "MOTHER"}, true))

	store := NewStorePG(mock)
	types, err := store.RelationshipTypes(context.Background(),
		IDScheme{Type: IDSchemeAttribute, Attribute: "l1VmqIHKk6t"}, []string{"MOTHER"})
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.True(t, types[0].Bidirectional)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePG_EmptyIDsSkipQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStorePG(mock)
	programs, err := store.Programs(context.Background(), UIDScheme, nil)
	require.NoError(t, err)
	assert.Empty(t, programs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDScheme_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM program_stage WHERE uid = ANY`).
		WithArgs([]string{"missing0001"}).
		WillReturnRows(pgxmock.NewRows([]string{"uid", "code", "name", "attribute_values", "program_uid"}))

	_, err = GetByIDScheme(context.Background(), NewStorePG(mock), KindProgramStage, UIDScheme, "missing0001")
	assert.ErrorIs(t, err, ErrNotFound)
}
