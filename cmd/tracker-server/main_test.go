package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/platform/auth"
)

func TestImportFlags_Options(t *testing.T) {
	opts, err := importFlags{strategy: "sync", user: "loader", program: "IpHINAT79UW", ignoreEmptyCollection: true}.options()
	require.NoError(t, err)
	assert.Equal(t, importer.StrategySync, opts.Strategy)
	assert.Equal(t, "IpHINAT79UW", opts.Program)
	assert.True(t, opts.IgnoreEmptyCollection)
	require.NotNil(t, opts.User)
	assert.Equal(t, "loader", opts.User.Username)
	assert.True(t, opts.User.IsAuthorized(auth.AuthorityAll))

	opts, err = importFlags{}.options()
	require.NoError(t, err)
	assert.Equal(t, importer.StrategyCreateAndUpdate, opts.Strategy)
	assert.Nil(t, opts.User)

	_, err = importFlags{strategy: "MERGE"}.options()
	assert.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	var teis importer.TrackedEntityInstances
	require.NoError(t, decodePayload(strings.NewReader(
		`{"trackedEntityInstances":[{"trackedEntityInstance":"PQfMcpmXeFE","orgUnit":"DiszpKrYNg8"}]}`), &teis))
	require.Len(t, teis.TrackedEntityInstances, 1)
	assert.Equal(t, "DiszpKrYNg8", teis.TrackedEntityInstances[0].OrgUnit)

	var enrollments importer.Enrollments
	assert.ErrorContains(t, decodePayload(strings.NewReader(`{}`), &enrollments), "invalid payload")
	assert.ErrorContains(t, decodePayload(strings.NewReader(`{"enrollments":`), &enrollments), "decode payload")
}

func TestCommandTree(t *testing.T) {
	imp := importCmd()
	names := map[string]bool{}
	for _, c := range imp.Commands() {
		names[c.Name()] = true
		assert.NotNil(t, c.Flags().Lookup("file"), c.Name())
		assert.NotNil(t, c.Flags().Lookup("strategy"), c.Name())
	}
	assert.True(t, names["tei"])
	assert.True(t, names["enrollments"])

	mig := migrateCmd()
	var sub []string
	for _, c := range mig.Commands() {
		sub = append(sub, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "status"}, sub)
}
