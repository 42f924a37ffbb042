package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis/tracker/internal/platform/auth"
)

func TestGenerateUID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		uid := GenerateUID()
		assert.True(t, IsValidUID(uid), uid)
		seen[uid] = true
	}
	assert.Len(t, seen, 200)
}

func TestIsValidUID(t *testing.T) {
	assert.True(t, IsValidUID("IpHINAT79UW"))
	assert.False(t, IsValidUID("1pHINAT79UW"))
	assert.False(t, IsValidUID("short"))
	assert.False(t, IsValidUID("IpHINAT79U-"))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *d)

	d, err = ParseDate("2024-03-01T10:15:00.000")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Hour())

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestResolveStoredBy(t *testing.T) {
	user := &auth.User{Username: "nurse"}

	assert.Equal(t, "clerk", ResolveStoredBy("clerk", user, nil))
	assert.Equal(t, "nurse", ResolveStoredBy("", user, nil))
	assert.Equal(t, SystemProcess, ResolveStoredBy("", nil, nil))

	s := NewImportSummary("x")
	long := strings.Repeat("a", 300)
	assert.Equal(t, "nurse", ResolveStoredBy(long, user, s))
	require.Len(t, s.Conflicts, 1)
	assert.Equal(t, "stored by", s.Conflicts[0].Object)
}

func TestAttributeStoredBy(t *testing.T) {
	assert.Equal(t, "clerk", AttributeStoredBy("clerk", &auth.User{Username: "nurse"}))
	assert.Equal(t, "nurse", AttributeStoredBy("", &auth.User{Username: "nurse"}))
	assert.Equal(t, UnknownStoredBy, AttributeStoredBy("", nil))
}

func TestUIDSet(t *testing.T) {
	set := UIDSet([]string{"IpHINAT79UW", "PQfMcpmXeFE", "IpHINAT79UW"})
	assert.Len(t, set, 2)
	assert.Contains(t, set, "PQfMcpmXeFE")
	assert.Empty(t, UIDSet(nil))
}

func TestOptions(t *testing.T) {
	st, err := ParseImportStrategy("sync")
	require.NoError(t, err)
	assert.Equal(t, StrategySync, st)

	st, err = ParseImportStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyCreateAndUpdate, st)

	_, err = ParseImportStrategy("merge")
	assert.Error(t, err)

	opts := Normalize(nil)
	del := opts.WithStrategy(StrategyDelete)
	assert.Equal(t, StrategyCreateAndUpdate, opts.Strategy)
	assert.True(t, del.Strategy.IsDelete())
}
