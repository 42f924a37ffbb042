package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportSummary_AddConflictDeduplicates(t *testing.T) {
	s := NewImportSummary("ref")
	s.AddConflict("Attribute.value", "bad")
	s.AddConflict("Attribute.value", "bad")
	s.AddConflict("Attribute.value", "other")

	assert.Equal(t, []ImportConflict{
		{Object: "Attribute.value", Value: "bad"},
		{Object: "Attribute.value", Value: "other"},
	}, s.Conflicts)
	assert.True(t, s.HasConflicts())
	assert.Equal(t, StatusSuccess, s.Status)
}

func TestImportSummaries_StatusAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ImportStatus
		want     ImportStatus
	}{
		{"empty", nil, StatusSuccess},
		{"all success", []ImportStatus{StatusSuccess, StatusSuccess}, StatusSuccess},
		{"warning wins over success", []ImportStatus{StatusSuccess, StatusWarning}, StatusWarning},
		{"error wins over warning", []ImportStatus{StatusError, StatusWarning, StatusSuccess}, StatusError},
		{"error is sticky", []ImportStatus{StatusWarning, StatusError, StatusWarning}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss := NewImportSummaries()
			for _, st := range tt.statuses {
				s := NewImportSummary("")
				s.Status = st
				ss.Add(s)
			}
			assert.Equal(t, tt.want, ss.Status)
			assert.Equal(t, len(tt.statuses), ss.Len())
		})
	}
}

func TestImportSummaries_Counters(t *testing.T) {
	a := NewImportSummary("a")
	a.IncrementImported()
	b := NewImportSummary("b")
	b.IncrementUpdated()
	c := NewErrorSummary("gone", "c")
	c.IncrementIgnored()
	d := NewImportSummary("d")
	d.IncrementDeleted()

	ss := NewImportSummaries()
	ss.Add(a)
	ss.AddAll(Single(b))
	ss.Add(c)
	ss.Add(d)
	ss.Add(nil)

	assert.Equal(t, 1, ss.Imported)
	assert.Equal(t, 1, ss.Updated)
	assert.Equal(t, 1, ss.Ignored)
	assert.Equal(t, 1, ss.Deleted)
	assert.Equal(t, StatusError, ss.Status)
	assert.Same(t, c, ss.ByReference("c"))
	assert.Nil(t, ss.ByReference("missing"))
}
