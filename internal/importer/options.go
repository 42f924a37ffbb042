package importer

import (
	"fmt"
	"strings"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/platform/auth"
)

type ImportStrategy string

const (
	StrategyCreate          ImportStrategy = "CREATE"
	StrategyUpdate          ImportStrategy = "UPDATE"
	StrategyCreateAndUpdate ImportStrategy = "CREATE_AND_UPDATE"
	StrategyDelete          ImportStrategy = "DELETE"
	StrategySync            ImportStrategy = "SYNC"
)

// ParseImportStrategy parses a strategy name case-insensitively. An empty
// string yields CREATE_AND_UPDATE.
func ParseImportStrategy(s string) (ImportStrategy, error) {
	if strings.TrimSpace(s) == "" {
		return StrategyCreateAndUpdate, nil
	}
	st := ImportStrategy(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StrategyCreate, StrategyUpdate, StrategyCreateAndUpdate, StrategyDelete, StrategySync:
		return st, nil
	case "NEW_AND_UPDATES":
		return StrategyCreateAndUpdate, nil
	}
	return "", fmt.Errorf("unknown import strategy %q", s)
}

func (s ImportStrategy) IsSync() bool   { return s == StrategySync }
func (s ImportStrategy) IsDelete() bool { return s == StrategyDelete }

// IDSchemes selects the identifier scheme per metadata kind. A zero
// per-kind scheme falls back to General.
type IDSchemes struct {
	General           metadata.IDScheme
	OrgUnit           metadata.IDScheme
	Program           metadata.IDScheme
	ProgramStage      metadata.IDScheme
	TrackedEntityType metadata.IDScheme
	Attribute         metadata.IDScheme
	RelationshipType  metadata.IDScheme
}

// For returns the scheme used to resolve references of kind.
func (s IDSchemes) For(kind metadata.Kind) metadata.IDScheme {
	var specific metadata.IDScheme
	switch kind {
	case metadata.KindOrganisationUnit:
		specific = s.OrgUnit
	case metadata.KindProgram:
		specific = s.Program
	case metadata.KindProgramStage:
		specific = s.ProgramStage
	case metadata.KindTrackedEntityType:
		specific = s.TrackedEntityType
	case metadata.KindAttribute:
		specific = s.Attribute
	case metadata.KindRelationshipType:
		specific = s.RelationshipType
	}
	if specific.Type != "" {
		return specific
	}
	if s.General.Type != "" {
		return s.General
	}
	return metadata.UIDScheme
}

// ImportOptions configures one batch.
type ImportOptions struct {
	IDSchemes             IDSchemes
	Strategy              ImportStrategy
	SkipPatternValidation bool
	IgnoreEmptyCollection bool
	User                  *auth.User
	// Program scopes attribute pruning on tracked entity update.
	Program string
	Async   bool
}

func DefaultImportOptions() *ImportOptions {
	return &ImportOptions{Strategy: StrategyCreateAndUpdate}
}

// WithStrategy returns a copy of the options using strategy.
func (o *ImportOptions) WithStrategy(strategy ImportStrategy) *ImportOptions {
	cp := *o.orDefault()
	cp.Strategy = strategy
	return &cp
}

func (o *ImportOptions) orDefault() *ImportOptions {
	if o == nil {
		return DefaultImportOptions()
	}
	return o
}

// Normalize returns non-nil options with a strategy set.
func Normalize(o *ImportOptions) *ImportOptions {
	o = o.orDefault()
	if o.Strategy == "" {
		o.Strategy = StrategyCreateAndUpdate
	}
	return o
}
