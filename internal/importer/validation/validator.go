// Package validation checks attribute values of tracked entities and
// enrollments. Checks never write; a violation comes back as a conflict and
// only a failing store is reported as an error.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/platform/auth"
)

const (
	ObjectAttribute      = "Attribute.attribute"
	ObjectAttributeValue = "Attribute.value"
)

// Validator is safe for concurrent use.
type Validator struct {
	values   tracker.AttributeValueStore
	reserved importer.ReservedValueService
	patterns *lru.Cache[string, *regexp.Regexp]
}

func New(values tracker.AttributeValueStore, reserved importer.ReservedValueService) *Validator {
	patterns, _ := lru.New[string, *regexp.Regexp](256)
	return &Validator{values: values, reserved: reserved, patterns: patterns}
}

// ValidateValueType checks value against the attribute's value type and
// option set.
func (v *Validator) ValidateValueType(attr *metadata.Attribute, value string) *importer.ImportConflict {
	if msg := ValueTypeMessage(attr, value); msg != "" {
		return &importer.ImportConflict{Object: ObjectAttributeValue, Value: msg}
	}
	return nil
}

// ValidateUniqueness rejects value when another live entity already holds
// it for a unique attribute. The search covers the subtree of orgUnit for
// org unit scoped attributes and the whole instance otherwise.
func (v *Validator) ValidateUniqueness(ctx context.Context, attr *metadata.Attribute, value, owner string, orgUnit *metadata.OrganisationUnit) (*importer.ImportConflict, error) {
	if attr == nil || !attr.Unique || value == "" {
		return nil, nil
	}
	scope := ""
	if attr.OrgUnitScope && orgUnit != nil {
		scope = orgUnit.Path
	}
	holders, err := v.values.EntitiesWithAttributeValue(ctx, attr.UID, value, scope)
	if err != nil {
		return nil, fmt.Errorf("check uniqueness of %s: %w", attr.UID, err)
	}
	holders = slices.DeleteFunc(holders, func(uid string) bool { return uid == owner })
	if len(holders) == 0 {
		return nil, nil
	}
	return &importer.ImportConflict{
		Object: ObjectAttributeValue,
		Value:  fmt.Sprintf("Non-unique attribute value '%s' for attribute %s", value, attr.UID),
	}, nil
}

// ValidateTextPattern checks a generated attribute's value against its
// pattern. Unchanged values and reserved values pass.
func (v *Validator) ValidateTextPattern(ctx context.Context, attr *metadata.Attribute, value, oldValue string, skip bool) (*importer.ImportConflict, error) {
	if skip || attr == nil || !attr.HasPattern() || value == "" || value == oldValue {
		return nil, nil
	}
	re, err := v.compile(attr.Pattern)
	if err == nil && re.MatchString(value) {
		return nil, nil
	}
	if v.reserved != nil {
		reserved, rerr := v.reserved.IsReserved(ctx, attr.Pattern, value)
		if rerr != nil {
			return nil, fmt.Errorf("check reserved value of %s: %w", attr.UID, rerr)
		}
		if reserved {
			return nil, nil
		}
	}
	return &importer.ImportConflict{Object: ObjectAttributeValue, Value: "Value does not match the attribute pattern"}, nil
}

func (v *Validator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Get(pattern); ok {
		return re, nil
	}
	re, err := CompileTextPattern(pattern)
	if err != nil {
		return nil, err
	}
	v.patterns.Add(pattern, re)
	return re, nil
}

// CheckMandatory reports every mandatory program attribute that has no
// value. Users holding the override authority skip the check.
func CheckMandatory(program *metadata.Program, values map[string]string, user *auth.User) []importer.ImportConflict {
	if program == nil || user.IsAuthorized(auth.AuthorityIgnoreRequiredValueValidation) {
		return nil
	}
	var conflicts []importer.ImportConflict
	for _, pa := range program.Attributes {
		if !pa.Mandatory || pa.Attribute == nil {
			continue
		}
		if values[pa.Attribute.UID] == "" {
			conflicts = append(conflicts, importer.ImportConflict{
				Object: ObjectAttribute,
				Value:  "Missing mandatory attribute " + pa.Attribute.UID,
			})
		}
	}
	return conflicts
}
