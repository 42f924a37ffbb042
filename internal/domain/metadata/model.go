package metadata

import "strings"

// ValueType is the declared grammar of an attribute value.
type ValueType string

const (
	ValueTypeText                  ValueType = "TEXT"
	ValueTypeLongText              ValueType = "LONG_TEXT"
	ValueTypeLetter                ValueType = "LETTER"
	ValueTypePhoneNumber           ValueType = "PHONE_NUMBER"
	ValueTypeEmail                 ValueType = "EMAIL"
	ValueTypeBoolean               ValueType = "BOOLEAN"
	ValueTypeTrueOnly              ValueType = "TRUE_ONLY"
	ValueTypeDate                  ValueType = "DATE"
	ValueTypeDateTime              ValueType = "DATETIME"
	ValueTypeTime                  ValueType = "TIME"
	ValueTypeNumber                ValueType = "NUMBER"
	ValueTypeUnitInterval          ValueType = "UNIT_INTERVAL"
	ValueTypePercentage            ValueType = "PERCENTAGE"
	ValueTypeInteger               ValueType = "INTEGER"
	ValueTypeIntegerPositive       ValueType = "INTEGER_POSITIVE"
	ValueTypeIntegerNegative       ValueType = "INTEGER_NEGATIVE"
	ValueTypeIntegerZeroOrPositive ValueType = "INTEGER_ZERO_OR_POSITIVE"
	ValueTypeUsername              ValueType = "USERNAME"
	ValueTypeCoordinate            ValueType = "COORDINATE"
	ValueTypeOrganisationUnit      ValueType = "ORGANISATION_UNIT"
	ValueTypeAge                   ValueType = "AGE"
	ValueTypeURL                   ValueType = "URL"
	ValueTypeFileResource          ValueType = "FILE_RESOURCE"
	ValueTypeImage                 ValueType = "IMAGE"
	ValueTypeTrackerAssociate      ValueType = "TRACKER_ASSOCIATE"
)

// IsInteger reports whether the type is one of the integer variants.
func (v ValueType) IsInteger() bool {
	switch v {
	case ValueTypeInteger, ValueTypeIntegerPositive, ValueTypeIntegerNegative, ValueTypeIntegerZeroOrPositive:
		return true
	}
	return false
}

// IsNumeric reports whether values of the type must parse as a number.
func (v ValueType) IsNumeric() bool {
	switch v {
	case ValueTypeNumber, ValueTypeUnitInterval, ValueTypePercentage:
		return true
	}
	return v.IsInteger()
}

// IsFile reports whether the value references a stored file.
func (v ValueType) IsFile() bool {
	return v == ValueTypeFileResource || v == ValueTypeImage
}

// FeatureType is the geometry shape a type or program declares.
type FeatureType string

const (
	FeatureTypeNone         FeatureType = "NONE"
	FeatureTypePoint        FeatureType = "POINT"
	FeatureTypePolygon      FeatureType = "POLYGON"
	FeatureTypeMultiPolygon FeatureType = "MULTI_POLYGON"
	FeatureTypeSymbol       FeatureType = "SYMBOL"
)

// FeatureTypeFromGeometry maps a GeoJSON geometry type to a FeatureType.
// Unknown types map to NONE.
func FeatureTypeFromGeometry(geometryType string) FeatureType {
	switch strings.ToLower(geometryType) {
	case "point":
		return FeatureTypePoint
	case "polygon":
		return FeatureTypePolygon
	case "multipolygon":
		return FeatureTypeMultiPolygon
	}
	return FeatureTypeNone
}

// ProgramType distinguishes tracker programs from event programs.
type ProgramType string

const (
	ProgramWithRegistration    ProgramType = "WITH_REGISTRATION"
	ProgramWithoutRegistration ProgramType = "WITHOUT_REGISTRATION"
)

// Identifiable carries the identifiers every metadata object can be
// referenced by.
type Identifiable struct {
	UID             string            `json:"id"`
	Code            string            `json:"code,omitempty"`
	Name            string            `json:"name,omitempty"`
	AttributeValues map[string]string `json:"attributeValues,omitempty"`
}

// Identifier returns the object's identifier under the given scheme.
func (i Identifiable) Identifier(scheme IDScheme) string {
	switch scheme.Type {
	case IDSchemeCode:
		return i.Code
	case IDSchemeName:
		return i.Name
	case IDSchemeAttribute:
		return i.AttributeValues[scheme.Attribute]
	default:
		return i.UID
	}
}

type OrganisationUnit struct {
	Identifiable
	// Path lists ancestor uids from the root, e.g. "/ImspTQPwCqd/O6uvpzGd5pu".
	Path string `json:"path"`
}

// IsDescendantOf reports whether the unit sits in the subtree rooted at
// ancestor, including ancestor itself.
func (o *OrganisationUnit) IsDescendantOf(ancestor *OrganisationUnit) bool {
	if o == nil || ancestor == nil {
		return false
	}
	return PathWithin(o.Path, ancestor.Path)
}

// PathWithin reports whether path lies inside the subtree addressed by root.
func PathWithin(path, root string) bool {
	if root == "" {
		return false
	}
	if path == root {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/")
}

type Attribute struct {
	Identifiable
	ValueType    ValueType `json:"valueType"`
	Unique       bool      `json:"unique"`
	OrgUnitScope bool      `json:"orgunitScope"`
	Generated    bool      `json:"generated"`
	Pattern      string    `json:"pattern,omitempty"`
	OptionSet    []string  `json:"optionSet,omitempty"`
	Confidential bool      `json:"confidential"`
}

// HasPattern reports whether values must follow a generated text pattern.
func (a *Attribute) HasPattern() bool {
	return a.Generated && strings.TrimSpace(a.Pattern) != ""
}

type TrackedEntityType struct {
	Identifiable
	FeatureType     FeatureType  `json:"featureType"`
	PublicDataWrite bool         `json:"publicDataWrite"`
	Attributes      []*Attribute `json:"trackedEntityTypeAttributes,omitempty"`
}

// HasAttribute reports whether uid is one of the type's attributes.
func (t *TrackedEntityType) HasAttribute(uid string) bool {
	for _, a := range t.Attributes {
		if a.UID == uid {
			return true
		}
	}
	return false
}

type ProgramAttribute struct {
	Attribute *Attribute `json:"trackedEntityAttribute"`
	Mandatory bool       `json:"mandatory"`
}

type Program struct {
	Identifiable
	Type                          ProgramType         `json:"programType"`
	OnlyEnrollOnce                bool                `json:"onlyEnrollOnce"`
	DisplayIncidentDate           bool                `json:"displayIncidentDate"`
	SelectEnrollmentDatesInFuture bool                `json:"selectEnrollmentDatesInFuture"`
	SelectIncidentDatesInFuture   bool                `json:"selectIncidentDatesInFuture"`
	FeatureType                   FeatureType         `json:"featureType,omitempty"`
	TrackedEntityType             string              `json:"trackedEntityType,omitempty"`
	PublicDataWrite               bool                `json:"publicDataWrite"`
	Attributes                    []*ProgramAttribute `json:"programTrackedEntityAttributes,omitempty"`
}

// IsRegistration reports whether enrollments can be created in the program.
func (p *Program) IsRegistration() bool {
	return p.Type == ProgramWithRegistration
}

// Attribute returns the program attribute with the given uid, or nil.
func (p *Program) Attribute(uid string) *ProgramAttribute {
	for _, pa := range p.Attributes {
		if pa.Attribute != nil && pa.Attribute.UID == uid {
			return pa
		}
	}
	return nil
}

type ProgramStage struct {
	Identifiable
	Program string `json:"program"`
}

type RelationshipType struct {
	Identifiable
	Bidirectional bool `json:"bidirectional"`
}
