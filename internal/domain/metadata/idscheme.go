package metadata

import (
	"fmt"
	"strings"
)

// IDSchemeType selects which identifier external references are matched on.
type IDSchemeType string

const (
	IDSchemeUID       IDSchemeType = "UID"
	IDSchemeCode      IDSchemeType = "CODE"
	IDSchemeName      IDSchemeType = "NAME"
	IDSchemeAttribute IDSchemeType = "ATTRIBUTE"
)

// IDScheme is an identifier scheme. Attribute is only set for
// ATTRIBUTE schemes and holds the uid of the metadata attribute whose value
// is matched.
type IDScheme struct {
	Type      IDSchemeType
	Attribute string
}

var UIDScheme = IDScheme{Type: IDSchemeUID}

// ParseIDScheme parses "UID", "code", "NAME" or "ATTRIBUTE:<uid>".
// An empty string yields the UID scheme.
func ParseIDScheme(s string) (IDScheme, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UIDScheme, nil
	}
	upper := strings.ToUpper(s)
	switch IDSchemeType(upper) {
	case IDSchemeUID, IDSchemeCode, IDSchemeName:
		return IDScheme{Type: IDSchemeType(upper)}, nil
	}
	if strings.HasPrefix(upper, string(IDSchemeAttribute)+":") {
		attr := strings.TrimSpace(s[len(IDSchemeAttribute)+1:])
		if attr == "" {
			return IDScheme{}, fmt.Errorf("attribute id scheme %q has no attribute", s)
		}
		return IDScheme{Type: IDSchemeAttribute, Attribute: attr}, nil
	}
	return IDScheme{}, fmt.Errorf("unknown id scheme %q", s)
}

func (s IDScheme) String() string {
	if s.Type == IDSchemeAttribute {
		return string(IDSchemeAttribute) + ":" + s.Attribute
	}
	if s.Type == "" {
		return string(IDSchemeUID)
	}
	return string(s.Type)
}

// IsUID reports whether the scheme matches on uid. The zero value is UID.
func (s IDScheme) IsUID() bool {
	return s.Type == "" || s.Type == IDSchemeUID
}
