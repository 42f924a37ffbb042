package auth

import (
	"context"
	"slices"
)

// Authorities checked by the tracker importers.
const (
	AuthorityAll                           = "ALL"
	AuthorityIgnoreRequiredValueValidation = "F_IGNORE_TRACKER_REQUIRED_VALUE_VALIDATION"
	AuthorityEnrollmentCascadeDelete       = "F_ENROLLMENT_CASCADE_DELETE"
	AuthorityTEICascadeDelete              = "F_TEI_CASCADE_DELETE"
	AuthorityTrackerImport                 = "F_TRACKER_IMPORT"
)

// User is the acting principal of an import.
type User struct {
	UID         string   `json:"id"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
	// OrgUnits holds the paths of the org units the user may capture data
	// in. Every descendant is in scope as well.
	OrgUnits           []string `json:"organisationUnits"`
	Programs           []string `json:"programs"`
	TrackedEntityTypes []string `json:"trackedEntityTypes"`
}

// IsSuper reports whether the user holds the ALL authority.
func (u *User) IsSuper() bool {
	return u != nil && slices.Contains(u.Authorities, AuthorityAll)
}

// IsAuthorized reports whether the user holds authority, directly or via
// ALL. A nil user holds nothing.
func (u *User) IsAuthorized(authority string) bool {
	if u == nil {
		return false
	}
	return u.IsSuper() || slices.Contains(u.Authorities, authority)
}

// UsernameOr returns the username, or fallback for a nil or anonymous user.
func (u *User) UsernameOr(fallback string) string {
	if u == nil || u.Username == "" {
		return fallback
	}
	return u.Username
}

type userKey struct{}

// WithUser binds u to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user bound to ctx, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}
