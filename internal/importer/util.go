package importer

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/hmis/tracker/internal/platform/auth"
)

const (
	uidLetters  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	uidAlphaNum = uidLetters + "0123456789"
	uidLength   = 11

	// MaxStoredByLength bounds the storedBy column.
	MaxStoredByLength = 255

	SystemProcess   = "system-process"
	UnknownStoredBy = "[Unknown]"
)

var uidPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9]{10}$`)

// IsValidUID reports whether s is an 11 character uid starting with a
// letter.
func IsValidUID(s string) bool {
	return uidPattern.MatchString(s)
}

// GenerateUID returns a new random uid.
func GenerateUID() string {
	var b strings.Builder
	b.WriteByte(uidLetters[randIndex(len(uidLetters))])
	for i := 1; i < uidLength; i++ {
		b.WriteByte(uidAlphaNum[randIndex(len(uidAlphaNum))])
	}
	return b.String()
}

func randIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return int(i.Int64())
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses client-reported dates. An empty string yields nil.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%q is not a valid date", s)
}

// FormatDate renders t the way dates appear in conflict messages.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000")
}

// ResolveStoredBy picks the storedBy of an enrollment or event. A value at or
// above MaxStoredByLength is replaced by the acting username and reported
// as a conflict.
func ResolveStoredBy(storedBy string, user *auth.User, summary *ImportSummary) string {
	if storedBy != "" && len(storedBy) >= MaxStoredByLength {
		if summary != nil {
			summary.AddConflict("stored by", fmt.Sprintf(
				"%s is more than %d characters, using current username instead", storedBy, MaxStoredByLength))
		}
		return user.UsernameOr(SystemProcess)
	}
	if storedBy == "" {
		return user.UsernameOr(SystemProcess)
	}
	return storedBy
}

// AttributeStoredBy picks the storedBy of an attribute value.
func AttributeStoredBy(storedBy string, user *auth.User) string {
	if storedBy != "" {
		return storedBy
	}
	return user.UsernameOr(UnknownStoredBy)
}

// UIDSet indexes uids for membership checks.
func UIDSet(uids []string) map[string]struct{} {
	return lo.SliceToMap(uids, func(uid string) (string, struct{}) { return uid, struct{}{} })
}
