package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer"
)

// MaxValueLength bounds every attribute value.
const MaxValueLength = 50000

var (
	validate     = validator.New()
	integerRe    = regexp.MustCompile(`^(0|-?[1-9]\d*)$`)
	phoneRe      = regexp.MustCompile(`^[0-9+()#./\sext-]{6,50}$`)
	timeRe       = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	decimalZero  = decimal.Zero
	decimalOne   = decimal.NewFromInt(1)
	decimalHundo = decimal.NewFromInt(100)
)

// ValueTypeMessage returns why value does not satisfy the value type of
// attr, or "" when it does. Empty values are always accepted.
func ValueTypeMessage(attr *metadata.Attribute, value string) string {
	if attr == nil || value == "" {
		return ""
	}
	if len(value) > MaxValueLength {
		return fmt.Sprintf("Value length is greater than %d chars for attribute %s", MaxValueLength, attr.UID)
	}
	if len(attr.OptionSet) > 0 {
		if !slices.Contains(attr.OptionSet, value) {
			return fmt.Sprintf("Value '%s' is not a valid option for attribute %s and option set", value, attr.UID)
		}
		return ""
	}
	if !validValue(attr.ValueType, value) {
		return fmt.Sprintf("Value '%s' is not a valid %s type for attribute %s", value, describe(attr.ValueType), attr.UID)
	}
	return ""
}

func validValue(vt metadata.ValueType, value string) bool {
	switch vt {
	case metadata.ValueTypeLetter:
		r, size := utf8.DecodeRuneInString(value)
		return size == len(value) && unicode.IsLetter(r)
	case metadata.ValueTypePhoneNumber:
		return phoneRe.MatchString(value)
	case metadata.ValueTypeEmail:
		return validate.Var(value, "email") == nil
	case metadata.ValueTypeURL:
		return validate.Var(value, "url") == nil
	case metadata.ValueTypeBoolean:
		return value == "true" || value == "false"
	case metadata.ValueTypeTrueOnly:
		return value == "true"
	case metadata.ValueTypeDate, metadata.ValueTypeDateTime, metadata.ValueTypeAge:
		d, err := importer.ParseDate(value)
		return err == nil && d != nil
	case metadata.ValueTypeTime:
		return timeRe.MatchString(value)
	case metadata.ValueTypeNumber:
		_, err := decimal.NewFromString(value)
		return err == nil
	case metadata.ValueTypeUnitInterval:
		d, err := decimal.NewFromString(value)
		return err == nil && !d.LessThan(decimalZero) && !d.GreaterThan(decimalOne)
	case metadata.ValueTypePercentage:
		d, err := decimal.NewFromString(value)
		return err == nil && !d.LessThan(decimalZero) && !d.GreaterThan(decimalHundo)
	case metadata.ValueTypeInteger:
		return integerRe.MatchString(value)
	case metadata.ValueTypeIntegerPositive:
		return integerRe.MatchString(value) && value != "0" && !strings.HasPrefix(value, "-")
	case metadata.ValueTypeIntegerNegative:
		return integerRe.MatchString(value) && strings.HasPrefix(value, "-")
	case metadata.ValueTypeIntegerZeroOrPositive:
		return integerRe.MatchString(value) && !strings.HasPrefix(value, "-")
	case metadata.ValueTypeCoordinate:
		_, err := tracker.ParseCoordinate(value)
		return err == nil
	case metadata.ValueTypeOrganisationUnit, metadata.ValueTypeFileResource,
		metadata.ValueTypeImage, metadata.ValueTypeTrackerAssociate:
		return importer.IsValidUID(value)
	}
	return true
}

func describe(vt metadata.ValueType) string {
	switch {
	case vt.IsNumeric():
		return "numeric"
	case vt == metadata.ValueTypeTrueOnly:
		return "true only"
	}
	return strings.ToLower(strings.ReplaceAll(string(vt), "_", " "))
}
