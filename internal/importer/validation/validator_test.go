package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/domain/tracker"
	"github.com/hmis/tracker/internal/importer/importertest"
	"github.com/hmis/tracker/internal/platform/auth"
	"github.com/hmis/tracker/internal/platform/reservedvalue"
)

func attr(vt metadata.ValueType) *metadata.Attribute {
	return &metadata.Attribute{Identifiable: metadata.Identifiable{UID: "attrUID0001"}, ValueType: vt}
}

func TestValueTypeMessage(t *testing.T) {
	tests := []struct {
		vt    metadata.ValueType
		value string
		ok    bool
	}{
		{metadata.ValueTypeText, "anything at all", true},
		{metadata.ValueTypeNumber, "12.5", true},
		{metadata.ValueTypeNumber, "-3", true},
		{metadata.ValueTypeNumber, "twelve", false},
		{metadata.ValueTypeInteger, "42", true},
		{metadata.ValueTypeInteger, "4.2", false},
		{metadata.ValueTypeIntegerPositive, "0", false},
		{metadata.ValueTypeIntegerPositive, "7", true},
		{metadata.ValueTypeIntegerNegative, "-7", true},
		{metadata.ValueTypeIntegerNegative, "7", false},
		{metadata.ValueTypeIntegerZeroOrPositive, "0", true},
		{metadata.ValueTypeIntegerZeroOrPositive, "-1", false},
		{metadata.ValueTypePercentage, "100", true},
		{metadata.ValueTypePercentage, "100.5", false},
		{metadata.ValueTypeUnitInterval, "0.25", true},
		{metadata.ValueTypeUnitInterval, "1.5", false},
		{metadata.ValueTypeBoolean, "true", true},
		{metadata.ValueTypeBoolean, "yes", false},
		{metadata.ValueTypeTrueOnly, "false", false},
		{metadata.ValueTypeDate, "2024-02-29", true},
		{metadata.ValueTypeDate, "2023-02-30", false},
		{metadata.ValueTypeTime, "23:59", true},
		{metadata.ValueTypeTime, "24:00", false},
		{metadata.ValueTypeEmail, "nurse@example.org", true},
		{metadata.ValueTypeEmail, "not-an-email", false},
		{metadata.ValueTypeURL, "https://example.org/x", true},
		{metadata.ValueTypeLetter, "a", true},
		{metadata.ValueTypeLetter, "ab", false},
		{metadata.ValueTypePhoneNumber, "+232 76 123456", true},
		{metadata.ValueTypePhoneNumber, "call me", false},
		{metadata.ValueTypeCoordinate, "[-11.4,8.1]", true},
		{metadata.ValueTypeOrganisationUnit, "DiszpKrYNg8", true},
		{metadata.ValueTypeOrganisationUnit, "Ngelehun", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.vt)+"/"+tt.value, func(t *testing.T) {
			msg := ValueTypeMessage(attr(tt.vt), tt.value)
			if tt.ok {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestValueTypeMessage_Messages(t *testing.T) {
	assert.Equal(t, "Value 'twelve' is not a valid numeric type for attribute attrUID0001",
		ValueTypeMessage(attr(metadata.ValueTypeNumber), "twelve"))

	a := attr(metadata.ValueTypeText)
	a.OptionSet = []string{"Male", "Female"}
	assert.Equal(t, "Value 'Other' is not a valid option for attribute attrUID0001 and option set",
		ValueTypeMessage(a, "Other"))
	assert.Empty(t, ValueTypeMessage(a, "Female"))

	assert.Equal(t, "Value length is greater than 50000 chars for attribute attrUID0001",
		ValueTypeMessage(attr(metadata.ValueTypeLongText), strings.Repeat("x", MaxValueLength+1)))

	assert.Empty(t, ValueTypeMessage(attr(metadata.ValueTypeNumber), ""))
}

func uniqueFixture(t *testing.T) (*Validator, *importertest.Metadata) {
	t.Helper()
	md := importertest.NewFixture()
	gw := importertest.NewGateway()
	gw.OrgUnitPaths = md.OrgUnitPaths()
	gw.PutTrackedEntity(&tracker.TrackedEntity{UID: "holderInBo1", OrgUnit: importertest.ClinicOU})
	gw.PutAttributeValue("holderInBo1", importertest.NationalID, "SL-1001")
	gw.PutTrackedEntity(&tracker.TrackedEntity{UID: "deletedTEI1", OrgUnit: importertest.ClinicOU, Deleted: true})
	gw.PutAttributeValue("deletedTEI1", importertest.NationalID, "SL-2002")
	return New(gw, nil), md
}

func TestValidateUniqueness_OrgUnitScope(t *testing.T) {
	ctx := context.Background()
	v, md := uniqueFixture(t)
	nationalID := md.AttributeByUID(importertest.NationalID)

	c, err := v.ValidateUniqueness(ctx, nationalID, "sl-1001", "newcomer001", md.OrgUnitByUID(importertest.DistrOU))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "Non-unique attribute value 'sl-1001' for attribute "+importertest.NationalID, c.Value)

	c, err = v.ValidateUniqueness(ctx, nationalID, "SL-1001", "newcomer001", md.OrgUnitByUID(importertest.OtherOU))
	require.NoError(t, err)
	assert.Nil(t, c, "a holder outside the subtree does not collide")
}

func TestValidateUniqueness_WholeInstance(t *testing.T) {
	ctx := context.Background()
	v, md := uniqueFixture(t)
	global := *md.AttributeByUID(importertest.NationalID)
	global.OrgUnitScope = false

	c, err := v.ValidateUniqueness(ctx, &global, "SL-1001", "newcomer001", md.OrgUnitByUID(importertest.OtherOU))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestValidateUniqueness_Skips(t *testing.T) {
	ctx := context.Background()
	v, md := uniqueFixture(t)
	nationalID := md.AttributeByUID(importertest.NationalID)

	c, err := v.ValidateUniqueness(ctx, nationalID, "SL-1001", "holderInBo1", md.OrgUnitByUID(importertest.RootOU))
	require.NoError(t, err)
	assert.Nil(t, c, "owner already holds the value")

	c, err = v.ValidateUniqueness(ctx, nationalID, "SL-2002", "newcomer001", md.OrgUnitByUID(importertest.RootOU))
	require.NoError(t, err)
	assert.Nil(t, c, "deleted holders are ignored")

	c, err = v.ValidateUniqueness(ctx, nationalID, "", "newcomer001", nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = v.ValidateUniqueness(ctx, md.AttributeByUID(importertest.FirstName), "SL-1001", "newcomer001", nil)
	require.NoError(t, err)
	assert.Nil(t, c, "attribute is not unique")
}

func TestValidateUniqueness_StoreError(t *testing.T) {
	gw := importertest.NewGateway()
	boom := errors.New("db down")
	gw.FailOn["EntitiesWithAttributeValue"] = boom
	v := New(gw, nil)
	a := attr(metadata.ValueTypeText)
	a.Unique = true

	_, err := v.ValidateUniqueness(context.Background(), a, "x", "owner000001", nil)
	assert.ErrorIs(t, err, boom)
}

func TestValidateTextPattern(t *testing.T) {
	ctx := context.Background()
	reserved := reservedvalue.NewMemoryStore()
	md := importertest.NewFixture()
	generated := md.AttributeByUID(importertest.GeneratedID)
	require.NoError(t, reserved.Reserve(ctx, generated.Pattern, "LEGACY-7"))
	v := New(importertest.NewGateway(), reserved)

	c, err := v.ValidateTextPattern(ctx, generated, "ID-0042", "", false)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = v.ValidateTextPattern(ctx, generated, "ID-42", "", false)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ObjectAttributeValue, c.Object)
	assert.Equal(t, "Value does not match the attribute pattern", c.Value)

	c, err = v.ValidateTextPattern(ctx, generated, "LEGACY-7", "", false)
	require.NoError(t, err)
	assert.Nil(t, c, "reserved values pass")

	c, err = v.ValidateTextPattern(ctx, generated, "ID-42", "ID-42", false)
	require.NoError(t, err)
	assert.Nil(t, c, "unchanged values pass")

	c, err = v.ValidateTextPattern(ctx, generated, "ID-42", "", true)
	require.NoError(t, err)
	assert.Nil(t, c, "skipPatternValidation")
}

func TestCompileTextPattern(t *testing.T) {
	re, err := CompileTextPattern(`"CHILD-" + ORG_UNIT_CODE(...) + "-" + CURRENT_DATE(yyyyMM) + "-" + RANDOM(X#x*) + SEQUENTIAL(###)`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("CHILD-NGL-202403-A1b9007"))
	assert.False(t, re.MatchString("CHILD-NGL-2024-A1b9007"))

	_, err = CompileTextPattern(`"open + SEQUENTIAL(#)`)
	assert.Error(t, err)
	_, err = CompileTextPattern(`BOGUS(##)`)
	assert.Error(t, err)
	_, err = CompileTextPattern(`RANDOM(?)`)
	assert.Error(t, err)
}

func TestCheckMandatory(t *testing.T) {
	md := importertest.NewFixture()
	program := md.ProgramByUID(importertest.ChildProgram)

	conflicts := CheckMandatory(program, map[string]string{importertest.Weight: "3.2"}, importertest.Clerk())
	require.Len(t, conflicts, 1)
	assert.Equal(t, ObjectAttribute, conflicts[0].Object)
	assert.Equal(t, "Missing mandatory attribute "+importertest.FirstName, conflicts[0].Value)

	assert.Empty(t, CheckMandatory(program, map[string]string{importertest.FirstName: "Ada"}, importertest.Clerk()))

	override := importertest.Clerk()
	override.Authorities = []string{auth.AuthorityIgnoreRequiredValueValidation}
	assert.Empty(t, CheckMandatory(program, nil, override))
	assert.Empty(t, CheckMandatory(program, nil, importertest.Admin()))
}
