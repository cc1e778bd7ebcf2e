package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Financial ")
	require.NoError(t, err)
	assert.Equal(t, CategoryFinancial, c)
	assert.True(t, c.ReportSensitive())
	assert.False(t, CategoryQuote.ReportSensitive())

	_, err = ParseCategory("depth5")
	assert.Error(t, err, "unknown categories must not fall back to a default")
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in   string
		want Unit
	}{
		{"", UnitNone},
		{"lots", UnitLots},
		{"手", UnitLots},
		{"Shares", UnitShares},
		{"万元", UnitWan},
		{"亿", UnitYi},
	}
	for _, tt := range tests {
		got, err := ParseUnit(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseUnit("bushels")
	assert.Error(t, err)
}

func TestFinalize_ValidityFollowsSeverity(t *testing.T) {
	r := NewValidationResult("price")
	r.Addf(SeverityInfo, "rsi", "test", "overbought")
	r.Addf(SeverityWarning, "pb", "test", "low")
	r.Finalize()
	assert.True(t, r.IsValid)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)

	r.Addf(SeverityError, "pe", "test", "out of range")
	r.Finalize()
	assert.False(t, r.IsValid)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
}

func TestConfidenceFor_NeverIncreases(t *testing.T) {
	var issues []ValidationIssue
	prev := ConfidenceFor(issues)
	assert.Equal(t, 1.0, prev)

	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical, SeverityError, SeverityError} {
		issues = append(issues, ValidationIssue{Severity: sev})
		next := ConfidenceFor(issues)
		assert.LessOrEqual(t, next, prev)
		assert.GreaterOrEqual(t, next, 0.0)
		prev = next
	}
	assert.Equal(t, 0.0, prev)
}

func TestGradeForScore(t *testing.T) {
	assert.Equal(t, GradeA, GradeForScore(80))
	assert.Equal(t, GradeB, GradeForScore(79.9))
	assert.Equal(t, GradeC, GradeForScore(50))
	assert.Equal(t, GradeD, GradeForScore(30))
	assert.Equal(t, GradeF, GradeForScore(0))
	assert.Equal(t, GradeC, GradeB.Degrade())
	assert.Equal(t, GradeF, GradeF.Degrade())
}

func TestStandardizedMetricSet_CloneDoesNotAlias(t *testing.T) {
	s := NewStandardizedMetricSet("600519", CategoryQuote, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), "p1")
	s.Set(FieldPrice, Num(1700), UnitNone)
	orig := Num(0.1)
	s.Corrections = []Correction{{Field: FieldPS, Original: &orig, Corrected: 2.87, Reason: "recomputed"}}

	c := s.Clone()
	c.Set(FieldPrice, Num(1), UnitNone)
	c.Corrections[0].Original.Num = 99

	p, ok := s.Number(FieldPrice)
	require.True(t, ok)
	assert.Equal(t, 1700.0, p)
	assert.Equal(t, 0.1, s.Corrections[0].Original.Num)
}

func TestRawMetricSet_IsImmutable(t *testing.T) {
	fields := map[string]Field{FieldVolume: {Value: Num(10), Unit: UnitLots}}
	raw := NewRawMetricSet("000001", CategoryQuote, time.Now(), "p1", fields)
	fields[FieldVolume] = Field{Value: Num(99)}

	f, ok := raw.Field(FieldVolume)
	require.True(t, ok)
	assert.Equal(t, 10.0, f.Value.Num)
	assert.Equal(t, []string{FieldVolume}, raw.Names())
}

func TestCategoryOf(t *testing.T) {
	c, ok := CategoryOf(FieldPE)
	require.True(t, ok)
	assert.Equal(t, CategoryValuation, c)

	c, _ = CategoryOf(FieldBollUpper)
	assert.Equal(t, CategoryTechnical, c)

	_, ok = CategoryOf("dividend_yield")
	assert.False(t, ok)
}
