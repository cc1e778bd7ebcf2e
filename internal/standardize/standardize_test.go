package standardize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/marketdata-hub/internal/model"
)

func TestVolume(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  model.Unit
		want  float64
		ratio float64
	}{
		{"undeclared is shares", 999900, model.UnitNone, 999900, 1},
		{"shares", 1234, model.UnitShares, 1234, 1},
		{"lots", 9999, model.UnitLots, 999900, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Volume(tt.value, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, tt.ratio, got.Ratio)
			assert.Equal(t, model.UnitShares, got.StandardUnit)
		})
	}

	_, err := Volume(10, model.UnitYuan)
	assert.Error(t, err)
}

func TestVolume_IdempotentOnceInShares(t *testing.T) {
	first, err := Volume(12345, model.UnitLots)
	require.NoError(t, err)
	second, err := Volume(first.Value, first.StandardUnit)
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
}

func TestMoney(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		unit     model.Unit
		want     float64
		inferred bool
	}{
		{"declared yuan", 263_900_000_000, model.UnitYuan, 2639, false},
		{"declared wan", 26_390_000, model.UnitWan, 2639, false},
		{"declared yi", 263.9, model.UnitYi, 263.9, false},
		{"inferred yuan", 9_200_000_000, model.UnitNone, 92, true},
		{"inferred wan", 920_000, model.UnitNone, 92, true},
		{"inferred yi", 92, model.UnitNone, 92, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Money(tt.value, tt.unit)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.Value, 1e-9)
			assert.Equal(t, model.UnitYi, got.Unit)
			assert.Equal(t, tt.inferred, got.Inferred)
			assert.Equal(t, tt.value, got.Original)
		})
	}

	_, err := Money(1, model.UnitLots)
	assert.Error(t, err)
}

func TestRecomputePriceToSales(t *testing.T) {
	ps := RecomputePriceToSales(263.9, 92.0)
	require.NotNil(t, ps)
	assert.InDelta(t, 2.868, *ps, 0.001)
	assert.Nil(t, RecomputePriceToSales(263.9, 0))
	assert.Nil(t, RecomputePriceToSales(263.9, -1))
}

func TestValidateAndCorrectPriceToSales(t *testing.T) {
	t.Run("wrong reported ratio is corrected", func(t *testing.T) {
		res := ValidateAndCorrectPriceToSales(model.NumericMap{
			model.FieldMarketCap: 263.9,
			model.FieldRevenue:   92.0,
			model.FieldPS:        0.10,
		})
		require.NotNil(t, res.CorrectedValue)
		assert.InDelta(t, 2.87, *res.CorrectedValue, 0.01)
		require.Len(t, res.Issues, 1)
		issue := res.Issues[0]
		assert.Equal(t, model.SeverityError, issue.Severity)
		require.NotNil(t, issue.Actual)
		require.NotNil(t, issue.Expected)
		assert.Equal(t, 0.10, *issue.Actual)
		assert.InDelta(t, 2.87, *issue.Expected, 0.01)
	})

	t.Run("within tolerance", func(t *testing.T) {
		res := ValidateAndCorrectPriceToSales(model.NumericMap{
			model.FieldMarketCap: 263.9,
			model.FieldRevenue:   92.0,
			model.FieldPS:        2.95,
		})
		assert.Nil(t, res.CorrectedValue)
		assert.Empty(t, res.Issues)
	})

	t.Run("missing ratio is filled", func(t *testing.T) {
		res := ValidateAndCorrectPriceToSales(model.NumericMap{
			model.FieldMarketCap: 263.9,
			model.FieldRevenue:   92.0,
		})
		require.NotNil(t, res.CorrectedValue)
		require.Len(t, res.Issues, 1)
		assert.Equal(t, model.SeverityInfo, res.Issues[0].Severity)
	})

	t.Run("no components", func(t *testing.T) {
		res := ValidateAndCorrectPriceToSales(model.NumericMap{model.FieldPS: 3})
		assert.Nil(t, res.CorrectedValue)
		assert.Empty(t, res.Issues)
	})
}

func TestBollingerPosition(t *testing.T) {
	mid := 29.74

	ok := BollingerPosition(30.98, 28.50, &mid, 31.18, model.Float(106.8))
	assert.True(t, ok.IsValid)
	require.NotNil(t, ok.Position)
	assert.InDelta(t, 108.06, *ok.Position, 0.01)
	assert.Empty(t, ok.Issues)

	bad := BollingerPosition(30.98, 28.50, &mid, 31.18, model.Float(50))
	assert.True(t, bad.IsValid)
	require.Len(t, bad.Issues, 1)
	assert.Equal(t, model.SeverityError, bad.Issues[0].Severity)

	for _, edge := range []float64{28.50, 30.98} {
		edge := edge
		onEdge := BollingerPosition(30.98, 28.50, &edge, 29.0, nil)
		assert.True(t, onEdge.IsValid, "middle %.2f on the band edge", edge)
		assert.Empty(t, onEdge.Issues)
	}

	below := 28.49
	outside := BollingerPosition(30.98, 28.50, &below, 29.0, nil)
	assert.False(t, outside.IsValid)
	require.Len(t, outside.Issues, 1)
	assert.Equal(t, model.FieldBollMiddle, outside.Issues[0].Field)

	inverted := BollingerPosition(28.50, 30.98, nil, 31.18, nil)
	assert.False(t, inverted.IsValid)
	assert.Nil(t, inverted.Position)
	assert.True(t, model.HasBlocking(inverted.Issues))
}

func TestStandardize(t *testing.T) {
	asOf := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	raw := model.NewRawMetricSet("600519", model.CategoryValuation, asOf, "p1", map[string]model.Field{
		model.FieldVolume:    {Value: model.Num(999900)},
		model.FieldMarketCap: {Value: model.Num(26_390_000), Unit: model.UnitWan},
		model.FieldRevenue:   {Value: model.Num(9_200_000_000), Unit: model.UnitYuan},
		model.FieldPS:        {Value: model.Num(0.10)},
		model.FieldIndustry:  {Value: model.Text("白酒")},
	})

	std, issues := Standardize(raw)

	vol, ok := std.Number(model.FieldVolume)
	require.True(t, ok)
	assert.Equal(t, 999900.0, vol)

	mc, _ := std.Number(model.FieldMarketCap)
	rev, _ := std.Number(model.FieldRevenue)
	assert.InDelta(t, 2639, mc, 1e-9)
	assert.InDelta(t, 92, rev, 1e-9)

	ps, ok := std.Number(model.FieldPS)
	require.True(t, ok)
	assert.InDelta(t, 28.68, ps, 0.01)
	assert.True(t, model.HasBlocking(issues))

	var psCorrection *model.Correction
	for i := range std.Corrections {
		if std.Corrections[i].Field == model.FieldPS {
			psCorrection = &std.Corrections[i]
		}
	}
	require.NotNil(t, psCorrection)
	require.NotNil(t, psCorrection.Original)
	assert.Equal(t, 0.10, psCorrection.Original.Num)
	assert.NotEmpty(t, psCorrection.Reason)

	industry, ok := std.Get(model.FieldIndustry)
	require.True(t, ok)
	assert.Equal(t, "白酒", industry.Text)
}

func TestStandardize_LotsAndBollinger(t *testing.T) {
	raw := model.NewRawMetricSet("000001", model.CategoryTechnical, time.Now(), "p1", map[string]model.Field{
		model.FieldVolume:       {Value: model.Num(9999), Unit: model.UnitLots},
		model.FieldPrice:        {Value: model.Num(31.18)},
		model.FieldBollUpper:    {Value: model.Num(30.98)},
		model.FieldBollMiddle:   {Value: model.Num(29.74)},
		model.FieldBollLower:    {Value: model.Num(28.50)},
		model.FieldBollPosition: {Value: model.Num(50)},
	})

	std, issues := Standardize(raw)

	vol, _ := std.Number(model.FieldVolume)
	assert.Equal(t, 999900.0, vol)
	assert.Equal(t, model.UnitShares, std.Units[model.FieldVolume])

	pos, _ := std.Number(model.FieldBollPosition)
	assert.InDelta(t, 108.06, pos, 0.01)
	require.Len(t, issues, 1)
	assert.Equal(t, model.FieldBollPosition, issues[0].Field)

	again, againIssues := Standardize(model.NewRawMetricSet("000001", model.CategoryTechnical, time.Now(), "p1",
		map[string]model.Field{model.FieldVolume: {Value: model.Num(vol), Unit: model.UnitShares}}))
	v2, _ := again.Number(model.FieldVolume)
	assert.Equal(t, vol, v2)
	assert.Empty(t, againIssues)
}

func TestStandardize_RejectsUnknownVolumeUnit(t *testing.T) {
	raw := model.NewRawMetricSet("000001", model.CategoryVolume, time.Now(), "p1", map[string]model.Field{
		model.FieldVolume: {Value: model.Num(10), Unit: model.UnitYuan},
	})
	std, issues := Standardize(raw)
	_, ok := std.Get(model.FieldVolume)
	assert.False(t, ok)
	require.Len(t, issues, 1)
	assert.Equal(t, model.SeverityError, issues[0].Severity)
}
