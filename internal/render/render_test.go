package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/marketdata-hub/internal/coordinator"
	"github.com/yourorg/marketdata-hub/internal/model"
)

func TestTextBlock(t *testing.T) {
	data := model.NewStandardizedMetricSet("600519", model.CategoryValuation, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), "tushare")
	data.Set(model.FieldPS, model.Num(2.8686), model.UnitNone)
	data.Set(model.FieldMarketCap, model.Num(263.9), model.UnitYi)
	data.Set(model.FieldIndustry, model.Text("白酒"), model.UnitNone)
	orig := model.Num(0.1)
	data.Corrections = []model.Correction{{Field: model.FieldPS, Original: &orig, Corrected: 2.8686, Reason: "recomputed from market_cap / revenue"}}

	out := TextBlock(coordinator.Result{
		Symbol:       "600519",
		AsOf:         "2026-03-02",
		Category:     model.CategoryValuation,
		Data:         data,
		Grade:        model.GradeB,
		QualityScore: 70,
		Confidence:   0.85,
		Provider:     "tushare",
		Issues: []model.ValidationIssue{
			{Severity: model.SeverityError, Field: model.FieldPS, Message: "ps disagrees with market_cap / revenue"},
		},
	})

	assert.True(t, strings.HasPrefix(out, "600519 valuation | 2026-03-02\n"))
	assert.Contains(t, out, "质量: B (70分, 置信度 0.85) | 来源: tushare")
	assert.Contains(t, out, "  market_cap: 263.9 亿元\n")
	assert.Contains(t, out, "  industry: 白酒\n")
	assert.Contains(t, out, "  ps: 0.1 -> 2.869 (recomputed from market_cap / revenue)")
	assert.Contains(t, out, "[error] ps: ps disagrees")
	assert.NotContains(t, out, "原因:")

	// values are listed by name
	assert.Less(t, strings.Index(out, "industry:"), strings.Index(out, "market_cap:"))
	assert.Less(t, strings.Index(out, "market_cap:"), strings.Index(out, "  ps: 2.869"))
}

func TestTextBlock_StaleAndUnavailable(t *testing.T) {
	stale := TextBlock(coordinator.Result{
		Symbol: "000001", AsOf: "2026-03-02", Category: model.CategoryQuote,
		Data:  model.NewStandardizedMetricSet("000001", model.CategoryQuote, time.Time{}, "aktools"),
		Grade: model.GradeC, Provider: "aktools", FromCache: true, Stale: true,
		Reason: "all providers failed",
	})
	assert.Contains(t, stale, "来源: aktools, 过期缓存")
	assert.Contains(t, stale, "原因: all providers failed")

	gone := TextBlock(coordinator.Result{
		Symbol: "000001", AsOf: "2026-03-02", Category: model.CategoryQuote,
		Unavailable: true, Reason: "fetching disabled",
	})
	assert.Equal(t, "000001 quote | 2026-03-02\n状态: 不可用 (fetching disabled)\n", gone)
}
