// Package render formats resolved results for the report layer.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/yourorg/marketdata-hub/internal/coordinator"
	"github.com/yourorg/marketdata-hub/internal/model"
)

// TextBlock formats a result as a plain text block: a header line, the values
// sorted by name, then corrections and issues.
func TextBlock(r coordinator.Result) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s | %s\n", r.Symbol, r.Category, r.AsOf))

	if r.Unavailable {
		b.WriteString(fmt.Sprintf("状态: 不可用 (%s)\n", r.Reason))
		return b.String()
	}

	source := r.Provider
	switch {
	case r.Stale:
		source += ", 过期缓存"
	case r.FromCache:
		source += ", 缓存"
	}
	b.WriteString(fmt.Sprintf("质量: %s (%.0f分, 置信度 %.2f) | 来源: %s\n", r.Grade, r.QualityScore, r.Confidence, source))
	if r.Stale && r.Reason != "" {
		b.WriteString(fmt.Sprintf("原因: %s\n", r.Reason))
	}

	b.WriteString("\n")
	for _, name := range r.Data.Names() {
		v := r.Data.Values[name]
		b.WriteString(fmt.Sprintf("  %s: %s%s\n", name, formatValue(v), unitSuffix(r.Data.Units[name])))
	}

	if len(r.Data.Corrections) > 0 {
		b.WriteString("\n修正:\n")
		for _, c := range r.Data.Corrections {
			orig := "-"
			if c.Original != nil {
				orig = formatValue(*c.Original)
			}
			b.WriteString(fmt.Sprintf("  %s: %s -> %s (%s)\n", c.Field, orig, formatValue(model.Num(c.Corrected)), c.Reason))
		}
	}

	if len(r.Issues) > 0 {
		b.WriteString("\n问题:\n")
		for _, i := range r.Issues {
			b.WriteString("  " + i.String() + "\n")
		}
	}
	return b.String()
}

func formatValue(v model.Value) string {
	if f, ok := v.Float(); ok {
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return fmt.Sprintf("%.0f", f)
		}
		return fmt.Sprintf("%.4g", f)
	}
	return v.String()
}

func unitSuffix(u model.Unit) string {
	switch u {
	case model.UnitYi:
		return " 亿元"
	case model.UnitShares:
		return " 股"
	case model.UnitPercent:
		return "%"
	case model.UnitNone:
		return ""
	default:
		return " " + string(u)
	}
}
