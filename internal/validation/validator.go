package validation

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/standardize"
)

// Domain names used in ValidationResult.Domain.
const (
	DomainPrice        = "price"
	DomainVolume       = "volume"
	DomainFundamentals = "fundamentals"
	DomainHistory      = "volume_history"
	DomainCrossSource  = "cross_source"
)

const source = "validator"

// Validator runs range and cross-field checks. It never returns an error for bad
// data; every finding becomes an issue on the result.
type Validator struct {
	opts ValidationOptions
}

// New creates a Validator.
func New(opts ValidationOptions) *Validator {
	if opts.Ranges == nil {
		opts.Ranges = DefaultValidationOptions().Ranges
	}
	return &Validator{opts: opts}
}

// Options returns the validator's configuration.
func (v *Validator) Options() ValidationOptions { return v.opts }

// ValidateSet runs the domain validators that apply to the set's category and
// returns one finalized result per domain.
func (v *Validator) ValidateSet(std model.StandardizedMetricSet) []model.ValidationResult {
	var results []*model.ValidationResult
	switch std.Category {
	case model.CategoryQuote:
		results = append(results, v.ValidatePrice(std), v.ValidateVolume(std))
	case model.CategoryTechnical:
		results = append(results, v.ValidatePrice(std))
	case model.CategoryVolume:
		results = append(results, v.ValidateVolume(std))
	case model.CategoryFinancial, model.CategoryValuation:
		results = append(results, v.ValidateFundamentals(std))
	}

	out := make([]model.ValidationResult, 0, len(results))
	for _, r := range results {
		out = append(out, *r)
	}

	logrus.WithFields(logrus.Fields{
		"symbol":   std.Symbol,
		"category": std.Category,
		"domains":  len(out),
	}).Debug("Validated metric set")
	return out
}

// ValidatePrice checks quotes and technical indicators.
func (v *Validator) ValidatePrice(std model.StandardizedMetricSet) *model.ValidationResult {
	r := model.NewValidationResult(DomainPrice)

	price, hasPrice := std.Number(model.FieldPrice)
	if !hasPrice && std.Category == model.CategoryQuote {
		r.Addf(model.SeverityCritical, model.FieldPrice, source, "no price in quote")
	}
	for _, f := range []string{model.FieldPrice, model.FieldOpen, model.FieldHigh, model.FieldLow, model.FieldPrevClose} {
		if p, ok := std.Number(f); ok && p <= 0 {
			r.Add(issue(model.SeverityError, f, "price must be positive", nil, &p))
		}
	}

	high, okH := std.Number(model.FieldHigh)
	low, okL := std.Number(model.FieldLow)
	if okH && okL {
		if high < low {
			r.Add(issue(model.SeverityError, model.FieldHigh, "high is below low", &low, &high))
		} else if hasPrice && (price > high || price < low) {
			r.Add(issue(model.SeverityError, model.FieldPrice, "price is outside the day's range", nil, &price))
		}
	}

	if chg, ok := std.Number(model.FieldChangePct); ok && math.Abs(chg) > v.opts.MaxDailyChangePct {
		r.Add(issue(model.SeverityWarning, model.FieldChangePct, "daily change exceeds the widest price limit", nil, &chg))
	}

	if rsi, ok := std.Number(model.FieldRSI); ok {
		switch {
		case !v.opts.Ranges[model.FieldRSI].Contains(rsi):
			r.Add(rangeIssue(model.FieldRSI, rsi, v.opts.Ranges[model.FieldRSI]))
		case rsi > v.opts.RSIOverbought:
			r.Add(issue(model.SeverityInfo, model.FieldRSI, "overbought", nil, &rsi))
		case rsi < v.opts.RSIOversold:
			r.Add(issue(model.SeverityInfo, model.FieldRSI, "oversold", nil, &rsi))
		}
	}

	v.checkBand(std, r)

	r.Finalize()
	return r
}

func (v *Validator) checkBand(std model.StandardizedMetricSet, r *model.ValidationResult) {
	upper, okU := std.Number(model.FieldBollUpper)
	lower, okL := std.Number(model.FieldBollLower)
	if !okU || !okL {
		return
	}
	if !(upper > lower && lower > 0) {
		r.Add(issue(model.SeverityError, model.FieldBollUpper, "band must satisfy upper > lower > 0", &lower, &upper))
		return
	}
	if mid, ok := std.Number(model.FieldBollMiddle); ok && (mid < lower || mid > upper) {
		r.Add(issue(model.SeverityError, model.FieldBollMiddle, "middle band lies outside upper and lower", nil, &mid))
	}
}

// ValidateVolume checks share counts, turnover and traded amount.
func (v *Validator) ValidateVolume(std model.StandardizedMetricSet) *model.ValidationResult {
	r := model.NewValidationResult(DomainVolume)

	vol, hasVol := std.Number(model.FieldVolume)
	if !hasVol && std.Category == model.CategoryVolume {
		r.Addf(model.SeverityCritical, model.FieldVolume, source, "no volume reported")
	}
	for _, f := range []string{model.FieldVolume, model.FieldAmount, model.FieldFloatShares, model.FieldTotalShares} {
		if n, ok := std.Number(f); ok && n < 0 {
			r.Add(issue(model.SeverityError, f, "must not be negative", nil, &n))
		}
	}

	floatShares, okFloat := std.Number(model.FieldFloatShares)
	if total, ok := std.Number(model.FieldTotalShares); ok && okFloat && floatShares > total {
		r.Add(issue(model.SeverityWarning, model.FieldFloatShares, "float shares exceed total shares", &total, &floatShares))
	}

	turnover, okT := std.Number(model.FieldTurnover)
	if okT {
		if b := v.opts.Ranges[model.FieldTurnover]; !b.Contains(turnover) {
			r.Add(rangeIssue(model.FieldTurnover, turnover, b))
		} else if hasVol && okFloat && floatShares > 0 {
			expected := vol / floatShares * 100
			if !withinRelative(turnover, expected, v.opts.TurnoverTolerance) {
				r.Add(issue(model.SeverityWarning, model.FieldTurnover,
					"turnover disagrees with volume / float shares", &expected, &turnover))
			}
		}
	}

	r.Finalize()
	return r
}

// ValidateFundamentals checks valuation ratios and financial indicators.
func (v *Validator) ValidateFundamentals(std model.StandardizedMetricSet) *model.ValidationResult {
	r := model.NewValidationResult(DomainFundamentals)

	for _, f := range []string{
		model.FieldPE, model.FieldPB, model.FieldPS, model.FieldROE, model.FieldROA,
		model.FieldGrossMargin, model.FieldNetMargin, model.FieldDebtRatio,
	} {
		n, ok := std.Number(f)
		if !ok {
			continue
		}
		if b, ok := v.opts.Ranges[f]; ok && !b.Contains(n) {
			r.Add(rangeIssue(f, n, b))
		}
	}

	if pe, ok := std.Number(model.FieldPE); ok && pe < 0 && v.opts.Ranges[model.FieldPE].Contains(pe) {
		r.Add(issue(model.SeverityInfo, model.FieldPE, "negative earnings", nil, &pe))
	}
	if pb, ok := std.Number(model.FieldPB); ok && pb >= 0 && pb < 1 {
		r.Add(issue(model.SeverityInfo, model.FieldPB, "trading below book value", nil, &pb))
	}
	if debt, ok := std.Number(model.FieldDebtRatio); ok && debt > v.opts.HighDebtRatio && debt <= 100 {
		r.Add(issue(model.SeverityWarning, model.FieldDebtRatio, "high leverage", nil, &debt))
	}

	gross, okG := std.Number(model.FieldGrossMargin)
	net, okN := std.Number(model.FieldNetMargin)
	if okG && okN && gross < net {
		r.Add(issue(model.SeverityError, model.FieldNetMargin, "net margin exceeds gross margin", &gross, &net))
	}

	roe, okE := std.Number(model.FieldROE)
	roa, okA := std.Number(model.FieldROA)
	if okE && okA && roa > 0 && roe < roa {
		r.Add(issue(model.SeverityWarning, model.FieldROE, "ROE below ROA implies negative leverage", &roa, &roe))
	}

	mc, okMC := std.Number(model.FieldMarketCap)
	shares, okS := std.Number(model.FieldTotalShares)
	price, okP := std.Number(model.FieldPrice)
	if okMC && okS && okP && shares > 0 && price > 0 {
		expected := shares * price / 1e8
		if !withinRelative(mc, expected, v.opts.MarketCapTolerance) {
			r.Add(issue(model.SeverityError, model.FieldMarketCap,
				"market cap disagrees with total shares * price, check units", &expected, &mc))
		}
	}

	for _, i := range standardize.ValidateAndCorrectPriceToSales(std).Issues {
		if i.Severity >= model.SeverityError {
			i.Source = source
			r.Add(i)
		}
	}

	r.Finalize()
	return r
}

func withinRelative(actual, expected, tol float64) bool {
	if expected == 0 {
		return actual == 0
	}
	return math.Abs(actual-expected)/math.Abs(expected) <= tol
}

func issue(sev model.Severity, field, msg string, expected, actual *float64) model.ValidationIssue {
	return model.ValidationIssue{
		Severity: sev,
		Field:    field,
		Message:  msg,
		Expected: copyFloat(expected),
		Actual:   copyFloat(actual),
		Source:   source,
	}
}

func rangeIssue(field string, v float64, b Bounds) model.ValidationIssue {
	return model.ValidationIssue{
		Severity: model.SeverityError,
		Field:    field,
		Message:  "value out of range [" + formatFloat(b.Min) + ", " + formatFloat(b.Max) + "]",
		Actual:   model.Float(v),
		Source:   source,
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	return model.Float(*f)
}

func formatFloat(f float64) string {
	return model.Num(f).String()
}
