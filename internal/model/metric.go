package model

import (
	"sort"
	"time"
)

// Canonical metric names shared by providers, the standardizer and validators.
const (
	FieldPrice     = "price"
	FieldOpen      = "open"
	FieldHigh      = "high"
	FieldLow       = "low"
	FieldPrevClose = "prev_close"
	FieldChangePct = "change_pct"

	FieldVolume      = "volume"
	FieldAmount      = "amount"
	FieldTurnover    = "turnover_rate"
	FieldFloatShares = "float_shares"
	FieldTotalShares = "total_shares"

	FieldMarketCap     = "market_cap"
	FieldCircMarketCap = "circ_market_cap"
	FieldRevenue       = "revenue"
	FieldNetProfit     = "net_profit"
	FieldPE            = "pe"
	FieldPB            = "pb"
	FieldPS            = "ps"
	FieldROE           = "roe"
	FieldROA           = "roa"
	FieldGrossMargin   = "gross_margin"
	FieldNetMargin     = "net_margin"
	FieldDebtRatio     = "debt_ratio"

	FieldRSI          = "rsi"
	FieldBollUpper    = "boll_upper"
	FieldBollMiddle   = "boll_middle"
	FieldBollLower    = "boll_lower"
	FieldBollPosition = "boll_position"
	FieldMA5          = "ma5"
	FieldMA20         = "ma20"
	FieldIndustry     = "industry"
	FieldCompanyName  = "name"
)

// VolumeFields are share counts and are always stored in shares.
var VolumeFields = map[string]bool{
	FieldVolume:      true,
	FieldFloatShares: true,
	FieldTotalShares: true,
}

// MoneyFields are currency amounts and are always stored in hundred-million CNY.
var MoneyFields = map[string]bool{
	FieldAmount:        true,
	FieldMarketCap:     true,
	FieldCircMarketCap: true,
	FieldRevenue:       true,
	FieldNetProfit:     true,
}

// Field is one raw value with the unit the provider declared for it.
type Field struct {
	Value Value
	Unit  Unit
}

// RawMetricSet is a provider payload as received. Fields are private so the set
// cannot be modified after construction.
type RawMetricSet struct {
	Symbol     string
	Category   Category
	AsOf       time.Time
	Provider   string
	ReceivedAt time.Time

	fields map[string]Field
}

// NewRawMetricSet copies fields into a new immutable set.
func NewRawMetricSet(symbol string, category Category, asOf time.Time, provider string, fields map[string]Field) RawMetricSet {
	cp := make(map[string]Field, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return RawMetricSet{
		Symbol:     symbol,
		Category:   category,
		AsOf:       asOf,
		Provider:   provider,
		ReceivedAt: time.Now(),
		fields:     cp,
	}
}

// Field returns a single raw field.
func (r RawMetricSet) Field(name string) (Field, bool) {
	f, ok := r.fields[name]
	return f, ok
}

// Names returns field names in sorted order.
func (r RawMetricSet) Names() []string {
	return sortedKeys(r.fields)
}

// Len returns the number of fields.
func (r RawMetricSet) Len() int { return len(r.fields) }

// Correction records a value the standardizer replaced, keeping the original.
type Correction struct {
	Field     string  `json:"field"`
	Original  *Value  `json:"original,omitempty"`
	Corrected float64 `json:"corrected"`
	Reason    string  `json:"reason"`
}

// StandardizedMetricSet holds values in canonical units plus derived fields.
type StandardizedMetricSet struct {
	Symbol      string           `json:"symbol"`
	Category    Category         `json:"category"`
	AsOf        time.Time        `json:"as_of"`
	Provider    string           `json:"provider"`
	Values      map[string]Value `json:"values"`
	Units       map[string]Unit  `json:"units,omitempty"`
	Corrections []Correction     `json:"corrections,omitempty"`
}

// NewStandardizedMetricSet creates an empty set for the given identity.
func NewStandardizedMetricSet(symbol string, category Category, asOf time.Time, provider string) StandardizedMetricSet {
	return StandardizedMetricSet{
		Symbol:   symbol,
		Category: category,
		AsOf:     asOf,
		Provider: provider,
		Values:   make(map[string]Value),
		Units:    make(map[string]Unit),
	}
}

// Get returns a value by name.
func (s StandardizedMetricSet) Get(name string) (Value, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Number returns a numeric value by name.
func (s StandardizedMetricSet) Number(name string) (float64, bool) {
	v, ok := s.Values[name]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Set stores a value and its canonical unit.
func (s *StandardizedMetricSet) Set(name string, v Value, unit Unit) {
	if s.Values == nil {
		s.Values = make(map[string]Value)
	}
	if s.Units == nil {
		s.Units = make(map[string]Unit)
	}
	s.Values[name] = v
	if unit != UnitNone {
		s.Units[name] = unit
	} else {
		delete(s.Units, name)
	}
}

// Names returns value names in sorted order.
func (s StandardizedMetricSet) Names() []string {
	return sortedKeys(s.Values)
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s StandardizedMetricSet) Clone() StandardizedMetricSet {
	out := s
	out.Values = make(map[string]Value, len(s.Values))
	for k, v := range s.Values {
		out.Values[k] = v
	}
	out.Units = make(map[string]Unit, len(s.Units))
	for k, v := range s.Units {
		out.Units[k] = v
	}
	if s.Corrections != nil {
		out.Corrections = make([]Correction, len(s.Corrections))
		copy(out.Corrections, s.Corrections)
		for i, c := range out.Corrections {
			if c.Original != nil {
				orig := *c.Original
				out.Corrections[i].Original = &orig
			}
		}
	}
	return out
}

// Map flattens the set into a plain name -> value map for consumers that render
// results themselves.
func (s StandardizedMetricSet) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Values))
	for k, v := range s.Values {
		if v.Kind == KindText {
			out[k] = v.Text
			continue
		}
		out[k] = v.Num
	}
	return out
}

// NumericMap is a plain lookup table, mostly useful for calculations over a
// handful of known values.
type NumericMap map[string]float64

// Number implements the same lookup as StandardizedMetricSet.Number.
func (m NumericMap) Number(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var fieldCategories = map[string]Category{
	FieldPrice:     CategoryQuote,
	FieldOpen:      CategoryQuote,
	FieldHigh:      CategoryQuote,
	FieldLow:       CategoryQuote,
	FieldPrevClose: CategoryQuote,
	FieldChangePct: CategoryQuote,

	FieldVolume:   CategoryVolume,
	FieldAmount:   CategoryVolume,
	FieldTurnover: CategoryValuation,

	FieldFloatShares:   CategoryValuation,
	FieldTotalShares:   CategoryValuation,
	FieldMarketCap:     CategoryValuation,
	FieldCircMarketCap: CategoryValuation,
	FieldPE:            CategoryValuation,
	FieldPB:            CategoryValuation,
	FieldPS:            CategoryValuation,

	FieldRevenue:     CategoryFinancial,
	FieldNetProfit:   CategoryFinancial,
	FieldROE:         CategoryFinancial,
	FieldROA:         CategoryFinancial,
	FieldGrossMargin: CategoryFinancial,
	FieldNetMargin:   CategoryFinancial,
	FieldDebtRatio:   CategoryFinancial,

	FieldRSI:          CategoryTechnical,
	FieldBollUpper:    CategoryTechnical,
	FieldBollMiddle:   CategoryTechnical,
	FieldBollLower:    CategoryTechnical,
	FieldBollPosition: CategoryTechnical,
	FieldMA5:          CategoryTechnical,
	FieldMA20:         CategoryTechnical,
}

// CategoryOf returns the category a canonical field is usually fetched with.
func CategoryOf(field string) (Category, bool) {
	c, ok := fieldCategories[field]
	return c, ok
}
