package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// AKToolsClient implements a client for an AKTools HTTP gateway
// (GET /api/public/<akshare function>).
type AKToolsClient struct {
	id         string
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewAKToolsClient creates a new AKTools client
func NewAKToolsClient(id, baseURL string, timeout time.Duration) *AKToolsClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	return &AKToolsClient{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newRetryClient(timeout),
	}
}

// ID implements Provider.
func (c *AKToolsClient) ID() string { return c.id }

// flexFloat decodes numbers that AKShare emits either as JSON numbers or as
// strings, with "--" or "" for missing.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if s == "" || s == "--" || s == "-" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f.v, f.ok = v, true
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	f.v, f.ok = v, true
	return nil
}

// akHistRow is one row of stock_zh_a_hist. 成交量 is in lots, 成交额 in yuan.
type akHistRow struct {
	Date      string    `json:"日期"`
	Open      flexFloat `json:"开盘"`
	Close     flexFloat `json:"收盘"`
	High      flexFloat `json:"最高"`
	Low       flexFloat `json:"最低"`
	Volume    flexFloat `json:"成交量"`
	Amount    flexFloat `json:"成交额"`
	ChangePct flexFloat `json:"涨跌幅"`
	Turnover  flexFloat `json:"换手率"`
}

// akInfoRow is one item/value pair of stock_individual_info_em.
type akInfoRow struct {
	Item  string          `json:"item"`
	Value json.RawMessage `json:"value"`
}

// akIndicatorRow is one reporting period of stock_financial_analysis_indicator.
type akIndicatorRow struct {
	Date        string    `json:"日期"`
	ROE         flexFloat `json:"净资产收益率(%)"`
	ROA         flexFloat `json:"总资产净利润率(%)"`
	GrossMargin flexFloat `json:"销售毛利率(%)"`
	NetMargin   flexFloat `json:"销售净利率(%)"`
	DebtRatio   flexFloat `json:"资产负债率(%)"`
}

// Fetch retrieves one category for a symbol from AKTools.
func (c *AKToolsClient) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	var (
		fields map[string]model.Field
		err    error
	)
	switch category {
	case model.CategoryQuote, model.CategoryVolume:
		fields, err = c.fetchHist(ctx, symbol, asOf)
	case model.CategoryValuation:
		fields, err = c.fetchInfo(ctx, symbol)
	case model.CategoryFinancial:
		fields, err = c.fetchIndicator(ctx, symbol, asOf)
	default:
		return model.RawMetricSet{}, fmt.Errorf("aktools %s: %w", category, ErrUnsupportedCategory)
	}
	if err != nil {
		return model.RawMetricSet{}, err
	}
	return model.NewRawMetricSet(symbol, category, asOf, c.id, fields), nil
}

func (c *AKToolsClient) get(ctx context.Context, function string, params url.Values, out interface{}) error {
	u := c.baseURL + "/api/public/" + function + "?" + params.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	logrus.WithFields(logrus.Fields{"provider": c.id, "function": function}).Debug("Fetching from AKTools")
	return doJSON(ctx, c.httpClient, c.id, req, out)
}

func (c *AKToolsClient) fetchHist(ctx context.Context, symbol string, asOf time.Time) (map[string]model.Field, error) {
	day := asOf.Format("20060102")
	var rows []akHistRow
	err := c.get(ctx, "stock_zh_a_hist", url.Values{
		"symbol":     {symbol},
		"period":     {"daily"},
		"start_date": {day},
		"end_date":   {day},
		"adjust":     {""},
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("aktools stock_zh_a_hist %s: %w", symbol, ErrNotFound)
	}
	r := rows[len(rows)-1]

	fields := make(map[string]model.Field)
	put(fields, model.FieldOpen, r.Open, model.UnitNone)
	put(fields, model.FieldPrice, r.Close, model.UnitNone)
	put(fields, model.FieldHigh, r.High, model.UnitNone)
	put(fields, model.FieldLow, r.Low, model.UnitNone)
	put(fields, model.FieldVolume, r.Volume, model.UnitLots)
	put(fields, model.FieldAmount, r.Amount, model.UnitYuan)
	put(fields, model.FieldChangePct, r.ChangePct, model.UnitPercent)
	put(fields, model.FieldTurnover, r.Turnover, model.UnitPercent)
	return fields, nil
}

var akInfoItems = map[string]struct {
	field string
	unit  model.Unit
}{
	"总市值":  {model.FieldMarketCap, model.UnitYuan},
	"流通市值": {model.FieldCircMarketCap, model.UnitYuan},
	"总股本":  {model.FieldTotalShares, model.UnitShares},
	"流通股":  {model.FieldFloatShares, model.UnitShares},
	"最新":   {model.FieldPrice, model.UnitNone},
	"行业":   {model.FieldIndustry, model.UnitNone},
	"股票简称": {model.FieldCompanyName, model.UnitNone},
}

func (c *AKToolsClient) fetchInfo(ctx context.Context, symbol string) (map[string]model.Field, error) {
	var rows []akInfoRow
	if err := c.get(ctx, "stock_individual_info_em", url.Values{"symbol": {symbol}}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("aktools stock_individual_info_em %s: %w", symbol, ErrNotFound)
	}

	fields := make(map[string]model.Field)
	for _, r := range rows {
		m, ok := akInfoItems[r.Item]
		if !ok {
			continue
		}
		var f flexFloat
		if err := json.Unmarshal(r.Value, &f); err == nil && f.ok {
			fields[m.field] = model.Field{Value: model.Num(f.v), Unit: m.unit}
			continue
		}
		var s string
		if err := json.Unmarshal(r.Value, &s); err == nil && s != "" {
			fields[m.field] = model.Field{Value: model.Text(s)}
		}
	}
	return fields, nil
}

func (c *AKToolsClient) fetchIndicator(ctx context.Context, symbol string, asOf time.Time) (map[string]model.Field, error) {
	var rows []akIndicatorRow
	err := c.get(ctx, "stock_financial_analysis_indicator", url.Values{
		"symbol":     {symbol},
		"start_year": {strconv.Itoa(asOf.Year() - 1)},
	}, &rows)
	if err != nil {
		return nil, err
	}

	cutoff := asOf.Format("2006-01-02")
	var latest *akIndicatorRow
	for i := range rows {
		d := rows[i].Date
		if d == "" || d > cutoff {
			continue
		}
		if latest == nil || d > latest.Date {
			latest = &rows[i]
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("aktools stock_financial_analysis_indicator %s: %w", symbol, ErrNotFound)
	}

	fields := make(map[string]model.Field)
	put(fields, model.FieldROE, latest.ROE, model.UnitPercent)
	put(fields, model.FieldROA, latest.ROA, model.UnitPercent)
	put(fields, model.FieldGrossMargin, latest.GrossMargin, model.UnitPercent)
	put(fields, model.FieldNetMargin, latest.NetMargin, model.UnitPercent)
	put(fields, model.FieldDebtRatio, latest.DebtRatio, model.UnitPercent)
	return fields, nil
}

func put(fields map[string]model.Field, name string, f flexFloat, unit model.Unit) {
	if f.ok {
		fields[name] = model.Field{Value: model.Num(f.v), Unit: unit}
	}
}
