package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// TushareClient implements a client for the Tushare Pro HTTP API
type TushareClient struct {
	id         string
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
}

// NewTushareClient creates a new Tushare API client
func NewTushareClient(id, baseURL, token string, timeout time.Duration) *TushareClient {
	if baseURL == "" {
		baseURL = "https://api.tushare.pro"
	}
	return &TushareClient{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: newRetryClient(timeout),
	}
}

// ID implements Provider.
func (c *TushareClient) ID() string { return c.id }

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// tushareColumn maps one upstream column to a canonical field. Scale is applied
// before the unit is attached.
type tushareColumn struct {
	field string
	unit  model.Unit
	scale float64
}

type tushareAPI struct {
	name      string
	dateParam string
	columns   map[string]tushareColumn
}

// Tushare reports vol in lots, amount in thousand yuan, share counts in ten
// thousand shares and market values in wan.
var tushareAPIs = map[model.Category]tushareAPI{
	model.CategoryQuote: {
		name:      "daily",
		dateParam: "trade_date",
		columns: map[string]tushareColumn{
			"open":      {field: model.FieldOpen},
			"high":      {field: model.FieldHigh},
			"low":       {field: model.FieldLow},
			"close":     {field: model.FieldPrice},
			"pre_close": {field: model.FieldPrevClose},
			"pct_chg":   {field: model.FieldChangePct, unit: model.UnitPercent},
			"vol":       {field: model.FieldVolume, unit: model.UnitLots},
			"amount":    {field: model.FieldAmount, unit: model.UnitYuan, scale: 1000},
		},
	},
	model.CategoryVolume: {
		name:      "daily",
		dateParam: "trade_date",
		columns: map[string]tushareColumn{
			"vol":    {field: model.FieldVolume, unit: model.UnitLots},
			"amount": {field: model.FieldAmount, unit: model.UnitYuan, scale: 1000},
		},
	},
	model.CategoryValuation: {
		name:      "daily_basic",
		dateParam: "trade_date",
		columns: map[string]tushareColumn{
			"close":         {field: model.FieldPrice},
			"turnover_rate": {field: model.FieldTurnover, unit: model.UnitPercent},
			"pe_ttm":        {field: model.FieldPE},
			"pb":            {field: model.FieldPB},
			"ps_ttm":        {field: model.FieldPS},
			"total_share":   {field: model.FieldTotalShares, unit: model.UnitShares, scale: 1e4},
			"float_share":   {field: model.FieldFloatShares, unit: model.UnitShares, scale: 1e4},
			"total_mv":      {field: model.FieldMarketCap, unit: model.UnitWan},
			"circ_mv":       {field: model.FieldCircMarketCap, unit: model.UnitWan},
		},
	},
	model.CategoryFinancial: {
		name:      "fina_indicator",
		dateParam: "end_date",
		columns: map[string]tushareColumn{
			"roe":                {field: model.FieldROE, unit: model.UnitPercent},
			"roa":                {field: model.FieldROA, unit: model.UnitPercent},
			"grossprofit_margin": {field: model.FieldGrossMargin, unit: model.UnitPercent},
			"netprofit_margin":   {field: model.FieldNetMargin, unit: model.UnitPercent},
			"debt_to_assets":     {field: model.FieldDebtRatio, unit: model.UnitPercent},
		},
	},
	model.CategoryTechnical: {
		name:      "stk_factor",
		dateParam: "trade_date",
		columns: map[string]tushareColumn{
			"close":      {field: model.FieldPrice},
			"rsi_12":     {field: model.FieldRSI},
			"boll_upper": {field: model.FieldBollUpper},
			"boll_mid":   {field: model.FieldBollMiddle},
			"boll_lower": {field: model.FieldBollLower},
		},
	},
}

// Fetch retrieves one category for a symbol from Tushare.
func (c *TushareClient) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	api, ok := tushareAPIs[category]
	if !ok {
		return model.RawMetricSet{}, fmt.Errorf("tushare %s: %w", category, ErrUnsupportedCategory)
	}

	cols := make([]string, 0, len(api.columns))
	for name := range api.columns {
		cols = append(cols, name)
	}
	sort.Strings(cols)
	body := tushareRequest{
		APIName: api.name,
		Token:   c.token,
		Params: map[string]string{
			"ts_code":     TSCode(symbol),
			api.dateParam: asOf.Format("20060102"),
		},
		Fields: strings.Join(cols, ","),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return model.RawMetricSet{}, fmt.Errorf("error encoding request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", c.baseURL, payload)
	if err != nil {
		return model.RawMetricSet{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.WithFields(logrus.Fields{"provider": c.id, "api": api.name, "symbol": symbol}).Debug("Fetching from Tushare")

	var resp tushareResponse
	if err := doJSON(ctx, c.httpClient, c.id, req, &resp); err != nil {
		return model.RawMetricSet{}, err
	}
	if resp.Code != 0 {
		return model.RawMetricSet{}, fmt.Errorf("tushare %s: code %d: %s", api.name, resp.Code, resp.Msg)
	}
	if len(resp.Data.Items) == 0 {
		return model.RawMetricSet{}, fmt.Errorf("tushare %s %s: %w", api.name, symbol, ErrNotFound)
	}

	return model.NewRawMetricSet(symbol, category, asOf, c.id, mapTushareRow(api, resp.Data.Fields, resp.Data.Items[0])), nil
}

func mapTushareRow(api tushareAPI, names []string, row []interface{}) map[string]model.Field {
	fields := make(map[string]model.Field, len(api.columns))
	for i, name := range names {
		col, ok := api.columns[name]
		if !ok || i >= len(row) {
			continue
		}
		n, ok := row[i].(float64)
		if !ok {
			continue
		}
		if col.scale != 0 {
			n *= col.scale
		}
		fields[col.field] = model.Field{Value: model.Num(n), Unit: col.unit}
	}
	return fields
}

// TSCode converts a bare six-digit code into Tushare's exchange-suffixed form.
func TSCode(symbol string) string {
	if strings.Contains(symbol, ".") || len(symbol) != 6 {
		return strings.ToUpper(symbol)
	}
	switch symbol[0] {
	case '6', '9':
		return symbol + ".SH"
	case '4', '8':
		return symbol + ".BJ"
	default:
		return symbol + ".SZ"
	}
}
