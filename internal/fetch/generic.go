package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// GenericClient talks to any upstream exposing
// GET <base>/<category>/<symbol>?as_of=YYYY-MM-DD with self-describing units.
type GenericClient struct {
	id         string
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
}

// NewGenericClient creates a new GenericClient
func NewGenericClient(id, baseURL, token string, timeout time.Duration) *GenericClient {
	return &GenericClient{
		id:         id,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: newRetryClient(timeout),
	}
}

// ID implements Provider.
func (c *GenericClient) ID() string { return c.id }

type genericMetric struct {
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit"`
}

type genericResponse struct {
	Symbol  string                   `json:"symbol"`
	AsOf    string                   `json:"as_of"`
	Metrics map[string]genericMetric `json:"metrics"`
}

// Fetch retrieves one category for a symbol.
func (c *GenericClient) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	u := fmt.Sprintf("%s/%s/%s?as_of=%s", c.baseURL, url.PathEscape(category.String()), url.PathEscape(symbol), asOf.Format("2006-01-02"))
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return model.RawMetricSet{}, fmt.Errorf("error creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logrus.WithFields(logrus.Fields{"provider": c.id, "url": u}).Debug("Fetching from generic provider")

	var resp genericResponse
	if err := doJSON(ctx, c.httpClient, c.id, req, &resp); err != nil {
		return model.RawMetricSet{}, err
	}
	if len(resp.Metrics) == 0 {
		return model.RawMetricSet{}, fmt.Errorf("%s %s/%s: %w", c.id, category, symbol, ErrNotFound)
	}

	fields := make(map[string]model.Field, len(resp.Metrics))
	for name, m := range resp.Metrics {
		unit, err := model.ParseUnit(m.Unit)
		if err != nil {
			return model.RawMetricSet{}, fmt.Errorf("%s metric %s: %w", c.id, name, err)
		}
		var f flexFloat
		if err := json.Unmarshal(m.Value, &f); err == nil && f.ok {
			fields[name] = model.Field{Value: model.Num(f.v), Unit: unit}
			continue
		}
		var s string
		if err := json.Unmarshal(m.Value, &s); err == nil {
			fields[name] = model.Field{Value: model.Text(s), Unit: unit}
		}
	}
	return model.NewRawMetricSet(symbol, category, asOf, c.id, fields), nil
}
