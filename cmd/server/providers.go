package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/marketdata-hub/internal/config"
	"github.com/yourorg/marketdata-hub/internal/fetch"
	"github.com/yourorg/marketdata-hub/internal/model"
	"github.com/yourorg/marketdata-hub/internal/reliability"
)

// buildRegistry creates one provider per configured upstream, wraps it in its
// rate limiter and registers it with its tier.
func buildRegistry(cfg *config.Config) (*fetch.Registry, error) {
	registry := fetch.NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := newProvider(pc, cfg.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		tier, err := reliability.ParseTier(pc.Tier)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		if err := registry.Register(fetch.NewRateLimited(p, pc.RateLimit, pc.Burst), tier); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"provider":   pc.ID,
			"kind":       pc.Kind,
			"tier":       tier,
			"rate_limit": pc.RateLimit,
		}).Info("Provider configured")
	}
	if registry.Len() == 0 {
		logrus.Warn("No providers configured, only cached data will be served")
	}
	return registry, nil
}

// newProvider builds the adapter for one provider kind.
func newProvider(pc config.ProviderConfig, fetchTimeout time.Duration) (fetch.Provider, error) {
	timeout := pc.Timeout
	if timeout == 0 {
		timeout = fetchTimeout
	}

	switch pc.Kind {
	case config.KindTushare:
		if pc.Token == "" {
			return nil, fmt.Errorf("tushare requires a token")
		}
		return fetch.NewTushareClient(pc.ID, pc.BaseURL, pc.Token, timeout), nil
	case config.KindAKTools:
		return fetch.NewAKToolsClient(pc.ID, pc.BaseURL, timeout), nil
	case config.KindGeneric:
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("generic provider requires base_url")
		}
		return fetch.NewGenericClient(pc.ID, pc.BaseURL, pc.Token, timeout), nil
	case config.KindStatic:
		p := fetch.NewStaticProvider(pc.ID)
		if pc.Fixtures != "" {
			if err := loadFixtures(pc.Fixtures, p); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
	}
}

// fixtureField is one canned value. Value is a YAML number or string.
type fixtureField struct {
	Value interface{} `yaml:"value"`
	Unit  string      `yaml:"unit"`
}

// loadFixtures reads symbol -> category -> field payloads into a static provider.
func loadFixtures(path string, p *fetch.StaticProvider) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fixtures: %w", err)
	}
	var doc map[string]map[string]map[string]fixtureField
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing fixtures %s: %w", path, err)
	}

	for symbol, categories := range doc {
		for catName, fields := range categories {
			category, err := model.ParseCategory(catName)
			if err != nil {
				return fmt.Errorf("fixtures %s: %w", symbol, err)
			}
			out := make(map[string]model.Field, len(fields))
			for name, f := range fields {
				unit, err := model.ParseUnit(f.Unit)
				if err != nil {
					return fmt.Errorf("fixtures %s/%s/%s: %w", symbol, catName, name, err)
				}
				v, err := fixtureValue(f.Value)
				if err != nil {
					return fmt.Errorf("fixtures %s/%s/%s: %w", symbol, catName, name, err)
				}
				out[name] = model.Field{Value: v, Unit: unit}
			}
			p.Set(symbol, category, out)
		}
	}
	return nil
}

func fixtureValue(raw interface{}) (model.Value, error) {
	switch v := raw.(type) {
	case int:
		return model.Num(float64(v)), nil
	case float64:
		return model.Num(v), nil
	case string:
		return model.Text(v), nil
	default:
		return model.Value{}, fmt.Errorf("unsupported value %v", raw)
	}
}
