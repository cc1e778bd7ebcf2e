package validation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/marketdata-hub/internal/model"
)

func fixedSources(values map[string]model.Value, failing map[string]error) SourceFetcher {
	return func(ctx context.Context, source, symbol, metric string) (model.Value, error) {
		if err, ok := failing[source]; ok {
			return model.Value{}, err
		}
		return values[source], nil
	}
}

func TestCrossValidate_Agreement(t *testing.T) {
	cv := NewCrossValidator(fixedSources(map[string]model.Value{
		"a": model.Num(100), "b": model.Num(101), "c": model.Num(99),
	}, nil), 4, DefaultValidationOptions())

	r := cv.CrossValidate(context.Background(), "600519", []string{"a", "b", "c"}, model.FieldPrice)
	assert.True(t, r.IsValid)
	assert.Empty(t, r.Issues)
	assert.InDelta(t, 1.0, r.Confidence, 0.1)
	require.NotNil(t, r.SuggestedValue)
	assert.Equal(t, 100.0, *r.SuggestedValue)
}

func TestCrossValidate_Disagreement(t *testing.T) {
	cv := NewCrossValidator(fixedSources(map[string]model.Value{
		"a": model.Num(100), "b": model.Num(150), "c": model.Num(50),
	}, nil), 4, DefaultValidationOptions())

	r := cv.CrossValidate(context.Background(), "600519", []string{"a", "b", "c"}, model.FieldPrice)
	assert.False(t, r.IsValid)
	assert.InDelta(t, 0.0, r.Confidence, 1e-9)
	assert.GreaterOrEqual(t, model.CountIssues(r.Issues).Error, 1)
	require.NotNil(t, r.SuggestedValue)
	assert.Equal(t, 100.0, *r.SuggestedValue)
}

func TestCrossValidate_FailedSourcesAreExcluded(t *testing.T) {
	cv := NewCrossValidator(fixedSources(
		map[string]model.Value{"a": model.Num(10)},
		map[string]error{"b": errors.New("timeout")},
	), 2, DefaultValidationOptions())

	r := cv.CrossValidate(context.Background(), "000001", []string{"a", "b"}, model.FieldPE)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	counts := model.CountIssues(r.Issues)
	assert.Equal(t, 1, counts.Info)
	assert.Equal(t, 1, counts.Warning)
	assert.True(t, r.IsValid)
}

func TestCrossValidate_RespectsPoolSize(t *testing.T) {
	var inFlight, peak int32
	fetch := func(ctx context.Context, source, symbol, metric string) (model.Value, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return model.Num(1), nil
	}

	cv := NewCrossValidator(fetch, 2, DefaultValidationOptions())
	r := cv.CrossValidate(context.Background(), "000001", []string{"a", "b", "c", "d", "e", "f"}, model.FieldPrice)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 1.0, r.Confidence)
}

func TestScoreSources_Text(t *testing.T) {
	same := ScoreSources(model.FieldIndustry, map[string]model.Value{
		"a": model.Text("白酒"), "b": model.Text("白酒"),
	}, DefaultValidationOptions())
	assert.Equal(t, 1.0, same.Confidence)
	assert.Empty(t, same.Issues)

	diff := ScoreSources(model.FieldIndustry, map[string]model.Value{
		"a": model.Text("白酒"), "b": model.Text("饮料"),
	}, DefaultValidationOptions())
	assert.Equal(t, 0.3, diff.Confidence)
	assert.Len(t, diff.Issues, 1)
	assert.True(t, diff.IsValid)
}

func TestScoreSources_Outlier(t *testing.T) {
	r := ScoreSources(model.FieldPrice, map[string]model.Value{
		"a": model.Num(10), "b": model.Num(10.1), "c": model.Num(9.9), "d": model.Num(10), "e": model.Num(30),
	}, DefaultValidationOptions())

	var outlierSources []string
	for _, i := range r.Issues {
		if i.Message == "value is an outlier among sources" {
			outlierSources = append(outlierSources, i.Source)
		}
	}
	assert.Equal(t, []string{"e"}, outlierSources)
	assert.False(t, r.IsValid)
}
