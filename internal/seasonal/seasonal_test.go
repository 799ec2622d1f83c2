package seasonal_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/seasonal"
)

var origin = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

func synthetic(n int, f func(i int, month time.Time) float64) []dataset.MonthlyPoint {
	points := make([]dataset.MonthlyPoint, n)
	for i := range points {
		month := origin.AddDate(0, i, 0)
		points[i] = dataset.MonthlyPoint{Month: month, Revenue: f(i, month), LeadCount: 10}
	}
	return points
}

func seasonalRevenue(i int, month time.Time) float64 {
	return 40000 + 500*float64(i) + 8000*math.Sin(2*math.Pi*float64(month.Month()-1)/12)
}

func TestFit_RecoversTrendAndSeason(t *testing.T) {
	points := synthetic(36, seasonalRevenue)
	cfg := seasonal.DefaultConfig()
	cfg.Ridge = 1e-6

	m, err := seasonal.Fit(points, cfg)
	require.NoError(t, err)

	// Trend per year, then the first sine term.
	assert.InDelta(t, 6000, m.Coef[1], 1)
	assert.InDelta(t, 8000, m.Coef[2], 1)
	assert.Less(t, m.Sigma, 1.0)

	band := m.Forecast(origin.AddDate(0, 36, 0), 12)
	for i := range 12 {
		want := seasonalRevenue(36+i, origin.AddDate(0, 36+i, 0))
		assert.InDelta(t, want, band.Values[i], 5, "month %d", i)
	}
	assert.Greater(t, m.Metrics.Folds, 0)
	assert.Less(t, m.Metrics.MAPE, 0.05)
}

func TestForecast_BoundsOrderedAndWidening(t *testing.T) {
	noise := []float64{1200, -800, 300, -1500, 900, 100, -400, 700, -1100, 600, -200, 1300}
	points := synthetic(30, func(i int, month time.Time) float64 {
		return seasonalRevenue(i, month) + noise[i%len(noise)]
	})

	m, err := seasonal.Fit(points, seasonal.DefaultConfig())
	require.NoError(t, err)

	band := m.Forecast(origin.AddDate(0, 30, 0), 12)
	require.Len(t, band.Values, 12)
	for i := range 12 {
		assert.LessOrEqual(t, band.Lower[i], band.Values[i])
		assert.LessOrEqual(t, band.Values[i], band.Upper[i])
		assert.GreaterOrEqual(t, band.Lower[i], 0.0)
	}
	first := band.Upper[0] - band.Values[0]
	last := band.Upper[11] - band.Values[11]
	assert.Greater(t, last, first)
}

func TestFit_TooShort(t *testing.T) {
	_, err := seasonal.Fit(synthetic(2, seasonalRevenue), seasonal.DefaultConfig())
	assert.True(t, errors.Is(err, seasonal.ErrTooShort))
}

func TestFit_ShortSeriesScoredInSample(t *testing.T) {
	m, err := seasonal.Fit(synthetic(5, seasonalRevenue), seasonal.DefaultConfig())
	require.NoError(t, err)
	assert.True(t, m.Metrics.InSample)
	assert.Equal(t, 0, m.Metrics.Folds)
}

func TestFit_GrowthCapWhenRecentTrendStalls(t *testing.T) {
	// Two years of growth, then six months of decline.
	points := synthetic(30, func(i int, _ time.Time) float64 {
		if i < 24 {
			return 20000 + 1500*float64(i)
		}
		return 54500 - 3000*float64(i-23)
	})

	m, err := seasonal.Fit(points, seasonal.DefaultConfig())
	require.NoError(t, err)
	require.Greater(t, m.Cap, 0.0)

	band := m.Forecast(origin.AddDate(0, 30, 0), 12)
	for i := range 12 {
		assert.LessOrEqual(t, band.Values[i], m.Cap)
	}
}

func TestModel_JSONRoundTrip(t *testing.T) {
	m, err := seasonal.Fit(synthetic(24, seasonalRevenue), seasonal.DefaultConfig())
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var restored seasonal.Model
	require.NoError(t, json.Unmarshal(data, &restored))

	start := origin.AddDate(0, 24, 0)
	if diff := cmp.Diff(m.Forecast(start, 12), restored.Forecast(start, 12), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("forecast mismatch after round trip (-want +got):\n%s", diff)
	}
}
