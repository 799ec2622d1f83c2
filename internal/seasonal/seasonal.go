// Package seasonal fits a linear trend with yearly Fourier seasonality to a
// monthly revenue series and forecasts it with uncertainty bands.
package seasonal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/stats"
)

// ErrTooShort is returned when the series cannot support a fit.
var ErrTooShort = errors.New("seasonal: at least 3 months are required")

type Config struct {
	FourierOrder int     `yaml:"fourier_order"`
	Interval     float64 `yaml:"interval_width"`
	Ridge        float64 `yaml:"ridge"`
	// RecentWindow is the number of trailing months used to judge whether
	// growth has stalled.
	RecentWindow int `yaml:"recent_window"`
	CVInitial    int `yaml:"cv_initial"`
	CVHorizon    int `yaml:"cv_horizon"`
}

func DefaultConfig() Config {
	return Config{
		FourierOrder: 3,
		Interval:     0.8,
		Ridge:        0.1,
		RecentWindow: 6,
		CVInitial:    6,
		CVHorizon:    3,
	}
}

// Model is the fitted state. It round-trips through JSON.
type Model struct {
	Origin   time.Time `json:"origin"`
	Last     time.Time `json:"last_month"`
	Order    int       `json:"fourier_order"`
	Coef     []float64 `json:"coefficients"`
	Sigma    float64   `json:"residual_sigma"`
	Interval float64   `json:"interval_width"`
	// Cap bounds forecasts when recent growth has stalled. Zero means
	// uncapped.
	Cap     float64 `json:"cap,omitempty"`
	HistMax float64 `json:"historical_max"`
	Metrics Metrics `json:"metrics"`
}

// Metrics are rolling-origin cross-validation errors. InSample is set when
// the series was too short for any fold.
type Metrics struct {
	MAPE     float64 `json:"mape"`
	MAE      float64 `json:"mae"`
	RMSE     float64 `json:"rmse"`
	MSE      float64 `json:"mse"`
	Folds    int     `json:"folds"`
	InSample bool    `json:"in_sample,omitempty"`
}

// Band is a forecast with lower and upper bounds, one entry per month.
type Band struct {
	Values []float64
	Lower  []float64
	Upper  []float64
}

// Fit trains on points, which must be consecutive months.
func Fit(points []dataset.MonthlyPoint, cfg Config) (*Model, error) {
	m, err := fit(points, cfg)
	if err != nil {
		return nil, err
	}
	m.Metrics = crossValidate(points, cfg, m)
	return m, nil
}

func fit(points []dataset.MonthlyPoint, cfg Config) (*Model, error) {
	n := len(points)
	if n < 3 {
		return nil, ErrTooShort
	}

	m := &Model{
		Origin:   points[0].Month,
		Last:     points[n-1].Month,
		Order:    min(cfg.FourierOrder, (n-2)/2),
		Interval: cfg.Interval,
	}
	p := m.width()

	X := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, pt := range points {
		X.SetRow(i, m.features(pt.Month))
		y.SetVec(i, pt.Revenue)
		m.HistMax = math.Max(m.HistMax, pt.Revenue)
	}

	// Ridge normal equations; the intercept is not penalized.
	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())
	for j := 1; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+cfg.Ridge)
	}
	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("seasonal: normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("seasonal: failed to solve: %w", err)
	}
	m.Coef = make([]float64, p)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j)
	}

	residuals := make([]float64, n)
	for i, pt := range points {
		residuals[i] = pt.Revenue - m.mean(pt.Month)
	}
	m.Sigma = stat.StdDev(residuals, nil)
	if math.IsNaN(m.Sigma) {
		m.Sigma = 0
	}

	m.Cap = growthCap(points, cfg.RecentWindow)
	return m, nil
}

func (m *Model) width() int {
	return 2 + 2*m.Order
}

// features is [1, years since origin, sin/cos pairs of the calendar month].
func (m *Model) features(month time.Time) []float64 {
	f := make([]float64, 0, m.width())
	f = append(f, 1, float64(dataset.MonthsBetween(m.Origin, month))/12)
	phase := 2 * math.Pi * float64(month.Month()-1) / 12
	for k := 1; k <= m.Order; k++ {
		f = append(f, math.Sin(float64(k)*phase), math.Cos(float64(k)*phase))
	}
	return f
}

func (m *Model) mean(month time.Time) float64 {
	var v float64
	for j, x := range m.features(month) {
		v += m.Coef[j] * x
	}
	return v
}

// growthCap returns a ceiling when the recent trend is flat or falling
// against a rising overall trend, or rising at less than half its pace.
func growthCap(points []dataset.MonthlyPoint, window int) float64 {
	n := len(points)
	if window < 2 || n < window+1 {
		return 0
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	var histMax float64
	for i, p := range points {
		xs[i] = float64(i)
		ys[i] = p.Revenue
		histMax = math.Max(histMax, p.Revenue)
	}
	_, overall := stat.LinearRegression(xs, ys, nil, false)
	_, recent := stat.LinearRegression(xs[n-window:], ys[n-window:], nil, false)
	if overall <= 0 || (recent > 0 && recent >= 0.5*overall) {
		return 0
	}
	var recentMax float64
	for _, v := range ys[n-window:] {
		recentMax = math.Max(recentMax, v)
	}
	return math.Max(1.5*recentMax, 1.2*histMax)
}

// Forecast predicts horizon months from start.
func (m *Model) Forecast(start time.Time, horizon int) Band {
	b := Band{
		Values: make([]float64, horizon),
		Lower:  make([]float64, horizon),
		Upper:  make([]float64, horizon),
	}
	z := stats.ZScore(m.Interval)
	for i := range horizon {
		month := start.AddDate(0, i, 0)
		h := max(1, dataset.MonthsBetween(m.Last, month))
		v := m.mean(month)
		w := z * m.Sigma * math.Sqrt(1+float64(h)/12)
		lo, hi := v-w, v+w
		if m.Cap > 0 {
			v = math.Min(v, m.Cap)
			hi = math.Min(hi, m.Cap)
			lo = math.Min(lo, v)
		}
		b.Values[i] = math.Max(0, v)
		b.Lower[i] = math.Max(0, lo)
		b.Upper[i] = math.Max(b.Values[i], hi)
	}
	return b
}

// crossValidate refits on growing prefixes and scores the next CVHorizon
// months. Short series are scored in sample.
func crossValidate(points []dataset.MonthlyPoint, cfg Config, full *Model) Metrics {
	var actual, predicted []float64
	folds := 0
	for origin := cfg.CVInitial; origin < len(points); origin++ {
		m, err := fit(points[:origin], cfg)
		if err != nil {
			continue
		}
		end := min(origin+cfg.CVHorizon, len(points))
		band := m.Forecast(points[origin].Month, end-origin)
		for i := origin; i < end; i++ {
			actual = append(actual, points[i].Revenue)
			predicted = append(predicted, band.Values[i-origin])
		}
		folds++
	}

	metrics := Metrics{Folds: folds}
	if folds == 0 {
		metrics.InSample = true
		for _, p := range points {
			actual = append(actual, p.Revenue)
			predicted = append(predicted, math.Max(0, full.mean(p.Month)))
		}
	}

	var absErr, sqErr, pctErr float64
	var pctN int
	for i := range actual {
		e := actual[i] - predicted[i]
		absErr += math.Abs(e)
		sqErr += e * e
		if actual[i] != 0 {
			pctErr += math.Abs(e / actual[i])
			pctN++
		}
	}
	n := float64(len(actual))
	metrics.MAE = absErr / n
	metrics.MSE = sqErr / n
	metrics.RMSE = math.Sqrt(metrics.MSE)
	if pctN > 0 {
		metrics.MAPE = pctErr / float64(pctN)
	}
	return metrics
}
