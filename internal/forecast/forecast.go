// Package forecast turns a trained bundle and a snapshot of the open
// pipeline into a monthly revenue forecast with bounds.
package forecast

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/metrics"
	"github.com/funnelcast/funnelcast/internal/stats"
)

const Method = "ensemble"

// Weights are the ensemble weights per constituent. They are renormalized
// over the constituents present in a bundle.
type Weights struct {
	Seasonal float64 `yaml:"seasonal"`
	Tree     float64 `yaml:"tree"`
	Rule     float64 `yaml:"rule"`
}

func (w Weights) For(name string) float64 {
	switch name {
	case artifact.ModelSeasonal:
		return w.Seasonal
	case artifact.ModelTree:
		return w.Tree
	case artifact.ModelRule:
		return w.Rule
	}
	return 0
}

type Config struct {
	Horizon   int     `yaml:"horizon"`
	Weights   Weights `yaml:"weights"`
	TreeBound float64 `yaml:"tree_bound"`
	RuleBound float64 `yaml:"rule_bound"`

	AnchorWindow   int     `yaml:"anchor_window"`
	AnchorLowRatio float64 `yaml:"anchor_low_ratio"`
	JumpCap        float64 `yaml:"jump_cap"`

	CeilingHistFactor   float64 `yaml:"ceiling_hist_factor"`
	CeilingRecentFactor float64 `yaml:"ceiling_recent_factor"`
	RecentWindow        int     `yaml:"recent_window"`

	// Profile is "empirical" or "uniform".
	Profile       string                    `yaml:"profile"`
	FallbackRates map[dataset.Stage]float64 `yaml:"fallback_rates"`
}

func DefaultConfig() Config {
	fallback := make(map[dataset.Stage]float64, len(stats.DefaultRates))
	for s, r := range stats.DefaultRates {
		fallback[s] = r
	}
	return Config{
		Horizon:             12,
		Weights:             Weights{Seasonal: 0.4, Tree: 0.3, Rule: 0.3},
		TreeBound:           0.3,
		RuleBound:           0.2,
		AnchorWindow:        6,
		AnchorLowRatio:      0.3,
		JumpCap:             1.5,
		CeilingHistFactor:   1.5,
		CeilingRecentFactor: 2,
		RecentWindow:        12,
		Profile:             "empirical",
		FallbackRates:       fallback,
	}
}

// Point is one forecast month.
type Point struct {
	Date     string  `json:"date"`
	Forecast float64 `json:"forecast"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Method   string  `json:"method"`
}

// Anchor is the last complete month's revenue, replaced by the trailing
// average when it is anomalously low.
type Anchor struct {
	Value            float64 `json:"value"`
	LastMonth        string  `json:"last_month"`
	LastMonthRevenue float64 `json:"last_month_revenue"`
	TrailingAverage  float64 `json:"trailing_average"`
	Corrected        bool    `json:"corrected"`
}

type Result struct {
	Points            []Point           `json:"forecast"`
	RatesSource       stats.RatesSource `json:"rates_source"`
	Constituents      []string          `json:"constituents"`
	Profile           string            `json:"profile"`
	Anchor            Anchor            `json:"anchor"`
	FirstMonthCapped  bool              `json:"first_month_capped"`
	Ceiling           float64           `json:"ceiling"`
	ReferenceDate     string            `json:"reference_date"`
	LastCompleteMonth string            `json:"last_complete_month"`
	ExcludedMonths    []string          `json:"excluded_months,omitempty"`
	PipelineLeads     int               `json:"pipeline_leads"`
	BundleID          string            `json:"bundle_id"`
	Metadata          artifact.Metadata `json:"model_metadata"`
	Dataset           dataset.Stats     `json:"dataset_stats"`
	Rates             stats.RateTable   `json:"conversion_rates"`
}

type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Forecast produces Horizon monthly points starting the month after the last
// complete month of ds. ds should be loaded with ref as its reference date.
// The result depends only on its inputs.
func (e *Engine) Forecast(b *artifact.Bundle, ds *dataset.Dataset, ref time.Time) (*Result, error) {
	if b == nil {
		return nil, apperrors.ModelNotTrained("no trained model found; run train first")
	}
	if len(ds.Monthly) == 0 {
		return nil, apperrors.InsufficientHistory("no complete months before %s", ref.Format("2006-01-02"))
	}

	last := ds.LastCompleteMonth()
	pipeline := ds.ActivePipeline(ref)
	in := &Inputs{
		Bundle:       b,
		Pipeline:     pipeline,
		History:      ds.Monthly,
		Ref:          ref,
		Start:        last.AddDate(0, 1, 0),
		Horizon:      e.cfg.Horizon,
		Rates:        stats.Resolve(b.Rates, e.cfg.FallbackRates),
		Profile:      stats.NewProfile(e.cfg.Profile, b.Profile),
		RecentWindow: e.cfg.RecentWindow,
	}

	estimators := Estimators(b, pipeline, e.cfg)
	estimates := make([]Estimate, len(estimators))
	weights := make([]float64, len(estimators))
	names := make([]string, len(estimators))
	for i, est := range estimators {
		names[i] = est.Name()
		weights[i] = e.cfg.Weights.For(est.Name())
		estimates[i] = est.Forecast(in)
	}
	blended := Blend(estimates, weights, in.Horizon)

	ceiling := Ceiling(ds.Monthly, e.cfg.CeilingHistFactor, e.cfg.CeilingRecentFactor, e.cfg.RecentWindow)
	points := make([]Point, in.Horizon)
	for i := range points {
		f := blended.Values[i]
		if ceiling > 0 {
			f = min(f, ceiling)
		}
		points[i] = Point{
			Date:     in.Start.AddDate(0, i, 0).Format("2006-01-02"),
			Forecast: f,
			Lower:    min(blended.Lower[i], f),
			Upper:    max(blended.Upper[i], f),
			Method:   Method,
		}
	}

	anchor := ComputeAnchor(ds.Monthly, e.cfg.AnchorWindow, e.cfg.AnchorLowRatio)
	if anchor.Corrected {
		metrics.AnchorCorrections.Inc()
		e.logger.Info("anchor corrected",
			zap.String("month", anchor.LastMonth),
			zap.Float64("last_month_revenue", anchor.LastMonthRevenue),
			zap.Float64("trailing_average", anchor.TrailingAverage),
		)
	}
	capped := CapFirstMonth(points, anchor.Value, e.cfg.JumpCap)
	if capped {
		metrics.JumpCaps.Inc()
		e.logger.Info("first month capped", zap.Float64("anchor", anchor.Value), zap.Float64("cap", points[0].Forecast))
	}
	for i := range points {
		points[i].Forecast = cents(points[i].Forecast)
		points[i].Lower = cents(points[i].Lower)
		points[i].Upper = cents(points[i].Upper)
	}

	res := &Result{
		Points:            points,
		RatesSource:       in.Rates.Source(),
		Constituents:      names,
		Profile:           in.Profile.Name(),
		Anchor:            anchor,
		FirstMonthCapped:  capped,
		Ceiling:           cents(ceiling),
		ReferenceDate:     ref.Format("2006-01-02"),
		LastCompleteMonth: last.Format("2006-01"),
		PipelineLeads:     len(pipeline),
		BundleID:          b.ID,
		Metadata:          b.Metadata,
		Dataset:           ds.Stats(ref),
		Rates:             in.Rates.Table(),
	}
	for _, p := range ds.Excluded {
		res.ExcludedMonths = append(res.ExcludedMonths, p.Month.Format("2006-01"))
	}

	e.logger.Debug("forecast computed",
		zap.String("bundle_id", b.ID),
		zap.Strings("constituents", names),
		zap.String("rates_source", string(res.RatesSource)),
		zap.Int("pipeline_leads", len(pipeline)),
		zap.Strings("excluded_months", res.ExcludedMonths),
	)
	return res, nil
}

// Blend combines the estimates with weights renormalized over those given.
// The blended interval is then widened symmetrically to at least the widest
// constituent interval for that month, shifted up if it would go below zero.
func Blend(estimates []Estimate, weights []float64, horizon int) Estimate {
	out := newEstimate(horizon)
	if len(estimates) == 0 {
		return out
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	norm := make([]float64, len(weights))
	for i, w := range weights {
		if total > 0 {
			norm[i] = w / total
		} else {
			norm[i] = 1 / float64(len(weights))
		}
	}

	for m := range horizon {
		var f, lo, hi, widest float64
		for i, est := range estimates {
			f += norm[i] * est.Values[m]
			lo += norm[i] * est.Lower[m]
			hi += norm[i] * est.Upper[m]
			widest = max(widest, est.Upper[m]-est.Lower[m])
		}
		if gap := widest - (hi - lo); gap > 0 {
			lo -= gap / 2
			hi += gap / 2
		}
		if lo < 0 {
			hi -= lo
			lo = 0
		}
		f = max(f, 0)
		out.Values[m] = f
		out.Lower[m] = min(lo, f)
		out.Upper[m] = max(hi, f)
	}
	return out
}

// Ceiling is the largest plausible monthly revenue given the history:
// the greater of histFactor times the historical max and recentFactor
// times the recent average.
func Ceiling(history []dataset.MonthlyPoint, histFactor, recentFactor float64, window int) float64 {
	var histMax float64
	for _, p := range history {
		histMax = max(histMax, p.Revenue)
	}
	recent := dataset.TrailingAverage(history, len(history), window)
	return max(histFactor*histMax, recentFactor*recent)
}

func ComputeAnchor(history []dataset.MonthlyPoint, window int, lowRatio float64) Anchor {
	if len(history) == 0 {
		return Anchor{}
	}
	n := len(history)
	last := history[n-1]
	avg := dataset.TrailingAverage(history, n-1, window)
	a := Anchor{
		Value:            last.Revenue,
		LastMonth:        last.Month.Format("2006-01"),
		LastMonthRevenue: last.Revenue,
		TrailingAverage:  avg,
	}
	if avg > 0 && last.Revenue < lowRatio*avg {
		a.Value = avg
		a.Corrected = true
	}
	return a
}

// CapFirstMonth limits the first point to factor times the anchor. Later
// points are left alone. It reports whether the cap applied.
func CapFirstMonth(points []Point, anchor, factor float64) bool {
	if len(points) == 0 || anchor <= 0 || factor <= 0 {
		return false
	}
	limit := factor * anchor
	if points[0].Forecast <= limit {
		return false
	}
	points[0].Forecast = limit
	points[0].Lower = min(points[0].Lower, limit)
	return true
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}
