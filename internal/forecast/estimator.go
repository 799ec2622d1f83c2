package forecast

import (
	"time"

	"github.com/funnelcast/funnelcast/internal/artifact"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/stats"
)

// Inputs is everything an estimator may draw on for one forecast.
type Inputs struct {
	Bundle   *artifact.Bundle
	Pipeline []dataset.Lead
	History  []dataset.MonthlyPoint
	Ref      time.Time
	Start    time.Time
	Horizon  int
	Rates    stats.ConversionRates
	Profile  stats.Profile
	// RecentWindow is how many trailing months make up the recent average.
	RecentWindow int
}

// Estimate is one constituent's monthly forecast with bounds.
type Estimate struct {
	Values []float64
	Lower  []float64
	Upper  []float64
}

func newEstimate(n int) Estimate {
	return Estimate{
		Values: make([]float64, n),
		Lower:  make([]float64, n),
		Upper:  make([]float64, n),
	}
}

// Estimator is one constituent of the ensemble.
type Estimator interface {
	Name() string
	Forecast(in *Inputs) Estimate
}

// Estimators returns the constituents that can contribute for this bundle
// and pipeline, in blend order.
func Estimators(b *artifact.Bundle, pipeline []dataset.Lead, cfg Config) []Estimator {
	var out []Estimator
	if b.Seasonal != nil {
		out = append(out, seasonalEstimator{})
	}
	if b.Tree != nil && b.Encoders != nil && len(pipeline) > 0 {
		out = append(out, treeEstimator{bound: cfg.TreeBound})
	}
	out = append(out, ruleEstimator{bound: cfg.RuleBound})
	return out
}

type seasonalEstimator struct{}

func (seasonalEstimator) Name() string { return artifact.ModelSeasonal }

func (seasonalEstimator) Forecast(in *Inputs) Estimate {
	band := in.Bundle.Seasonal.Forecast(in.Start, in.Horizon)
	return Estimate{Values: band.Values, Lower: band.Lower, Upper: band.Upper}
}

// treeEstimator scores each open lead's completion probability and spreads
// its expected value over the horizon.
type treeEstimator struct {
	bound float64
}

func (treeEstimator) Name() string { return artifact.ModelTree }

func (e treeEstimator) Forecast(in *Inputs) Estimate {
	est := newEstimate(in.Horizon)
	for i := range in.Pipeline {
		l := &in.Pipeline[i]
		p := in.Bundle.Tree.Predict(in.Bundle.Encoders.Features(l))
		spread(est.Values, l.TripPrice*p, in.Profile.Shares(l, in.Ref, in.Start, in.Horizon))
	}
	bound(&est, e.bound)
	return est
}

// ruleEstimator weights each open lead's price by its stage conversion
// rate. With an empty pipeline it projects the recent monthly average.
type ruleEstimator struct {
	bound float64
}

func (ruleEstimator) Name() string { return artifact.ModelRule }

func (e ruleEstimator) Forecast(in *Inputs) Estimate {
	est := newEstimate(in.Horizon)
	if len(in.Pipeline) == 0 {
		avg := dataset.TrailingAverage(in.History, len(in.History), in.RecentWindow)
		for i := range est.Values {
			est.Values[i] = avg
		}
	}
	for i := range in.Pipeline {
		l := &in.Pipeline[i]
		spread(est.Values, l.TripPrice*in.Rates.Rate(l.Stage), in.Profile.Shares(l, in.Ref, in.Start, in.Horizon))
	}
	bound(&est, e.bound)
	return est
}

func spread(dst []float64, value float64, shares []float64) {
	for i, s := range shares {
		dst[i] += value * s
	}
}

func bound(est *Estimate, frac float64) {
	for i, v := range est.Values {
		est.Lower[i] = v * (1 - frac)
		est.Upper[i] = v * (1 + frac)
	}
}
