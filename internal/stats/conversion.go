package stats

import (
	"github.com/funnelcast/funnelcast/internal/dataset"
)

type RatesSource string

const (
	SourceEmpirical RatesSource = "empirical"
	SourceFallback  RatesSource = "fallback"
)

// DefaultRates are used when no learned table exists, and per stage when the
// learned table has no observations for it.
var DefaultRates = map[dataset.Stage]float64{
	dataset.StageInquiry:      0.15,
	dataset.StageQuoteSent:    0.35,
	dataset.StageBooked:       0.90,
	dataset.StageFinalPayment: 0.98,
}

// StageRate is the probability that a lead which reached Stage ends up
// completed, with a 95% Wilson interval.
type StageRate struct {
	Stage     dataset.Stage `json:"stage"`
	Rate      float64       `json:"rate"`
	Reached   int           `json:"reached"`
	Completed int           `json:"completed"`
	Lower     float64       `json:"ci_lower"`
	Upper     float64       `json:"ci_upper"`
}

// RateTable lists learned rates in funnel order. Stages without observations
// are absent.
type RateTable []StageRate

func (t RateTable) Lookup(s dataset.Stage) (StageRate, bool) {
	for _, r := range t {
		if r.Stage == s {
			return r, true
		}
	}
	return StageRate{}, false
}

// EstimateConversionRates computes, for each funnel stage, the share of
// concluded leads reaching that stage that went on to complete. Active
// leads are ignored because their outcome is unknown.
func EstimateConversionRates(leads []dataset.Lead) RateTable {
	reached := make([]int, len(dataset.FunnelStages))
	completed := make([]int, len(dataset.FunnelStages))

	for i := range leads {
		l := &leads[i]
		if !l.Concluded() {
			continue
		}
		for k, s := range dataset.FunnelStages {
			if !l.Reached(s) {
				continue
			}
			reached[k]++
			if l.Stage == dataset.StageCompleted {
				completed[k]++
			}
		}
	}

	var table RateTable
	for k, s := range dataset.FunnelStages {
		if reached[k] == 0 {
			continue
		}
		lower, upper := WilsonInterval(completed[k], reached[k], 0.95)
		table = append(table, StageRate{
			Stage:     s,
			Rate:      float64(completed[k]) / float64(reached[k]),
			Reached:   reached[k],
			Completed: completed[k],
			Lower:     lower,
			Upper:     upper,
		})
	}
	return table
}

// ConversionRates is either an empirical table (with per-stage defaults for
// gaps) or the default table. Consumers dispatch on Source.
type ConversionRates struct {
	source   RatesSource
	table    RateTable
	defaults map[dataset.Stage]float64
}

func Empirical(table RateTable, defaults map[dataset.Stage]float64) ConversionRates {
	return ConversionRates{source: SourceEmpirical, table: table, defaults: withDefaults(defaults)}
}

func Fallback(defaults map[dataset.Stage]float64) ConversionRates {
	return ConversionRates{source: SourceFallback, defaults: withDefaults(defaults)}
}

// Resolve picks Empirical when a learned table is present.
func Resolve(table RateTable, defaults map[dataset.Stage]float64) ConversionRates {
	if len(table) == 0 {
		return Fallback(defaults)
	}
	return Empirical(table, defaults)
}

func withDefaults(m map[dataset.Stage]float64) map[dataset.Stage]float64 {
	if len(m) == 0 {
		return DefaultRates
	}
	return m
}

func (c ConversionRates) Source() RatesSource {
	return c.source
}

// Rate returns the completion probability for a lead currently at stage s.
// Terminal stages convert with probability 0, except completed (1).
func (c ConversionRates) Rate(s dataset.Stage) float64 {
	switch s {
	case dataset.StageCompleted:
		return 1
	case dataset.StageLost, dataset.StageCancelled:
		return 0
	}
	if c.source == SourceEmpirical {
		if r, ok := c.table.Lookup(s); ok {
			return r.Rate
		}
	}
	return c.defaults[s]
}

// Table returns the effective rate for every funnel stage.
func (c ConversionRates) Table() RateTable {
	out := make(RateTable, 0, len(dataset.FunnelStages))
	for _, s := range dataset.FunnelStages {
		if c.source == SourceEmpirical {
			if r, ok := c.table.Lookup(s); ok {
				out = append(out, r)
				continue
			}
		}
		out = append(out, StageRate{Stage: s, Rate: c.defaults[s]})
	}
	return out
}
