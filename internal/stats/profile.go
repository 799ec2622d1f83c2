package stats

import (
	"time"

	"github.com/funnelcast/funnelcast/internal/dataset"
)

// Profile spreads a lead's expected value over forecast months. Shares
// returns one weight per month starting at start; weights sum to at most 1
// (value expected beyond the horizon is dropped).
type Profile interface {
	Name() string
	Shares(l *dataset.Lead, ref, start time.Time, horizon int) []float64
}

// scheduled handles leads whose trip month is already known: all value lands
// in that month. Overdue trips land in the first month.
func scheduled(l *dataset.Lead, start time.Time, horizon int) ([]float64, bool) {
	if l.TripDate == nil {
		return nil, false
	}
	shares := make([]float64, horizon)
	idx := dataset.MonthsBetween(start, dataset.MonthStart(*l.TripDate))
	if idx < 0 {
		idx = 0
	}
	if idx < horizon {
		shares[idx] = 1
	}
	return shares, true
}

// UniformProfile assumes conversion is equally likely in every month.
type UniformProfile struct{}

func (UniformProfile) Name() string { return "uniform" }

func (UniformProfile) Shares(l *dataset.Lead, _, start time.Time, horizon int) []float64 {
	if shares, ok := scheduled(l, start, horizon); ok {
		return shares
	}
	shares := make([]float64, horizon)
	for i := range shares {
		shares[i] = 1 / float64(horizon)
	}
	return shares
}

// EmpiricalProfile holds, per stage, the distribution of months between
// entering the stage and the trip, learned from completed leads.
type EmpiricalProfile struct {
	MaxLag int                         `json:"max_lag"`
	Stages map[dataset.Stage][]float64 `json:"stages"`
	Counts map[dataset.Stage]int       `json:"counts"`
}

// MinProfileSamples is the least number of completed leads a stage needs
// before its learned lag distribution is used.
const MinProfileSamples = 5

// LearnProfile builds lag histograms capped at maxLag months.
func LearnProfile(leads []dataset.Lead, maxLag int) *EmpiricalProfile {
	p := &EmpiricalProfile{
		MaxLag: maxLag,
		Stages: make(map[dataset.Stage][]float64),
		Counts: make(map[dataset.Stage]int),
	}
	for _, s := range dataset.FunnelStages {
		hist := make([]float64, maxLag+1)
		n := 0
		for i := range leads {
			l := &leads[i]
			if l.Stage != dataset.StageCompleted || l.TripDate == nil {
				continue
			}
			entered, ok := l.EnteredAt(s)
			if !ok {
				continue
			}
			lag := dataset.MonthsBetween(dataset.MonthStart(entered), dataset.MonthStart(*l.TripDate))
			lag = max(0, min(lag, maxLag))
			hist[lag]++
			n++
		}
		if n < MinProfileSamples {
			continue
		}
		for i := range hist {
			hist[i] /= float64(n)
		}
		p.Stages[s] = hist
		p.Counts[s] = n
	}
	return p
}

func (p *EmpiricalProfile) Name() string { return "empirical" }

// Shares conditions the stage's lag distribution on the months already
// elapsed since the lead entered its current stage. Stages without history
// fall back to the uniform profile.
func (p *EmpiricalProfile) Shares(l *dataset.Lead, ref, start time.Time, horizon int) []float64 {
	if shares, ok := scheduled(l, start, horizon); ok {
		return shares
	}
	hist, ok := p.Stages[l.Stage]
	if !ok {
		return UniformProfile{}.Shares(l, ref, start, horizon)
	}

	entered, ok := l.EnteredAt(l.Stage)
	if !ok {
		entered = l.LastTransition()
	}
	entryMonth := dataset.MonthStart(entered)
	refMonth := dataset.MonthStart(ref)
	elapsed := max(0, dataset.MonthsBetween(entryMonth, refMonth))

	shares := make([]float64, horizon)
	var tail float64
	for lag := elapsed; lag < len(hist); lag++ {
		tail += hist[lag]
	}
	if tail == 0 {
		// Older than anything observed: expect it now.
		shares[max(0, min(dataset.MonthsBetween(start, refMonth), horizon-1))] = 1
		return shares
	}
	for lag := elapsed; lag < len(hist); lag++ {
		if hist[lag] == 0 {
			continue
		}
		idx := dataset.MonthsBetween(start, entryMonth) + lag
		if idx < 0 {
			idx = 0
		}
		if idx >= horizon {
			continue
		}
		shares[idx] += hist[lag] / tail
	}
	return shares
}

// NewProfile returns the named profile. Unknown names and a nil learned
// profile yield the uniform profile.
func NewProfile(name string, learned *EmpiricalProfile) Profile {
	if name == "empirical" && learned != nil {
		return learned
	}
	return UniformProfile{}
}
