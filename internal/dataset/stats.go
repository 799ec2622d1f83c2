package dataset

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarizes a dataset for reporting. It is carried in the training
// metadata so consumers never recompute it.
type Stats struct {
	TotalLeads      int             `json:"total_leads"`
	CompletedTrips  int             `json:"completed_trips"`
	ConcludedLeads  int             `json:"concluded_leads"`
	ActiveLeads     int             `json:"active_leads"`
	ConversionRate  float64         `json:"conversion_rate"`
	RepeatCustomers int             `json:"repeat_customers"`
	StageCounts     []CategoryCount `json:"stage_distribution"`
	LeadSources     []CategoryCount `json:"lead_source_distribution"`
	Destinations    []CategoryCount `json:"destination_distribution"`
	Revenue         Summary         `json:"revenue_stats"`
	MonthlyRevenue  Summary         `json:"monthly_revenue_stats"`
	InquiryRange    DateRange       `json:"inquiry_date_range"`
	TripRange       DateRange       `json:"trip_date_range"`
	DataSpanYears   float64         `json:"data_span_years"`
	Months          int             `json:"months"`
	ExcludedMonths  []string        `json:"excluded_months,omitempty"`
	PipelineValue   float64         `json:"active_pipeline_value"`
	PipelineByStage []CategoryCount `json:"active_pipeline_by_stage"`
}

type CategoryCount struct {
	Name    string  `json:"name"`
	Count   int     `json:"count"`
	Share   float64 `json:"share"`
	Revenue float64 `json:"revenue,omitempty"`
}

type Summary struct {
	Total  float64 `json:"total"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Summarize computes descriptive statistics for xs. An empty slice yields a
// zero Summary.
func Summarize(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	s := Summary{
		Total:  floats.Sum(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Stats describes the dataset as of ref.
func (d *Dataset) Stats(ref time.Time) Stats {
	st := Stats{
		TotalLeads:    len(d.Leads),
		DataSpanYears: d.SpanYears,
		Months:        len(d.Monthly),
		TripRange:     DateRange{Start: d.FirstTrip.Format(dateLayout), End: d.LastTrip.Format(dateLayout)},
	}

	stages := newCounter()
	sources := newCounter()
	destinations := newCounter()
	var completedRevenue []float64
	var firstInquiry, lastInquiry time.Time

	for i := range d.Leads {
		l := &d.Leads[i]
		stages.add(string(l.Stage), 0)
		sources.add(orUnknown(l.LeadSource), 0)
		if l.RepeatCustomer {
			st.RepeatCustomers++
		}
		if l.Concluded() {
			st.ConcludedLeads++
		}
		if l.Stage == StageCompleted {
			st.CompletedTrips++
			completedRevenue = append(completedRevenue, l.TripPrice)
			destinations.add(orUnknown(l.Destination), l.TripPrice)
		}
		if firstInquiry.IsZero() || l.InquiryDate.Before(firstInquiry) {
			firstInquiry = l.InquiryDate
		}
		if l.InquiryDate.After(lastInquiry) {
			lastInquiry = l.InquiryDate
		}
	}
	if st.ConcludedLeads > 0 {
		st.ConversionRate = float64(st.CompletedTrips) / float64(st.ConcludedLeads)
	}
	st.InquiryRange = DateRange{Start: firstInquiry.Format(dateLayout), End: lastInquiry.Format(dateLayout)}
	st.StageCounts = stages.sorted(len(d.Leads))
	st.LeadSources = sources.sorted(len(d.Leads))
	st.Destinations = destinations.sorted(st.CompletedTrips)
	st.Revenue = Summarize(completedRevenue)

	monthly := make([]float64, len(d.Monthly))
	for i, p := range d.Monthly {
		monthly[i] = p.Revenue
	}
	st.MonthlyRevenue = Summarize(monthly)
	for _, p := range d.Excluded {
		st.ExcludedMonths = append(st.ExcludedMonths, p.Month.Format("2006-01"))
	}

	active := d.ActivePipeline(ref)
	st.ActiveLeads = len(active)
	byStage := newCounter()
	for _, l := range active {
		st.PipelineValue += l.TripPrice
		byStage.add(string(l.Stage), l.TripPrice)
	}
	st.PipelineByStage = byStage.sorted(len(active))
	return st
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

type counter struct {
	order   []string
	counts  map[string]int
	revenue map[string]float64
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}, revenue: map[string]float64{}}
}

func (c *counter) add(name string, revenue float64) {
	if _, ok := c.counts[name]; !ok {
		c.order = append(c.order, name)
	}
	c.counts[name]++
	c.revenue[name] += revenue
}

// sorted returns categories by descending count, then name.
func (c *counter) sorted(total int) []CategoryCount {
	out := make([]CategoryCount, 0, len(c.order))
	for _, name := range c.order {
		cc := CategoryCount{Name: name, Count: c.counts[name], Revenue: c.revenue[name]}
		if total > 0 {
			cc.Share = float64(cc.Count) / float64(total)
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
