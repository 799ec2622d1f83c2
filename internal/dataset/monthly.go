package dataset

// IncompleteRule decides which trailing months are under-reported.
type IncompleteRule struct {
	// MaxScan bounds how many trailing months are examined.
	MaxScan int `yaml:"max_scan"`
	// Window is the number of preceding non-zero months averaged.
	Window       int     `yaml:"window"`
	LeadRatio    float64 `yaml:"lead_ratio"`
	RevenueRatio float64 `yaml:"revenue_ratio"`
	// MinRevenue flags near-zero months regardless of the average. 0 disables.
	MinRevenue float64 `yaml:"min_revenue"`
}

func DefaultIncompleteRule() IncompleteRule {
	return IncompleteRule{
		MaxScan:      4,
		Window:       6,
		LeadRatio:    0.5,
		RevenueRatio: 0.3,
		MinRevenue:   1000,
	}
}

// Incomplete reports whether points[i] looks under-reported against the
// average of the preceding non-zero months.
func (r IncompleteRule) Incomplete(points []MonthlyPoint, i int) bool {
	var n, leads int
	var revenue float64
	for j := i - 1; j >= 0 && n < r.Window; j-- {
		if points[j].LeadCount == 0 && points[j].Revenue == 0 {
			continue
		}
		n++
		leads += points[j].LeadCount
		revenue += points[j].Revenue
	}
	if n == 0 {
		return false
	}

	p := points[i]
	avgLeads := float64(leads) / float64(n)
	avgRevenue := revenue / float64(n)
	return float64(p.LeadCount) < r.LeadRatio*avgLeads ||
		p.Revenue < r.RevenueRatio*avgRevenue ||
		p.Revenue < r.MinRevenue
}

// Apply drops consecutive incomplete months from the end of the series,
// newest first, stopping at the first complete month or after MaxScan
// months. At least one month is always kept. Excluded months are returned
// oldest first.
func (r IncompleteRule) Apply(points []MonthlyPoint) (kept, excluded []MonthlyPoint) {
	cut := len(points)
	for k := 0; k < r.MaxScan && cut > 1; k++ {
		if !r.Incomplete(points, cut-1) {
			break
		}
		cut--
	}
	kept = points[:cut:cut]
	if cut < len(points) {
		excluded = append([]MonthlyPoint(nil), points[cut:]...)
	}
	return kept, excluded
}

// TrailingAverage is the mean revenue of up to window months before index i.
func TrailingAverage(points []MonthlyPoint, i, window int) float64 {
	start := i - window
	if start < 0 {
		start = 0
	}
	if i <= start {
		return 0
	}
	var sum float64
	for _, p := range points[start:i] {
		sum += p.Revenue
	}
	return sum / float64(i-start)
}
