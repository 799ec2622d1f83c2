package boost

import (
	"sort"
	"time"

	"github.com/funnelcast/funnelcast/internal/dataset"
)

// FeatureNames is the column order of every feature vector.
var FeatureNames = []string{
	"destination_encoded",
	"lead_source_encoded",
	"days_in_funnel",
	"is_repeat_customer",
	"duration_days",
	"inquiry_month",
	"is_peak_season",
}

var peakMonths = map[time.Month]bool{
	time.January: true, time.February: true, time.March: true,
	time.September: true, time.October: true,
}

// LabelEncoder maps categories to 1..n in sorted order. Empty and unseen
// values encode as 0.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

func FitEncoder(values []string) LabelEncoder {
	seen := make(map[string]bool)
	var classes []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return LabelEncoder{Classes: classes}
}

func (e LabelEncoder) Encode(v string) float64 {
	i := sort.SearchStrings(e.Classes, v)
	if v == "" || i == len(e.Classes) || e.Classes[i] != v {
		return 0
	}
	return float64(i + 1)
}

type Encoders struct {
	Destination LabelEncoder `json:"destination"`
	LeadSource  LabelEncoder `json:"lead_source"`
}

func FitEncoders(leads []dataset.Lead) Encoders {
	dest := make([]string, len(leads))
	src := make([]string, len(leads))
	for i, l := range leads {
		dest[i] = l.Destination
		src[i] = l.LeadSource
	}
	return Encoders{Destination: FitEncoder(dest), LeadSource: FitEncoder(src)}
}

// Features builds the vector for l in FeatureNames order. days_in_funnel
// runs from inquiry to the latest stage date the lead recorded before its
// trip (quote, booking or final payment). Concluded and open leads are
// measured the same way, so a completed lead counts up to its final
// payment just as an open final_payment lead does. The trip date and the
// reference date never enter it.
func (e Encoders) Features(l *dataset.Lead) []float64 {
	days := l.LastTransition().Sub(l.InquiryDate).Hours() / 24
	return []float64{
		e.Destination.Encode(l.Destination),
		e.LeadSource.Encode(l.LeadSource),
		days,
		boolFloat(l.RepeatCustomer),
		float64(l.DurationDays),
		float64(l.InquiryDate.Month()),
		boolFloat(peakMonths[l.InquiryDate.Month()]),
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
