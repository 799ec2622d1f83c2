package dataset

import "time"

type Stage string

const (
	StageInquiry      Stage = "inquiry"
	StageQuoteSent    Stage = "quote_sent"
	StageBooked       Stage = "booked"
	StageFinalPayment Stage = "final_payment"
	StageCompleted    Stage = "completed"
	StageLost         Stage = "lost"
	StageCancelled    Stage = "cancelled"
)

// FunnelStages are the non-terminal stages in funnel order.
var FunnelStages = []Stage{StageInquiry, StageQuoteSent, StageBooked, StageFinalPayment}

func ParseStage(s string) (Stage, bool) {
	switch st := Stage(s); st {
	case StageInquiry, StageQuoteSent, StageBooked, StageFinalPayment,
		StageCompleted, StageLost, StageCancelled:
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageLost || s == StageCancelled
}

// Rank is the position in the funnel: inquiry=0 .. final_payment=3,
// completed=4. Lost and cancelled have no rank (-1).
func (s Stage) Rank() int {
	switch s {
	case StageInquiry:
		return 0
	case StageQuoteSent:
		return 1
	case StageBooked:
		return 2
	case StageFinalPayment:
		return 3
	case StageCompleted:
		return 4
	}
	return -1
}

// Lead is one row of the ledger. Optional dates are nil when empty.
type Lead struct {
	ID               string
	InquiryDate      time.Time
	Destination      string
	TripPrice        float64
	LeadSource       string
	Stage            Stage
	RepeatCustomer   bool
	QuoteDate        *time.Time
	BookingDate      *time.Time
	TripDate         *time.Time
	FinalPaymentDate *time.Time
	DurationDays     int
}

// Reached reports whether the lead got at least as far as stage s.
// Completed leads reached every funnel stage; lost and cancelled leads are
// judged by which stage dates were recorded.
func (l *Lead) Reached(s Stage) bool {
	if l.Stage == StageCompleted {
		return true
	}
	if r := l.Stage.Rank(); r >= 0 {
		return r >= s.Rank()
	}
	switch s {
	case StageInquiry:
		return true
	case StageQuoteSent:
		return l.QuoteDate != nil || l.BookingDate != nil || l.FinalPaymentDate != nil
	case StageBooked:
		return l.BookingDate != nil || l.FinalPaymentDate != nil
	case StageFinalPayment:
		return l.FinalPaymentDate != nil
	}
	return false
}

// EnteredAt returns the date the lead entered stage s, if recorded.
func (l *Lead) EnteredAt(s Stage) (time.Time, bool) {
	var d *time.Time
	switch s {
	case StageInquiry:
		return l.InquiryDate, true
	case StageQuoteSent:
		d = l.QuoteDate
	case StageBooked:
		d = l.BookingDate
	case StageFinalPayment:
		d = l.FinalPaymentDate
	}
	if d == nil {
		return time.Time{}, false
	}
	return *d, true
}

// LastTransition is the most recent funnel date recorded before the trip.
func (l *Lead) LastTransition() time.Time {
	last := l.InquiryDate
	for _, d := range []*time.Time{l.QuoteDate, l.BookingDate, l.FinalPaymentDate} {
		if d != nil && d.After(last) {
			last = *d
		}
	}
	return last
}

// Concluded leads have a known outcome.
func (l *Lead) Concluded() bool {
	return l.Stage.Terminal()
}

// MonthlyPoint is one calendar month of realized revenue.
type MonthlyPoint struct {
	Month     time.Time `json:"month"`
	Revenue   float64   `json:"revenue"`
	LeadCount int       `json:"lead_count"`
}

// MonthStart truncates t to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween counts whole calendar months from a to b.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
