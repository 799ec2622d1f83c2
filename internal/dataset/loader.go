// Package dataset parses the lead ledger, validates it, and derives the
// monthly revenue series used for training and inference.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funnelcast/funnelcast/internal/apperrors"
)

const dateLayout = "2006-01-02"

// MaxDurationDays bounds duration_days.
const MaxDurationDays = 365

// maxLineBytes bounds a single ledger line.
const maxLineBytes = 4 * 1024 * 1024

// Columns in ledger order. Matching is by header name.
var Columns = []string{
	"lead_id", "inquiry_date", "destination", "trip_price", "lead_source",
	"current_stage", "is_repeat_customer", "quote_date", "booking_date",
	"trip_date", "final_payment_date", "duration_days",
}

// RequiredColumns must be present in the header.
var RequiredColumns = []string{
	"lead_id", "inquiry_date", "trip_price", "current_stage", "trip_date", "booking_date",
}

// Options control validation and monthly series preparation.
type Options struct {
	MinYears float64
	// ReferenceDate, when set, drops completed trips after it from the
	// monthly series.
	ReferenceDate time.Time
	Incomplete    IncompleteRule
}

func DefaultOptions() Options {
	return Options{
		MinYears:   1.0,
		Incomplete: DefaultIncompleteRule(),
	}
}

// Dataset is the validated ledger plus its derived monthly series.
type Dataset struct {
	Leads []Lead
	// Monthly has trailing incomplete months removed; Excluded holds them.
	Monthly   []MonthlyPoint
	Excluded  []MonthlyPoint
	FirstTrip time.Time
	LastTrip  time.Time
	SpanYears float64
}

// Load parses and validates a raw ledger.
func Load(r io.Reader, opts Options) (*Dataset, error) {
	leads, err := ParseLeads(r)
	if err != nil {
		return nil, err
	}
	return FromLeads(leads, opts)
}

// FromLeads validates history length and builds the monthly series.
func FromLeads(leads []Lead, opts Options) (*Dataset, error) {
	ds := &Dataset{Leads: leads}

	first, last, ok := tripRange(leads, time.Time{})
	if !ok {
		return nil, apperrors.InsufficientHistory("no completed trips with a trip_date; need at least %.1f years of history", opts.MinYears)
	}
	ds.FirstTrip, ds.LastTrip = first, last
	ds.SpanYears = last.Sub(first).Hours() / 24 / 365.25
	if ds.SpanYears < opts.MinYears {
		return nil, apperrors.InsufficientHistory("historical data spans only %.2f years (%s to %s); minimum %.1f years required",
			ds.SpanYears, first.Format(dateLayout), last.Format(dateLayout), opts.MinYears)
	}

	points := AggregateMonthly(leads, opts.ReferenceDate)
	if len(points) == 0 {
		return nil, apperrors.InsufficientHistory("no completed trips on or before %s", opts.ReferenceDate.Format(dateLayout))
	}
	ds.Monthly, ds.Excluded = opts.Incomplete.Apply(points)
	return ds, nil
}

// ParseLeads reads the CSV ledger. Lines starting with '#' and blank lines
// are ignored. Row numbers in errors count data rows after those lines are
// dropped, starting at 1 for the first row below the header.
func ParseLeads(r io.Reader) ([]Lead, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	kept := 0
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		kept++
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			// kept counts the header, so the offending line is data row kept.
			return nil, &apperrors.Error{
				Code:    apperrors.CodeSchema,
				Message: fmt.Sprintf("line exceeds %d bytes", maxLineBytes),
				Row:     kept,
				Cause:   err,
			}
		}
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	cr := csv.NewReader(strings.NewReader(b.String()))
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Schema("", 0, "dataset is empty")
	}
	if err != nil {
		return nil, &apperrors.Error{Code: apperrors.CodeSchema, Message: "malformed header", Cause: err}
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.Schema(strings.Join(missing, ","), 0, "missing required columns: %s", strings.Join(missing, ", "))
	}

	seen := make(map[string]int)
	var leads []Lead
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &apperrors.Error{Code: apperrors.CodeSchema, Message: "malformed row", Row: row, Cause: err}
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		lead, err := parseRow(row, get)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[lead.ID]; dup {
			return nil, apperrors.Schema("lead_id", row, "duplicate lead_id %q (first seen on row %d)", lead.ID, prev)
		}
		seen[lead.ID] = row
		leads = append(leads, lead)
	}

	if len(leads) == 0 {
		return nil, apperrors.Schema("", 0, "dataset has a header but no rows")
	}
	return leads, nil
}

func parseRow(row int, get func(string) string) (Lead, error) {
	var l Lead

	l.ID = get("lead_id")
	if l.ID == "" {
		return l, apperrors.Schema("lead_id", row, "lead_id is required")
	}

	inquiry, err := parseDate(get("inquiry_date"))
	if err != nil {
		return l, apperrors.Schema("inquiry_date", row, "unparsable date %q", get("inquiry_date"))
	}
	if inquiry == nil {
		return l, apperrors.Schema("inquiry_date", row, "inquiry_date is required")
	}
	l.InquiryDate = *inquiry

	stage, ok := ParseStage(strings.ToLower(get("current_stage")))
	if !ok {
		return l, apperrors.Schema("current_stage", row, "unknown stage %q", get("current_stage"))
	}
	l.Stage = stage

	price := decimal.Zero
	if raw := get("trip_price"); raw != "" {
		price, err = decimal.NewFromString(raw)
		if err != nil {
			return l, apperrors.Schema("trip_price", row, "unparsable price %q", raw)
		}
	}
	if price.IsNegative() {
		return l, apperrors.Schema("trip_price", row, "price must be >= 0, got %s", price)
	}
	if (stage == StageLost || stage == StageCancelled) && !price.IsZero() {
		return l, apperrors.Schema("trip_price", row, "price must be 0 for %s leads, got %s", stage, price)
	}
	l.TripPrice = price.InexactFloat64()

	l.Destination = get("destination")
	l.LeadSource = get("lead_source")

	l.RepeatCustomer, err = parseFlag(get("is_repeat_customer"))
	if err != nil {
		return l, apperrors.Schema("is_repeat_customer", row, "unparsable flag %q", get("is_repeat_customer"))
	}

	if raw := get("duration_days"); raw != "" {
		// Tolerate "14.0" as written by spreadsheet exports.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) {
			return l, apperrors.Schema("duration_days", row, "unparsable duration %q", raw)
		}
		if f < 0 || f > MaxDurationDays || f != math.Trunc(f) {
			return l, apperrors.Schema("duration_days", row, "duration must be a whole number of days between 0 and %d, got %q", MaxDurationDays, raw)
		}
		l.DurationDays = int(f)
	}

	dates := []struct {
		col  string
		dst  **time.Time
		rank int
	}{
		{"quote_date", &l.QuoteDate, StageQuoteSent.Rank()},
		{"booking_date", &l.BookingDate, StageBooked.Rank()},
		{"final_payment_date", &l.FinalPaymentDate, StageFinalPayment.Rank()},
		{"trip_date", &l.TripDate, -1},
	}
	for _, d := range dates {
		parsed, err := parseDate(get(d.col))
		if err != nil {
			return l, apperrors.Schema(d.col, row, "unparsable date %q", get(d.col))
		}
		if parsed == nil {
			continue
		}
		if parsed.Before(l.InquiryDate) {
			return l, apperrors.Schema(d.col, row, "%s %s is before inquiry_date %s",
				d.col, parsed.Format(dateLayout), l.InquiryDate.Format(dateLayout))
		}
		// Active leads cannot carry dates for stages they have not reached.
		if r := stage.Rank(); d.rank > 0 && r >= 0 && r < d.rank {
			return l, apperrors.Schema(d.col, row, "%s is set but lead is only at stage %s", d.col, stage)
		}
		*d.dst = parsed
	}

	return l, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "nat") {
		return nil, nil
	}
	// Accept full timestamps by keeping the date part.
	if len(s) > len(dateLayout) && (s[len(dateLayout)] == ' ' || s[len(dateLayout)] == 'T') {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "false", "no", "n", "0.0":
		return false, nil
	case "1", "true", "yes", "y", "1.0":
		return true, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}

// tripRange returns the earliest and latest completed trip dates, optionally
// capped at ref.
func tripRange(leads []Lead, ref time.Time) (first, last time.Time, ok bool) {
	for i := range leads {
		l := &leads[i]
		if l.Stage != StageCompleted || l.TripDate == nil {
			continue
		}
		if !ref.IsZero() && l.TripDate.After(ref) {
			continue
		}
		if !ok || l.TripDate.Before(first) {
			first = *l.TripDate
		}
		if !ok || l.TripDate.After(last) {
			last = *l.TripDate
		}
		ok = true
	}
	return first, last, ok
}

// AggregateMonthly sums completed-trip revenue by trip month. Months without
// trips between the first and last month are zero-filled.
func AggregateMonthly(leads []Lead, ref time.Time) []MonthlyPoint {
	first, last, ok := tripRange(leads, ref)
	if !ok {
		return nil
	}
	start, end := MonthStart(first), MonthStart(last)
	n := MonthsBetween(start, end) + 1

	revenue := make([]decimal.Decimal, n)
	counts := make([]int, n)
	for i := range leads {
		l := &leads[i]
		if l.Stage != StageCompleted || l.TripDate == nil {
			continue
		}
		if !ref.IsZero() && l.TripDate.After(ref) {
			continue
		}
		idx := MonthsBetween(start, MonthStart(*l.TripDate))
		revenue[idx] = revenue[idx].Add(decimal.NewFromFloat(l.TripPrice))
		counts[idx]++
	}

	points := make([]MonthlyPoint, n)
	for i := range points {
		points[i] = MonthlyPoint{
			Month:     start.AddDate(0, i, 0),
			Revenue:   revenue[i].InexactFloat64(),
			LeadCount: counts[i],
		}
	}
	return points
}

// ActivePipeline returns the open leads as of ref. Completed leads whose trip
// is still in the future are revenue not yet realized and are treated as
// final_payment.
func (d *Dataset) ActivePipeline(ref time.Time) []Lead {
	var active []Lead
	for _, l := range d.Leads {
		switch {
		case !l.Stage.Terminal():
			if l.InquiryDate.After(ref) {
				continue
			}
			active = append(active, l)
		case l.Stage == StageCompleted && l.TripDate != nil && l.TripDate.After(ref):
			l.Stage = StageFinalPayment
			active = append(active, l)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// Concluded returns leads with a known outcome.
func (d *Dataset) Concluded() []Lead {
	var out []Lead
	for _, l := range d.Leads {
		if l.Concluded() {
			out = append(out, l)
		}
	}
	return out
}

// LastCompleteMonth is the final month of the prepared series.
func (d *Dataset) LastCompleteMonth() time.Time {
	if len(d.Monthly) == 0 {
		return time.Time{}
	}
	return d.Monthly[len(d.Monthly)-1].Month
}
