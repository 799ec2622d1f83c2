// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"encoding/csv"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/funnelcast/funnelcast/internal/artifact"
)

// SetupTestStore opens an artifact store in a temp dir that is closed when
// the test finishes.
func SetupTestStore(t *testing.T) *artifact.SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := artifact.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// LedgerOptions shape a synthetic lead ledger.
type LedgerOptions struct {
	Start         time.Time
	Months        int
	LeadsPerMonth int
	Seed          uint64
}

func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{
		Start:         time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		Months:        30,
		LeadsPerMonth: 40,
		Seed:          7,
	}
}

// AsOf is the snapshot date of a generated ledger: the last day of the
// final inquiry month.
func (o LedgerOptions) AsOf() time.Time {
	return o.Start.AddDate(0, o.Months, -1)
}

var (
	destinations = []string{"Italy", "Japan", "Peru", "Iceland", "Kenya"}
	sources      = []string{"referral", "website", "instagram", "agent"}
	peak         = map[time.Month]float64{1: 1.3, 2: 1.3, 3: 1.2, 9: 1.2, 10: 1.3}
)

// GenerateLedger builds a deterministic CSV ledger. Leads whose outcome
// falls after AsOf are left in the stage they had reached by then.
func GenerateLedger(t testing.TB, opts LedgerOptions) []byte {
	t.Helper()

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	asOf := opts.AsOf()

	var buf bytes.Buffer
	buf.WriteString("# synthetic ledger\n")
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"lead_id", "inquiry_date", "destination", "trip_price", "lead_source",
		"current_stage", "is_repeat_customer", "quote_date", "booking_date",
		"trip_date", "final_payment_date", "duration_days",
	})

	id := 0
	for m := 0; m < opts.Months; m++ {
		month := opts.Start.AddDate(0, m, 0)
		n := int(float64(opts.LeadsPerMonth) * factor(month.Month()))
		for i := 0; i < n; i++ {
			id++
			inquiry := month.AddDate(0, 0, rng.IntN(28))
			price := float64(2000 + 500*rng.IntN(13))
			repeat := rng.Float64() < 0.2
			if repeat {
				price *= 1.1
			}
			quote := inquiry.AddDate(0, 0, 2+rng.IntN(6))
			booking := quote.AddDate(0, 0, 5+rng.IntN(15))
			final := booking.AddDate(0, 0, 20+rng.IntN(30))
			trip := final.AddDate(0, 0, 15+rng.IntN(60))

			outcome := rng.Float64()
			if repeat {
				outcome *= 0.7
			}
			var stage string
			var dates [4]*time.Time // quote, booking, final, trip
			switch {
			case outcome < 0.35:
				stage = "completed"
				dates = [4]*time.Time{&quote, &booking, &final, &trip}
			case outcome < 0.45:
				stage = "cancelled"
				dates = [4]*time.Time{&quote, &booking, nil, nil}
			case outcome < 0.70:
				stage = "lost"
				dates = [4]*time.Time{&quote, nil, nil, nil}
			default:
				stage = "lost"
			}

			// Outcomes not known by asOf leave the lead open at the last
			// stage it reached.
			resolved := inquiry.AddDate(0, 0, 14)
			switch {
			case stage == "completed":
				resolved = trip
			case stage == "cancelled":
				resolved = booking.AddDate(0, 0, 7)
			case dates[0] != nil:
				resolved = quote.AddDate(0, 0, 14)
			}
			if resolved.After(asOf) {
				stage = "inquiry"
				for k, name := range []string{"quote_sent", "booked", "final_payment"} {
					if dates[k] == nil || dates[k].After(asOf) {
						for j := k; j < 3; j++ {
							dates[j] = nil
						}
						break
					}
					stage = name
				}
			}

			priceStr := strconv.FormatFloat(price, 'f', 2, 64)
			if stage == "lost" || stage == "cancelled" {
				priceStr = "0"
			}
			_ = w.Write([]string{
				"L" + strconv.Itoa(id),
				inquiry.Format("2006-01-02"),
				destinations[rng.IntN(len(destinations))],
				priceStr,
				sources[rng.IntN(len(sources))],
				stage,
				strconv.FormatBool(repeat),
				fmtDate(dates[0]),
				fmtDate(dates[1]),
				fmtDate(dates[3]),
				fmtDate(dates[2]),
				strconv.Itoa(5 + rng.IntN(14)),
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	return buf.Bytes()
}

func factor(m time.Month) float64 {
	if f, ok := peak[m]; ok {
		return f
	}
	return 0.8
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// ShortfallLedger builds 24 steady months (25 trips, about $50k each) from
// January 2022 followed by January 2024 with only 10 trips worth $12,000,
// the pattern of a month still being entered. Each month also carries lost
// leads so the lead scorer sees both outcomes. The returned date is the end
// of the short month.
func ShortfallLedger(t testing.TB) ([]byte, time.Time) {
	t.Helper()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{
		"lead_id", "inquiry_date", "destination", "trip_price", "lead_source",
		"current_stage", "is_repeat_customer", "quote_date", "booking_date",
		"trip_date", "final_payment_date", "duration_days",
	})

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	id := 0
	for m := range 25 {
		month := start.AddDate(0, m, 0)
		trips, price := 25, 2000.0+40*float64(m%6)
		if m == 24 {
			trips, price = 10, 1200
		}
		for i := range trips {
			id++
			trip := month.AddDate(0, 0, i%27)
			inquiry := trip.AddDate(0, 0, -75)
			quote, booking, final := inquiry.AddDate(0, 0, 3), inquiry.AddDate(0, 0, 12), inquiry.AddDate(0, 0, 40)
			_ = w.Write([]string{
				"L" + strconv.Itoa(id), fmtDate(&inquiry), destinations[i%len(destinations)],
				strconv.FormatFloat(price, 'f', 2, 64), sources[i%len(sources)], "completed",
				strconv.FormatBool(i%5 == 0), fmtDate(&quote), fmtDate(&booking),
				fmtDate(&trip), fmtDate(&final), "10",
			})
		}
		for i := range 10 {
			id++
			inquiry := month.AddDate(0, 0, i)
			quote := inquiry.AddDate(0, 0, 4)
			_ = w.Write([]string{
				"L" + strconv.Itoa(id), fmtDate(&inquiry), destinations[(i+2)%len(destinations)],
				"0", sources[(i+1)%len(sources)], "lost", "false",
				fmtDate(&quote), "", "", "", "",
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("failed to write ledger: %v", err)
	}
	return buf.Bytes(), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
}
