package dataset_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelcast/funnelcast/internal/apperrors"
	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/testutil"
)

const header = "lead_id,inquiry_date,destination,trip_price,lead_source,current_stage,is_repeat_customer,quote_date,booking_date,trip_date,final_payment_date,duration_days\n"

func TestParseLeads_SkipsCommentsAndBlankLines(t *testing.T) {
	raw := "# exported 2024-01-01\n\n" + header +
		"# a comment between rows\n" +
		"L1,2023-01-05,Italy,4500.50,referral,completed,yes,2023-01-07,2023-01-20,2023-04-01,2023-03-01,10\n" +
		"\n" +
		"L2,2023-02-01,Peru,0,website,lost,,2023-02-03,,,,\n"

	leads, err := dataset.ParseLeads(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, leads, 2)

	l := leads[0]
	assert.Equal(t, "L1", l.ID)
	assert.Equal(t, dataset.StageCompleted, l.Stage)
	assert.InDelta(t, 4500.50, l.TripPrice, 1e-9)
	assert.True(t, l.RepeatCustomer)
	assert.Equal(t, 10, l.DurationDays)
	require.NotNil(t, l.TripDate)
	assert.Equal(t, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), *l.TripDate)

	assert.Equal(t, dataset.StageLost, leads[1].Stage)
	assert.False(t, leads[1].RepeatCustomer)
	assert.Nil(t, leads[1].BookingDate)
}

func TestParseLeads_WholeFloatDuration(t *testing.T) {
	raw := header + "L1,2023-01-01,Italy,100,web,inquiry,false,,,,,14.0\n"

	leads, err := dataset.ParseLeads(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 14, leads[0].DurationDays)
}

func TestParseLeads_HeaderOrderIndependent(t *testing.T) {
	raw := "current_stage,lead_id,trip_price,inquiry_date,booking_date,trip_date\n" +
		"completed,L1,1000,2023-01-01,2023-01-10,2023-03-01\n"

	leads, err := dataset.ParseLeads(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "", leads[0].Destination)
	assert.Nil(t, leads[0].QuoteDate)
}

func TestParseLeads_SchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
		row   int
	}{
		{
			name:  "missing required column",
			raw:   "lead_id,inquiry_date,trip_price,current_stage,trip_date\nL1,2023-01-01,1,inquiry,\n",
			field: "booking_date",
		},
		{
			name:  "bad inquiry date",
			raw:   header + "L1,2023-13-01,Italy,100,web,inquiry,false,,,,,\n",
			field: "inquiry_date",
			row:   1,
		},
		{
			name:  "bad trip date",
			raw:   header + "L1,2023-01-01,Italy,100,web,completed,false,,,01/03/2023,,\n",
			field: "trip_date",
			row:   1,
		},
		{
			name:  "negative price",
			raw:   header + "L1,2023-01-01,Italy,-5,web,inquiry,false,,,,,\n",
			field: "trip_price",
			row:   1,
		},
		{
			name:  "unparsable price",
			raw:   header + "L1,2023-01-01,Italy,abc,web,inquiry,false,,,,,\n",
			field: "trip_price",
			row:   1,
		},
		{
			name:  "unknown stage",
			raw:   header + "L1,2023-01-01,Italy,100,web,negotiating,false,,,,,\n",
			field: "current_stage",
			row:   1,
		},
		{
			name:  "lost with price",
			raw:   header + "L1,2023-01-01,Italy,100,web,lost,false,,,,,\n",
			field: "trip_price",
			row:   1,
		},
		{
			name: "duplicate id",
			raw: header +
				"L1,2023-01-01,Italy,100,web,inquiry,false,,,,,\n" +
				"L1,2023-01-02,Italy,100,web,inquiry,false,,,,,\n",
			field: "lead_id",
			row:   2,
		},
		{
			name:  "stage date before inquiry",
			raw:   header + "L1,2023-01-10,Italy,100,web,quote_sent,false,2023-01-01,,,,\n",
			field: "quote_date",
			row:   1,
		},
		{
			name:  "stage date beyond current stage",
			raw:   header + "L1,2023-01-01,Italy,100,web,quote_sent,false,2023-01-02,2023-01-05,,,\n",
			field: "booking_date",
			row:   1,
		},
		{
			name:  "fractional duration",
			raw:   header + "L1,2023-01-01,Italy,100,web,inquiry,false,,,,,12.5\n",
			field: "duration_days",
			row:   1,
		},
		{
			name:  "duration out of range",
			raw:   header + "L1,2023-01-01,Italy,100,web,inquiry,false,,,,,1e9\n",
			field: "duration_days",
			row:   1,
		},
		{
			name: "line too long",
			raw: header +
				"L1,2023-01-01,Italy,100,web,inquiry,false,,,,,\n" +
				"# comment lines are not counted\n" +
				"L2,2023-01-01," + strings.Repeat("x", 5*1024*1024) + ",100,web,inquiry,false,,,,,\n",
			row: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dataset.ParseLeads(strings.NewReader(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrSchema), "got %v", err)

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Contains(t, appErr.Field, tt.field)
			assert.Equal(t, tt.row, appErr.Row)
		})
	}
}

func TestLoad_InsufficientHistory(t *testing.T) {
	raw := header +
		"L1,2023-01-01,Italy,1000,web,completed,false,,2023-01-05,2023-02-01,,\n" +
		"L2,2023-02-01,Italy,1000,web,completed,false,,2023-02-05,2023-09-01,,\n"

	_, err := dataset.Load(strings.NewReader(raw), dataset.DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientHistory), "got %v", err)
}

func TestLoad_NoCompletedTrips(t *testing.T) {
	raw := header + "L1,2020-01-01,Italy,1000,web,inquiry,false,,,,,\n"

	_, err := dataset.Load(strings.NewReader(raw), dataset.DefaultOptions())
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientHistory), "got %v", err)
}

func TestLoad_GeneratedLedger(t *testing.T) {
	opts := testutil.DefaultLedgerOptions()
	raw := testutil.GenerateLedger(t, opts)

	ds, err := dataset.Load(bytes.NewReader(raw), dataset.DefaultOptions())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, ds.SpanYears, 1.0)
	require.NotEmpty(t, ds.Monthly)
	for i := 1; i < len(ds.Monthly); i++ {
		assert.Equal(t, ds.Monthly[i-1].Month.AddDate(0, 1, 0), ds.Monthly[i].Month)
	}

	var completed float64
	for _, l := range ds.Leads {
		if l.Stage == dataset.StageCompleted && l.TripDate != nil {
			completed += l.TripPrice
		}
	}
	var monthly float64
	for _, p := range append(append([]dataset.MonthlyPoint(nil), ds.Monthly...), ds.Excluded...) {
		monthly += p.Revenue
	}
	assert.InDelta(t, completed, monthly, 0.01)
}

func TestLoad_ExcludesShortTrailingMonth(t *testing.T) {
	raw, ref := testutil.ShortfallLedger(t)
	opts := dataset.DefaultOptions()
	opts.ReferenceDate = ref

	ds, err := dataset.Load(bytes.NewReader(raw), opts)
	require.NoError(t, err)

	require.Len(t, ds.Excluded, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ds.Excluded[0].Month)
	assert.Equal(t, 10, ds.Excluded[0].LeadCount)
	assert.InDelta(t, 12000, ds.Excluded[0].Revenue, 0.01)

	require.Len(t, ds.Monthly, 24)
	last := ds.Monthly[len(ds.Monthly)-1]
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), last.Month)
	assert.Equal(t, 25, last.LeadCount)
	assert.Equal(t, last.Month, ds.LastCompleteMonth())
}

func TestAggregateMonthly_ZeroFillsAndRespectsReferenceDate(t *testing.T) {
	d := func(s string) *time.Time {
		v, _ := time.Parse("2006-01-02", s)
		return &v
	}
	leads := []dataset.Lead{
		{ID: "a", Stage: dataset.StageCompleted, TripPrice: 100, TripDate: d("2023-01-15")},
		{ID: "b", Stage: dataset.StageCompleted, TripPrice: 50.25, TripDate: d("2023-01-20")},
		{ID: "c", Stage: dataset.StageCompleted, TripPrice: 300, TripDate: d("2023-04-02")},
		{ID: "d", Stage: dataset.StageCompleted, TripPrice: 900, TripDate: d("2023-06-02")},
		{ID: "e", Stage: dataset.StageBooked, TripPrice: 900, TripDate: d("2023-02-02")},
	}

	points := dataset.AggregateMonthly(leads, time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC))
	require.Len(t, points, 4)
	assert.InDelta(t, 150.25, points[0].Revenue, 1e-9)
	assert.Equal(t, 2, points[0].LeadCount)
	assert.Zero(t, points[1].Revenue)
	assert.Zero(t, points[2].LeadCount)
	assert.Equal(t, 300.0, points[3].Revenue)
}

func TestActivePipeline(t *testing.T) {
	d := func(s string) *time.Time {
		v, _ := time.Parse("2006-01-02", s)
		return &v
	}
	ref := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	ds := &dataset.Dataset{Leads: []dataset.Lead{
		{ID: "open", Stage: dataset.StageBooked, InquiryDate: *d("2024-05-01")},
		{ID: "future-inquiry", Stage: dataset.StageInquiry, InquiryDate: *d("2024-07-05")},
		{ID: "lost", Stage: dataset.StageLost, InquiryDate: *d("2024-01-01")},
		{ID: "upcoming-trip", Stage: dataset.StageCompleted, InquiryDate: *d("2024-02-01"), TripDate: d("2024-08-10")},
		{ID: "past-trip", Stage: dataset.StageCompleted, InquiryDate: *d("2024-01-01"), TripDate: d("2024-03-10")},
	}}

	active := ds.ActivePipeline(ref)
	require.Len(t, active, 2)
	assert.Equal(t, "open", active[0].ID)
	assert.Equal(t, "upcoming-trip", active[1].ID)
	assert.Equal(t, dataset.StageFinalPayment, active[1].Stage)
	// The source ledger is untouched.
	assert.Equal(t, dataset.StageCompleted, ds.Leads[3].Stage)
}

func TestStats(t *testing.T) {
	opts := testutil.DefaultLedgerOptions()
	ds, err := dataset.Load(bytes.NewReader(testutil.GenerateLedger(t, opts)), dataset.DefaultOptions())
	require.NoError(t, err)

	st := ds.Stats(opts.AsOf())
	assert.Equal(t, len(ds.Leads), st.TotalLeads)
	assert.Greater(t, st.CompletedTrips, 0)
	assert.GreaterOrEqual(t, st.ConversionRate, 0.0)
	assert.LessOrEqual(t, st.ConversionRate, 1.0)
	assert.LessOrEqual(t, st.Revenue.Min, st.Revenue.Median)
	assert.LessOrEqual(t, st.Revenue.Median, st.Revenue.Max)

	var sourceTotal int
	for _, c := range st.LeadSources {
		sourceTotal += c.Count
	}
	assert.Equal(t, st.TotalLeads, sourceTotal)
	assert.Equal(t, len(ds.ActivePipeline(opts.AsOf())), st.ActiveLeads)
}
