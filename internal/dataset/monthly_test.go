package dataset_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnelcast/funnelcast/internal/dataset"
)

func series(start time.Time, values ...[2]float64) []dataset.MonthlyPoint {
	points := make([]dataset.MonthlyPoint, len(values))
	for i, v := range values {
		points[i] = dataset.MonthlyPoint{
			Month:     start.AddDate(0, i, 0),
			LeadCount: int(v[0]),
			Revenue:   v[1],
		}
	}
	return points
}

var jan = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func TestIncompleteRule_DropsUnderReportedTrailingMonth(t *testing.T) {
	points := series(jan,
		[2]float64{25, 50000}, [2]float64{25, 50000}, [2]float64{25, 50000},
		[2]float64{25, 50000}, [2]float64{25, 50000}, [2]float64{25, 50000},
		[2]float64{10, 12000},
	)

	kept, excluded := dataset.DefaultIncompleteRule().Apply(points)
	require.Len(t, kept, 6)
	require.Len(t, excluded, 1)
	assert.Equal(t, jan.AddDate(0, 6, 0), excluded[0].Month)
}

func TestIncompleteRule_KeepsCompleteMonth(t *testing.T) {
	points := series(jan,
		[2]float64{25, 50000}, [2]float64{25, 50000}, [2]float64{25, 50000},
		[2]float64{20, 40000},
	)

	kept, excluded := dataset.DefaultIncompleteRule().Apply(points)
	assert.Len(t, kept, 4)
	assert.Empty(t, excluded)
}

func TestIncompleteRule_LowLeadCountAlone(t *testing.T) {
	points := series(jan,
		[2]float64{20, 40000}, [2]float64{20, 40000}, [2]float64{20, 40000},
		[2]float64{9, 39000},
	)

	_, excluded := dataset.DefaultIncompleteRule().Apply(points)
	assert.Len(t, excluded, 1)
}

func TestIncompleteRule_DropsConsecutiveRunOnly(t *testing.T) {
	points := series(jan,
		[2]float64{20, 40000}, [2]float64{20, 40000}, [2]float64{20, 40000},
		[2]float64{20, 40000}, [2]float64{5, 5000}, [2]float64{20, 40000},
		[2]float64{6, 8000}, [2]float64{2, 2000},
	)

	kept, excluded := dataset.DefaultIncompleteRule().Apply(points)
	// The under-reported month at index 4 is not trailing and stays.
	assert.Len(t, kept, 6)
	require.Len(t, excluded, 2)
	assert.Equal(t, jan.AddDate(0, 6, 0), excluded[0].Month)
	assert.Equal(t, jan.AddDate(0, 7, 0), excluded[1].Month)
}

func TestIncompleteRule_ScanIsBounded(t *testing.T) {
	values := [][2]float64{}
	for range 6 {
		values = append(values, [2]float64{30, 90000})
	}
	for range 6 {
		values = append(values, [2]float64{0, 0})
	}
	points := series(jan, values...)

	kept, excluded := dataset.DefaultIncompleteRule().Apply(points)
	assert.Len(t, excluded, 4)
	assert.Len(t, kept, 8)
}

func TestIncompleteRule_NearZeroFloor(t *testing.T) {
	points := series(jan,
		[2]float64{1, 1500}, [2]float64{1, 1500}, [2]float64{1, 900},
	)

	_, excluded := dataset.DefaultIncompleteRule().Apply(points)
	assert.Len(t, excluded, 1)

	rule := dataset.DefaultIncompleteRule()
	rule.MinRevenue = 0
	_, excluded = rule.Apply(points)
	assert.Empty(t, excluded)
}

func TestIncompleteRule_AlwaysKeepsOneMonth(t *testing.T) {
	points := series(jan, [2]float64{0, 0})

	kept, excluded := dataset.DefaultIncompleteRule().Apply(points)
	assert.Len(t, kept, 1)
	assert.Empty(t, excluded)
}

func TestTrailingAverage(t *testing.T) {
	points := series(jan,
		[2]float64{1, 100}, [2]float64{1, 200}, [2]float64{1, 300}, [2]float64{1, 1000},
	)

	assert.InDelta(t, 200.0, dataset.TrailingAverage(points, 3, 6), 1e-9)
	assert.InDelta(t, 250.0, dataset.TrailingAverage(points, 3, 2), 1e-9)
	assert.Zero(t, dataset.TrailingAverage(points, 0, 6))
}
