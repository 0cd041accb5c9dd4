package analysis

import (
	"math"

	"github.com/example/claim-insights/internal/dataset"
)

// AveragedColumns are the numeric columns summarised in every report.
var AveragedColumns = []string{"assured_age", "premium", "annual_income"}

// Averages maps a column name to its mean. A nil value means the column was
// absent, held no numeric cells or overflowed, and encodes as JSON null.
type Averages map[string]*float64

// ComputeAverages returns the mean of each tracked column.
func ComputeAverages(ds *dataset.Dataset) Averages {
	out := make(Averages, len(AveragedColumns))
	for _, col := range AveragedColumns {
		values, ok := ds.Floats(col)
		if !ok || len(values) == 0 {
			out[col] = nil
			continue
		}
		mean := Mean(values)
		if math.IsNaN(mean) || math.IsInf(mean, 0) {
			out[col] = nil
			continue
		}
		out[col] = &mean
	}
	return out
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
