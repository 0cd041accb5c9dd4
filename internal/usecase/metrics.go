package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalAnalyses              int64   `json:"total_analyses"`
	TotalRows                  int64   `json:"total_rows"`
	AverageRowsPerAnalysis     float64 `json:"average_rows_per_analysis"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates analysis metrics from persisted logs.
func (uc *AnalysisUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAnalyses:              aggregation.TotalCount,
		TotalRows:                  aggregation.TotalRows,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.AverageRowsPerAnalysis = float64(aggregation.TotalRows) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
