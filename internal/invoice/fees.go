package invoice

import "math"

// FeeBreakdown holds the performance fee figures computed for one entity.
// All values are raw float64; formatting happens at render time.
type FeeBreakdown struct {
	ExcessReturn      float64
	PerformanceFee    float64
	TotalFees         float64
	AdjustedTotalFees float64
	AdjustedFinalFees float64
}

// ComputeFees derives the performance fee for an entity. The fee is earned
// only when since-inception performance strictly exceeds the since-inception
// benchmark; the fee cap bounds the charge as a percentage of year-end
// market value. Quarterly asset-based fees already billed are display-only
// and never feed the total.
func ComputeFees(row EntityRow) FeeBreakdown {
	excessReturn := math.Max(row.InceptionPerformance/100-row.InceptionBenchmark/100, 0)

	performanceFee := 0.0
	if row.InceptionPerformance > row.InceptionBenchmark {
		performanceFee = excessReturn * row.PerformanceFeeRate * row.PeriodEndingMarketValue / 100 / 100
	}

	totalFees := performanceFee
	adjustedTotalFees := math.Min(row.FeeCap*row.PeriodEndingMarketValue/100, totalFees)

	return FeeBreakdown{
		ExcessReturn:      excessReturn,
		PerformanceFee:    performanceFee,
		TotalFees:         totalFees,
		AdjustedTotalFees: adjustedTotalFees,
		AdjustedFinalFees: adjustedTotalFees,
	}
}
