package metrics

import (
	"math"
	"sort"
)

// =============================================================================
// 통계 유틸리티
// =============================================================================

// TradingDaysPerYear is used to annualize daily statistics
const TradingDaysPerYear = 252

// VaRResult is a historical-simulation VaR with its expected shortfall.
// Losses are expressed as positive fractions (0.05 = 5% loss).
type VaRResult struct {
	Confidence float64
	VaR        float64
	CVaR       float64
}

// HistoricalVaR 과거 수익률 기반 VaR 계산 (Historical Simulation)
func HistoricalVaR(returns []float64, confidence float64) VaRResult {
	if len(returns) == 0 {
		return VaRResult{Confidence: confidence}
	}

	// 오름차순 정렬: 손실이 앞에
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor((1.0 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	var v float64
	if sorted[idx] < 0 {
		v = -sorted[idx]
	}

	return VaRResult{
		Confidence: confidence,
		VaR:        v,
		CVaR:       tailLoss(sorted, idx),
	}
}

// tailLoss is the mean loss of sorted[0..idx]
func tailLoss(sorted []float64, idx int) float64 {
	if len(sorted) == 0 || idx < 0 {
		return 0
	}
	var sum float64
	for i := 0; i <= idx && i < len(sorted); i++ {
		sum += sorted[i]
	}
	avg := sum / float64(idx+1)
	if avg < 0 {
		return -avg
	}
	return 0
}

// DailyReturns computes simple returns, skipping non-positive prior closes
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// Mean 평균 계산
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

// StdDev 표본 표준편차
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// Covariance 표본 공분산. Slices must have equal length.
func Covariance(a, b []float64) float64 {
	if len(a) < 2 || len(a) != len(b) {
		return 0
	}
	ma, mb := Mean(a), Mean(b)
	var sum float64
	for i := range a {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(len(a)-1)
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction
func MaxDrawdown(closes []float64) float64 {
	var peak, maxDD float64
	for _, p := range closes {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			if dd := (peak - p) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
