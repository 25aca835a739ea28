package compliance

import "math"

// ComputeTrend classifies the change from previous to recent usage minutes.
func ComputeTrend(recent, previous int) Trend {
	if previous == 0 {
		if recent > 0 {
			return Trend{Direction: Increasing, Percentage: 100}
		}
		return Trend{Direction: Stable, Percentage: 0}
	}

	change := float64(recent-previous) / float64(previous) * 100
	switch {
	case change > TrendDeadBandPercent:
		return Trend{Direction: Increasing, Percentage: round(change, 1)}
	case change < -TrendDeadBandPercent:
		return Trend{Direction: Decreasing, Percentage: round(math.Abs(change), 1)}
	default:
		return Trend{Direction: Stable, Percentage: round(math.Abs(change), 1)}
	}
}

// round rounds x half away from zero to the given number of decimals.
func round(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(x*scale) / scale
}
