// Package postcorrect implements per-megafield background estimation and
// per-section correction (spec §4.D, component D). It samples a global set
// of raw tiles, derives robust statistics (median, unsigned MAD) over their
// lowest-resolution pyramid page, marks sections clean or failed, and
// rewrites clean sections against an estimated background with a restored
// mean level. The numeric style (flat slice walks, explicit box-filter-like
// accumulation) follows the teacher's internal/tile/downsample.go.
package postcorrect

import (
	"math"
	"sort"
)

// Percentile returns the value at fraction pct (0 < pct < 1) of a sorted
// copy of samples, using linear interpolation between the two closest
// ranks. samples are not modified.
func Percentile(samples []uint16, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]uint16, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pos := pct * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return float64(sorted[lo])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo])*(1-frac) + float64(sorted[hi])*frac
}

// Median returns the median of vals. vals is not modified.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MAD returns the unsigned median absolute deviation of vals around center.
// Per spec §9 Design Notes, this must be computed from unsigned deviations;
// an earlier signed variant was a bug and must not be reintroduced.
func MAD(vals []float64, center float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - center)
	}
	return Median(devs)
}

// IsClean reports whether value falls within center ± multiplier*mad.
func IsClean(value, center, mad, multiplier float64) bool {
	lo := center - multiplier*mad
	hi := center + multiplier*mad
	return value >= lo && value <= hi
}
