package vsync

import "math"

const (
	// refreshStabilityThreshold is the maximum allowed refresh-rate standard
	// deviation as a fraction of the mean rate.
	// Example: 60 Hz mean → stable if stddev < 3 Hz
	refreshStabilityThreshold = 0.05

	// jitterStabilityThreshold is the maximum allowed mean jitter as a
	// fraction of the mean period.
	// Example: 60 Hz (16.7ms) → stable if jitter < 1.7ms
	jitterStabilityThreshold = 0.10

	// minStableSamples is the window size below which a feed is never
	// reported stable.
	minStableSamples = 10
)

// FeedStats describes the recent behaviour of the vsync feed.
type FeedStats struct {
	Samples int

	RefreshMean   float64 // Hz
	RefreshStdDev float64 // Hz
	RefreshMin    float64 // Hz
	RefreshMax    float64 // Hz

	// Jitter is |interval - mean interval| in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	IsStable bool
}

// CalculateFeedStats calculates refresh statistics from sample timestamps
// (seconds, ascending).
//
// This function:
//  1. Calculates the mean refresh rate over the whole window
//  2. Calculates the instantaneous rate of each interval
//  3. Finds min/max instantaneous rate and its standard deviation
//  4. Calculates jitter (deviation of each interval from the mean interval)
//  5. Determines stability (stddev < 5% of mean AND jitter < 10% of period)
//
// Intervals spanning a dropped callback (> 1.5x the mean) are excluded from
// the per-interval rate so a single missed event does not mark the feed
// unstable.
func CalculateFeedStats(times []float64) *FeedStats {
	n := len(times)
	if n < 2 {
		return &FeedStats{Samples: n}
	}

	total := times[n-1] - times[0]
	if total <= 0 {
		return &FeedStats{Samples: n}
	}
	meanInterval := total / float64(n-1)

	intervals := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := times[i] - times[i-1]
		if interval > 0 && interval < 1.5*meanInterval {
			intervals = append(intervals, interval)
		}
	}
	if len(intervals) == 0 {
		return &FeedStats{Samples: n, RefreshMean: 1 / meanInterval}
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	meanInterval = sum / float64(len(intervals))
	refreshMean := 1 / meanInterval

	refreshMin := 1 / intervals[0]
	refreshMax := refreshMin
	var sumSquares float64
	for _, iv := range intervals {
		hz := 1 / iv
		refreshMin = math.Min(refreshMin, hz)
		refreshMax = math.Max(refreshMax, hz)
		diff := hz - refreshMean
		sumSquares += diff * diff
	}
	refreshStdDev := math.Sqrt(sumSquares / float64(len(intervals)))

	var jitterSum, jitterMax float64
	jitters := make([]float64, len(intervals))
	for i, iv := range intervals {
		j := math.Abs(iv - meanInterval)
		jitters[i] = j
		jitterSum += j
		jitterMax = math.Max(jitterMax, j)
	}
	jitterMean := jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - jitterMean
		jitterSumSquares += diff * diff
	}
	jitterStdDev := math.Sqrt(jitterSumSquares / float64(len(jitters)))

	stable := n >= minStableSamples &&
		refreshStdDev < refreshMean*refreshStabilityThreshold &&
		jitterMean < meanInterval*jitterStabilityThreshold

	return &FeedStats{
		Samples:       n,
		RefreshMean:   refreshMean,
		RefreshStdDev: refreshStdDev,
		RefreshMin:    refreshMin,
		RefreshMax:    refreshMax,
		JitterMean:    jitterMean,
		JitterStdDev:  jitterStdDev,
		JitterMax:     jitterMax,
		IsStable:      stable,
	}
}
