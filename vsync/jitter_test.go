package vsync

import (
	"math"
	"testing"
)

func TestCalculateFeedStats(t *testing.T) {
	tests := []struct {
		name       string
		times      func() []float64
		wantStable bool
		wantHz     float64
	}{
		{
			name:       "empty",
			times:      func() []float64 { return nil },
			wantStable: false,
		},
		{
			name: "steady 72Hz",
			times: func() []float64 {
				out := make([]float64, 50)
				for i := range out {
					out[i] = float64(i) / 72
				}
				return out
			},
			wantStable: true,
			wantHz:     72,
		},
		{
			name: "steady 60Hz with one dropped callback",
			times: func() []float64 {
				out := make([]float64, 0, 50)
				for i := 0; i < 51; i++ {
					if i == 20 {
						continue
					}
					out = append(out, float64(i)/60)
				}
				return out
			},
			wantStable: true,
			wantHz:     60,
		},
		{
			name: "heavy jitter",
			times: func() []float64 {
				out := make([]float64, 50)
				var t float64
				for i := range out {
					if i%2 == 0 {
						t += 0.010
					} else {
						t += 0.022
					}
					out[i] = t
				}
				return out
			},
			wantStable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := CalculateFeedStats(tt.times())

			if stats.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v (%+v)", stats.IsStable, tt.wantStable, stats)
			}
			if tt.wantHz > 0 && math.Abs(stats.RefreshMean-tt.wantHz) > 0.01 {
				t.Errorf("RefreshMean = %.3f, want %.1f", stats.RefreshMean, tt.wantHz)
			}
		})
	}
}
