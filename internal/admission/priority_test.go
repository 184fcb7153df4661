package admission

import (
	"testing"
	"time"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/tiers"
)

func TestPriorityScore_ConcreteValues(t *testing.T) {
	// 800KB, complexity 0.2, free, normal: 50 + 5 + 4 + 0.
	if got := PriorityScore(800*1024, 0.2, models.TierFree, models.PriorityNormal); got != 59 {
		t.Fatalf("expected 59, got %d", got)
	}
	// 30MB, complexity 0.75, pro, high: 75 + 20 + 15 - 5.
	if got := PriorityScore(30*mib, 0.75, models.TierPro, models.PriorityHigh); got != 105 {
		t.Fatalf("expected 105, got %d", got)
	}
	// 30MB, complexity 1.0, enterprise, urgent: 100 + 30 + 20 - 5.
	if got := PriorityScore(30*mib, 1.0, models.TierEnterprise, models.PriorityUrgent); got != 145 {
		t.Fatalf("expected 145, got %d", got)
	}
}

func TestPriorityScore_Defaults(t *testing.T) {
	// Unknown urgency falls back to normal, unknown user tier to free.
	if got := PriorityScore(1024, 0, models.TierFree, ""); got != 55 {
		t.Fatalf("expected default base 50 + free bonus 5, got %d", got)
	}
	if got := PriorityScore(1024, 0, "platinum", models.PriorityNormal); got != 55 {
		t.Fatalf("unknown user tier should earn the free bonus, got %d", got)
	}
}

func TestPriorityScore_SizePenaltyBoundary(t *testing.T) {
	at := PriorityScore(20*mib, 0, models.TierFree, models.PriorityNormal)
	over := PriorityScore(20*mib+1, 0, models.TierFree, models.PriorityNormal)
	if at != 55 {
		t.Fatalf("file at 20MB should not be penalized, got %d", at)
	}
	if over != 50 {
		t.Fatalf("file over 20MB should pay the 5 point penalty, got %d", over)
	}
}

func TestPriorityScore_MonotonicInComplexity(t *testing.T) {
	prev := -1
	for c := 0.0; c <= 1.0; c += 0.05 {
		got := PriorityScore(10*mib, c, models.TierBasic, models.PriorityNormal)
		if got < prev {
			t.Fatalf("score decreased from %d to %d at complexity %v", prev, got, c)
		}
		prev = got
	}
}

func TestPriorityScore_WithinBounds(t *testing.T) {
	tiersList := []models.UserTier{models.TierFree, models.TierBasic, models.TierPro, models.TierEnterprise}
	priorities := []models.RequestedPriority{models.PriorityUrgent, models.PriorityHigh, models.PriorityNormal, models.PriorityLow}
	for _, u := range tiersList {
		for _, p := range priorities {
			for _, c := range []float64{0, 0.5, 1.0} {
				for _, size := range []int64{0, mib, 100 * mib} {
					got := PriorityScore(size, c, u, p)
					if got < 0 || got > PriorityMax {
						t.Fatalf("score out of range: %d for %s/%s c=%v size=%d", got, u, p, c, size)
					}
				}
			}
		}
	}
}

func TestOptimalDelay_LoadBuckets(t *testing.T) {
	offPeak := time.Date(2025, 3, 12, 3, 0, 0, 0, time.UTC)
	cases := []struct {
		load float64
		want time.Duration
	}{
		{0.0, 0},
		{0.3, 0},
		{0.45, 2 * time.Second},
		{0.6, 2 * time.Second},
		{0.75, 5 * time.Second},
		{0.8, 5 * time.Second},
		{0.85, 10 * time.Second},
		{0.9, 10 * time.Second},
		{0.95, 15 * time.Second},
		{1.0, 15 * time.Second},
	}
	for _, c := range cases {
		if got := OptimalDelay(c.load, offPeak); got != c.want {
			t.Fatalf("OptimalDelay(%v) = %s, want %s", c.load, got, c.want)
		}
	}
}

func TestOptimalDelay_PeakHourSurcharge(t *testing.T) {
	for _, hour := range []int{9, 10, 11, 14, 15, 16} {
		at := time.Date(2025, 3, 12, hour, 30, 0, 0, time.UTC)
		if got := OptimalDelay(0.1, at); got != 3*time.Second {
			t.Fatalf("hour %d should add the peak surcharge, got %s", hour, got)
		}
	}
	for _, hour := range []int{8, 12, 13, 17, 23} {
		at := time.Date(2025, 3, 12, hour, 30, 0, 0, time.UTC)
		if got := OptimalDelay(0.1, at); got != 0 {
			t.Fatalf("hour %d is off peak, expected no delay, got %s", hour, got)
		}
	}
	// The surcharge stacks on top of the load bucket.
	peak := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	if got := OptimalDelay(0.95, peak); got != 18*time.Second {
		t.Fatalf("expected 15s + 3s surcharge, got %s", got)
	}
}

func TestFormatEstimate(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45초"},
		{90 * time.Second, "1.5분"},
		{2 * time.Minute, "2분"},
		{90 * time.Minute, "1.5시간"},
		{2 * time.Hour, "2시간"},
		{500 * time.Millisecond, "1초"},
	}
	for _, c := range cases {
		if got := FormatEstimate(c.d); got != c.want {
			t.Fatalf("FormatEstimate(%s) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestEstimateProcessing_ScalesWithComplexity(t *testing.T) {
	d, s := EstimateProcessing(tiers.Instant, 0.2)
	if d != 36*time.Second || s != "36초" {
		t.Fatalf("instant at 0.2 complexity: got %s / %q", d, s)
	}
	// An ultra heavy file at full complexity doubles the 45m base.
	d, s = EstimateProcessing(tiers.UltraHeavy, 1.0)
	if d != 90*time.Minute || s != "1.5시간" {
		t.Fatalf("ultra_heavy at full complexity: got %s / %q", d, s)
	}
}
