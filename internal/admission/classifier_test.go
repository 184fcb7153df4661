package admission

import (
	"testing"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/tiers"
)

func TestClassifyQueue_RuleOrder(t *testing.T) {
	cases := []struct {
		name       string
		size       int64
		complexity float64
		user       models.UserTier
		want       tiers.Tier
	}{
		{"small simple file", 800 * 1024, 0.2, models.TierFree, tiers.Instant},
		{"pro mid-size file gets priority", 30 * mib, 0.75, models.TierPro, tiers.Priority},
		{"enterprise mid-size file gets priority", 30 * mib, 0.75, models.TierEnterprise, tiers.Priority},
		{"same file for free user sweeps to heavy", 30 * mib, 0.75, models.TierFree, tiers.Heavy},
		{"basic user never gets priority", 30 * mib, 0.75, models.TierBasic, tiers.Heavy},
		{"pro file too big for priority", 60 * mib, 0.75, models.TierPro, tiers.Heavy},
		{"pro file too complex for priority", 30 * mib, 0.85, models.TierPro, tiers.Heavy},
		{"mid complexity lands standard", 10 * mib, 0.65, models.TierBasic, tiers.Standard},
		{"oversized falls through to ultra_heavy", 200 * mib, 0.95, models.TierFree, tiers.UltraHeavy},
	}
	for _, c := range cases {
		if got := ClassifyQueue(c.size, c.complexity, c.user); got != c.want {
			t.Fatalf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyQueue_BoundaryInclusive(t *testing.T) {
	// A file exactly at the instant cap with complexity exactly at the cap
	// stays instant; one byte more moves it up.
	if got := ClassifyQueue(1*mib, 0.3, models.TierFree); got != tiers.Instant {
		t.Fatalf("file at exact size boundary should stay instant, got %s", got)
	}
	if got := ClassifyQueue(1*mib+1, 0.3, models.TierFree); got != tiers.Fast {
		t.Fatalf("file one byte over should move to fast, got %s", got)
	}
}

func TestClassifyQueue_ClampsComplexity(t *testing.T) {
	// Out-of-range complexity is clamped, so an impossible 1.5 behaves as
	// 1.0 and falls through to the catch-all.
	if got := ClassifyQueue(500*1024, 1.5, models.TierFree); got != tiers.UltraHeavy {
		t.Fatalf("clamped max complexity should land ultra_heavy, got %s", got)
	}
	if got := ClassifyQueue(500*1024, -0.5, models.TierFree); got != tiers.Instant {
		t.Fatalf("clamped negative complexity should land instant, got %s", got)
	}
}

func TestClassifyQueue_PriorityGateIsExclusive(t *testing.T) {
	// Every non-eligible user tier is kept out of priority_processing even
	// when size and complexity qualify.
	for _, u := range []models.UserTier{models.TierFree, models.TierBasic} {
		if got := ClassifyQueue(40*mib, 0.78, u); got == tiers.Priority {
			t.Fatalf("user tier %s must not receive priority_processing", u)
		}
	}
}
