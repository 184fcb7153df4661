package admission

import (
	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/tiers"
)

// ClassifyQueue picks the processing tier for a submission. Eligible users
// whose file fits the priority tier's thresholds get priority_processing;
// everyone else sweeps the regular tiers smallest-first and falls through to
// ultra_heavy. Threshold checks are inclusive: a file exactly at a tier's
// size cap stays in that tier.
func ClassifyQueue(fileSize int64, complexity float64, userTier models.UserTier) tiers.Tier {
	complexity = clamp01(complexity)

	pc := tiers.MustGet(tiers.Priority)
	if pc.Gated() && pc.Eligible(userTier) && pc.Accepts(fileSize) && pc.AcceptsComplexity(complexity) {
		return tiers.Priority
	}

	for _, t := range tiers.Ordered() {
		c := tiers.MustGet(t)
		if c.Accepts(fileSize) && c.AcceptsComplexity(complexity) {
			return t
		}
	}
	return tiers.UltraHeavy
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
