package admission

import (
	"fmt"
	"math"
	"strings"
	"time"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/tiers"
)

const (
	// PriorityMax bounds the computed priority score.
	PriorityMax = 200

	sizePenaltyThreshold = 20 * mib
)

var priorityBases = map[models.RequestedPriority]int{
	models.PriorityUrgent: 100,
	models.PriorityHigh:   75,
	models.PriorityNormal: 50,
	models.PriorityLow:    25,
}

var userTierBonuses = map[models.UserTier]int{
	models.TierEnterprise: 30,
	models.TierPro:        20,
	models.TierBasic:      10,
	models.TierFree:       5,
}

// peakHours are the local hours when spreadsheet uploads historically spike.
var peakHours = map[int]bool{9: true, 10: true, 11: true, 14: true, 15: true, 16: true}

// PriorityScore computes the submission priority in [0,200]. The requested
// urgency sets the base, the subscription adds a bonus, complexity adds up to
// 20 points, and very large files pay a small penalty.
func PriorityScore(fileSize int64, complexity float64, userTier models.UserTier, req models.RequestedPriority) int {
	base, ok := priorityBases[req]
	if !ok {
		base = priorityBases[models.PriorityNormal]
	}
	bonus, ok := userTierBonuses[userTier]
	if !ok {
		bonus = userTierBonuses[models.TierFree]
	}

	score := base + bonus + int(math.Round(clamp01(complexity)*20))
	if fileSize > sizePenaltyThreshold {
		score -= 5
	}

	if score < 0 {
		score = 0
	}
	if score > PriorityMax {
		score = PriorityMax
	}
	return score
}

// OptimalDelay returns the artificial enqueue delay for a queue at the given
// load. Busier queues hold submissions back longer so bursts spread out
// instead of piling onto an already saturated tier, and peak hours add a flat
// surcharge on top.
func OptimalDelay(load float64, now time.Time) time.Duration {
	var d time.Duration
	switch {
	case load <= 0.3:
		d = 0
	case load <= 0.6:
		d = 2 * time.Second
	case load <= 0.8:
		d = 5 * time.Second
	case load <= 0.9:
		d = 10 * time.Second
	default:
		d = 15 * time.Second
	}
	if peakHours[now.Hour()] {
		d += 3 * time.Second
	}
	return d
}

// EstimateProcessing predicts how long the analysis will take on the given
// tier. The tier's base estimate scales linearly with complexity, so an
// ultra_heavy file at full complexity reports double the tier base.
func EstimateProcessing(t tiers.Tier, complexity float64) (time.Duration, string) {
	c := tiers.MustGet(t)
	d := time.Duration(float64(c.BaseEstimate) * (1 + clamp01(complexity)))
	return d, FormatEstimate(d)
}

// FormatEstimate renders a duration the way the analysis UI displays it:
// "45초", "2.5분", "1.5시간".
func FormatEstimate(d time.Duration) string {
	if d < time.Minute {
		s := int(math.Round(d.Seconds()))
		if s < 1 {
			s = 1
		}
		return fmt.Sprintf("%d초", s)
	}
	if d < time.Hour {
		return trimZero(fmt.Sprintf("%.1f", d.Minutes())) + "분"
	}
	return trimZero(fmt.Sprintf("%.1f", d.Hours())) + "시간"
}

func trimZero(s string) string {
	return strings.TrimSuffix(s, ".0")
}
