package tiers

import (
	"sort"
	"time"

	"excel-analysis-scheduler/internal/models"
)

// Tier names one of the six fixed processing queues.
type Tier string

const (
	Instant    Tier = "instant_processing"
	Fast       Tier = "fast_processing"
	Standard   Tier = "standard_processing"
	Priority   Tier = "priority_processing"
	Heavy      Tier = "heavy_processing"
	UltraHeavy Tier = "ultra_heavy"
)

func (t Tier) String() string { return string(t) }

// Valid reports whether t names a configured tier.
func (t Tier) Valid() bool {
	_, ok := configs[t]
	return ok
}

const (
	mib = int64(1) << 20
)

// Config holds the static capacity and eligibility limits of a tier.
// The table below is fixed at process start and never mutated.
type Config struct {
	Name          Tier
	MaxFileSize   int64 // 0 means unbounded
	MaxComplexity float64
	MaxWorkers    int
	// Timeout is advisory: it travels with the job to the executor and is
	// not enforced by the admission layer.
	Timeout           time.Duration
	PriorityBase      int
	EligibleUserTiers []models.UserTier // nil means no restriction
	// BaseEstimate anchors the human-readable processing estimate; the
	// reported figure scales with estimated complexity.
	BaseEstimate time.Duration
}

var configs = map[Tier]Config{
	Instant: {
		Name:          Instant,
		MaxFileSize:   1 * mib,
		MaxComplexity: 0.3,
		MaxWorkers:    4,
		Timeout:       1 * time.Minute,
		PriorityBase:  100,
		BaseEstimate:  30 * time.Second,
	},
	Fast: {
		Name:          Fast,
		MaxFileSize:   5 * mib,
		MaxComplexity: 0.5,
		MaxWorkers:    6,
		Timeout:       5 * time.Minute,
		PriorityBase:  80,
		BaseEstimate:  90 * time.Second,
	},
	Standard: {
		Name:          Standard,
		MaxFileSize:   20 * mib,
		MaxComplexity: 0.7,
		MaxWorkers:    8,
		Timeout:       15 * time.Minute,
		PriorityBase:  60,
		BaseEstimate:  5 * time.Minute,
	},
	Priority: {
		Name:              Priority,
		MaxFileSize:       50 * mib,
		MaxComplexity:     0.8,
		MaxWorkers:        6,
		Timeout:           10 * time.Minute,
		PriorityBase:      90,
		EligibleUserTiers: []models.UserTier{models.TierPro, models.TierEnterprise},
		BaseEstimate:      3 * time.Minute,
	},
	Heavy: {
		Name:          Heavy,
		MaxFileSize:   100 * mib,
		MaxComplexity: 0.9,
		MaxWorkers:    4,
		Timeout:       30 * time.Minute,
		PriorityBase:  40,
		BaseEstimate:  20 * time.Minute,
	},
	UltraHeavy: {
		Name:          UltraHeavy,
		MaxFileSize:   0,
		MaxComplexity: 1.0,
		MaxWorkers:    2,
		Timeout:       2 * time.Hour,
		PriorityBase:  20,
		BaseEstimate:  45 * time.Minute,
	},
}

// classification order for the size/complexity sweep; priority_processing is
// gated separately and ultra_heavy is the catch-all.
var ordered = []Tier{Instant, Fast, Standard, Heavy}

// Get returns the configuration of a tier. The second result is false for
// unknown names.
func Get(t Tier) (Config, bool) {
	c, ok := configs[t]
	return c, ok
}

// MustGet returns the configuration of a known tier. It panics on unknown
// names, which only happens on a programming error since the table is static.
func MustGet(t Tier) Config {
	c, ok := configs[t]
	if !ok {
		panic("tiers: unknown tier " + string(t))
	}
	return c
}

// All returns every tier configuration in no particular order.
func All() []Config {
	out := make([]Config, 0, len(configs))
	for _, c := range configs {
		out = append(out, c)
	}
	return out
}

// Names returns every tier name sorted for stable iteration in reports.
func Names() []Tier {
	out := make([]Tier, 0, len(configs))
	for t := range configs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ordered returns the tiers checked by the classifier sweep, smallest first.
func Ordered() []Tier {
	out := make([]Tier, len(ordered))
	copy(out, ordered)
	return out
}

// ByPollPriority returns all tiers sorted by PriorityBase descending. Workers
// drain ready queues in this order.
func ByPollPriority() []Tier {
	out := make([]Tier, 0, len(configs))
	for t := range configs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := configs[out[i]], configs[out[j]]
		if ci.PriorityBase != cj.PriorityBase {
			return ci.PriorityBase > cj.PriorityBase
		}
		return out[i] < out[j]
	})
	return out
}

// Accepts reports whether a file of the given size fits the tier's size cap.
// Boundary semantics are inclusive: size == MaxFileSize still fits.
func (c Config) Accepts(fileSize int64) bool {
	return c.MaxFileSize == 0 || fileSize <= c.MaxFileSize
}

// AcceptsComplexity reports whether the complexity score fits the tier's cap,
// again inclusive at the boundary.
func (c Config) AcceptsComplexity(complexity float64) bool {
	return complexity <= c.MaxComplexity
}

// Eligible reports whether the user tier may be classified into this queue.
func (c Config) Eligible(u models.UserTier) bool {
	if len(c.EligibleUserTiers) == 0 {
		return true
	}
	for _, t := range c.EligibleUserTiers {
		if t == u {
			return true
		}
	}
	return false
}

// Gated reports whether the tier restricts eligibility at all. Gated tiers
// are never used as overflow targets, because the overflow decision carries
// no user identity.
func (c Config) Gated() bool {
	return len(c.EligibleUserTiers) > 0
}
