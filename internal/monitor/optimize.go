package monitor

import (
	"context"
	"fmt"
	"log"

	"excel-analysis-scheduler/internal/tiers"
)

const (
	congestedThreshold = 0.8
	idleThreshold      = 0.2
)

// Advisory kinds emitted by the periodic optimization pass.
const (
	AdvisoryCongested       = "congested"
	AdvisoryIdle            = "idle"
	AdvisoryPeakApproaching = "peak_approaching"
)

// Advisory is a recommendation produced by Optimize. Advisories only inform:
// jobs already sitting in a queue are never migrated.
type Advisory struct {
	Kind   string     `json:"kind"`
	Queue  tiers.Tier `json:"queue,omitempty"`
	Load   float64    `json:"load,omitempty"`
	Detail string     `json:"detail"`
}

// Optimize runs the periodic queue review: it flags congested and idle tiers
// and warns when a known traffic peak is about to start. Overlapping runs are
// harmless since every read is idempotent and every action advisory.
func (m *Monitor) Optimize(ctx context.Context) ([]Advisory, error) {
	var advisories []Advisory

	for _, t := range tiers.Names() {
		load, err := m.CurrentLoad(ctx, t)
		if err != nil {
			return nil, err
		}
		switch {
		case load > congestedThreshold:
			adv := Advisory{
				Kind:   AdvisoryCongested,
				Queue:  t,
				Load:   load,
				Detail: fmt.Sprintf("queue %s at %.0f%% load; new submissions will be redirected, queued jobs stay put", t, load*100),
			}
			advisories = append(advisories, adv)
			log.Printf("[OPTIMIZE] congested queue=%s load=%.2f", t, load)
		case load < idleThreshold:
			adv := Advisory{
				Kind:   AdvisoryIdle,
				Queue:  t,
				Load:   load,
				Detail: fmt.Sprintf("queue %s at %.0f%% load; worker allocation could shrink", t, load*100),
			}
			advisories = append(advisories, adv)
		}
	}

	// Uploads spike at 9 and 14 local time; warn one hour ahead so capacity
	// can be added before the wave lands.
	if h := m.now().Hour(); h == 8 || h == 13 {
		adv := Advisory{
			Kind:   AdvisoryPeakApproaching,
			Detail: fmt.Sprintf("hour %d: peak traffic expected within the hour, pre-scale heavy tiers", h),
		}
		advisories = append(advisories, adv)
		log.Printf("[OPTIMIZE] peak approaching hour=%d", h)
	}

	return advisories, nil
}
