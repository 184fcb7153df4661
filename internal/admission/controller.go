package admission

import (
	"context"
	"time"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/monitor"
	"excel-analysis-scheduler/internal/tiers"
)

// Balancer is the slice of the load monitor the admission path needs.
type Balancer interface {
	AdjustIfNeeded(ctx context.Context, t tiers.Tier, fileSize int64) (monitor.Adjustment, error)
}

// Request is one analysis submission entering admission control. History
// holds previously analyzed files of comparable size, already filtered by the
// caller.
type Request struct {
	FileName          string
	FileSize          int64
	UserTier          models.UserTier
	RequestedPriority models.RequestedPriority
	History           []models.FileHistory
}

// Assignment is the outcome of one admission pass: the queue the job goes to
// after any overload redirect, its priority, the artificial enqueue delay,
// and the processing estimate shown to the user. It lives only long enough to
// be handed to the enqueue call.
type Assignment struct {
	Queue      tiers.Tier
	Priority   int
	Complexity float64
	Delay      time.Duration
	Estimate   string
	Adjustment monitor.Adjustment
}

// Controller runs the admission pipeline. It is stateless; both dependencies
// are injected so tests can pin the clock and fake the load reads.
type Controller struct {
	balancer Balancer
	now      func() time.Time
}

// NewController builds a controller over the given balancer.
func NewController(balancer Balancer) *Controller {
	return NewControllerWithClock(balancer, time.Now)
}

// NewControllerWithClock builds a controller with an explicit clock.
func NewControllerWithClock(balancer Balancer, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{balancer: balancer, now: now}
}

// Assign classifies a submission: estimate complexity, pick the tier, score
// the priority, compute the enqueue delay from the tier's current load, then
// let the balancer redirect away from an overloaded tier. Only the balancer
// touches the job store; everything else is pure. A store failure aborts the
// whole pass.
func (c *Controller) Assign(ctx context.Context, req Request) (Assignment, error) {
	complexity := EstimateComplexity(req.FileSize, req.FileName, req.History)
	queue := ClassifyQueue(req.FileSize, complexity, req.UserTier)
	priority := PriorityScore(req.FileSize, complexity, req.UserTier, req.RequestedPriority)
	_, estimate := EstimateProcessing(queue, complexity)

	adj, err := c.balancer.AdjustIfNeeded(ctx, queue, req.FileSize)
	if err != nil {
		return Assignment{}, err
	}

	// The delay is driven by the load of the tier the file was classified
	// into, measured before any redirect.
	delay := OptimalDelay(adj.LoadFactor, c.now())

	return Assignment{
		Queue:      adj.Queue,
		Priority:   priority,
		Complexity: complexity,
		Delay:      delay,
		Estimate:   estimate,
		Adjustment: adj,
	}, nil
}
