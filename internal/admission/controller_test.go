package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/monitor"
	"excel-analysis-scheduler/internal/tiers"
)

type fakeBalancer struct {
	adj     monitor.Adjustment
	err     error
	gotTier tiers.Tier
	gotSize int64
}

func (f *fakeBalancer) AdjustIfNeeded(_ context.Context, t tiers.Tier, size int64) (monitor.Adjustment, error) {
	f.gotTier = t
	f.gotSize = size
	if f.err != nil {
		return monitor.Adjustment{}, f.err
	}
	return f.adj, nil
}

func offPeakClock() func() time.Time {
	at := time.Date(2025, 3, 12, 3, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestControllerAssign_NormalPath(t *testing.T) {
	fake := &fakeBalancer{adj: monitor.Adjustment{
		Queue:      tiers.Instant,
		Reason:     monitor.ReasonOptimal,
		LoadFactor: 0.2,
	}}
	ctrl := NewControllerWithClock(fake, offPeakClock())

	got, err := ctrl.Assign(context.Background(), Request{
		FileName:          "report.csv",
		FileSize:          800 * 1024,
		UserTier:          models.TierFree,
		RequestedPriority: models.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fake.gotTier != tiers.Instant || fake.gotSize != 800*1024 {
		t.Fatalf("balancer saw %s/%d, want instant/%d", fake.gotTier, fake.gotSize, 800*1024)
	}
	if got.Queue != tiers.Instant {
		t.Fatalf("expected instant_processing, got %s", got.Queue)
	}
	if got.Priority != 60 {
		t.Fatalf("expected priority 60, got %d", got.Priority)
	}
	if !almostEqual(got.Complexity, 0.25) {
		t.Fatalf("expected complexity 0.25, got %v", got.Complexity)
	}
	if got.Delay != 0 {
		t.Fatalf("load 0.2 off peak should not delay, got %s", got.Delay)
	}
	if got.Estimate != "38초" {
		t.Fatalf("expected estimate 38초, got %q", got.Estimate)
	}
	if got.Adjustment.Reason != monitor.ReasonOptimal {
		t.Fatalf("expected optimal assignment, got %s", got.Adjustment.Reason)
	}
}

func TestControllerAssign_OverloadRedirect(t *testing.T) {
	fake := &fakeBalancer{adj: monitor.Adjustment{
		Queue:         tiers.Standard,
		Reason:        monitor.ReasonOverloaded,
		OriginalQueue: tiers.Instant,
		LoadFactor:    0.9,
	}}
	ctrl := NewControllerWithClock(fake, offPeakClock())

	got, err := ctrl.Assign(context.Background(), Request{
		FileName: "report.csv",
		FileSize: 800 * 1024,
		UserTier: models.TierFree,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Queue != tiers.Standard {
		t.Fatalf("redirect should move the job, got %s", got.Queue)
	}
	// The delay tracks the load of the tier the file was classified into.
	if got.Delay != 10*time.Second {
		t.Fatalf("load 0.9 should delay 10s, got %s", got.Delay)
	}
	// The estimate still reflects the original classification.
	if got.Estimate != "38초" {
		t.Fatalf("expected estimate from original tier, got %q", got.Estimate)
	}
	if got.Adjustment.OriginalQueue != tiers.Instant {
		t.Fatalf("expected original queue recorded, got %s", got.Adjustment.OriginalQueue)
	}
}

func TestControllerAssign_PeakHourDelay(t *testing.T) {
	fake := &fakeBalancer{adj: monitor.Adjustment{
		Queue:      tiers.Instant,
		Reason:     monitor.ReasonOptimal,
		LoadFactor: 0.2,
	}}
	peak := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	ctrl := NewControllerWithClock(fake, func() time.Time { return peak })

	got, err := ctrl.Assign(context.Background(), Request{
		FileName: "tiny.csv",
		FileSize: 512,
		UserTier: models.TierFree,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Delay != 3*time.Second {
		t.Fatalf("peak hour should add 3s, got %s", got.Delay)
	}
}

func TestControllerAssign_BalancerError(t *testing.T) {
	boom := errors.New("redis down")
	ctrl := NewController(&fakeBalancer{err: boom})

	_, err := ctrl.Assign(context.Background(), Request{
		FileName: "a.xlsx",
		FileSize: mib,
		UserTier: models.TierFree,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected balancer error to propagate, got %v", err)
	}
}
