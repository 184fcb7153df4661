package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/monitor"
	"excel-analysis-scheduler/internal/queue"
	"excel-analysis-scheduler/internal/store"
	"excel-analysis-scheduler/internal/telemetry"
	workerproc "excel-analysis-scheduler/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.NewRedisQueue(cfg)

	// Generate a unique worker ID from hostname or env var
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	var handler workerproc.Handler
	if cfg.SimulationMode {
		handler = &workerproc.SimulationHandler{}
		log.Printf("simulation mode: analyses are timed sleeps, no files are read")
	} else {
		h, err := workerproc.NewSpreadsheetHandler(ctx, cfg)
		if err != nil {
			log.Fatalf("init spreadsheet handler: %v", err)
		}
		handler = h
	}

	processor := workerproc.NewProcessorWithID(cfg, q, st, handler, workerID)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	go runOptimizeCycle(ctx, cfg, monitor.New(st))

	log.Printf("worker %s started with visibility=%s backoff_initial=%s", workerID, cfg.VisibilityTimeout, cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}

// runOptimizeCycle periodically reviews queue loads and counts the advisories
// it produces. Advisories are informational; nothing is migrated or resized
// automatically.
func runOptimizeCycle(ctx context.Context, cfg config.Config, mon *monitor.Monitor) {
	ticker := time.NewTicker(cfg.OptimizeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			advisories, err := mon.Optimize(ctx)
			if err != nil {
				log.Printf("optimize cycle: %v", err)
				continue
			}
			for _, adv := range advisories {
				telemetry.AdvisoriesTotal.WithLabelValues(adv.Kind).Inc()
			}
		}
	}
}
