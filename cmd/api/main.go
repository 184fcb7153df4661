package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"

	"excel-analysis-scheduler/internal/admission"
	api "excel-analysis-scheduler/internal/api"
	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/monitor"
	"excel-analysis-scheduler/internal/queue"
	"excel-analysis-scheduler/internal/ratelimit"
	"excel-analysis-scheduler/internal/store"
	"excel-analysis-scheduler/internal/telemetry"
	"excel-analysis-scheduler/internal/tiers"
	"excel-analysis-scheduler/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
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
	redisLimiter := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTierLimiter(redisLimiter, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	mon := monitor.New(st)
	ctrl := admission.NewController(mon)
	hub := ws.NewHub()

	go broadcastHealth(ctx, cfg, mon, hub)

	server := api.New(cfg, st, q, ctrl, mon, limiter, hub)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}

// broadcastHealth periodically pushes the system report to websocket clients
// and refreshes the load and health gauges.
func broadcastHealth(ctx context.Context, cfg config.Config, mon *monitor.Monitor, hub *ws.Hub) {
	ticker := time.NewTicker(cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := mon.AnalyzePerformance(ctx)
			if err != nil {
				log.Printf("health broadcast: %v", err)
				continue
			}
			for t, qr := range report.Queues {
				telemetry.QueueHealthGauge.WithLabelValues(string(t)).Set(qr.HealthScore)
			}
			for _, t := range tiers.Names() {
				load, err := mon.CurrentLoad(ctx, t)
				if err != nil {
					continue
				}
				telemetry.QueueLoadGauge.WithLabelValues(string(t)).Set(load)
			}
			hub.Broadcast(report)
		}
	}
}
