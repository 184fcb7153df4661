package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"excel-analysis-scheduler/internal/admission"
	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/monitor"
	"excel-analysis-scheduler/internal/queue"
	"excel-analysis-scheduler/internal/ratelimit"
	"excel-analysis-scheduler/internal/store"
	"excel-analysis-scheduler/internal/telemetry"
	"excel-analysis-scheduler/internal/tiers"
	"excel-analysis-scheduler/internal/ws"
)

// JobStore is the slice of the persistence layer the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.AnalysisJob, bool, error)
	GetJob(ctx context.Context, id string) (models.AnalysisJob, error)
	MarkCancelled(ctx context.Context, id string) error
	UpdateJobStatus(ctx context.Context, id string, status string, attempts int, nextRun time.Time, lastError *string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
	SimilarFileHistory(ctx context.Context, userID string, fileSize int64, limit int) ([]models.FileHistory, error)
}

// Server wires HTTP handlers for the submission API.
type Server struct {
	cfg       config.Config
	store     JobStore
	queue     *queue.RedisQueue
	admission *admission.Controller
	monitor   *monitor.Monitor
	limiter   *ratelimit.TierLimiter
	hub       *ws.Hub
	upgrader  websocket.Upgrader
}

// New constructs the API server.
func New(cfg config.Config, st JobStore, q *queue.RedisQueue, ctrl *admission.Controller, mon *monitor.Monitor, limiter *ratelimit.TierLimiter, hub *ws.Hub) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		queue:     q,
		admission: ctrl,
		monitor:   mon,
		limiter:   limiter,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/analyses", s.handleSubmit)
	r.Get("/analyses/{id}", s.handleGetAnalysis)
	r.Post("/analyses/{id}/cancel", s.handleCancel)
	r.Get("/queues/stats", s.handleQueueStats)
	r.Get("/queues/health", s.handleQueueHealth)
	r.Get("/dlq", s.handleDLQ)
	r.Get("/ws/health", s.handleHealthSocket)
	return r
}

type submitRequest struct {
	FileName          string `json:"file_name"`
	FileKey           string `json:"file_key"`
	FileSize          int64  `json:"file_size"`
	UserTier          string `json:"user_tier"`
	RequestedPriority string `json:"requested_priority"`
	IdempotencyKey    string `json:"idempotency_key"`
}

// queueAssignmentView is the admission outcome as exposed to callers.
type queueAssignmentView struct {
	Queue        tiers.Tier         `json:"queue"`
	Priority     int                `json:"priority"`
	DelaySeconds int                `json:"delay_seconds"`
	Estimate     string             `json:"estimated_processing_time"`
	Adjustment   monitor.Adjustment `json:"queue_adjustment"`
}

type submitResponse struct {
	Job        models.AnalysisJob  `json:"job"`
	Assignment queueAssignmentView `json:"assignment"`
	Idempotent bool                `json:"idempotent"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.FileName == "" {
		http.Error(w, "file_name is required", http.StatusBadRequest)
		return
	}
	if req.FileSize <= 0 {
		http.Error(w, "file_size must be positive", http.StatusBadRequest)
		return
	}
	userTier := models.UserTier(req.UserTier)
	if req.UserTier == "" {
		userTier = models.TierFree
	} else if !userTier.Valid() {
		http.Error(w, "invalid user_tier", http.StatusBadRequest)
		return
	}
	reqPriority := models.RequestedPriority(req.RequestedPriority)
	if req.RequestedPriority == "" {
		reqPriority = models.PriorityNormal
	} else if !reqPriority.Valid() {
		http.Error(w, "invalid requested_priority", http.StatusBadRequest)
		return
	}

	userID := userFromRequest(r)
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), userID, userTier)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	history, err := s.store.SimilarFileHistory(r.Context(), userID, req.FileSize, 0)
	if err != nil {
		// History only tunes the complexity estimate; a failed lookup must
		// not reject the submission.
		log.Printf("[API] history lookup failed for user %s: %v", userID, err)
		history = nil
	}

	asn, err := s.admission.Assign(r.Context(), admission.Request{
		FileName:          req.FileName,
		FileSize:          req.FileSize,
		UserTier:          userTier,
		RequestedPriority: reqPriority,
		History:           history,
	})
	if err != nil {
		http.Error(w, "assignment failed", http.StatusInternalServerError)
		return
	}

	job, idempotent, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		FileName:          req.FileName,
		FileKey:           req.FileKey,
		FileSize:          req.FileSize,
		UserID:            userID,
		UserTier:          userTier,
		RequestedPriority: reqPriority,
		Queue:             string(asn.Queue),
		Priority:          asn.Priority,
		Complexity:        asn.Complexity,
		DelaySeconds:      int(asn.Delay / time.Second),
		Estimate:          asn.Estimate,
		IdempotencyKey:    req.IdempotencyKey,
		RunAt:             time.Now().Add(asn.Delay),
		MaxAttempts:       s.cfg.MaxAttempts,
		IdempotencyTTL:    s.cfg.IdempotencyTTL,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !idempotent {
		if err := s.queue.Enqueue(r.Context(), job.ID, asn.Queue, asn.Priority, job.NextRunAt); err != nil {
			msg := err.Error()
			_ = s.store.UpdateJobStatus(r.Context(), job.ID, models.StatusFailed, job.Attempts, job.NextRunAt, &msg)
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		detail := fmt.Sprintf("user=%s queue=%s priority=%d delay=%s", userID, asn.Queue, asn.Priority, asn.Delay)
		if asn.Adjustment.Reason == monitor.ReasonOverloaded {
			detail += fmt.Sprintf(" redirected_from=%s", asn.Adjustment.OriginalQueue)
		}
		_ = s.store.AppendAudit(r.Context(), job.ID, "enqueued", detail)

		telemetry.SubmissionsTotal.WithLabelValues(string(asn.Queue)).Inc()
		telemetry.EnqueueDelay.Observe(asn.Delay.Seconds())
		if asn.Adjustment.Reason == monitor.ReasonOverloaded {
			telemetry.RedirectsTotal.WithLabelValues(string(asn.Adjustment.OriginalQueue), string(asn.Queue)).Inc()
		}
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		Job: job,
		Assignment: queueAssignmentView{
			Queue:        asn.Queue,
			Priority:     asn.Priority,
			DelaySeconds: int(asn.Delay / time.Second),
			Estimate:     asn.Estimate,
			Adjustment:   asn.Adjustment,
		},
		Idempotent: idempotent,
	})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	switch job.Status {
	case models.StatusSucceeded, models.StatusCancelled, models.StatusDeadLetter:
		http.Error(w, fmt.Sprintf("analysis already %s", job.Status), http.StatusConflict)
		return
	}
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		http.Error(w, "failed to cancel queue item", http.StatusInternalServerError)
		return
	}
	if err := s.store.MarkCancelled(r.Context(), id); err != nil {
		http.Error(w, "failed to cancel analysis", http.StatusInternalServerError)
		return
	}
	_ = s.store.AppendAudit(r.Context(), id, "cancelled", "cancel requested via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type queueStatsEntry struct {
	Stats monitor.QueueStatistics `json:"stats"`
	Load  float64                 `json:"current_load"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[tiers.Tier]queueStatsEntry)
	for _, t := range tiers.Names() {
		stats, err := s.monitor.Statistics(r.Context(), t)
		if err != nil {
			http.Error(w, "failed to read queue statistics", http.StatusInternalServerError)
			return
		}
		load, err := s.monitor.CurrentLoad(r.Context(), t)
		if err != nil {
			http.Error(w, "failed to read queue load", http.StatusInternalServerError)
			return
		}
		out[t] = queueStatsEntry{Stats: stats, Load: load}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (s *Server) handleQueueHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.monitor.AnalyzePerformance(r.Context())
	if err != nil {
		http.Error(w, "failed to analyze queues", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleDLQ returns dead-lettered analyses with their stored rows. Entries
// whose row is gone are skipped but still counted.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	ids, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	items := make([]models.AnalysisJob, 0, len(ids))
	for _, id := range ids {
		job, err := s.store.GetJob(r.Context(), id)
		if err != nil {
			continue
		}
		items = append(items, job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "items": items})
}

// handleHealthSocket upgrades the connection and registers it with the hub.
// The current report is sent immediately so clients don't wait for the next
// broadcast tick.
func (s *Server) handleHealthSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] websocket upgrade failed: %v", err)
		return
	}
	if report, err := s.monitor.AnalyzePerformance(r.Context()); err == nil {
		_ = conn.WriteJSON(report)
	}
	s.hub.AddClient(conn)
}

func userFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
