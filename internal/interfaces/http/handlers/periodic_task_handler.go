package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/agentrt/gateway/internal/domain/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PeriodicTaskStore is the narrow persistence surface the admin handler
// needs — the same shape scheduler.TaskStore exposes to the cron beat loop,
// declared locally per this package's narrow-interface-per-handler
// convention (see ChatHandler's SessionManager).
type PeriodicTaskStore interface {
	List(ctx context.Context) ([]*service.PeriodicTask, error)
	Save(ctx context.Context, task *service.PeriodicTask) error
}

// PeriodicTaskHandler implements C11's admin surface: creating, listing,
// updating, and resuming scheduled headless turns (spec.md §6).
type PeriodicTaskHandler struct {
	store  PeriodicTaskStore
	logger *zap.Logger
}

// NewPeriodicTaskHandler builds the periodic task admin handler.
func NewPeriodicTaskHandler(store PeriodicTaskStore, logger *zap.Logger) *PeriodicTaskHandler {
	return &PeriodicTaskHandler{store: store, logger: logger}
}

type periodicTaskDTO struct {
	ID              string    `json:"id"`
	UserRef         string    `json:"user_ref"`
	SessionID       string    `json:"session_id"`
	Title           string    `json:"title"`
	Recipe          string    `json:"recipe"`
	ScheduleType    string    `json:"schedule_type"`
	Cron            string    `json:"cron,omitempty"`
	IntervalEvery   int       `json:"interval_every,omitempty"`
	IntervalUnit    string    `json:"interval_unit,omitempty"`
	Timezone        string    `json:"timezone"`
	Status          string    `json:"status"`
	NextRunAt       time.Time `json:"next_run_at"`
	NotifyOnSuccess bool      `json:"notify_on_success"`
	MaxRetries      int       `json:"max_retries"`
}

type createPeriodicTaskRequest struct {
	UserRef         string `json:"user_ref" binding:"required"`
	SessionID       string `json:"session_id"`
	Title           string `json:"title" binding:"required"`
	Recipe          string `json:"recipe" binding:"required"`
	ScheduleType    string `json:"schedule_type" binding:"required"` // "cron" | "interval"
	Cron            string `json:"cron"`
	IntervalEvery   int    `json:"interval_every"`
	IntervalUnit    string `json:"interval_unit"`
	Timezone        string `json:"timezone"`
	NotifyOnSuccess bool   `json:"notify_on_success"`
	MaxRetries      int    `json:"max_retries"`
}

// Create handles POST /periodic-tasks/internal/create (§4.11).
func (h *PeriodicTaskHandler) Create(c *gin.Context) {
	var req createPeriodicTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "message": err.Error()}})
		return
	}

	now := time.Now().UTC()
	task := &service.PeriodicTask{
		ID:        "ptask_" + uuid.NewString(),
		UserRef:   req.UserRef,
		SessionID: req.SessionID,
		Title:     req.Title,
		Recipe:    req.Recipe,
		Schedule: service.Schedule{
			Type: service.ScheduleType(req.ScheduleType),
			Interval: service.IntervalSpec{
				Every: req.IntervalEvery,
				Unit:  service.IntervalUnit(req.IntervalUnit),
			},
		},
		Timezone:        req.Timezone,
		Status:          service.PeriodicStatusActive,
		NextRunAt:       now,
		NotifyOnSuccess: req.NotifyOnSuccess,
		MaxRetries:      req.MaxRetries,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.Cron != "" {
		task.Schedule.Cron = parseCronFields(req.Cron)
	}

	if err := h.store.Save(c.Request.Context(), task); err != nil {
		h.logger.Warn("failed to create periodic task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusCreated, toPeriodicTaskDTO(task))
}

// List handles GET /periodic-tasks/internal/list.
func (h *PeriodicTaskHandler) List(c *gin.Context) {
	tasks, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return
	}
	out := make([]periodicTaskDTO, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toPeriodicTaskDTO(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

type updatePeriodicTaskRequest struct {
	Title           *string `json:"title"`
	Recipe          *string `json:"recipe"`
	Status          *string `json:"status"`
	NotifyOnSuccess *bool   `json:"notify_on_success"`
	MaxRetries      *int    `json:"max_retries"`
}

// Update handles PATCH /periodic-tasks/internal/:id/update.
func (h *PeriodicTaskHandler) Update(c *gin.Context) {
	id := c.Param("id")
	task, ok := h.find(c, id)
	if !ok {
		return
	}

	var req updatePeriodicTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "invalid_request", "message": err.Error()}})
		return
	}
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Recipe != nil {
		task.Recipe = *req.Recipe
	}
	if req.Status != nil {
		task.Status = service.PeriodicTaskStatus(*req.Status)
	}
	if req.NotifyOnSuccess != nil {
		task.NotifyOnSuccess = *req.NotifyOnSuccess
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	task.UpdatedAt = time.Now().UTC()

	if err := h.store.Save(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, toPeriodicTaskDTO(task))
}

// Resume handles POST /periodic-tasks/internal/:id/resume — reactivates a
// task parked as failed after exhausting its retry budget (§4.11).
func (h *PeriodicTaskHandler) Resume(c *gin.Context) {
	id := c.Param("id")
	task, ok := h.find(c, id)
	if !ok {
		return
	}
	task.Status = service.PeriodicStatusActive
	task.Stats.ConsecutiveFails = 0
	task.NextRunAt = time.Now().UTC()
	task.UpdatedAt = task.NextRunAt

	if err := h.store.Save(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return
	}
	c.JSON(http.StatusOK, toPeriodicTaskDTO(task))
}

// Due handles GET /periodic-tasks/internal/due — lists tasks whose
// next_run_at has already passed, for operational visibility into the cron
// beat loop without waiting on its own ticker.
func (h *PeriodicTaskHandler) Due(c *gin.Context) {
	tasks, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return
	}
	now := time.Now().UTC()
	out := make([]periodicTaskDTO, 0)
	for _, t := range tasks {
		if t.Status == service.PeriodicStatusActive && !t.NextRunAt.IsZero() && !t.NextRunAt.After(now) {
			out = append(out, toPeriodicTaskDTO(t))
		}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

func (h *PeriodicTaskHandler) find(c *gin.Context, id string) (*service.PeriodicTask, bool) {
	tasks, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "server_error", "message": err.Error()}})
		return nil, false
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": "periodic task not found"}})
	return nil, false
}

func toPeriodicTaskDTO(t *service.PeriodicTask) periodicTaskDTO {
	return periodicTaskDTO{
		ID:              t.ID,
		UserRef:         t.UserRef,
		SessionID:       t.SessionID,
		Title:           t.Title,
		Recipe:          t.Recipe,
		ScheduleType:    string(t.Schedule.Type),
		Cron:            t.Schedule.Cron.Expr(),
		IntervalEvery:   t.Schedule.Interval.Every,
		IntervalUnit:    string(t.Schedule.Interval.Unit),
		Timezone:        t.Timezone,
		Status:          string(t.Status),
		NextRunAt:       t.NextRunAt,
		NotifyOnSuccess: t.NotifyOnSuccess,
		MaxRetries:      t.MaxRetries,
	}
}

// parseCronFields splits a standard 5-field crontab expression into
// CronSpec's named fields.
func parseCronFields(expr string) service.CronSpec {
	fields := [5]string{"*", "*", "*", "*", "*"}
	for i, f := range strings.Fields(expr) {
		if i >= len(fields) {
			break
		}
		fields[i] = f
	}
	return service.CronSpec{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		DayOfWeek:  fields[4],
	}
}
