package persistence

import (
	"context"
	"strings"

	"github.com/agentrt/gateway/internal/domain/service"
	"github.com/agentrt/gateway/internal/infrastructure/persistence/models"
	domainErrors "github.com/agentrt/gateway/pkg/errors"
	"gorm.io/gorm"
)

// GormPeriodicTaskStore implements scheduler.TaskStore (C11) over gorm,
// mirroring the Save-supports-create-or-update pattern already used by
// GormMessageRepository.
type GormPeriodicTaskStore struct {
	db *gorm.DB
}

// NewGormPeriodicTaskStore creates a gorm-backed periodic task store.
func NewGormPeriodicTaskStore(db *gorm.DB) *GormPeriodicTaskStore {
	return &GormPeriodicTaskStore{db: db}
}

// List returns every periodic task, regardless of status; the scheduler
// filters by status and NextRunAt itself.
func (r *GormPeriodicTaskStore) List(ctx context.Context) ([]*service.PeriodicTask, error) {
	var rows []models.PeriodicTaskModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list periodic tasks: " + err.Error())
	}
	out := make([]*service.PeriodicTask, 0, len(rows))
	for _, m := range rows {
		out = append(out, toPeriodicTask(&m))
	}
	return out, nil
}

// Save creates or updates a periodic task.
func (r *GormPeriodicTaskStore) Save(ctx context.Context, task *service.PeriodicTask) error {
	model := toPeriodicTaskModel(task)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save periodic task: " + err.Error())
	}
	return nil
}

// SaveRun persists one execution attempt.
func (r *GormPeriodicTaskStore) SaveRun(ctx context.Context, run *service.PeriodicTaskRun) error {
	model := &models.PeriodicTaskRunModel{
		ID:            run.ID,
		TaskID:        run.TaskID,
		Attempt:       run.Attempt,
		Status:        string(run.Status),
		OutputSummary: run.OutputSummary,
		Error:         run.Error,
		InputTokens:   run.Usage.InputTokens,
		OutputTokens:  run.Usage.OutputTokens,
		TotalTokens:   run.Usage.TotalTokens,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to save periodic task run: " + err.Error())
	}
	return nil
}

func toPeriodicTask(m *models.PeriodicTaskModel) *service.PeriodicTask {
	return &service.PeriodicTask{
		ID:        m.ID,
		UserRef:   m.UserRef,
		SessionID: m.SessionID,
		Title:     m.Title,
		Recipe:    m.Recipe,
		Schedule: service.Schedule{
			Type: service.ScheduleType(m.ScheduleType),
			Cron: parseCronExpr(m.ScheduleCron),
			Interval: service.IntervalSpec{
				Every: m.IntervalEvery,
				Unit:  service.IntervalUnit(m.IntervalUnit),
			},
		},
		Timezone:        m.Timezone,
		Status:          service.PeriodicTaskStatus(m.Status),
		NextRunAt:       m.NextRunAt,
		NotifyOnSuccess: m.NotifyOnSuccess,
		Stats: service.PeriodicTaskStats{
			TotalRuns:        m.TotalRuns,
			TotalSuccesses:   m.TotalSuccesses,
			ConsecutiveFails: m.ConsecutiveFails,
		},
		MaxRetries: m.MaxRetries,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toPeriodicTaskModel(t *service.PeriodicTask) *models.PeriodicTaskModel {
	return &models.PeriodicTaskModel{
		ID:               t.ID,
		UserRef:          t.UserRef,
		SessionID:        t.SessionID,
		Title:            t.Title,
		Recipe:           t.Recipe,
		ScheduleType:     string(t.Schedule.Type),
		ScheduleCron:     t.Schedule.Cron.Expr(),
		IntervalEvery:    t.Schedule.Interval.Every,
		IntervalUnit:     string(t.Schedule.Interval.Unit),
		Timezone:         t.Timezone,
		Status:           string(t.Status),
		NextRunAt:        t.NextRunAt,
		NotifyOnSuccess:  t.NotifyOnSuccess,
		TotalRuns:        t.Stats.TotalRuns,
		TotalSuccesses:   t.Stats.TotalSuccesses,
		ConsecutiveFails: t.Stats.ConsecutiveFails,
		MaxRetries:       t.MaxRetries,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// parseCronExpr splits a standard 5-field crontab expression back into
// CronSpec's named fields.
func parseCronExpr(expr string) service.CronSpec {
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
