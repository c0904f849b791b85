package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentrt/gateway/internal/domain/service"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Notifier delivers a periodic task's outcome to its owning user, grounded
// on original_source/heureum-platform/notifications/services.py.
type Notifier interface {
	Notify(ctx context.Context, userRef, title, body string) error
}

// Runner is the minimal surface the scheduler needs from the turn runner
// (C8) to execute one headless turn per due task.
type Runner interface {
	Run(ctx context.Context, req service.ResponsesRequest) (*service.ResponsesResult, error)
}

// TaskStore persists PeriodicTask / PeriodicTaskRun records.
type TaskStore interface {
	List(ctx context.Context) ([]*service.PeriodicTask, error)
	Save(ctx context.Context, task *service.PeriodicTask) error
	SaveRun(ctx context.Context, run *service.PeriodicTaskRun) error
}

// CronScheduler implements C11: periodic dispatch of headless agent turns
// on a cron/interval schedule. Grounded on the teacher's
// interfaces/telegram/cron_service.go lifecycle (advance next_run_at before
// dispatch so a slow or crashed run is never double-fired on the next
// beat, in-memory due-job scan via ticker) but evaluating real 5-field cron
// expressions with robfig/cron/v3 instead of the teacher's
// calculateNextRun, which only understood @hourly/@daily/@weekly and a
// minute+hour pair (§4.11).
type CronScheduler struct {
	store    TaskStore
	runner   Runner
	notifier Notifier
	logger   *zap.Logger

	beatInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCronScheduler wires the scheduler from its dependencies.
func NewCronScheduler(store TaskStore, runner Runner, notifier Notifier, beatInterval time.Duration, logger *zap.Logger) *CronScheduler {
	if beatInterval <= 0 {
		beatInterval = 60 * time.Second // periodic_beat_interval default, §6
	}
	return &CronScheduler{store: store, runner: runner, notifier: notifier, beatInterval: beatInterval, logger: logger}
}

// Start begins the beat loop; it returns immediately, the loop runs in a
// background goroutine until Stop or ctx is cancelled.
func (s *CronScheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.loop(runCtx)
}

// Stop cancels the beat loop.
func (s *CronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *CronScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.beatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.dispatchDue(ctx, now)
		}
	}
}

// dispatchDue scans for tasks whose next_run_at has passed and fires each
// one, advancing next_run_at first so the same beat (or an overlapping one
// if execution runs long) can never double-dispatch it (§4.11, E6).
func (s *CronScheduler) dispatchDue(ctx context.Context, now time.Time) {
	tasks, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn("periodic task list failed", zap.Error(err))
		return
	}
	for _, t := range tasks {
		if t.Status != service.PeriodicStatusActive {
			continue
		}
		if t.NextRunAt.IsZero() || t.NextRunAt.After(now) {
			continue
		}

		next, ok := s.computeNext(t, now)
		if !ok {
			t.Status = service.PeriodicStatusFailed
			_ = s.store.Save(ctx, t)
			continue
		}
		t.NextRunAt = next
		t.UpdatedAt = now
		if err := s.store.Save(ctx, t); err != nil {
			s.logger.Warn("failed to advance next_run_at", zap.String("task", t.ID), zap.Error(err))
			continue
		}

		task := t
		go s.execute(ctx, task)
	}
}

// computeNext resolves the task's next fire time in its configured
// timezone, for both schedule shapes (§3 Schedule, §4.11).
func (s *CronScheduler) computeNext(t *service.PeriodicTask, after time.Time) (time.Time, bool) {
	loc := time.UTC
	if t.Timezone != "" {
		if l, err := time.LoadLocation(t.Timezone); err == nil {
			loc = l
		}
	}
	local := after.In(loc)

	if t.Schedule.Type == service.ScheduleInterval {
		return after.Add(t.Schedule.Interval.Duration()), true
	}

	sched, err := cron.ParseStandard(t.Schedule.Cron.Expr())
	if err != nil {
		s.logger.Warn("invalid cron expression, parking task", zap.String("task", t.ID), zap.String("expr", t.Schedule.Cron.Expr()), zap.Error(err))
		return time.Time{}, false
	}
	return sched.Next(local).UTC(), true
}

// execute runs one headless turn for task, retrying with exponential
// backoff (60 * 2^(attempt-1) seconds) up to MaxRetries before parking the
// task as failed on consecutive failures, and notifying on success when
// requested (§4.11).
func (s *CronScheduler) execute(ctx context.Context, t *service.PeriodicTask) {
	run := &service.PeriodicTaskRun{
		ID:        "run_" + uuid.NewString(),
		TaskID:    t.ID,
		Attempt:   t.Stats.ConsecutiveFails + 1,
		Status:    service.RunStatusRunning,
		StartedAt: time.Now(),
	}

	result, err := s.runner.Run(ctx, service.ResponsesRequest{
		SessionID:    t.SessionID,
		UserRef:      t.UserRef,
		Instructions: headlessDirective(t),
		Input:        []service.ResponseInputItem{{Type: "message", Role: "user", Content: t.Recipe}},
	})

	run.CompletedAt = time.Now()
	t.Stats.TotalRuns++

	if err != nil || result == nil || result.Status == service.StatusFailed {
		run.Status = service.RunStatusFailed
		if err != nil {
			run.Error = err.Error()
		}
		t.Stats.ConsecutiveFails++
		s.logger.Warn("periodic task run failed",
			zap.String("task", t.ID), zap.Int("attempt", run.Attempt), zap.Error(err))

		if t.MaxRetries > 0 && t.Stats.ConsecutiveFails > t.MaxRetries {
			t.Status = service.PeriodicStatusFailed
			if s.notifier != nil {
				_ = s.notifier.Notify(ctx, t.UserRef, t.Title+" failed", "periodic task parked after "+fmt.Sprint(t.Stats.ConsecutiveFails)+" consecutive failures")
			}
		} else {
			wait := time.Duration(60*(1<<uint(run.Attempt-1))) * time.Second
			time.AfterFunc(wait, func() { s.execute(ctx, t) })
		}
	} else {
		run.Status = service.RunStatusCompleted
		run.OutputSummary = summarizeOutput(result)
		run.Usage = result.Usage
		t.Stats.TotalSuccesses++
		t.Stats.ConsecutiveFails = 0
		if t.NotifyOnSuccess && s.notifier != nil {
			_ = s.notifier.Notify(ctx, t.UserRef, t.Title, run.OutputSummary)
		}
	}

	if saveErr := s.store.SaveRun(ctx, run); saveErr != nil {
		s.logger.Warn("failed to persist periodic task run", zap.Error(saveErr))
	}
	if saveErr := s.store.Save(ctx, t); saveErr != nil {
		s.logger.Warn("failed to persist periodic task state", zap.Error(saveErr))
	}
}

func headlessDirective(t *service.PeriodicTask) string {
	return "You are executing a scheduled headless task named \"" + t.Title + "\". There is no interactive user; produce a final summary instead of asking questions."
}

func summarizeOutput(result *service.ResponsesResult) string {
	for _, item := range result.Output {
		if item.Type == "message" && item.Content != "" {
			return item.Content
		}
	}
	return "(no output)"
}
