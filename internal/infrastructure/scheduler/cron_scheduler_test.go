package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentrt/gateway/internal/domain/service"
	"go.uber.org/zap"
)

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*service.PeriodicTask
	runs  []*service.PeriodicTaskRun
}

func newFakeTaskStore(tasks ...*service.PeriodicTask) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[string]*service.PeriodicTask)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeTaskStore) List(ctx context.Context) ([]*service.PeriodicTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*service.PeriodicTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeTaskStore) Save(ctx context.Context, task *service.PeriodicTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *fakeTaskStore) SaveRun(ctx context.Context, run *service.PeriodicTaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeTaskStore) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

type fakeRunner struct {
	result *service.ResponsesResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, req service.ResponsesRequest) (*service.ResponsesResult, error) {
	return f.result, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  int
	title string
}

func (f *fakeNotifier) Notify(ctx context.Context, userRef, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.title = title
	return nil
}

func TestCronScheduler_ComputeNext_Interval(t *testing.T) {
	s := NewCronScheduler(nil, nil, nil, time.Second, zap.NewNop())
	task := &service.PeriodicTask{
		Schedule: service.Schedule{
			Type:     service.ScheduleInterval,
			Interval: service.IntervalSpec{Every: 5, Unit: service.IntervalMinutes},
		},
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	next, ok := s.computeNext(task, now)
	if !ok {
		t.Fatal("expected interval schedule to compute cleanly")
	}
	if !next.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected next run 5 minutes later, got %v", next)
	}
}

func TestCronScheduler_ComputeNext_Cron(t *testing.T) {
	s := NewCronScheduler(nil, nil, nil, time.Second, zap.NewNop())
	task := &service.PeriodicTask{
		Schedule: service.Schedule{
			Type: service.ScheduleCron,
			Cron: service.CronSpec{Minute: "0", Hour: "9", DayOfMonth: "*", Month: "*", DayOfWeek: "*"},
		},
		Timezone: "UTC",
	}
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	next, ok := s.computeNext(task, now)
	if !ok {
		t.Fatal("expected a valid cron expression to resolve")
	}
	if !next.After(now) {
		t.Fatalf("expected the next fire time to be after now, got %v", next)
	}
}

func TestCronScheduler_ComputeNext_InvalidCronParksTask(t *testing.T) {
	s := NewCronScheduler(nil, nil, nil, time.Second, zap.NewNop())
	task := &service.PeriodicTask{
		Schedule: service.Schedule{
			Type: service.ScheduleCron,
			Cron: service.CronSpec{Minute: "not-a-field"},
		},
	}
	_, ok := s.computeNext(task, time.Now())
	if ok {
		t.Fatal("expected an invalid cron expression to fail computeNext")
	}
}

func TestCronScheduler_DispatchDue_AdvancesNextRunAtBeforeDispatch(t *testing.T) {
	task := &service.PeriodicTask{
		ID:        "t1",
		Status:    service.PeriodicStatusActive,
		NextRunAt: time.Now().Add(-time.Minute),
		Schedule: service.Schedule{
			Type:     service.ScheduleInterval,
			Interval: service.IntervalSpec{Every: 1, Unit: service.IntervalMinutes},
		},
	}
	store := newFakeTaskStore(task)
	runner := &fakeRunner{result: &service.ResponsesResult{Status: service.StatusCompleted}}
	s := NewCronScheduler(store, runner, nil, time.Second, zap.NewNop())

	now := time.Now()
	s.dispatchDue(context.Background(), now)

	if !task.NextRunAt.After(now) {
		t.Fatalf("expected next_run_at to be advanced before dispatch, got %v", task.NextRunAt)
	}
}

func TestCronScheduler_DispatchDue_SkipsInactiveAndNotYetDue(t *testing.T) {
	inactive := &service.PeriodicTask{ID: "inactive", Status: service.PeriodicStatusPaused, NextRunAt: time.Now().Add(-time.Minute)}
	notDue := &service.PeriodicTask{ID: "not-due", Status: service.PeriodicStatusActive, NextRunAt: time.Now().Add(time.Hour)}
	store := newFakeTaskStore(inactive, notDue)
	runner := &fakeRunner{result: &service.ResponsesResult{Status: service.StatusCompleted}}
	s := NewCronScheduler(store, runner, nil, time.Second, zap.NewNop())

	s.dispatchDue(context.Background(), time.Now())

	if store.runCount() != 0 {
		t.Fatalf("expected neither task to be dispatched, got %d runs", store.runCount())
	}
}

func TestCronScheduler_Execute_SuccessNotifies(t *testing.T) {
	task := &service.PeriodicTask{
		ID: "t2", UserRef: "user1", Title: "daily digest", NotifyOnSuccess: true,
	}
	store := newFakeTaskStore(task)
	runner := &fakeRunner{result: &service.ResponsesResult{
		Status: service.StatusCompleted,
		Output: []service.ResponseOutputItem{{Type: "message", Content: "all good"}},
	}}
	notifier := &fakeNotifier{}
	s := NewCronScheduler(store, runner, notifier, time.Second, zap.NewNop())

	s.execute(context.Background(), task)

	if task.Stats.TotalSuccesses != 1 || task.Stats.ConsecutiveFails != 0 {
		t.Fatalf("expected one recorded success, got stats=%+v", task.Stats)
	}
	if notifier.sent != 1 {
		t.Fatalf("expected a success notification, got %d", notifier.sent)
	}
	if store.runCount() != 1 {
		t.Fatalf("expected one run to be persisted, got %d", store.runCount())
	}
}

func TestCronScheduler_Execute_FailureParksAfterMaxRetries(t *testing.T) {
	task := &service.PeriodicTask{
		ID: "t3", UserRef: "user1", Title: "flaky task",
		MaxRetries: 1,
		Stats:      service.PeriodicTaskStats{ConsecutiveFails: 1},
	}
	store := newFakeTaskStore(task)
	runner := &fakeRunner{err: context.DeadlineExceeded}
	notifier := &fakeNotifier{}
	s := NewCronScheduler(store, runner, notifier, time.Second, zap.NewNop())

	s.execute(context.Background(), task)

	if task.Status != service.PeriodicStatusFailed {
		t.Fatalf("expected the task to be parked as failed, got %s", task.Status)
	}
	if notifier.sent != 1 {
		t.Fatalf("expected a failure notification once parked, got %d", notifier.sent)
	}
}
