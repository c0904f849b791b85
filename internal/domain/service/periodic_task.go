package service

import "time"

// PeriodicTaskStatus is the lifecycle state of a PeriodicTask.
type PeriodicTaskStatus string

const (
	PeriodicStatusActive    PeriodicTaskStatus = "active"
	PeriodicStatusPaused    PeriodicTaskStatus = "paused"
	PeriodicStatusCompleted PeriodicTaskStatus = "completed"
	PeriodicStatusFailed    PeriodicTaskStatus = "failed"
)

// ScheduleType discriminates between a cron expression and a simple
// interval (§4.11).
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
)

// IntervalUnit is the unit for an interval schedule.
type IntervalUnit string

const (
	IntervalMinutes IntervalUnit = "minutes"
	IntervalHours   IntervalUnit = "hours"
	IntervalDays    IntervalUnit = "days"
)

// CronSpec is a standard 5-field cron expression split into named fields,
// matching the wire shape in spec.md §6
// ({"type":"cron","cron":{minute,hour,day_of_month,month,day_of_week}}).
type CronSpec struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// Expr renders the standard 5-field crontab expression robfig/cron expects.
func (c CronSpec) Expr() string {
	field := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	return field(c.Minute) + " " + field(c.Hour) + " " + field(c.DayOfMonth) + " " + field(c.Month) + " " + field(c.DayOfWeek)
}

// IntervalSpec is {every, unit} per spec.md §4.11.
type IntervalSpec struct {
	Every int
	Unit  IntervalUnit
}

// Duration converts the interval spec into a time.Duration.
func (i IntervalSpec) Duration() time.Duration {
	switch i.Unit {
	case IntervalHours:
		return time.Duration(i.Every) * time.Hour
	case IntervalDays:
		return time.Duration(i.Every) * 24 * time.Hour
	default:
		return time.Duration(i.Every) * time.Minute
	}
}

// Schedule is a discriminated union of CronSpec / IntervalSpec.
type Schedule struct {
	Type     ScheduleType
	Cron     CronSpec
	Interval IntervalSpec
}

// PeriodicTaskStats holds the run counters referenced by spec.md §3/§4.11.
type PeriodicTaskStats struct {
	TotalRuns        int
	TotalSuccesses   int
	ConsecutiveFails int
}

// PeriodicTask is the persisted schedule definition (§3).
type PeriodicTask struct {
	ID               string
	UserRef          string
	SessionID        string
	Title            string
	Recipe           string // objective + numbered instructions + output spec
	Schedule         Schedule
	Timezone         string
	Status           PeriodicTaskStatus
	NextRunAt        time.Time
	NotifyOnSuccess  bool
	Stats            PeriodicTaskStats
	MaxRetries       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PeriodicRunStatus is the lifecycle state of one PeriodicTaskRun.
type PeriodicRunStatus string

const (
	RunStatusRunning   PeriodicRunStatus = "running"
	RunStatusCompleted PeriodicRunStatus = "completed"
	RunStatusFailed    PeriodicRunStatus = "failed"
)

// PeriodicTaskRun is one execution attempt of a PeriodicTask (§3).
type PeriodicTaskRun struct {
	ID            string
	TaskID        string
	Attempt       int
	Status        PeriodicRunStatus
	OutputSummary string
	Error         string
	Usage         Usage
	StartedAt     time.Time
	CompletedAt   time.Time
}

// LLMResultKind discriminates the two shapes a turn's invoker result can
// take (§3).
type LLMResultKind string

const (
	ResultKindText     LLMResultKind = "text"
	ResultKindToolCall LLMResultKind = "tool_call"
)

// LLMResult is the normalized outcome of one LLM call (§3).
type LLMResult struct {
	Kind        LLMResultKind
	Text        string
	ToolCalls   []ToolCallRequest
	Usage       Usage
	SessionID   string
	ProviderRaw []byte
}
