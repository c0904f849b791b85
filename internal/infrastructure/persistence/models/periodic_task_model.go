package models

import "time"

// PeriodicTaskModel is the persisted form of service.PeriodicTask (§3).
type PeriodicTaskModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	UserRef          string `gorm:"index;size:128;not null"`
	SessionID        string `gorm:"size:64;not null"`
	Title            string `gorm:"size:256;not null"`
	Recipe           string `gorm:"type:text;not null"`
	ScheduleType     string `gorm:"size:16;not null"`
	ScheduleCron     string `gorm:"size:64"`
	IntervalEvery    int
	IntervalUnit     string `gorm:"size:16"`
	Timezone         string `gorm:"size:64"`
	Status           string `gorm:"size:16;not null"`
	NextRunAt        time.Time
	NotifyOnSuccess  bool
	TotalRuns        int
	TotalSuccesses   int
	ConsecutiveFails int
	MaxRetries       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定表名
func (PeriodicTaskModel) TableName() string {
	return "periodic_tasks"
}

// PeriodicTaskRunModel is the persisted form of service.PeriodicTaskRun (§3).
type PeriodicTaskRunModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	TaskID        string `gorm:"index;size:64;not null"`
	Attempt       int
	Status        string `gorm:"size:16;not null"`
	OutputSummary string `gorm:"type:text"`
	Error         string `gorm:"type:text"`
	InputTokens   int
	OutputTokens  int
	TotalTokens   int
	StartedAt     time.Time
	CompletedAt   time.Time
}

// TableName 指定表名
func (PeriodicTaskRunModel) TableName() string {
	return "periodic_task_runs"
}
