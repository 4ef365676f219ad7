package task

import (
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Task is the record of one download request. All mutation goes through
// the Registry so a status read never observes a half-updated progress
// tuple.
type Task struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	Status     Status    `json:"status"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"` // 0 = unknown
	Progress   float64   `json:"progress"`
	Speed      float64   `json:"speed"` // bytes per second
	Filename   string    `json:"filename"`
	Filepath   string    `json:"filepath"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}
