// Package broker implements the durable job queue behind the collector
// workers.
//
// Jobs live in SQLite with visibility-timeout claim semantics: a claimed
// row is invisible for a configurable duration and reappears automatically
// if its worker crashes. A separate status table tracks the job lifecycle
// (queued → running → succeeded | failed) with monotonic transitions, a
// progress percentage, and the serialized result or error.
//
// One logical queue exists per collector type; each type runs its claimed
// jobs under a bounded worker pool.
package broker

import (
	"encoding/json"
	"errors"
	"time"
)

// JobType names a collector queue.
type JobType string

const (
	TypeCrawl       JobType = "crawl"
	TypeSecurity    JobType = "security"
	TypeFingerprint JobType = "fingerprint"
	TypeDiscovery   JobType = "discovery"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// statusRank orders statuses for monotonic transition checks.
func statusRank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	}
	return -1
}

// Job is one unit of collector work.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Target    string          `json:"target"`
	Purpose   string          `json:"purpose"`
	Status    Status          `json:"status"`
	Attempt   int             `json:"attempt"`
	Progress  int             `json:"progress"` // 0-100
	Config    json.RawMessage `json:"config,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var (
	// ErrAwaitTimeout is returned by AwaitCompletion when the job has not
	// reached a terminal status within the deadline. The job keeps running.
	ErrAwaitTimeout = errors.New("broker: await timeout")

	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("broker: job not found")
)
