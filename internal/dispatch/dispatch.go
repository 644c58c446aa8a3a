// Package dispatch hands freshly created submissions to the external judge
// without blocking the request that created them.
package dispatch

import (
	"context"
	"time"
)

// Job is one hand-off of a submission to the judge.
type Job struct {
	ID                string    `json:"job_id"`
	SubmissionID      uint      `json:"submission_id"`
	LanguageJudgeCode int       `json:"language_judge_code"`
	EnqueuedAt        time.Time `json:"dispatched_at"`
}

// Judge delivers a job to the execution collaborator. Implementations return
// an error when the judge could not be reached.
type Judge interface {
	Submit(ctx context.Context, job Job) error
}

// Dispatcher accepts submissions for grading. Dispatch never blocks and never
// fails the caller; it reports whether the job was queued.
type Dispatcher interface {
	Dispatch(ctx context.Context, submissionID uint, languageJudgeCode int) bool
}

// Backoff returns the delay before retry number attempt (zero based):
// base doubled per attempt and capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
