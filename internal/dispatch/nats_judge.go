package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSJudge publishes jobs on a NATS subject the judge workers subscribe to.
type NATSJudge struct {
	conn    *nats.Conn
	subject string
}

// NewNATSJudge constructs a judge backed by a NATS connection.
func NewNATSJudge(conn *nats.Conn, subject string) *NATSJudge {
	return &NATSJudge{conn: conn, subject: subject}
}

// Submit publishes the job and waits for the server to acknowledge the flush,
// so an unreachable server surfaces as an error and the pool retries.
func (j *NATSJudge) Submit(ctx context.Context, job Job) error {
	if j.conn == nil || j.subject == "" {
		return fmt.Errorf("nats judge is not configured")
	}

	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}

	if err := j.conn.Publish(j.subject, payload); err != nil {
		return fmt.Errorf("publish dispatch job: %w", err)
	}

	if err := j.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush dispatch job: %w", err)
	}

	return nil
}

// EncodeJob renders the wire form of a dispatch job.
func EncodeJob(job Job) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode dispatch job: %w", err)
	}
	return payload, nil
}

// LogJudge only records the hand-off. It stands in for the judge when no
// broker is configured, e.g. in local development.
type LogJudge struct {
	logger zerolog.Logger
}

// NewLogJudge constructs a logging judge.
func NewLogJudge(logger zerolog.Logger) *LogJudge {
	return &LogJudge{logger: logger.With().Str("component", "log_judge").Logger()}
}

// Submit logs the job.
func (j *LogJudge) Submit(_ context.Context, job Job) error {
	j.logger.Info().
		Str("job_id", job.ID).
		Uint("submission_id", job.SubmissionID).
		Int("language_judge_code", job.LanguageJudgeCode).
		Msg("judge broker not configured, dispatch recorded only")
	return nil
}
