package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/coder-judge-api/internal/dto"
	"github.com/noah-isme/coder-judge-api/internal/observability"
)

const resultConsumerQueue = "coder-judge-results"

//go:embed schema/judge_result.schema.json
var judgeResultSchema string

// ErrMalformedJudgeResult indicates a judge message that failed schema validation.
var ErrMalformedJudgeResult = errors.New("malformed judge result")

// JudgeResultMessage is what the judge publishes once a submission is graded.
type JudgeResultMessage struct {
	SubmissionID uint `json:"submission_id"`
	dto.SubmissionResultRequest
}

// ResultConsumer applies judge results received over NATS.
type ResultConsumer struct {
	service SubmissionService
	conn    *nats.Conn
	subject string
	schema  *jsonschema.Schema
	logger  zerolog.Logger
}

// NewResultConsumer compiles the message schema and prepares the consumer.
// conn may be nil when only HandleMessage is used.
func NewResultConsumer(svc SubmissionService, conn *nats.Conn, subject string, logger zerolog.Logger) (*ResultConsumer, error) {
	schema, err := jsonschema.CompileString("judge_result.schema.json", judgeResultSchema)
	if err != nil {
		return nil, fmt.Errorf("compile judge result schema: %w", err)
	}

	return &ResultConsumer{
		service: svc,
		conn:    conn,
		subject: subject,
		schema:  schema,
		logger:  logger.With().Str("component", "result_consumer").Logger(),
	}, nil
}

// Start subscribes to the result subject until ctx is cancelled.
func (c *ResultConsumer) Start(ctx context.Context) error {
	if c.conn == nil || c.subject == "" {
		return errors.New("result consumer requires a nats connection and subject")
	}

	sub, err := c.conn.QueueSubscribe(c.subject, resultConsumerQueue, func(msg *nats.Msg) {
		_ = c.HandleMessage(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.subject, err)
	}

	c.logger.Info().Str("subject", c.subject).Msg("listening for judge results")

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to drain judge result subscription")
		}
	}()

	return nil
}

// HandleMessage validates one judge message and applies it.
func (c *ResultConsumer) HandleMessage(ctx context.Context, data []byte) error {
	var document interface{}
	if err := json.Unmarshal(data, &document); err != nil {
		observability.ResultsIngested().WithLabelValues("unknown", "malformed").Inc()
		c.logger.Warn().Err(err).Msg("judge result is not valid json")
		return fmt.Errorf("%w: %v", ErrMalformedJudgeResult, err)
	}

	if err := c.schema.Validate(document); err != nil {
		observability.ResultsIngested().WithLabelValues("unknown", "malformed").Inc()
		c.logger.Warn().Err(err).Msg("judge result failed schema validation")
		return fmt.Errorf("%w: %v", ErrMalformedJudgeResult, err)
	}

	var message JudgeResultMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJudgeResult, err)
	}

	if _, err := c.service.ApplyResult(ctx, message.SubmissionID, message.SubmissionResultRequest); err != nil {
		c.logger.Error().Err(err).Uint("submission_id", message.SubmissionID).Msg("failed to apply judge result")
		return err
	}

	return nil
}
