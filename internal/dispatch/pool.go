package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/coder-judge-api/internal/observability"
)

// PoolConfig sizes the worker pool and its retry policy.
type PoolConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
}

// Pool is a bounded queue drained by a fixed set of workers. Each job is sent
// to the judge with exponential backoff until it succeeds or runs out of attempts.
type Pool struct {
	judge  Judge
	cfg    PoolConfig
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.RWMutex
	jobs    chan Job
	closed  bool
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a dispatch pool. Call Start before dispatching.
func NewPool(judge Judge, cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Pool{
		judge:  judge,
		cfg:    cfg,
		logger: logger.With().Str("component", "dispatch_pool").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/coder-judge-api/internal/dispatch"),
		now:    time.Now,
		jobs:   make(chan Job, cfg.QueueSize),
	}
}

// Start launches the workers. Cancelling ctx aborts pending backoff waits.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("dispatch pool started")
}

// Stop refuses new jobs, waits for queued jobs to drain and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		return
	}
	p.wg.Wait()
	p.cancel()
	p.logger.Info().Msg("dispatch pool stopped")
}

// Dispatch queues the submission for the judge. A full or stopped queue drops
// the job; the submission then stays PENDING until an operator re-dispatches it.
func (p *Pool) Dispatch(ctx context.Context, submissionID uint, languageJudgeCode int) bool {
	_, span := p.tracer.Start(ctx, "dispatch.enqueue", trace.WithAttributes(
		attribute.Int64("submission.id", int64(submissionID)),
		attribute.Int("language.judge_code", languageJudgeCode),
	))
	defer span.End()

	job := Job{
		ID:                uuid.NewString(),
		SubmissionID:      submissionID,
		LanguageJudgeCode: languageJudgeCode,
		EnqueuedAt:        p.now().UTC(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		span.SetStatus(codes.Error, "pool_closed")
		observability.Dispatches().WithLabelValues("dropped").Inc()
		p.logger.Error().Uint("submission_id", submissionID).Msg("dispatch pool closed, submission left pending")
		return false
	}

	select {
	case p.jobs <- job:
		observability.DispatchQueueDepth().Inc()
		span.SetAttributes(attribute.String("dispatch.job_id", job.ID))
		return true
	default:
		span.SetStatus(codes.Error, "queue_full")
		observability.Dispatches().WithLabelValues("dropped").Inc()
		p.logger.Error().Uint("submission_id", submissionID).Int("queue_size", p.cfg.QueueSize).Msg("dispatch queue full, submission left pending")
		return false
	}
}

func (p *Pool) worker(index int) {
	defer p.wg.Done()
	for job := range p.jobs {
		observability.DispatchQueueDepth().Dec()
		p.process(job)
	}
	p.logger.Debug().Int("worker", index).Msg("dispatch worker exited")
}

func (p *Pool) process(job Job) {
	logger := p.logger.With().
		Str("job_id", job.ID).
		Uint("submission_id", job.SubmissionID).
		Int("language_judge_code", job.LanguageJudgeCode).
		Logger()

	ctx, span := p.tracer.Start(p.runCtx, "dispatch.deliver", trace.WithAttributes(
		attribute.String("dispatch.job_id", job.ID),
		attribute.Int64("submission.id", int64(job.SubmissionID)),
	))
	defer span.End()

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := p.attempt(ctx, job)
		if err == nil {
			observability.Dispatches().WithLabelValues("sent").Inc()
			logger.Info().Int("attempt", attempt).Msg("submission dispatched to judge")
			return
		}

		span.RecordError(err)
		if attempt == p.cfg.MaxAttempts {
			span.SetStatus(codes.Error, "exhausted")
			observability.Dispatches().WithLabelValues("exhausted").Inc()
			logger.Error().Err(err).Int("attempts", attempt).Msg("judge dispatch exhausted, submission left pending")
			return
		}

		delay := Backoff(attempt-1, p.cfg.BackoffBase, p.cfg.BackoffMax)
		observability.Dispatches().WithLabelValues("retried").Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("judge dispatch failed, retrying")

		if !sleep(ctx, delay) {
			span.SetStatus(codes.Error, "cancelled")
			observability.Dispatches().WithLabelValues("cancelled").Inc()
			logger.Warn().Int("attempt", attempt).Msg("judge dispatch cancelled during backoff")
			return
		}
	}
}

func (p *Pool) attempt(ctx context.Context, job Job) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := p.now()
	err := p.judge.Submit(attemptCtx, job)
	observability.DispatchAttemptDuration().Observe(time.Since(start).Seconds())
	return err
}

func sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
