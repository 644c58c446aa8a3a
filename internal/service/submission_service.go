package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/coder-judge-api/internal/dispatch"
	"github.com/noah-isme/coder-judge-api/internal/dto"
	"github.com/noah-isme/coder-judge-api/internal/models"
	"github.com/noah-isme/coder-judge-api/internal/observability"
	"github.com/noah-isme/coder-judge-api/internal/repository"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrUserNotFound indicates the submitting user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrExerciseNotFound indicates the referenced exercise does not exist.
	ErrExerciseNotFound = errors.New("exercise not found")
	// ErrLanguageNotFound indicates the referenced language does not exist.
	ErrLanguageNotFound = errors.New("language not found")
	// ErrSubmissionForbidden indicates the caller may not act on the submission.
	ErrSubmissionForbidden = errors.New("not allowed to modify this submission")
	// ErrInvalidSubmissionInput indicates a malformed request.
	ErrInvalidSubmissionInput = errors.New("invalid submission input")
	// ErrSubmissionFinalized indicates a result arrived for an already graded submission.
	ErrSubmissionFinalized = errors.New("submission already has a final result")
	// ErrNoSuccessfulSubmission indicates the user has not solved the exercise yet.
	ErrNoSuccessfulSubmission = errors.New("no successful submission for this exercise")
	// ErrSubmissionNotPending indicates the operation requires a PENDING submission.
	ErrSubmissionNotPending = errors.New("submission is not pending")
	// ErrDispatchUnavailable indicates the grading queue refused the job.
	ErrDispatchUnavailable = errors.New("grading queue unavailable")
)

const (
	languageStatsCacheKey   = "submissions:stats:languages"
	languageStatsVersionKey = languageStatsCacheKey + ":version"
)

// SubmissionServiceConfig tunes result handling and caching.
type SubmissionServiceConfig struct {
	// RejectFinalized makes result ingestion fail on submissions that already
	// reached a terminal status instead of overwriting them.
	RejectFinalized bool
	StatsCacheTTL   time.Duration
}

// SubmissionService orchestrates the submission lifecycle.
type SubmissionService interface {
	Create(ctx context.Context, actor Actor, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	ListForUser(ctx context.Context, userID uint) ([]dto.SubmissionResponse, error)
	ListForExercise(ctx context.Context, exerciseID uint) ([]dto.SubmissionResponse, error)
	ListForUserAndExercise(ctx context.Context, userID, exerciseID uint) ([]dto.SubmissionResponse, error)
	ListForUserPaged(ctx context.Context, userID uint, query dto.SubmissionPageQuery) (dto.SubmissionPageResponse, error)
	ListPendingQueue(ctx context.Context) ([]dto.SubmissionResponse, error)
	LatestSuccessful(ctx context.Context, userID, exerciseID uint) (dto.SubmissionResponse, error)
	ApplyResult(ctx context.Context, id uint, payload dto.SubmissionResultRequest) (dto.SubmissionResponse, error)
	Redispatch(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	Delete(ctx context.Context, id uint, actor Actor) error
	StatsForUser(ctx context.Context, userID uint) ([]dto.StatusCountResponse, error)
	StatsByLanguage(ctx context.Context) ([]dto.LanguageCountResponse, error)
	Subscribe(submissionID uint) (<-chan dto.SubmissionStatusEvent, func())
}

type submissionService struct {
	submissions repository.SubmissionRepository
	catalog     repository.CatalogRepository
	dispatcher  dispatch.Dispatcher
	cache       *redis.Client
	validator   *validator.Validate
	cfg         SubmissionServiceConfig
	broker      *statusBroker
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance. cache may be nil.
func NewSubmissionService(
	submissions repository.SubmissionRepository,
	catalog repository.CatalogRepository,
	dispatcher dispatch.Dispatcher,
	cache *redis.Client,
	validate *validator.Validate,
	cfg SubmissionServiceConfig,
	logger zerolog.Logger,
) SubmissionService {
	if cfg.StatsCacheTTL <= 0 {
		cfg.StatsCacheTTL = time.Minute
	}

	return &submissionService{
		submissions: submissions,
		catalog:     catalog,
		dispatcher:  dispatcher,
		cache:       cache,
		validator:   validate,
		cfg:         cfg,
		broker:      newStatusBroker(),
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/coder-judge-api/internal/service/submission"),
		now:         time.Now,
	}
}

func (s *submissionService) Create(ctx context.Context, actor Actor, payload dto.SubmissionCreateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if strings.TrimSpace(payload.SourceCode) == "" {
		return dto.SubmissionResponse{}, fmt.Errorf("%w: source code must not be blank", ErrInvalidSubmissionInput)
	}

	ctx, span := s.tracer.Start(ctx, "submissions.create", trace.WithAttributes(
		attribute.Int64("submission.user_id", int64(actor.ID)),
		attribute.Int64("submission.exercise_id", int64(payload.ExerciseID)),
		attribute.Int64("submission.language_id", int64(payload.LanguageID)),
	))
	defer span.End()

	user, err := s.catalog.GetUser(ctx, actor.ID)
	if err != nil {
		return dto.SubmissionResponse{}, s.spanError(span, mapNotFound(err, ErrUserNotFound))
	}

	exercise, err := s.catalog.GetExercise(ctx, payload.ExerciseID)
	if err != nil {
		return dto.SubmissionResponse{}, s.spanError(span, mapNotFound(err, ErrExerciseNotFound))
	}

	language, err := s.catalog.GetLanguage(ctx, payload.LanguageID)
	if err != nil {
		return dto.SubmissionResponse{}, s.spanError(span, mapNotFound(err, ErrLanguageNotFound))
	}

	submission := models.Submission{
		UserID:     user.ID,
		ExerciseID: exercise.ID,
		LanguageID: language.ID,
		SourceCode: payload.SourceCode,
		Status:     models.SubmissionStatusPending,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, s.spanError(span, err)
	}
	submission.User = user
	submission.Exercise = exercise
	submission.Language = language

	span.SetAttributes(attribute.Int64("submission.id", int64(submission.ID)))
	observability.SubmissionsCreated().Inc()
	s.invalidateLanguageStats(ctx)

	if !s.dispatcher.Dispatch(ctx, submission.ID, language.Code) {
		s.logger.Warn().Uint("submission_id", submission.ID).Msg("submission stored but not queued for grading")
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("user_id", user.ID).
		Uint("exercise_id", exercise.ID).
		Str("language", language.Name).
		Msg("submission created")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Get(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, mapNotFound(err, ErrSubmissionNotFound)
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ListForUser(ctx context.Context, userID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListForExercise(ctx context.Context, exerciseID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByExercise(ctx, exerciseID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListForUserAndExercise(ctx context.Context, userID, exerciseID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByUserAndExercise(ctx, userID, exerciseID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListForUserPaged(ctx context.Context, userID uint, query dto.SubmissionPageQuery) (dto.SubmissionPageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return dto.SubmissionPageResponse{}, err
	}

	size := query.Size
	if size == 0 {
		size = dto.DefaultPageSize
	}
	if size > dto.MaxPageSize {
		size = dto.MaxPageSize
	}

	filter := repository.SubmissionPageFilter{
		UserID:          userID,
		LanguageID:      query.LanguageID,
		ExerciseKeyword: strings.TrimSpace(query.Exercise),
		Page:            query.Page,
		PageSize:        size,
	}

	if raw := strings.TrimSpace(query.Status); raw != "" {
		status, err := models.ParseSubmissionStatus(raw)
		if err != nil {
			return dto.SubmissionPageResponse{}, fmt.Errorf("%w: %v", ErrInvalidSubmissionInput, err)
		}
		filter.Status = &status
	}

	submissions, total, err := s.submissions.ListByUserPaged(ctx, filter)
	if err != nil {
		return dto.SubmissionPageResponse{}, err
	}

	return dto.SubmissionPageResponse{
		Items:         dto.NewSubmissionResponseSlice(submissions),
		Page:          query.Page,
		PageSize:      size,
		TotalElements: total,
	}, nil
}

func (s *submissionService) ListPendingQueue(ctx context.Context) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByStatus(ctx, models.SubmissionStatusPending, repository.Ascending)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) LatestSuccessful(ctx context.Context, userID, exerciseID uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.LatestByUserExerciseAndStatus(ctx, userID, exerciseID, models.SubmissionStatusSuccess)
	if err != nil {
		return dto.SubmissionResponse{}, mapNotFound(err, ErrNoSuccessfulSubmission)
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) ApplyResult(ctx context.Context, id uint, payload dto.SubmissionResultRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	result, err := toSubmissionResult(payload)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	statusLabel := "unchanged"
	if result.Status != nil {
		statusLabel = result.Status.String()
	}

	ctx, span := s.tracer.Start(ctx, "submissions.apply_result", trace.WithAttributes(
		attribute.Int64("submission.id", int64(id)),
		attribute.String("submission.result_status", statusLabel),
		attribute.Bool("submission.reject_finalized", s.cfg.RejectFinalized),
	))
	defer span.End()

	outcome := "applied"
	if !s.cfg.RejectFinalized {
		existing, err := s.submissions.GetByID(ctx, id)
		if err != nil {
			observability.ResultsIngested().WithLabelValues(statusLabel, "not_found").Inc()
			return dto.SubmissionResponse{}, s.spanError(span, mapNotFound(err, ErrSubmissionNotFound))
		}
		if existing.IsFinal() {
			outcome = "overwritten"
			span.SetAttributes(attribute.Bool("submission.overwrite", true))
			s.logger.Warn().
				Uint("submission_id", id).
				Str("previous_status", existing.Status.String()).
				Str("status", statusLabel).
				Msg("overwriting final submission result")
		}
	}

	updated, err := s.submissions.ApplyResult(ctx, id, result, s.cfg.RejectFinalized)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrSubmissionNotPending):
			observability.ResultsIngested().WithLabelValues(statusLabel, "rejected").Inc()
			s.logger.Warn().Uint("submission_id", id).Str("status", statusLabel).Msg("result rejected for final submission")
			return dto.SubmissionResponse{}, s.spanError(span, ErrSubmissionFinalized)
		case errors.Is(err, gorm.ErrRecordNotFound):
			observability.ResultsIngested().WithLabelValues(statusLabel, "not_found").Inc()
			return dto.SubmissionResponse{}, s.spanError(span, ErrSubmissionNotFound)
		default:
			return dto.SubmissionResponse{}, s.spanError(span, err)
		}
	}

	observability.ResultsIngested().WithLabelValues(statusLabel, outcome).Inc()
	if result.Status != nil {
		s.publishStatus(updated)
	}

	s.logger.Info().Uint("submission_id", id).Str("status", updated.Status.String()).Msg("submission result applied")

	return dto.NewSubmissionResponse(updated), nil
}

func (s *submissionService) Redispatch(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, mapNotFound(err, ErrSubmissionNotFound)
	}

	if submission.Status != models.SubmissionStatusPending {
		return dto.SubmissionResponse{}, ErrSubmissionNotPending
	}

	if !s.dispatcher.Dispatch(ctx, submission.ID, submission.Language.Code) {
		return dto.SubmissionResponse{}, ErrDispatchUnavailable
	}

	s.logger.Info().Uint("submission_id", submission.ID).Msg("submission re-dispatched")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Delete(ctx context.Context, id uint, actor Actor) error {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return mapNotFound(err, ErrSubmissionNotFound)
	}

	if !actor.IsAdmin() && !actor.Owns(submission.UserID) {
		return ErrSubmissionForbidden
	}

	if err := s.submissions.Delete(ctx, id); err != nil {
		return mapNotFound(err, ErrSubmissionNotFound)
	}

	s.invalidateLanguageStats(ctx)
	s.logger.Info().Uint("submission_id", id).Uint("actor_id", actor.ID).Msg("submission deleted")

	return nil
}

func (s *submissionService) StatsForUser(ctx context.Context, userID uint) ([]dto.StatusCountResponse, error) {
	rows, err := s.submissions.CountByStatusForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewStatusCountResponses(rows), nil
}

func (s *submissionService) StatsByLanguage(ctx context.Context) ([]dto.LanguageCountResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submissions.stats_by_language")
	defer span.End()

	cacheKey := ""
	if s.cache != nil {
		key, err := s.languageStatsKey(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to read language stats cache version")
			span.RecordError(err)
		}
		cacheKey = key
	}

	if cacheKey != "" {
		span.SetAttributes(attribute.String("stats.cache_key", cacheKey))
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var response []dto.LanguageCountResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				span.SetAttributes(attribute.Bool("stats.cache_hit", true))
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read language stats cache")
			span.RecordError(err)
		}
	}

	rows, err := s.submissions.CountByLanguage(ctx)
	if err != nil {
		return nil, s.spanError(span, err)
	}
	response := dto.NewLanguageCountResponses(rows)

	if cacheKey != "" {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cfg.StatsCacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store language stats cache")
				span.RecordError(err)
			}
		}
	}

	return response, nil
}

// languageStatsKey names the cache entry of the current stats generation.
// Invalidation bumps the generation, so counts read before a write can only
// land in an entry that is no longer looked up.
func (s *submissionService) languageStatsKey(ctx context.Context) (string, error) {
	version, err := s.cache.Get(ctx, languageStatsVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return fmt.Sprintf("%s:%d", languageStatsCacheKey, version), nil
}

func (s *submissionService) Subscribe(submissionID uint) (<-chan dto.SubmissionStatusEvent, func()) {
	channel := s.broker.subscribe(submissionID)
	observability.StatusStreamClients().Inc()

	cleanup := func() {
		s.broker.unsubscribe(submissionID, channel)
		observability.StatusStreamClients().Dec()
	}

	return channel, cleanup
}

func (s *submissionService) publishStatus(submission models.Submission) {
	s.broker.broadcast(dto.SubmissionStatusEvent{
		SubmissionID: submission.ID,
		Status:       submission.Status.String(),
		OccurredAt:   s.now().UTC(),
	})
}

func (s *submissionService) invalidateLanguageStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Incr(ctx, languageStatsVersionKey).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate language stats cache")
	}
}

func (s *submissionService) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func toSubmissionResult(payload dto.SubmissionResultRequest) (models.SubmissionResult, error) {
	result := models.SubmissionResult{
		Stdout:        payload.Stdout,
		Stderr:        payload.Stderr,
		CompileOutput: payload.CompileOutput,
		Time:          payload.Time,
		Memory:        payload.Memory,
	}

	if payload.Status != nil {
		status, err := models.ParseSubmissionStatus(*payload.Status)
		if err != nil {
			return models.SubmissionResult{}, fmt.Errorf("%w: %v", ErrInvalidSubmissionInput, err)
		}
		if !status.IsTerminal() {
			return models.SubmissionResult{}, fmt.Errorf("%w: result status must be SUCCESS, FAIL or ERROR", ErrInvalidSubmissionInput)
		}
		result.Status = &status
	}

	return result, nil
}

func mapNotFound(err, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}
