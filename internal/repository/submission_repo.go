package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/coder-judge-api/internal/models"
)

// ErrSubmissionNotPending is returned by a pending-only result update when the row has already been finalized.
var ErrSubmissionNotPending = errors.New("submission is not pending")

// SortOrder selects the created_at direction of a listing.
type SortOrder int

const (
	Descending SortOrder = iota
	Ascending
)

// SubmissionPageFilter narrows the paged history of a single user.
// Nil or empty fields do not constrain the result.
type SubmissionPageFilter struct {
	UserID          uint
	LanguageID      *uint
	Status          *models.SubmissionStatus
	ExerciseKeyword string
	Page            int
	PageSize        int
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Submission, error)
	ListByExercise(ctx context.Context, exerciseID uint) ([]models.Submission, error)
	ListByUserAndExercise(ctx context.Context, userID, exerciseID uint) ([]models.Submission, error)
	ListByStatus(ctx context.Context, status models.SubmissionStatus, order SortOrder) ([]models.Submission, error)
	LatestByUserExerciseAndStatus(ctx context.Context, userID, exerciseID uint, status models.SubmissionStatus) (models.Submission, error)
	ListByUserPaged(ctx context.Context, filter SubmissionPageFilter) ([]models.Submission, int64, error)
	CountByStatusForUser(ctx context.Context, userID uint) ([]models.StatusCount, error)
	CountByLanguage(ctx context.Context) ([]models.LanguageCount, error)
	ApplyResult(ctx context.Context, id uint, result models.SubmissionResult, pendingOnly bool) (models.Submission, error)
	Delete(ctx context.Context, id uint) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Preload("User").
		Preload("Exercise").
		Preload("Language")
}

func orderClause(order SortOrder) string {
	if order == Ascending {
		return "submissions.created_at ASC, submissions.id ASC"
	}
	return "submissions.created_at DESC, submissions.id DESC"
}

func (r *submissionRepository) list(query *gorm.DB, order SortOrder) ([]models.Submission, error) {
	submissions := make([]models.Submission, 0)
	if err := query.Order(orderClause(order)).Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) ListByUser(ctx context.Context, userID uint) ([]models.Submission, error) {
	return r.list(r.baseQuery(ctx).Where("submissions.user_id = ?", userID), Descending)
}

func (r *submissionRepository) ListByExercise(ctx context.Context, exerciseID uint) ([]models.Submission, error) {
	return r.list(r.baseQuery(ctx).Where("submissions.exercise_id = ?", exerciseID), Descending)
}

func (r *submissionRepository) ListByUserAndExercise(ctx context.Context, userID, exerciseID uint) ([]models.Submission, error) {
	query := r.baseQuery(ctx).
		Where("submissions.user_id = ?", userID).
		Where("submissions.exercise_id = ?", exerciseID)
	return r.list(query, Descending)
}

func (r *submissionRepository) ListByStatus(ctx context.Context, status models.SubmissionStatus, order SortOrder) ([]models.Submission, error) {
	return r.list(r.baseQuery(ctx).Where("submissions.status = ?", status.String()), order)
}

func (r *submissionRepository) LatestByUserExerciseAndStatus(ctx context.Context, userID, exerciseID uint, status models.SubmissionStatus) (models.Submission, error) {
	var submission models.Submission
	err := r.baseQuery(ctx).
		Where("submissions.user_id = ?", userID).
		Where("submissions.exercise_id = ?", exerciseID).
		Where("submissions.status = ?", status.String()).
		Order(orderClause(Descending)).
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func applyPageFilter(query *gorm.DB, filter SubmissionPageFilter) *gorm.DB {
	query = query.Where("submissions.user_id = ?", filter.UserID)

	if filter.LanguageID != nil {
		query = query.Where("submissions.language_id = ?", *filter.LanguageID)
	}

	if filter.Status != nil {
		query = query.Where("submissions.status = ?", filter.Status.String())
	}

	if keyword := strings.TrimSpace(filter.ExerciseKeyword); keyword != "" {
		query = query.
			Joins("JOIN exercises ON exercises.id = submissions.exercise_id").
			Where(`LOWER(exercises.title) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(keyword))+"%")
	}

	return query
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike makes LIKE wildcards in user input match literally.
func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func (r *submissionRepository) ListByUserPaged(ctx context.Context, filter SubmissionPageFilter) ([]models.Submission, int64, error) {
	var total int64
	countQuery := applyPageFilter(r.db.WithContext(ctx).Model(&models.Submission{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 0 {
		page = 0
	}

	query := applyPageFilter(r.baseQuery(ctx), filter)
	if filter.PageSize > 0 {
		query = query.Offset(page * filter.PageSize).Limit(filter.PageSize)
	}

	submissions, err := r.list(query, Descending)
	if err != nil {
		return nil, 0, err
	}

	return submissions, total, nil
}

func (r *submissionRepository) CountByStatusForUser(ctx context.Context, userID uint) ([]models.StatusCount, error) {
	rows := make([]models.StatusCount, 0)
	err := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Select("status, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("status").
		Order("status ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *submissionRepository) CountByLanguage(ctx context.Context) ([]models.LanguageCount, error) {
	rows := make([]models.LanguageCount, 0)
	err := r.db.WithContext(ctx).
		Table("submissions").
		Select("languages.name AS language, COUNT(submissions.id) AS count").
		Joins("JOIN languages ON languages.id = submissions.language_id").
		Group("languages.name").
		Order("COUNT(submissions.id) DESC, languages.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func resultColumns(result models.SubmissionResult) map[string]interface{} {
	updates := map[string]interface{}{}
	if result.Status != nil {
		updates["status"] = result.Status.String()
	}
	if result.Stdout != nil {
		updates["stdout"] = *result.Stdout
	}
	if result.Stderr != nil {
		updates["stderr"] = *result.Stderr
	}
	if result.CompileOutput != nil {
		updates["compile_output"] = *result.CompileOutput
	}
	if result.Time != nil {
		updates["time"] = *result.Time
	}
	if result.Memory != nil {
		updates["memory"] = *result.Memory
	}
	return updates
}

// ApplyResult writes the provided result columns in a single UPDATE. With
// pendingOnly set, the row is only touched while it is still PENDING.
func (r *submissionRepository) ApplyResult(ctx context.Context, id uint, result models.SubmissionResult, pendingOnly bool) (models.Submission, error) {
	updates := resultColumns(result)
	if len(updates) == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return models.Submission{}, err
		}
		if pendingOnly && existing.IsFinal() {
			return existing, ErrSubmissionNotPending
		}
		return existing, nil
	}

	query := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id)
	if pendingOnly {
		query = query.Where("status = ?", models.SubmissionStatusPending.String())
	}

	outcome := query.Updates(updates)
	if outcome.Error != nil {
		return models.Submission{}, outcome.Error
	}

	if outcome.RowsAffected == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return models.Submission{}, err
		}
		if pendingOnly {
			return existing, ErrSubmissionNotPending
		}
		return existing, nil
	}

	return r.GetByID(ctx, id)
}

func (r *submissionRepository) Delete(ctx context.Context, id uint) error {
	outcome := r.db.WithContext(ctx).Delete(&models.Submission{}, id)
	if outcome.Error != nil {
		return outcome.Error
	}
	if outcome.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
