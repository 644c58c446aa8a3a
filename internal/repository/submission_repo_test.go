package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/coder-judge-api/internal/models"
)

type catalogFixture struct {
	alice  models.User
	bob    models.User
	sum    models.Exercise
	graph  models.Exercise
	python models.Language
	golang models.Language
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Exercise{}, &models.Language{}, &models.Submission{}))
	return db
}

func seedCatalog(t *testing.T, db *gorm.DB) catalogFixture {
	t.Helper()
	f := catalogFixture{
		alice:  models.User{Username: "alice", Email: "alice@example.com", Role: models.RoleUser},
		bob:    models.User{Username: "bob", Email: "bob@example.com", Role: models.RoleUser},
		sum:    models.Exercise{Title: "Sum of Two Numbers"},
		graph:  models.Exercise{Title: "Shortest Path"},
		python: models.Language{Name: "Python", Code: 71},
		golang: models.Language{Name: "Go", Code: 60},
	}
	require.NoError(t, db.Create(&f.alice).Error)
	require.NoError(t, db.Create(&f.bob).Error)
	require.NoError(t, db.Create(&f.sum).Error)
	require.NoError(t, db.Create(&f.graph).Error)
	require.NoError(t, db.Create(&f.python).Error)
	require.NoError(t, db.Create(&f.golang).Error)
	return f
}

func insertSubmission(t *testing.T, repo SubmissionRepository, user models.User, exercise models.Exercise, language models.Language, status models.SubmissionStatus, createdAt time.Time) models.Submission {
	t.Helper()
	submission := models.Submission{
		UserID:     user.ID,
		ExerciseID: exercise.ID,
		LanguageID: language.ID,
		SourceCode: "print(1)",
		Status:     status,
		CreatedAt:  createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), &submission))
	require.NotZero(t, submission.ID)
	return submission
}

func TestSubmissionRepositoryGetByIDPreloadsReferences(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)

	created := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, time.Now())

	stored, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, stored.Status)
	require.Equal(t, "alice", stored.User.Username)
	require.Equal(t, "Sum of Two Numbers", stored.Exercise.Title)
	require.Equal(t, "Python", stored.Language.Name)
	require.Nil(t, stored.Stdout)
	require.Nil(t, stored.Time)

	_, err = repo.GetByID(context.Background(), created.ID+100)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestSubmissionRepositoryListsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	base := time.Now().Add(-time.Hour)

	oldest := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusFail, base)
	middle := insertSubmission(t, repo, f.alice, f.graph, f.golang, models.SubmissionStatusSuccess, base.Add(10*time.Minute))
	newest := insertSubmission(t, repo, f.alice, f.sum, f.golang, models.SubmissionStatusPending, base.Add(20*time.Minute))
	insertSubmission(t, repo, f.bob, f.sum, f.python, models.SubmissionStatusPending, base.Add(30*time.Minute))

	byUser, err := repo.ListByUser(context.Background(), f.alice.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{newest.ID, middle.ID, oldest.ID}, submissionIDs(byUser))
	for i := 1; i < len(byUser); i++ {
		require.False(t, byUser[i].CreatedAt.After(byUser[i-1].CreatedAt))
	}

	byPair, err := repo.ListByUserAndExercise(context.Background(), f.alice.ID, f.sum.ID)
	require.NoError(t, err)
	require.Equal(t, []uint{newest.ID, oldest.ID}, submissionIDs(byPair))

	byExercise, err := repo.ListByExercise(context.Background(), f.sum.ID)
	require.NoError(t, err)
	require.Len(t, byExercise, 3)

	none, err := repo.ListByUser(context.Background(), 9999)
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestSubmissionRepositoryListByStatusHonoursOrder(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	base := time.Now().Add(-time.Hour)

	first := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, base)
	second := insertSubmission(t, repo, f.bob, f.sum, f.python, models.SubmissionStatusPending, base.Add(time.Minute))
	insertSubmission(t, repo, f.bob, f.graph, f.python, models.SubmissionStatusSuccess, base.Add(2*time.Minute))

	queue, err := repo.ListByStatus(context.Background(), models.SubmissionStatusPending, Ascending)
	require.NoError(t, err)
	require.Equal(t, []uint{first.ID, second.ID}, submissionIDs(queue))

	recent, err := repo.ListByStatus(context.Background(), models.SubmissionStatusPending, Descending)
	require.NoError(t, err)
	require.Equal(t, []uint{second.ID, first.ID}, submissionIDs(recent))
}

func TestSubmissionRepositoryLatestByStatus(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	base := time.Now().Add(-time.Hour)

	_, err := repo.LatestByUserExerciseAndStatus(context.Background(), f.alice.ID, f.sum.ID, models.SubmissionStatusSuccess)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusSuccess, base)
	latest := insertSubmission(t, repo, f.alice, f.sum, f.golang, models.SubmissionStatusSuccess, base.Add(5*time.Minute))
	insertSubmission(t, repo, f.alice, f.sum, f.golang, models.SubmissionStatusFail, base.Add(10*time.Minute))

	found, err := repo.LatestByUserExerciseAndStatus(context.Background(), f.alice.ID, f.sum.ID, models.SubmissionStatusSuccess)
	require.NoError(t, err)
	require.Equal(t, latest.ID, found.ID)
}

func TestSubmissionRepositoryPagedFilters(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	base := time.Now().Add(-time.Hour)

	a := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusSuccess, base)
	b := insertSubmission(t, repo, f.alice, f.graph, f.python, models.SubmissionStatusFail, base.Add(time.Minute))
	c := insertSubmission(t, repo, f.alice, f.sum, f.golang, models.SubmissionStatusSuccess, base.Add(2*time.Minute))
	insertSubmission(t, repo, f.bob, f.sum, f.python, models.SubmissionStatusSuccess, base.Add(3*time.Minute))

	all, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, Page: 0, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, []uint{c.ID, b.ID}, submissionIDs(all))

	second, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, []uint{a.ID}, submissionIDs(second))

	success := models.SubmissionStatusSuccess
	python := f.python.ID
	filtered, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{
		UserID:          f.alice.ID,
		LanguageID:      &python,
		Status:          &success,
		ExerciseKeyword: "SUM of",
		PageSize:        10,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, []uint{a.ID}, submissionIDs(filtered))
	require.Equal(t, "Sum of Two Numbers", filtered[0].Exercise.Title)

	keywordOnly, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, ExerciseKeyword: "path", PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, []uint{b.ID}, submissionIDs(keywordOnly))

	empty, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, Page: 5, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Empty(t, empty)
}

func TestSubmissionRepositoryPagedKeywordMatchesWildcardsLiterally(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	base := time.Now().Add(-time.Hour)

	insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusSuccess, base)
	insertSubmission(t, repo, f.alice, f.graph, f.python, models.SubmissionStatusFail, base.Add(time.Minute))

	for _, keyword := range []string{"%", "_", `\`, "S_m"} {
		items, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, ExerciseKeyword: keyword, PageSize: 10})
		require.NoError(t, err)
		require.Zero(t, total, "keyword %q", keyword)
		require.Empty(t, items, "keyword %q", keyword)
	}

	percent := models.Exercise{Title: "100% Coverage"}
	snake := models.Exercise{Title: "snake_case Names"}
	require.NoError(t, db.Create(&percent).Error)
	require.NoError(t, db.Create(&snake).Error)
	withPercent := insertSubmission(t, repo, f.alice, percent, f.python, models.SubmissionStatusPending, base.Add(2*time.Minute))
	withUnderscore := insertSubmission(t, repo, f.alice, snake, f.python, models.SubmissionStatusPending, base.Add(3*time.Minute))

	items, total, err := repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, ExerciseKeyword: "0%", PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, []uint{withPercent.ID}, submissionIDs(items))

	items, total, err = repo.ListByUserPaged(context.Background(), SubmissionPageFilter{UserID: f.alice.ID, ExerciseKeyword: "E_C", PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, []uint{withUnderscore.ID}, submissionIDs(items))
}

func TestSubmissionRepositoryAggregations(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	now := time.Now()

	insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusSuccess, now)
	insertSubmission(t, repo, f.alice, f.graph, f.python, models.SubmissionStatusSuccess, now)
	insertSubmission(t, repo, f.alice, f.sum, f.golang, models.SubmissionStatusFail, now)
	insertSubmission(t, repo, f.bob, f.sum, f.golang, models.SubmissionStatusPending, now)

	byStatus, err := repo.CountByStatusForUser(context.Background(), f.alice.ID)
	require.NoError(t, err)
	counts := map[models.SubmissionStatus]int64{}
	for _, row := range byStatus {
		counts[row.Status] = row.Count
	}
	require.Equal(t, map[models.SubmissionStatus]int64{
		models.SubmissionStatusSuccess: 2,
		models.SubmissionStatusFail:    1,
	}, counts)

	byLanguage, err := repo.CountByLanguage(context.Background())
	require.NoError(t, err)
	require.Equal(t, []models.LanguageCount{{Language: "Go", Count: 2}, {Language: "Python", Count: 2}}, byLanguage)

	emptyStats, err := repo.CountByStatusForUser(context.Background(), 9999)
	require.NoError(t, err)
	require.Empty(t, emptyStats)
}

func TestSubmissionRepositoryApplyResultOverwrites(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	created := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, time.Now())

	success := models.SubmissionStatusSuccess
	stdout := "1"
	elapsed := 0.02
	updated, err := repo.ApplyResult(context.Background(), created.ID, models.SubmissionResult{Status: &success, Stdout: &stdout, Time: &elapsed}, false)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusSuccess, updated.Status)
	require.Equal(t, "1", *updated.Stdout)
	require.InDelta(t, 0.02, *updated.Time, 1e-9)
	require.Nil(t, updated.Stderr, "omitted fields stay unset")

	fail := models.SubmissionStatusFail
	again, err := repo.ApplyResult(context.Background(), created.ID, models.SubmissionResult{Status: &fail}, false)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFail, again.Status)
	require.Equal(t, "1", *again.Stdout)

	_, err = repo.ApplyResult(context.Background(), created.ID+50, models.SubmissionResult{Status: &fail}, false)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestSubmissionRepositoryApplyResultPendingOnly(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	created := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, time.Now())

	success := models.SubmissionStatusSuccess
	_, err := repo.ApplyResult(context.Background(), created.ID, models.SubmissionResult{Status: &success}, true)
	require.NoError(t, err)

	fail := models.SubmissionStatusFail
	existing, err := repo.ApplyResult(context.Background(), created.ID, models.SubmissionResult{Status: &fail}, true)
	require.True(t, errors.Is(err, ErrSubmissionNotPending))
	require.Equal(t, models.SubmissionStatusSuccess, existing.Status)

	_, err = repo.ApplyResult(context.Background(), created.ID+50, models.SubmissionResult{Status: &fail}, true)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	unchanged, err := repo.ApplyResult(context.Background(), created.ID, models.SubmissionResult{}, true)
	require.True(t, errors.Is(err, ErrSubmissionNotPending))
	require.Equal(t, models.SubmissionStatusSuccess, unchanged.Status)

	pending := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, time.Now())
	untouched, err := repo.ApplyResult(context.Background(), pending.ID, models.SubmissionResult{}, true)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, untouched.Status)
}

func TestSubmissionRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewSubmissionRepository(db)
	created := insertSubmission(t, repo, f.alice, f.sum, f.python, models.SubmissionStatusPending, time.Now())

	require.NoError(t, repo.Delete(context.Background(), created.ID))
	require.True(t, errors.Is(repo.Delete(context.Background(), created.ID), gorm.ErrRecordNotFound))

	_, err := repo.GetByID(context.Background(), created.ID)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestCatalogRepositoryLookups(t *testing.T) {
	db := setupTestDB(t)
	f := seedCatalog(t, db)
	repo := NewCatalogRepository(db)

	user, err := repo.GetUser(context.Background(), f.bob.ID)
	require.NoError(t, err)
	require.Equal(t, "bob", user.Username)

	language, err := repo.GetLanguage(context.Background(), f.golang.ID)
	require.NoError(t, err)
	require.Equal(t, 60, language.Code)

	_, err = repo.GetExercise(context.Background(), 9999)
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func submissionIDs(submissions []models.Submission) []uint {
	ids := make([]uint, 0, len(submissions))
	for _, submission := range submissions {
		ids = append(ids, submission.ID)
	}
	return ids
}
