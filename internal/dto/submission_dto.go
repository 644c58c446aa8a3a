package dto

import (
	"time"

	"github.com/noah-isme/coder-judge-api/internal/models"
)

// Page size bounds of the paged history listing.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// SubmissionCreateRequest is the payload for creating a submission.
type SubmissionCreateRequest struct {
	ExerciseID uint   `json:"exercise_id" validate:"required,gt=0"`
	LanguageID uint   `json:"language_id" validate:"required,gt=0"`
	SourceCode string `json:"source_code" validate:"required"`
}

// SubmissionResultRequest applies a judge outcome. Omitted fields stay unset.
type SubmissionResultRequest struct {
	Status        *string  `json:"status"`
	Stdout        *string  `json:"stdout"`
	Stderr        *string  `json:"stderr"`
	CompileOutput *string  `json:"compile_output"`
	Time          *float64 `json:"time" validate:"omitempty,gte=0"`
	Memory        *int     `json:"memory" validate:"omitempty,gte=0"`
}

// SubmissionPageQuery describes the filters of the paged history listing.
type SubmissionPageQuery struct {
	Page       int    `query:"page" validate:"gte=0"`
	Size       int    `query:"size" validate:"gte=0"`
	LanguageID *uint  `query:"language_id" validate:"omitempty,gt=0"`
	Status     string `query:"status"`
	Exercise   string `query:"exercise"`
}

// SubmissionResponse is the projection returned to API consumers.
type SubmissionResponse struct {
	ID            uint      `json:"id"`
	UserID        uint      `json:"user_id"`
	Username      string    `json:"username"`
	ExerciseID    uint      `json:"exercise_id"`
	ExerciseTitle string    `json:"exercise_title"`
	LanguageID    uint      `json:"language_id"`
	LanguageName  string    `json:"language_name"`
	SourceCode    string    `json:"source_code"`
	Status        string    `json:"status"`
	Stdout        *string   `json:"stdout"`
	Stderr        *string   `json:"stderr"`
	CompileOutput *string   `json:"compile_output"`
	Time          *float64  `json:"time"`
	Memory        *int      `json:"memory"`
	CreatedAt     time.Time `json:"created_at"`
}

// SubmissionPageResponse wraps one page of submissions.
type SubmissionPageResponse struct {
	Items         []SubmissionResponse `json:"items"`
	Page          int                  `json:"page"`
	PageSize      int                  `json:"page_size"`
	TotalElements int64                `json:"total_elements"`
}

// StatusCountResponse is a status→count pair.
type StatusCountResponse struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// LanguageCountResponse is a language→count pair.
type LanguageCountResponse struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// SubmissionStatusEvent is pushed to stream subscribers when a submission changes state.
type SubmissionStatusEvent struct {
	SubmissionID uint      `json:"submission_id"`
	Status       string    `json:"status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:            model.ID,
		UserID:        model.UserID,
		Username:      model.User.Username,
		ExerciseID:    model.ExerciseID,
		ExerciseTitle: model.Exercise.Title,
		LanguageID:    model.LanguageID,
		LanguageName:  model.Language.Name,
		SourceCode:    model.SourceCode,
		Status:        model.Status.String(),
		Stdout:        model.Stdout,
		Stderr:        model.Stderr,
		CompileOutput: model.CompileOutput,
		Time:          model.Time,
		Memory:        model.Memory,
		CreatedAt:     model.CreatedAt,
	}
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(models []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(models))
	for _, submission := range models {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}

// NewStatusCountResponses converts aggregation rows into DTOs.
func NewStatusCountResponses(rows []models.StatusCount) []StatusCountResponse {
	responses := make([]StatusCountResponse, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, StatusCountResponse{Status: row.Status.String(), Count: row.Count})
	}
	return responses
}

// NewLanguageCountResponses converts aggregation rows into DTOs.
func NewLanguageCountResponses(rows []models.LanguageCount) []LanguageCountResponse {
	responses := make([]LanguageCountResponse, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, LanguageCountResponse{Language: row.Language, Count: row.Count})
	}
	return responses
}
