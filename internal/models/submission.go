package models

import "time"

// Submission is one user's attempt at an exercise in a given language.
type Submission struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	UserID        uint             `gorm:"not null;index" json:"user_id"`
	ExerciseID    uint             `gorm:"not null;index" json:"exercise_id"`
	LanguageID    uint             `gorm:"not null;index" json:"language_id"`
	SourceCode    string           `gorm:"type:text;not null" json:"source_code"`
	Status        SubmissionStatus `gorm:"not null;index" json:"status"`
	Stdout        *string          `gorm:"type:text" json:"stdout"`
	Stderr        *string          `gorm:"type:text" json:"stderr"`
	CompileOutput *string          `gorm:"type:text" json:"compile_output"`
	Time          *float64         `json:"time"`
	Memory        *int             `json:"memory"`
	CreatedAt     time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	User          User             `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Exercise      Exercise         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Language      Language         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

// IsFinal reports whether the judge has already reported on the submission.
func (s Submission) IsFinal() bool {
	return s.Status.IsTerminal()
}

// SubmissionResult carries the judge outcome. Nil fields are left untouched.
type SubmissionResult struct {
	Status        *SubmissionStatus
	Stdout        *string
	Stderr        *string
	CompileOutput *string
	Time          *float64
	Memory        *int
}

// StatusCount is one row of a per-status aggregation.
type StatusCount struct {
	Status SubmissionStatus
	Count  int64
}

// LanguageCount is one row of a per-language aggregation.
type LanguageCount struct {
	Language string
	Count    int64
}
