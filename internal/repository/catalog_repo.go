package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/coder-judge-api/internal/models"
)

// CatalogRepository resolves the users, exercises and languages a submission references.
type CatalogRepository interface {
	GetUser(ctx context.Context, id uint) (models.User, error)
	GetExercise(ctx context.Context, id uint) (models.Exercise, error)
	GetLanguage(ctx context.Context, id uint) (models.Language, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository constructs a read-only catalog repository.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetUser(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *catalogRepository) GetExercise(ctx context.Context, id uint) (models.Exercise, error) {
	var exercise models.Exercise
	if err := r.db.WithContext(ctx).First(&exercise, id).Error; err != nil {
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (r *catalogRepository) GetLanguage(ctx context.Context, id uint) (models.Language, error) {
	var language models.Language
	if err := r.db.WithContext(ctx).First(&language, id).Error; err != nil {
		return models.Language{}, err
	}
	return language, nil
}
