package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prepdeck/prepdeck-backend/internal/model"
	"github.com/prepdeck/prepdeck-backend/internal/repository"
)

// CatalogService exposes the read-only subject/topic catalog.
type CatalogService struct {
	repo *repository.CatalogRepository
	log  zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(repo *repository.CatalogRepository, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		repo: repo,
		log:  log.With().Str("component", "catalog_service").Logger(),
	}
}

// ListSubjects returns all subjects.
func (s *CatalogService) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	return s.repo.ListSubjects(ctx)
}

// ListTopics returns topics filtered by subject code and/or section.
func (s *CatalogService) ListTopics(ctx context.Context, subjectCode, section string) ([]model.Topic, error) {
	return s.repo.ListTopics(ctx, subjectCode, section)
}
