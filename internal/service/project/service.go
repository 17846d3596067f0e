// Package project exposes read access to committed project metadata.
package project

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
)

// Service lists and fetches project metadata for its owner.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{projects: projects, logger: logger}
}

// ListByOwner returns the caller's projects, newest first.
func (s Service) ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// Get returns one project by name. repository.ErrNotFound propagates.
func (s Service) Get(ctx context.Context, ownerID, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, repository.ErrNotFound
	}
	return s.projects.GetProject(ctx, ownerID, name)
}
