package repository

import (
	"context"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists project metadata. The deploy orchestrator only
// writes here after a deployment has fully committed.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, ownerID, name string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, ownerID, name string, status domain.ProjectStatus) error
	DeleteProject(ctx context.Context, ownerID, name string) error
}
