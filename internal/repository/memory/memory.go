// Package memory provides an in-memory implementation of the repository
// interfaces. It backs the panel when no DATABASE_URL is configured and gives
// tests isolated stores without a running PostgreSQL.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
)

// Repository keeps users and projects in process memory.
type Repository struct {
	mu       sync.RWMutex
	users    map[string]domain.User    // keyed by id
	projects map[string]domain.Project // keyed by owner/name
}

var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.ProjectRepository = (*Repository)(nil)
)

// New returns an empty in-memory repository.
func New() *Repository {
	return &Repository{
		users:    make(map[string]domain.User),
		projects: make(map[string]domain.Project),
	}
}

func projectKey(ownerID, name string) string {
	return ownerID + "/" + name
}

// CreateUser inserts a user, enforcing email uniqueness.
func (r *Repository) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	r.users[user.ID] = *user
	return nil
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetUserByID fetches a user by identifier.
func (r *Repository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := user
	return &u, nil
}

// CreateProject inserts a project, enforcing (owner, name) uniqueness.
func (r *Repository) CreateProject(_ context.Context, project *domain.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := projectKey(project.OwnerID, project.Name)
	if _, ok := r.projects[key]; ok {
		return repository.ErrDuplicate
	}
	r.projects[key] = *project
	return nil
}

// GetProject fetches a project by (owner, name).
func (r *Repository) GetProject(_ context.Context, ownerID, name string) (*domain.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	project, ok := r.projects[projectKey(ownerID, name)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := project
	return &p, nil
}

// ListProjectsByOwner returns the owner's projects, newest first.
func (r *Repository) ListProjectsByOwner(_ context.Context, ownerID string) ([]domain.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var projects []domain.Project
	for _, project := range r.projects {
		if project.OwnerID == ownerID {
			projects = append(projects, project)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

// UpdateProjectStatus transitions a project's lifecycle status.
func (r *Repository) UpdateProjectStatus(_ context.Context, ownerID, name string, status domain.ProjectStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := projectKey(ownerID, name)
	project, ok := r.projects[key]
	if !ok {
		return repository.ErrNotFound
	}
	project.Status = status
	project.UpdatedAt = time.Now().UTC()
	r.projects[key] = project
	return nil
}

// DeleteProject removes a project record.
func (r *Repository) DeleteProject(_ context.Context, ownerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := projectKey(ownerID, name)
	if _, ok := r.projects[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.projects, key)
	return nil
}
