package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
)

func TestUserEmailUniqueness(t *testing.T) {
	repo := New()
	ctx := context.Background()

	if err := repo.CreateUser(ctx, &domain.User{ID: "u1", Email: "alice@example.com"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	err := repo.CreateUser(ctx, &domain.User{ID: "u2", Email: "Alice@Example.com"})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for same email, got %v", err)
	}

	user, err := repo.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user %q", user.ID)
	}
	if _, err := repo.GetUserByID(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectUniquenessPerOwner(t *testing.T) {
	repo := New()
	ctx := context.Background()

	if err := repo.CreateProject(ctx, &domain.Project{ID: "p1", OwnerID: "o1", Name: "shop"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	err := repo.CreateProject(ctx, &domain.Project{ID: "p2", OwnerID: "o1", Name: "shop"})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Different owners may reuse the name.
	if err := repo.CreateProject(ctx, &domain.Project{ID: "p3", OwnerID: "o2", Name: "shop"}); err != nil {
		t.Fatalf("CreateProject for other owner: %v", err)
	}
}

func TestListProjectsNewestFirst(t *testing.T) {
	repo := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, name := range []string{"one", "two", "three"} {
		err := repo.CreateProject(ctx, &domain.Project{
			ID: name, OwnerID: "o1", Name: name, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateProject %s: %v", name, err)
		}
	}
	if err := repo.CreateProject(ctx, &domain.Project{ID: "x", OwnerID: "o2", Name: "x"}); err != nil {
		t.Fatalf("CreateProject for other owner: %v", err)
	}

	projects, err := repo.ListProjectsByOwner(ctx, "o1")
	if err != nil {
		t.Fatalf("ListProjectsByOwner: %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(projects))
	}
	if projects[0].Name != "three" || projects[2].Name != "one" {
		t.Fatalf("unexpected order: %s, %s, %s", projects[0].Name, projects[1].Name, projects[2].Name)
	}
}

func TestUpdateProjectStatus(t *testing.T) {
	repo := New()
	ctx := context.Background()

	if err := repo.CreateProject(ctx, &domain.Project{ID: "p1", OwnerID: "o1", Name: "shop", Status: domain.StatusActive}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := repo.UpdateProjectStatus(ctx, "o1", "shop", domain.StatusStopped); err != nil {
		t.Fatalf("UpdateProjectStatus: %v", err)
	}
	project, err := repo.GetProject(ctx, "o1", "shop")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if project.Status != domain.StatusStopped {
		t.Fatalf("expected stopped, got %s", project.Status)
	}
	if err := repo.UpdateProjectStatus(ctx, "o1", "missing", domain.StatusStopped); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteProject(t *testing.T) {
	repo := New()
	ctx := context.Background()

	if err := repo.CreateProject(ctx, &domain.Project{ID: "p1", OwnerID: "o1", Name: "shop"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := repo.DeleteProject(ctx, "o1", "shop"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := repo.GetProject(ctx, "o1", "shop"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := repo.DeleteProject(ctx, "o1", "shop"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}
