package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository    = (*Repository)(nil)
	_ repository.ProjectRepository = (*Repository)(nil)
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

const projectColumns = `id, owner_id, name, description, kind, status, port, size_bytes,
	frontend_deps, backend_deps, uses_database, created_at, updated_at`

// CreateProject inserts a project record.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, description, kind, status, port, size_bytes,
		frontend_deps, backend_deps, uses_database, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.OwnerID, project.Name, project.Description,
		string(project.Kind), string(project.Status), project.Port, project.SizeBytes,
		project.FrontendDeps, project.BackendDeps, project.UsesDatabase,
		project.CreatedAt, project.UpdatedAt)
	if isUniqueViolation(err) {
		return repository.ErrDuplicate
	}
	return err
}

// GetProject fetches a project by its composite (owner, name) identity.
func (r *Repository) GetProject(ctx context.Context, ownerID, name string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 AND name = $2`
	row := r.pool.QueryRow(ctx, query, ownerID, name)
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// ListProjectsByOwner returns all projects belonging to an owner.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus transitions a project's lifecycle status.
func (r *Repository) UpdateProjectStatus(ctx context.Context, ownerID, name string, status domain.ProjectStatus) error {
	const query = `UPDATE projects SET status = $3, updated_at = NOW() WHERE owner_id = $1 AND name = $2`
	tag, err := r.pool.Exec(ctx, query, ownerID, name, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project record.
func (r *Repository) DeleteProject(ctx context.Context, ownerID, name string) error {
	const query = `DELETE FROM projects WHERE owner_id = $1 AND name = $2`
	tag, err := r.pool.Exec(ctx, query, ownerID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var kind, status string
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &kind, &status,
		&p.Port, &p.SizeBytes, &p.FrontendDeps, &p.BackendDeps, &p.UsesDatabase,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Kind = domain.ProjectKind(kind)
	p.Status = domain.ProjectStatus(status)
	return &p, nil
}
