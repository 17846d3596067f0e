// Package deploy sequences the dynamic-project deployment pipeline and rolls
// back staged resources when any stage fails.
package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loickadjiwanou/hostedhost/internal/domain"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
	"github.com/loickadjiwanou/hostedhost/internal/service/archive"
	"github.com/loickadjiwanou/hostedhost/internal/service/build"
	"github.com/loickadjiwanou/hostedhost/internal/service/envsync"
	"github.com/loickadjiwanou/hostedhost/internal/service/ports"
	"github.com/loickadjiwanou/hostedhost/internal/service/structure"
	"github.com/loickadjiwanou/hostedhost/internal/service/supervisor"
	"github.com/loickadjiwanou/hostedhost/internal/ws"
)

// Stage names the states of one deployment. A deployment either reaches
// StageCommitted or falls to StageFailed; an error is tagged with the stage
// that did not complete.
type Stage string

const (
	StageReceived           Stage = "received"
	StageExtracted          Stage = "extracted"
	StageStructureValidated Stage = "structure_validated"
	StageRelocated          Stage = "relocated"
	StagePortAllocated      Stage = "port_allocated"
	StageEnvSynced          Stage = "env_synced"
	StageDepsInstalled      Stage = "deps_installed"
	StageBuildAttempted     Stage = "build_attempted"
	StageProcessStarted     Stage = "process_started"
	StageCommitted          Stage = "committed"
	StageFailed             Stage = "failed"
)

// Input carries one deploy request.
type Input struct {
	OwnerID     string
	Name        string
	Description string
	Filename    string
	MediaType   string
	Size        int64
	Archive     io.Reader
}

// Result summarizes a committed deployment.
type Result struct {
	Project domain.Project
	Port    int
	Notes   []string
}

// Event is one stage transition, broadcast to websocket subscribers.
type Event struct {
	Project string    `json:"project"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Service is the deployment orchestrator.
type Service struct {
	projects   repository.ProjectRepository
	pipeline   *archive.Pipeline
	allocator  *ports.Allocator
	runner     *build.Runner
	supervisor *supervisor.Supervisor
	events     *ws.Hub
	logger     *slog.Logger
	sitesRoot  string
}

// New wires the orchestrator's collaborators.
func New(projects repository.ProjectRepository, pipeline *archive.Pipeline, allocator *ports.Allocator,
	runner *build.Runner, sup *supervisor.Supervisor, events *ws.Hub, logger *slog.Logger, sitesRoot string) *Service {
	return &Service{
		projects:   projects,
		pipeline:   pipeline,
		allocator:  allocator,
		runner:     runner,
		supervisor: sup,
		events:     events,
		logger:     logger,
		sitesRoot:  sitesRoot,
	}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Deploy runs the full pipeline for one uploaded archive. On failure every
// staged resource is rolled back in reverse order; metadata is only written
// after the backend process has started.
func (s *Service) Deploy(ctx context.Context, input Input) (*Result, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if !nameRe.MatchString(name) {
		return nil, ErrInvalidName
	}
	if input.Archive == nil {
		return nil, ErrArchiveRequired
	}
	if _, err := s.projects.GetProject(ctx, input.OwnerID, name); err == nil {
		return nil, ErrNameTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	key := supervisor.Key(input.OwnerID, name)
	s.emit(key, StageReceived, "upload received")

	// Compensating actions, pushed as stages succeed and run in reverse on
	// failure. Each is best-effort and independent of the others.
	var rollback []func()
	fail := func(stage Stage, err error) (*Result, error) {
		s.logger.Error("deployment failed", "project", name, "owner", input.OwnerID, "stage", string(stage), "error", err)
		s.emit(key, StageFailed, fmt.Sprintf("failed at %s: %v", stage, err))
		for i := len(rollback) - 1; i >= 0; i-- {
			rollback[i]()
		}
		return nil, &StageError{Stage: stage, Err: err}
	}

	scratch, err := s.pipeline.Stage(input.Archive, input.Filename, input.MediaType, input.Size)
	if err != nil {
		return fail(StageExtracted, err)
	}
	// The scratch directory must vanish on every exit path, including success
	// (relocation moves the subtrees out but leaves the wrapper behind).
	defer func() {
		if err := s.pipeline.Discard(scratch); err != nil {
			s.logger.Warn("scratch cleanup failed", "scratch", scratch, "error", err)
		}
	}()
	s.emit(key, StageExtracted, "archive extracted")

	layout, err := structure.Locate(scratch)
	if err != nil {
		return fail(StageStructureValidated, err)
	}
	s.emit(key, StageStructureValidated, "frontend and backend located")

	finalRoot := filepath.Join(s.sitesRoot, "dynamic", name)
	if err := relocate(layout, finalRoot); err != nil {
		return fail(StageRelocated, err)
	}
	rollback = append(rollback, func() {
		if err := os.RemoveAll(finalRoot); err != nil {
			s.logger.Warn("project dir cleanup failed", "dir", finalRoot, "error", err)
		}
	})
	frontendDir := filepath.Join(finalRoot, "frontend")
	backendDir := filepath.Join(finalRoot, "backend")
	s.emit(key, StageRelocated, "project moved to "+finalRoot)

	port, err := s.allocator.Allocate(input.OwnerID, name)
	if err != nil {
		return fail(StagePortAllocated, err)
	}
	rollback = append(rollback, func() { s.allocator.Release(port, input.OwnerID, name) })
	s.emit(key, StagePortAllocated, fmt.Sprintf("port %d allocated", port))

	var notes []string
	written, err := envsync.Sync(frontendDir, port)
	if err != nil {
		return fail(StageEnvSynced, err)
	}
	if len(written) > 0 {
		notes = append(notes, "configured "+strings.Join(written, ", ")+" in frontend/.env")
	} else {
		notes = append(notes, "frontend/.env already configured")
	}
	s.emit(key, StageEnvSynced, "frontend environment synchronized")

	if _, err := s.runner.Install(ctx, backendDir); err != nil {
		return fail(StageDepsInstalled, err)
	}
	if _, err := s.runner.Install(ctx, frontendDir); err != nil {
		return fail(StageDepsInstalled, err)
	}
	s.emit(key, StageDepsInstalled, "dependencies installed")

	if result := s.runner.Build(ctx, frontendDir); result.Err != nil {
		notes = append(notes, "frontend build failed (non-fatal): "+result.Err.Error())
	} else {
		notes = append(notes, "frontend built")
	}
	s.emit(key, StageBuildAttempted, "frontend build attempted")

	proc, err := s.supervisor.Start(ctx, backendDir, port, key)
	if err != nil {
		return fail(StageProcessStarted, err)
	}
	rollback = append(rollback, func() { s.supervisor.Stop(key) })
	notes = append(notes, fmt.Sprintf("backend running with pid %d on port %d", proc.PID, port))
	s.emit(key, StageProcessStarted, "backend process started")

	now := time.Now().UTC()
	project := domain.Project{
		ID:           uuid.NewString(),
		OwnerID:      input.OwnerID,
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		Kind:         domain.KindDynamic,
		Status:       domain.StatusActive,
		Port:         port,
		SizeBytes:    dirSize(finalRoot),
		FrontendDeps: layout.FrontendManifest.DependencyNames(),
		BackendDeps:  layout.BackendManifest.DependencyNames(),
		UsesDatabase: layout.BackendManifest.UsesDatabase(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.projects.CreateProject(ctx, &project); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fail(StageCommitted, ErrNameTaken)
		}
		return fail(StageCommitted, err)
	}
	s.emit(key, StageCommitted, "deployment committed")
	s.logger.Info("deployment committed", "project", name, "owner", input.OwnerID, "port", port, "pid", proc.PID)

	return &Result{Project: project, Port: port, Notes: notes}, nil
}

// Stop terminates the project's backend process and marks it stopped.
// Returns ErrNoProcess when nothing is running under the key.
func (s *Service) Stop(ctx context.Context, ownerID, name string) error {
	key := supervisor.Key(ownerID, name)
	if !s.supervisor.Stop(key) {
		return ErrNoProcess
	}
	if err := s.projects.UpdateProjectStatus(ctx, ownerID, name, domain.StatusStopped); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("status update failed after stop", "project", name, "error", err)
	}
	s.logger.Info("project stopped", "project", name, "owner", ownerID)
	return nil
}

// Restart respawns the backend using the previously committed port.
// repository.ErrNotFound propagates for unknown projects.
func (s *Service) Restart(ctx context.Context, ownerID, name string) (*domain.Project, error) {
	project, err := s.projects.GetProject(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	if project.Kind != domain.KindDynamic || project.Port == 0 {
		return nil, ErrNotRestartable
	}
	key := supervisor.Key(ownerID, name)
	backendDir := filepath.Join(s.sitesRoot, "dynamic", name, "backend")
	if _, err := s.supervisor.Start(ctx, backendDir, project.Port, key); err != nil {
		return nil, err
	}
	if err := s.projects.UpdateProjectStatus(ctx, ownerID, name, domain.StatusActive); err != nil {
		s.logger.Warn("status update failed after restart", "project", name, "error", err)
	}
	project.Status = domain.StatusActive
	s.logger.Info("project restarted", "project", name, "owner", ownerID, "port", project.Port)
	return project, nil
}

// Processes lists the caller's live process handles.
func (s *Service) Processes(ownerID string) []supervisor.ProcessInfo {
	return s.supervisor.Status(ownerID)
}

func (s *Service) emit(key string, stage Stage, message string) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Project: supervisor.ProjectFromKey(key),
		Stage:   stage,
		Message: message,
		At:      time.Now().UTC(),
	})
	if err != nil {
		return
	}
	s.events.Broadcast(key, payload)
}

// relocate moves the located subtrees into their final layout. Any debris at
// finalRoot from an earlier failed cleanup is removed first; the metadata
// conflict check has already established the name is free.
func relocate(layout *structure.Layout, finalRoot string) error {
	if err := os.RemoveAll(finalRoot); err != nil {
		return fmt.Errorf("clear final path: %w", err)
	}
	if err := os.MkdirAll(finalRoot, 0o755); err != nil {
		return fmt.Errorf("create final path: %w", err)
	}
	if err := os.Rename(layout.FrontendPath, filepath.Join(finalRoot, "frontend")); err != nil {
		return fmt.Errorf("move frontend: %w", err)
	}
	if err := os.Rename(layout.BackendPath, filepath.Join(finalRoot, "backend")); err != nil {
		return fmt.Errorf("move backend: %w", err)
	}
	return nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
