package deploy

import (
	"errors"
	"fmt"
)

// Request-level failures with no side effects to roll back.
var (
	ErrNameRequired    = errors.New("deploy: project name is required")
	ErrInvalidName     = errors.New("deploy: project name may only contain letters, digits, '-' and '_'")
	ErrArchiveRequired = errors.New("deploy: archive file is required")
	ErrNameTaken       = errors.New("deploy: project name already in use")
	ErrNoProcess       = errors.New("deploy: no running process for project")
	ErrNotRestartable  = errors.New("deploy: project has no committed backend port")
)

// StageError tags a pipeline failure with the stage that did not complete.
// Rollback has already run by the time it surfaces.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("deploy: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
