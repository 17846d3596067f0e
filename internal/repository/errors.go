package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate indicates a uniqueness violation, e.g. a project name already
// used by the same owner.
var ErrDuplicate = errors.New("repository: duplicate")
