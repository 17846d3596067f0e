package domain

import "time"

// ProjectKind distinguishes static bundles from full frontend+backend apps.
type ProjectKind string

const (
	KindStatic  ProjectKind = "static"
	KindDynamic ProjectKind = "dynamic"
)

// ProjectStatus tracks a project through its lifecycle. Transitions are
// monotonic except for the stopped/active cycle, which is reversible.
type ProjectStatus string

const (
	StatusPending  ProjectStatus = "pending"
	StatusDeployed ProjectStatus = "deployed"
	StatusActive   ProjectStatus = "active"
	StatusStopped  ProjectStatus = "stopped"
	StatusFailed   ProjectStatus = "failed"
)

// Project describes one deployed unit. (OwnerID, Name) is unique per owner.
type Project struct {
	ID           string
	OwnerID      string
	Name         string
	Description  string
	Kind         ProjectKind
	Status       ProjectStatus
	Port         int // 0 until allocation succeeds; dynamic projects only
	SizeBytes    int64
	FrontendDeps []string
	BackendDeps  []string
	UsesDatabase bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
