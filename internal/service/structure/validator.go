// Package structure inspects an extracted project tree for the frontend and
// backend subtrees and their dependency manifests. It performs no mutation.
package structure

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// maxSearchDepth bounds the recursive search for the two subtrees. Archives
// produced by zipping a wrapper folder nest one or two levels deep; anything
// deeper is not a layout we recognize.
const maxSearchDepth = 4

const manifestName = "package.json"

// StructureError reports a missing required subtree.
type StructureError struct {
	Missing string
}

func (e *StructureError) Error() string {
	return "structure: missing " + e.Missing + " directory"
}

// ManifestError reports an unreadable or unparsable dependency manifest.
type ManifestError struct {
	Subtree string
	Err     error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("structure: invalid manifest in %s: %v", e.Subtree, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Manifest is the subset of package.json the panel cares about.
type Manifest struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// DependencyNames returns the manifest's runtime dependency names, sorted.
func (m Manifest) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var databaseDeps = []string{"pg", "mysql", "mysql2", "mongodb", "mongoose", "sqlite3", "redis", "sequelize", "prisma"}

// UsesDatabase reports whether the manifest depends on a known database driver.
func (m Manifest) UsesDatabase() bool {
	for _, dep := range databaseDeps {
		if _, ok := m.Dependencies[dep]; ok {
			return true
		}
	}
	return false
}

// Layout holds the located subtrees and their parsed manifests.
type Layout struct {
	FrontendPath     string
	BackendPath      string
	FrontendManifest Manifest
	BackendManifest  Manifest
}

// Locate finds the frontend and backend directories anywhere under root up to
// a bounded depth (first match per branch, case-insensitive), then parses the
// manifest inside each. Absence of either subtree yields a StructureError
// naming the missing one.
func Locate(root string) (*Layout, error) {
	frontend := findDir(root, "frontend", 0)
	backend := findDir(root, "backend", 0)
	if frontend == "" {
		return nil, &StructureError{Missing: "frontend"}
	}
	if backend == "" {
		return nil, &StructureError{Missing: "backend"}
	}

	frontendManifest, err := readManifest(frontend)
	if err != nil {
		return nil, &ManifestError{Subtree: "frontend", Err: err}
	}
	backendManifest, err := readManifest(backend)
	if err != nil {
		return nil, &ManifestError{Subtree: "backend", Err: err}
	}

	return &Layout{
		FrontendPath:     frontend,
		BackendPath:      backend,
		FrontendManifest: frontendManifest,
		BackendManifest:  backendManifest,
	}, nil
}

// findDir returns the first directory named target (case-insensitive) found in
// a depth-first walk of root, stopping at maxSearchDepth.
func findDir(root, target string, depth int) string {
	if depth > maxSearchDepth {
		return ""
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), target) {
			return filepath.Join(root, entry.Name())
		}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if found := findDir(filepath.Join(root, entry.Name()), target, depth+1); found != "" {
			return found
		}
	}
	return ""
}

func readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}
