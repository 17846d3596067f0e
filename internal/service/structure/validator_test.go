package structure

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestLocateTopLevel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"frontend/package.json": `{"name":"fe","dependencies":{"react":"^18.0.0"}}`,
		"backend/package.json":  `{"name":"be","dependencies":{"express":"^4.18.0","pg":"^8.0.0"}}`,
	})

	layout, err := Locate(root)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if layout.FrontendPath != filepath.Join(root, "frontend") {
		t.Fatalf("unexpected frontend path %s", layout.FrontendPath)
	}
	deps := layout.BackendManifest.DependencyNames()
	if len(deps) != 2 || deps[0] != "express" || deps[1] != "pg" {
		t.Fatalf("unexpected backend deps %v", deps)
	}
	if !layout.BackendManifest.UsesDatabase() {
		t.Fatal("expected backend to be flagged as using a database")
	}
	if layout.FrontendManifest.UsesDatabase() {
		t.Fatal("frontend should not be flagged as using a database")
	}
}

func TestLocateNestedAndCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"my-app/FrontEnd/package.json":      `{"name":"fe"}`,
		"my-app/server/Backend/package.json": `{"name":"be"}`,
	})

	layout, err := Locate(root)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if filepath.Base(layout.FrontendPath) != "FrontEnd" {
		t.Fatalf("unexpected frontend path %s", layout.FrontendPath)
	}
	if filepath.Base(layout.BackendPath) != "Backend" {
		t.Fatalf("unexpected backend path %s", layout.BackendPath)
	}
}

func TestLocateMissingSubtree(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		missing string
	}{
		{"no backend", map[string]string{"frontend/package.json": "{}"}, "backend"},
		{"no frontend", map[string]string{"backend/package.json": "{}"}, "frontend"},
		{"empty archive", map[string]string{"readme.txt": "hello"}, "frontend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files)
			_, err := Locate(root)
			var structureErr *StructureError
			if !errors.As(err, &structureErr) {
				t.Fatalf("expected StructureError, got %v", err)
			}
			if structureErr.Missing != tt.missing {
				t.Fatalf("expected missing %q, got %q", tt.missing, structureErr.Missing)
			}
		})
	}
}

func TestLocateDepthBound(t *testing.T) {
	root := t.TempDir()
	deep := "a/b/c/d/e/f"
	writeTree(t, root, map[string]string{
		deep + "/frontend/package.json": "{}",
		deep + "/backend/package.json":  "{}",
	})
	if _, err := Locate(root); err == nil {
		t.Fatal("expected deeply nested subtrees to stay out of reach")
	}
}

func TestLocateBadManifest(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		subtree string
	}{
		{
			"unparsable frontend manifest",
			map[string]string{
				"frontend/package.json": "{not json",
				"backend/package.json":  "{}",
			},
			"frontend",
		},
		{
			"missing backend manifest",
			map[string]string{
				"frontend/package.json": "{}",
				"backend/server.js":     "",
			},
			"backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files)
			_, err := Locate(root)
			var manifestErr *ManifestError
			if !errors.As(err, &manifestErr) {
				t.Fatalf("expected ManifestError, got %v", err)
			}
			if manifestErr.Subtree != tt.subtree {
				t.Fatalf("expected subtree %q, got %q", tt.subtree, manifestErr.Subtree)
			}
		})
	}
}
