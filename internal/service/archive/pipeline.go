// Package archive stages uploaded project archives: it validates the upload,
// extracts it into an isolated scratch directory and guarantees the uploaded
// blob never outlives the pipeline.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ValidationError rejects an upload before anything touches disk.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "archive: " + e.Reason
}

// ExtractionError indicates a corrupt or malicious archive.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return "archive: extraction failed: " + e.Err.Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var acceptedMediaTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	// Browsers frequently label zip uploads as octet-stream; accept those
	// when the filename carries the extension.
	"application/octet-stream": true,
}

// Pipeline owns the scratch area used while staging uploads.
type Pipeline struct {
	scratchRoot string
	maxBytes    int64
	logger      *slog.Logger
}

// New ensures the scratch root exists under the sites root.
func New(sitesRoot string, maxBytes int64, logger *slog.Logger) (*Pipeline, error) {
	if sitesRoot == "" {
		return nil, fmt.Errorf("archive: sites root cannot be empty")
	}
	scratchRoot := filepath.Join(sitesRoot, "dynamic", "temp_extract")
	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create scratch root: %w", err)
	}
	return &Pipeline{scratchRoot: scratchRoot, maxBytes: maxBytes, logger: logger}, nil
}

// Stage validates the upload and extracts it into a fresh scratch directory,
// returning its path. The uploaded blob is spooled to a temp file for
// extraction and removed on every exit path; on extraction failure the scratch
// directory is removed before the error propagates.
func (p *Pipeline) Stage(upload io.Reader, filename, mediaType string, size int64) (string, error) {
	if err := p.validate(filename, mediaType, size); err != nil {
		return "", err
	}

	blob, err := os.CreateTemp(p.scratchRoot, "upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("archive: spool upload: %w", err)
	}
	blobPath := blob.Name()
	defer os.Remove(blobPath)

	written, err := io.Copy(blob, io.LimitReader(upload, p.maxBytes+1))
	if closeErr := blob.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("archive: spool upload: %w", err)
	}
	if written > p.maxBytes {
		return "", &ValidationError{Reason: fmt.Sprintf("upload exceeds %d bytes", p.maxBytes)}
	}

	scratch := filepath.Join(p.scratchRoot, uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", fmt.Errorf("archive: create scratch dir: %w", err)
	}
	if err := extractZip(blobPath, scratch); err != nil {
		os.RemoveAll(scratch)
		return "", &ExtractionError{Err: err}
	}
	p.logger.Info("archive staged", "scratch", scratch, "bytes", written)
	return scratch, nil
}

// Discard removes a scratch directory produced by Stage. Missing paths are
// fine; the pipeline refuses to touch anything outside its scratch root.
func (p *Pipeline) Discard(scratch string) error {
	if scratch == "" {
		return nil
	}
	rel, err := filepath.Rel(p.scratchRoot, scratch)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("archive: refusing to discard path outside scratch root")
	}
	return os.RemoveAll(scratch)
}

func (p *Pipeline) validate(filename, mediaType string, size int64) error {
	if size > p.maxBytes {
		return &ValidationError{Reason: fmt.Sprintf("upload exceeds %d bytes", p.maxBytes)}
	}
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	if !acceptedMediaTypes[mt] {
		return &ValidationError{Reason: "unsupported media type " + mt}
	}
	if mt == "application/octet-stream" && !strings.EqualFold(filepath.Ext(filename), ".zip") {
		return &ValidationError{Reason: "unsupported media type application/octet-stream"}
	}
	return nil
}

func extractZip(blobPath, dest string) error {
	reader, err := zip.OpenReader(blobPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		target, err := sanitizePath(dest, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm()|0o200)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// sanitizePath rejects entries that would escape the destination (zip slip).
func sanitizePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("illegal entry path %q", name)
	}
	return target, nil
}
