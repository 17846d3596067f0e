package supervisor

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrExitedBeforeReady is returned when the process dies before any readiness
// signal is observed.
var ErrExitedBeforeReady = errors.New("supervisor: process exited before readiness")

// ReadinessDetector decides when a freshly spawned backend counts as started.
// lines carries the process's output, exited closes when it terminates.
type ReadinessDetector interface {
	Wait(ctx context.Context, lines <-chan string, exited <-chan struct{}, port int) error
}

const (
	defaultReadinessWindow = 30 * time.Second
	defaultReadinessGrace  = 5 * time.Second
)

// readySignals are the output substrings that count as a readiness
// announcement, matched case-insensitively alongside the port number.
var readySignals = []string{"listening", "started"}

// LogLineDetector scans process output for readiness substrings within Window.
// If no signal arrives but the process is still alive after Grace, it is
// optimistically treated as started. That fallback can mask genuinely
// slow-starting backends; swap in an active health check via the
// ReadinessDetector interface if that ever bites.
type LogLineDetector struct {
	Window time.Duration
	Grace  time.Duration
}

// Wait blocks until readiness is observed, the process exits, or a timer
// resolves the question optimistically.
func (d LogLineDetector) Wait(ctx context.Context, lines <-chan string, exited <-chan struct{}, port int) error {
	window := d.Window
	if window <= 0 {
		window = defaultReadinessWindow
	}
	grace := d.Grace
	if grace <= 0 {
		grace = defaultReadinessGrace
	}

	windowTimer := time.NewTimer(window)
	defer windowTimer.Stop()
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	portToken := strconv.Itoa(port)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if matchesReady(line, portToken) {
				return nil
			}
		case <-exited:
			return ErrExitedBeforeReady
		case <-graceTimer.C:
			// Still alive with no signal: assume started.
			return nil
		case <-windowTimer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func matchesReady(line, portToken string) bool {
	lowered := strings.ToLower(line)
	for _, signal := range readySignals {
		if strings.Contains(lowered, signal) {
			return true
		}
	}
	return strings.Contains(lowered, portToken)
}
