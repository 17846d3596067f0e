package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDetectorMatchesSignals(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"listening", "Server listening on port 4500"},
		{"uppercase", "LISTENING"},
		{"started", "app started successfully"},
		{"port number", "bound to 0.0.0.0:4500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := LogLineDetector{Window: time.Second, Grace: time.Second}
			lines := make(chan string, 1)
			lines <- tt.line
			exited := make(chan struct{})

			start := time.Now()
			if err := d.Wait(context.Background(), lines, exited, 4500); err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if time.Since(start) > 500*time.Millisecond {
				t.Fatal("detector waited for a timer despite a matching line")
			}
		})
	}
}

func TestDetectorIgnoresUnrelatedOutput(t *testing.T) {
	d := LogLineDetector{Window: time.Second, Grace: 100 * time.Millisecond}
	lines := make(chan string, 2)
	lines <- "compiling..."
	lines <- "warning: deprecated API"
	exited := make(chan struct{})

	// No readiness signal: the grace timer resolves optimistically.
	if err := d.Wait(context.Background(), lines, exited, 4500); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestDetectorReportsEarlyExit(t *testing.T) {
	d := LogLineDetector{Window: time.Second, Grace: time.Second}
	lines := make(chan string)
	exited := make(chan struct{})
	close(exited)

	if err := d.Wait(context.Background(), lines, exited, 4500); !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("expected ErrExitedBeforeReady, got %v", err)
	}
}

func TestDetectorHonorsContext(t *testing.T) {
	d := LogLineDetector{Window: time.Minute, Grace: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Wait(ctx, make(chan string), make(chan struct{}), 4500); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDetectorSurvivesClosedLineChannel(t *testing.T) {
	d := LogLineDetector{Window: time.Second, Grace: 100 * time.Millisecond}
	lines := make(chan string)
	close(lines)
	exited := make(chan struct{})

	if err := d.Wait(context.Background(), lines, exited, 4500); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
