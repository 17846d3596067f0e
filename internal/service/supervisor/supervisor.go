// Package supervisor spawns backend processes, detects readiness and owns the
// registry of live process handles.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// terminateGrace bounds how long a redeploy waits for the previous process to
// react to SIGTERM before proceeding.
const terminateGrace = 5 * time.Second

// StartupError indicates the backend failed to spawn or died before readiness.
type StartupError struct {
	Key    string
	Output string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("supervisor: %s failed to start: %v", e.Key, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// ProcessInfo is the externally visible view of one registry entry.
type ProcessInfo struct {
	Key       string    `json:"key"`
	Project   string    `json:"project"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

// Key builds the registry key for an (owner, project) pair.
func Key(ownerID, project string) string {
	return ownerID + "/" + project
}

// ProjectFromKey extracts the project name from a registry key.
func ProjectFromKey(key string) string {
	if idx := strings.IndexByte(key, '/'); idx >= 0 {
		return key[idx+1:]
	}
	return key
}

type process struct {
	key       string
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{} // closed once Wait returns
	output    *outputBuffer
}

func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Supervisor owns the process registry. The registry map is only touched under
// the mutex; spawning and signalling happen outside it.
type Supervisor struct {
	mu       sync.Mutex
	procs    map[string]*process
	command  []string
	detector ReadinessDetector
	logger   *slog.Logger
}

// New builds a Supervisor. An empty command falls back to npm start.
func New(command []string, detector ReadinessDetector, logger *slog.Logger) *Supervisor {
	if len(command) == 0 {
		command = []string{"npm", "start"}
	}
	if detector == nil {
		detector = LogLineDetector{}
	}
	return &Supervisor{
		procs:    make(map[string]*process),
		command:  command,
		detector: detector,
		logger:   logger,
	}
}

// Start spawns the backend command in workdir with the port injected into its
// environment. Any process already registered under the same key is terminated
// first, so a redeploy never leaks the previous process or its port. The
// returned handle is registered before readiness detection so that an exit at
// any point removes it.
func (s *Supervisor) Start(ctx context.Context, workdir string, port int, key string) (ProcessInfo, error) {
	if old := s.take(key); old != nil {
		s.logger.Info("terminating previous process for redeploy", "key", key, "pid", old.pid)
		s.terminate(old)
	}

	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(),
		"PORT="+strconv.Itoa(port),
		"NODE_ENV=production",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ProcessInfo{}, &StartupError{Key: key, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ProcessInfo{}, &StartupError{Key: key, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return ProcessInfo{}, &StartupError{Key: key, Err: err}
	}

	proc := &process{
		key:       key,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
		output:    newOutputBuffer(),
	}

	lines := make(chan string, 64)
	var scanners sync.WaitGroup
	scanners.Add(2)
	go forwardOutput(stdout, lines, proc.output, &scanners)
	go forwardOutput(stderr, lines, proc.output, &scanners)
	go func() {
		scanners.Wait()
		close(lines)
	}()

	s.insert(key, proc)

	go func() {
		err := cmd.Wait()
		close(proc.done)
		s.remove(key, proc)
		if err != nil {
			s.logger.Warn("process exited", "key", key, "pid", proc.pid, "error", err)
		} else {
			s.logger.Info("process exited", "key", key, "pid", proc.pid)
		}
	}()

	if err := s.detector.Wait(ctx, lines, proc.done, port); err != nil {
		s.logger.Error("readiness failed", "key", key, "pid", proc.pid, "error", err)
		s.terminate(proc)
		s.remove(key, proc)
		return ProcessInfo{}, &StartupError{Key: key, Output: proc.output.String(), Err: err}
	}

	s.logger.Info("process started", "key", key, "pid", proc.pid, "port", port)
	return s.info(proc), nil
}

// Stop signals the process registered under key with SIGTERM and removes the
// registry entry. Returns false when no process is registered; stopping twice
// in a row is a no-op, not an error.
func (s *Supervisor) Stop(key string) bool {
	proc := s.take(key)
	if proc == nil {
		return false
	}
	s.signal(proc)
	s.logger.Info("process stopped", "key", key, "pid", proc.pid)
	return true
}

// Status lists registered processes whose key starts with ownerPrefix. An
// empty prefix lists everything.
func (s *Supervisor) Status(ownerPrefix string) []ProcessInfo {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for key, proc := range s.procs {
		if ownerPrefix != "" && !strings.HasPrefix(key, ownerPrefix+"/") {
			continue
		}
		procs = append(procs, proc)
	}
	s.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(procs))
	for _, proc := range procs {
		infos = append(infos, s.info(proc))
	}
	return infos
}

// StopAll terminates every registered process; used during shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, proc := range s.procs {
		procs = append(procs, proc)
	}
	s.procs = make(map[string]*process)
	s.mu.Unlock()

	for _, proc := range procs {
		s.terminate(proc)
	}
}

func (s *Supervisor) info(proc *process) ProcessInfo {
	return ProcessInfo{
		Key:       proc.key,
		Project:   ProjectFromKey(proc.key),
		PID:       proc.pid,
		Running:   proc.running(),
		StartedAt: proc.startedAt,
	}
}

func (s *Supervisor) insert(key string, proc *process) {
	s.mu.Lock()
	s.procs[key] = proc
	s.mu.Unlock()
}

// take removes and returns the entry for key, or nil.
func (s *Supervisor) take(key string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	proc, ok := s.procs[key]
	if !ok {
		return nil
	}
	delete(s.procs, key)
	return proc
}

// remove deletes the entry for key only if it still points at proc, so a
// late exit observation never evicts a successor process.
func (s *Supervisor) remove(key string, proc *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.procs[key]; ok && current == proc {
		delete(s.procs, key)
	}
}

func (s *Supervisor) signal(proc *process) {
	if !proc.running() {
		return
	}
	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("signal failed", "key", proc.key, "pid", proc.pid, "error", err)
	}
}

// terminate signals the process and waits briefly for it to exit.
func (s *Supervisor) terminate(proc *process) {
	s.signal(proc)
	select {
	case <-proc.done:
	case <-time.After(terminateGrace):
		s.logger.Warn("process did not exit within grace period", "key", proc.key, "pid", proc.pid)
	}
}

// forwardOutput copies process output into the retained buffer and offers each
// line to the readiness channel without ever blocking the scanner.
func forwardOutput(r io.Reader, lines chan<- string, buf *outputBuffer, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.append(line)
		select {
		case lines <- line:
		default:
		}
	}
}
