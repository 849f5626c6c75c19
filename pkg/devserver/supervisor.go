package devserver

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// gracePeriod is how long a signalled child may take to exit before its
// whole process group is killed.
const gracePeriod = 1500 * time.Millisecond

// maxLineBytes bounds a single output line; longer lines are split by the
// scanner rather than dropped.
const maxLineBytes = 1024 * 1024

// LineSink receives classified child output. The hub implements it by
// posting to its ingestion path.
type LineSink interface {
	// ChildLine reports one complete output line. level is info for stdout,
	// warn for stderr.
	ChildLine(line string, stderr bool)
	// ChildExit reports an abnormal end: a failed spawn (exitCode 1 with a
	// message) or a non-zero exit.
	ChildExit(message string, exitCode int)
}

// Supervisor runs the dev command in its own process group, streams its
// output line-by-line into the sink and reports its exit.
type Supervisor struct {
	cmdline string
	sink    LineSink

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	running  atomic.Bool
	stopping atomic.Bool
}

// NewSupervisor prepares a supervisor for the given shell command.
func NewSupervisor(cmdline string, sink LineSink) *Supervisor {
	return &Supervisor{cmdline: cmdline, sink: sink}
}

// Start launches the child. A spawn failure is reported through the sink as
// a child-failure event and returned; the hub stays up either way.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.Command("sh", "-c", s.cmdline)
	cmd.Stdin = os.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.spawnFailed(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.spawnFailed(err)
	}
	if err := cmd.Start(); err != nil {
		return s.spawnFailed(err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	s.running.Store(true)
	slog.Info("Dev server started", "cmd", s.cmdline, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readLines(stdout, false, &readers)
	go s.readLines(stderr, true, &readers)

	go func() {
		readers.Wait()
		err := cmd.Wait()
		s.running.Store(false)
		close(s.done)

		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = 1
		}
		if code != 0 && !s.stopping.Load() {
			slog.Warn("Dev server exited", "code", code)
			s.sink.ChildExit("", code)
			return
		}
		slog.Info("Dev server exited cleanly")
	}()
	return nil
}

func (s *Supervisor) spawnFailed(err error) error {
	slog.Error("Failed to start dev server", "cmd", s.cmdline, "error", err)
	s.sink.ChildExit(err.Error(), 1)
	return err
}

// IsRunning reflects child liveness.
func (s *Supervisor) IsRunning() bool { return s.running.Load() }

// Stop signals the child's process group and, after the grace period,
// kills it. Safe to call without a running child.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || !s.running.Load() {
		return
	}
	s.stopping.Store(true)

	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(gracePeriod):
		slog.Warn("Dev server did not exit in time, killing process group", "pid", cmd.Process.Pid)
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-done
	}
}

func (s *Supervisor) readLines(r io.Reader, stderr bool, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.sink.ChildLine(line, stderr)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Pipe read ended", "stderr", stderr, "error", err)
	}
}
