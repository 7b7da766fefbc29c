// Package runner launches external processes and exposes their combined
// stdout+stderr as an ordered stream of chunks, plus a final exit result
// delivered exactly once.
package runner

import (
	"errors"
	"os/exec"
	"sync"
)

// Command describes one process to launch.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string // nil inherits the parent environment
}

// Result is the final outcome of a process.
type Result struct {
	ExitCode int
	Killed   bool // true when the process ended via Stop rather than on its own
}

// Handle tracks a single started process.
type Handle struct {
	chunks chan []byte

	stopOnce sync.Once
	stop     chan struct{}

	done   chan struct{}
	result Result
}

// chunkWriter forwards every Write as its own chunk. The child's stdout and
// stderr share one chunkWriter, so they share one pipe and interleave in the
// order the process produced them.
type chunkWriter struct {
	ch chan []byte
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)
	w.ch <- b
	return len(p), nil
}

// Start launches the command. A non-nil error means the process never ran
// (binary missing, permission denied, bad working directory) -- callers must
// classify that as a launch error, never as a nonzero exit.
//
// The caller is expected to drain Output until it closes and then call Wait;
// the process is always reaped, including after Stop.
func Start(c Command) (*Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	w := &chunkWriter{ch: make(chan []byte, 64)}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &Handle{
		chunks: w.ch,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.supervise(cmd)
	return h, nil
}

// Output returns the stream of combined output chunks. The channel closes
// once the process has exited and everything it wrote has been delivered.
func (h *Handle) Output() <-chan []byte { return h.chunks }

// Stop kills the process. It is safe to call repeatedly and after exit.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Wait blocks until the process has exited and returns its Result. Repeated
// and concurrent calls return the same Result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.result
}

func (h *Handle) supervise(cmd *exec.Cmd) {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var err error
	killed := false
	select {
	case <-h.stop:
		_ = cmd.Process.Kill()
		err = <-exited // reap; no zombies on the forced path either
		killed = true
	case err = <-exited:
	}
	close(h.chunks)

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}
	h.result = Result{ExitCode: code, Killed: killed}
	close(h.done)
}
