// ABOUTME: Process handle and spawner for worker child processes.
// ABOUTME: The exec spawner launches "<bin> worker" with stdin/stdout as the control channel.
package pool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/thanosengine/ChandraGen/internal/proto"
)

// Process is the supervisor's handle on one worker OS process.
type Process interface {
	// Alive reports whether the process has not yet exited.
	Alive() bool
	// Wait blocks until the process exits or timeout elapses.
	Wait(timeout time.Duration) error
	// Kill forcibly terminates the process.
	Kill() error
}

// Conn is the supervisor's end of a worker's control channel.
type Conn interface {
	Send(m proto.Message) error
	Recv(timeout time.Duration) (proto.Message, error)
	Close() error
}

// Spawner starts one worker process under the given identity and returns
// its process handle and control channel.
type Spawner func(id uuid.UUID) (Process, Conn, error)

// ExecSpawner returns a Spawner that execs `bin worker --worker-id <id>`.
// The child inherits the environment (so it loads the same configuration)
// and its stderr, keeping worker logs on the supervisor's stderr stream;
// stdin and stdout carry the control protocol and nothing else.
func ExecSpawner(bin string) Spawner {
	return func(id uuid.UUID) (Process, Conn, error) {
		cmd := exec.Command(bin, "worker", "--worker-id", id.String())
		cmd.Env = os.Environ()
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("worker stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, fmt.Errorf("worker stdout pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, nil, fmt.Errorf("start worker process: %w", err)
		}

		p := &execProcess{cmd: cmd, done: make(chan struct{})}
		go func() {
			// Reap the child as soon as it exits so Alive flips without
			// waiting for anyone to call Wait.
			_ = cmd.Wait()
			close(p.done)
		}()

		return p, proto.NewConn(stdout, stdin), nil
	}
}

// execProcess wraps an exec.Cmd with exit observation.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("process %d did not exit within %s", p.cmd.Process.Pid, timeout)
	}
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
