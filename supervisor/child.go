package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/VictorCabrejos/taxi-duration-predictor-mlops/logger"
)

// ChildState tracks a supervised subprocess through its lifecycle.
type ChildState string

const (
	StateStarting ChildState = "starting"
	StateRunning  ChildState = "running"
	StateExited   ChildState = "exited"
	StateBackoff  ChildState = "backoff"
	StateStopped  ChildState = "stopped"
	StateFailed   ChildState = "failed"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
	// A run shorter than this counts toward crash-loop detection.
	defaultCrashWindow = 5 * time.Second
	maxFastCrashes     = 3
	// Grace between the polite terminate signal and the kill.
	defaultTermGrace = 5 * time.Second
)

// Child supervises one auxiliary subprocess: start it, restart it with
// exponential backoff when it exits, stop restarting after three
// consecutive fast crashes. A failed child never takes the API down.
type Child struct {
	name    string
	cmdline string
	env     []string

	initialBackoff time.Duration
	maxBackoff     time.Duration
	crashWindow    time.Duration
	termGrace      time.Duration

	mu    sync.Mutex
	state ChildState
}

func NewChild(name, cmdline string, env []string) *Child {
	return &Child{
		name:           name,
		cmdline:        cmdline,
		env:            env,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		crashWindow:    defaultCrashWindow,
		termGrace:      defaultTermGrace,
		state:          StateStarting,
	}
}

func (c *Child) State() ChildState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Child) setState(s ChildState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the restart loop until ctx is cancelled. It always returns
// nil-adjacent: subprocess trouble is logged, never propagated.
func (c *Child) Run(ctx context.Context) {
	backoff := c.initialBackoff
	fastCrashes := 0

	for {
		if ctx.Err() != nil {
			c.setState(StateStopped)
			return
		}

		c.setState(StateStarting)
		startedAt := time.Now()
		err := c.runOnce(ctx)
		runFor := time.Since(startedAt)

		if ctx.Err() != nil {
			c.setState(StateStopped)
			slog.Info("subprocess stopped", "child", c.name)
			return
		}

		c.setState(StateExited)
		slog.Warn("subprocess exited unexpectedly",
			"child", c.name, "ran_for", runFor.Round(time.Millisecond), logger.Err(err))

		if runFor < c.crashWindow {
			fastCrashes++
			if fastCrashes >= maxFastCrashes {
				c.setState(StateFailed)
				slog.Warn("subprocess crash-looping, giving up",
					"child", c.name, "attempts", fastCrashes)
				return
			}
		} else {
			fastCrashes = 0
			backoff = c.initialBackoff
		}

		c.setState(StateBackoff)
		slog.Info("restarting subprocess", "child", c.name, "backoff", backoff)
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// runOnce starts the process and blocks until it exits. Cancellation
// uses the two-phase protocol: terminate signal, short grace, kill.
func (c *Child) runOnce(ctx context.Context) error {
	parts := strings.Fields(c.cmdline)
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), c.env...)

	if err := cmd.Start(); err != nil {
		return err
	}
	c.setState(StateRunning)
	slog.Info("subprocess started", "child", c.name, "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("cannot signal subprocess", "child", c.name, logger.Err(err))
	}
	select {
	case <-done:
		return ctx.Err()
	case <-time.After(c.termGrace):
		slog.Warn("subprocess ignored termination signal, killing", "child", c.name)
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
