package supervisor

import (
	"context"
	"testing"
	"time"
)

func fastChild(name, cmdline string) *Child {
	c := NewChild(name, cmdline, nil)
	c.initialBackoff = 5 * time.Millisecond
	c.maxBackoff = 20 * time.Millisecond
	c.crashWindow = time.Second
	c.termGrace = 200 * time.Millisecond
	return c
}

func TestChildCrashLoopMarksFailed(t *testing.T) {
	c := fastChild("crasher", "false")

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("crash-looping child never gave up")
	}
	if got := c.State(); got != StateFailed {
		t.Errorf("state = %s, want %s", got, StateFailed)
	}
}

func TestChildStoppedOnShutdown(t *testing.T) {
	c := fastChild("sleeper", "sleep 30")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// Give the process time to start, then shut the supervisor down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("child did not stop after cancellation")
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("state = %s, want %s", got, StateStopped)
	}
}

func TestChildUnstartableMarksFailed(t *testing.T) {
	c := fastChild("missing", "/definitely/not/a/binary")

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unstartable child never gave up")
	}
	if got := c.State(); got != StateFailed {
		t.Errorf("state = %s, want %s", got, StateFailed)
	}
}
