// Package coordinator enforces the single-run-at-a-time execution model:
// a persisted run lock with time-based staleness, a FIFO queue of pending
// run requests, and per-job status tracking consumable by concurrent
// dashboard clients.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// Job status values. Transitions are monotonic: queued → running → terminal.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Coordinator owns the lock file, the queue file, and the jobs directory.
// All file operations happen under one process-local mutex; cross-process
// races are accepted under the single-instance deployment model.
type Coordinator struct {
	mu        sync.Mutex
	lockPath  string
	queuePath string
	jobsDir   string
	ttl       time.Duration
	clock     hunter.Clock
	idGen     hunter.IDGenerator
	logger    *zap.Logger

	// The in-process run currently holding the lock, if any. Terminate
	// stops it through this cancel instead of signaling the process.
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New constructs a Coordinator rooted at stateDir.
func New(
	stateDir, lockFile, queueFile, jobsDir string,
	ttl time.Duration,
	clock hunter.Clock,
	idGen hunter.IDGenerator,
	logger *zap.Logger,
) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		lockPath:  filepath.Join(stateDir, lockFile),
		queuePath: filepath.Join(stateDir, queueFile),
		jobsDir:   filepath.Join(stateDir, jobsDir),
		ttl:       ttl,
		clock:     clock,
		idGen:     idGen,
		logger:    logger,
	}
	if err := os.MkdirAll(c.jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs dir: %w", err)
	}
	return c, nil
}

// BindRun registers the cancel function of an in-process run so Terminate
// can stop it. The returned unbind must be called when the run finishes;
// it is what tells a waiting Terminate that the run has wound down.
func (c *Coordinator) BindRun(cancel context.CancelFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := make(chan struct{})
	c.runCancel = cancel
	c.runDone = done
	return func() {
		c.mu.Lock()
		if c.runDone == done {
			c.runCancel = nil
			c.runDone = nil
		}
		c.mu.Unlock()
		close(done)
	}
}

// Terminate aborts the in-flight run and everything queued behind it. An
// in-process run is stopped through its bound cancel function and given
// the grace period to wind down; a run owned by another process is sent
// SIGTERM, then SIGKILL after the grace period. Either way the lock is
// force-released and the pending queue cleared.
func (c *Coordinator) Terminate(grace time.Duration) {
	info := c.LockInfo()

	c.mu.Lock()
	cancel := c.runCancel
	done := c.runDone
	c.mu.Unlock()

	switch {
	case cancel != nil:
		cancel()
		select {
		case <-done:
		case <-time.After(grace):
			c.logger.Warn("run did not stop within grace period, clearing state anyway")
		}
	case info != nil && info.PID > 0 && info.PID != os.Getpid():
		c.killProcess(info.PID, grace)
	}

	c.Release("")
	if err := c.ClearQueue(); err != nil {
		c.logger.Warn("clear queue on terminate failed", zap.Error(err))
	}
}

func (c *Coordinator) killProcess(pid int, grace time.Duration) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		c.logger.Warn("sigkill failed", zap.Int("pid", pid), zap.Error(err))
	}
}
