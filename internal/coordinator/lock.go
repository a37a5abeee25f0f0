package coordinator

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// LockInfo is the singleton run lock, persisted so it survives process
// restarts. started_at is kept both as epoch seconds (for the staleness
// check) and as a formatted string (for the dashboard). The token is
// minted per acquisition and never reused, so a release can prove it is
// tearing down its own lock and not a successor's.
type LockInfo struct {
	Mode         string  `json:"mode"`
	User         string  `json:"user"`
	Keywords     string  `json:"keywords"`
	Recipient    string  `json:"recipient"`
	StartedAt    float64 `json:"started_at"`
	StartedAtStr string  `json:"started_at_str"`
	PID          int     `json:"pid,omitempty"`
	Token        string  `json:"token,omitempty"`
}

// LockInfo returns the current lock, or nil when no valid lock exists.
// A lock older than the TTL is treated as abandoned: it is purged here,
// before any acquisition decision, regardless of whether its owning process
// is still alive. Staleness is purely time-based.
func (c *Coordinator) LockInfo() *LockInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockInfoLocked()
}

func (c *Coordinator) lockInfoLocked() *LockInfo {
	data, err := os.ReadFile(c.lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		// Unreadable lock degrades exclusivity; favor liveness but say so.
		c.logger.Warn("lock file unreadable, treating as unlocked", zap.Error(err))
		return nil
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		c.logger.Warn("lock file corrupt, treating as unlocked", zap.Error(err))
		return nil
	}
	age := float64(c.clock.Now().Unix()) - info.StartedAt
	if age > c.ttl.Seconds() {
		c.logger.Warn("purging stale run lock",
			zap.String("user", info.User), zap.Float64("age_seconds", age))
		if err := os.Remove(c.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("remove stale lock failed", zap.Error(err))
		}
		return nil
	}
	return &info
}

// IsLocked reports whether a non-stale lock exists.
func (c *Coordinator) IsLocked() bool {
	return c.LockInfo() != nil
}

// Acquire attempts an atomic check-and-set of the run lock. It fails only
// when a non-stale lock already exists; a stale or corrupt lock record is
// purged and then acquisition proceeds. No side effects on failure. On
// success the returned token identifies this acquisition for Release.
func (c *Coordinator) Acquire(mode string, params hunter.RunParams) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.lockInfoLocked(); existing != nil {
		return "", false
	}

	now := c.clock.Now()
	info := LockInfo{
		Mode:         mode,
		User:         params.User,
		Keywords:     params.Keywords,
		Recipient:    params.Recipient,
		StartedAt:    float64(now.Unix()),
		StartedAtStr: now.Format(hunter.TimestampFormat),
		PID:          os.Getpid(),
		Token:        uuid.NewString(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		c.logger.Warn("marshal lock failed", zap.Error(err))
		return "", false
	}
	if err := os.WriteFile(c.lockPath, data, 0o644); err != nil {
		c.logger.Warn("write lock failed", zap.Error(err))
		return "", false
	}
	return info.Token, true
}

// Release clears the lock when the token still owns it. A release with a
// superseded token is a no-op, so a run that outlived a terminate cannot
// remove its successor's lock. An empty token force-releases any holder;
// only Terminate uses that. Idempotent.
func (c *Coordinator) Release(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if token != "" {
		current := c.lockInfoLocked()
		if current == nil {
			return
		}
		if current.Token != token {
			c.logger.Debug("skipping release, lock has a new owner",
				zap.String("holder", current.User))
			return
		}
	}
	if err := os.Remove(c.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("release lock failed", zap.Error(err))
	}
}
