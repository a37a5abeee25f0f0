package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// logLineCap bounds the log buffer carried in each job status file.
const logLineCap = 100

// JobState is the per-job status record, one JSON file per job under the
// jobs directory.
type JobState struct {
	JobID       string `json:"job_id"`
	User        string `json:"user"`
	Keywords    string `json:"keywords"`
	Recipient   string `json:"recipient"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at"`
	LogOutput   string `json:"log_output"`
	Result      string `json:"result"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func (c *Coordinator) statusPath(jobID string) string {
	return filepath.Join(c.jobsDir, jobID+".json")
}

func (c *Coordinator) readStateLocked(jobID string) (*JobState, error) {
	data, err := os.ReadFile(c.statusPath(jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job status: %w", err)
	}
	var state JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &state, nil
}

func (c *Coordinator) writeStateLocked(state *JobState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job status: %w", err)
	}
	if err := os.WriteFile(c.statusPath(state.JobID), data, 0o644); err != nil {
		return fmt.Errorf("write job status: %w", err)
	}
	return nil
}

// CreateStatus initializes a running job record with a seeded log line.
func (c *Coordinator) CreateStatus(jobID string, params hunter.RunParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := &JobState{
		JobID:     jobID,
		User:      params.User,
		Keywords:  params.Keywords,
		Recipient: params.Recipient,
		Status:    StatusRunning,
		StartedAt: c.clock.Now().Format(hunter.TimestampFormat),
		LogOutput: "Starting position scout run...\n",
	}
	return c.writeStateLocked(state)
}

// AppendLog appends text to the job's log buffer, truncating to the last
// 100 lines. A missing job file is a no-op.
func (c *Coordinator) AppendLog(jobID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.readStateLocked(jobID)
	if err != nil || state == nil {
		return err
	}
	state.LogOutput += text
	lines := strings.Split(state.LogOutput, "\n")
	if len(lines) > logLineCap {
		state.LogOutput = strings.Join(lines[len(lines)-logLineCap:], "\n")
	}
	return c.writeStateLocked(state)
}

// Complete marks the job terminal with its result message. A missing job
// file is a no-op.
func (c *Coordinator) Complete(jobID string, success bool, result string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, err := c.readStateLocked(jobID)
	if err != nil || state == nil {
		return err
	}
	if success {
		state.Status = StatusSuccess
	} else {
		state.Status = StatusFailed
	}
	state.Result = result
	state.CompletedAt = c.clock.Now().Format(hunter.TimestampFormat)
	return c.writeStateLocked(state)
}

// Status returns the job's current state, or nil if unknown.
func (c *Coordinator) Status(jobID string) (*JobState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readStateLocked(jobID)
}
