package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// QueueEntry is one pending run request. The queue file is a JSON array in
// FIFO order; position reporting is 1-indexed. The full run parameters
// ride along so a drained entry runs exactly as it was submitted.
type QueueEntry struct {
	JobID        string   `json:"job_id"`
	User         string   `json:"user"`
	Keywords     string   `json:"keywords"`
	Recipient    string   `json:"recipient"`
	PositionType string   `json:"position_type,omitempty"`
	SearchTypes  []string `json:"search_types,omitempty"`
	Status       string   `json:"status"`
	QueuedAt     string   `json:"queued_at"`
	QueuedAtTS   float64  `json:"queued_at_ts"`
}

// RunParams rebuilds the parameters the entry was enqueued with.
func (e QueueEntry) RunParams() hunter.RunParams {
	params := hunter.RunParams{
		User:         e.User,
		Keywords:     e.Keywords,
		Recipient:    e.Recipient,
		PositionType: hunter.PositionType(e.PositionType),
	}
	for _, st := range e.SearchTypes {
		params.SearchTypes = append(params.SearchTypes, hunter.SearchType(st))
	}
	return params
}

func (c *Coordinator) loadQueueLocked() []QueueEntry {
	data, err := os.ReadFile(c.queuePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		c.logger.Warn("queue file unreadable, treating as empty", zap.Error(err))
		return nil
	}
	var queue []QueueEntry
	if err := json.Unmarshal(data, &queue); err != nil {
		c.logger.Warn("queue file corrupt, treating as empty", zap.Error(err))
		return nil
	}
	return queue
}

func (c *Coordinator) saveQueueLocked(queue []QueueEntry) error {
	if queue == nil {
		queue = []QueueEntry{}
	}
	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if err := os.WriteFile(c.queuePath, data, 0o644); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}

// Enqueue appends a run request and returns its job ID token.
func (c *Coordinator) Enqueue(params hunter.RunParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	now := c.clock.Now()
	entry := QueueEntry{
		JobID:        id,
		User:         params.User,
		Keywords:     params.Keywords,
		Recipient:    params.Recipient,
		PositionType: string(params.PositionType),
		SearchTypes:  searchTypeStrings(params.SearchTypes),
		Status:       StatusQueued,
		QueuedAt:     now.Format(hunter.TimestampFormat),
		QueuedAtTS:   float64(now.Unix()),
	}

	queue := append(c.loadQueueLocked(), entry)
	if err := c.saveQueueLocked(queue); err != nil {
		return "", err
	}
	return id, nil
}

// Position returns the 1-indexed queue position of the job, or 0 if absent.
func (c *Coordinator) Position(jobID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, entry := range c.loadQueueLocked() {
		if entry.JobID == jobID {
			return i + 1
		}
	}
	return 0
}

func searchTypeStrings(types []hunter.SearchType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, st := range types {
		out[i] = string(st)
	}
	return out
}

// PopNext removes and returns the earliest-queued entry.
func (c *Coordinator) PopNext() (QueueEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := c.loadQueueLocked()
	if len(queue) == 0 {
		return QueueEntry{}, false
	}
	head := queue[0]
	if err := c.saveQueueLocked(queue[1:]); err != nil {
		c.logger.Warn("save queue after pop failed", zap.Error(err))
	}
	return head, true
}

// Requeue puts a popped entry back at the head of the queue, keeping its
// job ID and original position. Used when the entry cannot run yet; a
// submitted request must end up queued, running, or terminal, never
// silently dropped.
func (c *Coordinator) Requeue(entry QueueEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue := append([]QueueEntry{entry}, c.loadQueueLocked()...)
	return c.saveQueueLocked(queue)
}

// Queue returns a snapshot of all pending entries in FIFO order.
func (c *Coordinator) Queue() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadQueueLocked()
}

// QueueLen reports the number of pending entries.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loadQueueLocked())
}

// ClearQueue drops every pending entry.
func (c *Coordinator) ClearQueue() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveQueueLocked(nil)
}
