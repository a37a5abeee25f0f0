package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/coordinator"
	"github.com/scoutlab/scholarhunt/internal/hunter"
	"github.com/scoutlab/scholarhunt/internal/metrics"
	"github.com/scoutlab/scholarhunt/internal/report"
)

// ErrLocked reports that another run currently holds the coordinator lock.
var ErrLocked = errors.New("another run is already in progress")

// Runner ties the pipeline to the coordinator's locking protocol.
type Runner struct {
	Coord               *coordinator.Coordinator
	Pipe                *Pipeline
	IDGen               hunter.IDGenerator
	Clock               hunter.Clock
	Logger              *zap.Logger
	DefaultPositionType hunter.PositionType
}

// Execute performs one run under the coordinator lock, then drains any
// queued runs. When jobID is empty a fresh lock is acquired first; a
// non-empty jobID means the caller already holds the lock for this job
// and passes the token its acquisition returned. The lock is always
// released and the queue drained, even when the run itself fails; the
// failure lands on the job status file and is returned.
func (r *Runner) Execute(ctx context.Context, mode, jobID, lockToken string, params hunter.RunParams) error {
	if jobID == "" {
		token, ok := r.Coord.Acquire(mode, params)
		if !ok {
			return ErrLocked
		}
		lockToken = token
		id, err := r.IDGen.NewID()
		if err != nil {
			r.Coord.Release(lockToken)
			return fmt.Errorf("generate job id: %w", err)
		}
		jobID = id
	}

	runErr := r.runLocked(ctx, mode, jobID, lockToken, params)
	r.drain(ctx)
	return runErr
}

// runLocked executes one job that holds the lock, keeping the run
// cancelable through the coordinator for as long as the lock is held. The
// release is token-checked: if a terminate already freed the lock and a
// new run took it, this run's release leaves the new holder alone.
func (r *Runner) runLocked(ctx context.Context, mode, jobID, lockToken string, params hunter.RunParams) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unbind := r.Coord.BindRun(cancel)
	err := r.runOne(runCtx, mode, jobID, params)
	r.Coord.Release(lockToken)
	unbind()
	return err
}

// runOne executes a single job that already holds the lock. It never
// leaves the job status file non-terminal.
func (r *Runner) runOne(ctx context.Context, mode, jobID string, params hunter.RunParams) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if params.PositionType == "" {
		params.PositionType = r.DefaultPositionType
	}

	if err := r.Coord.CreateStatus(jobID, params); err != nil {
		logger.Warn("create job status failed", zap.String("job_id", jobID), zap.Error(err))
	}
	progress := func(line string) {
		if err := r.Coord.AppendLog(jobID, line); err != nil {
			logger.Debug("append job log failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	start := r.Clock.Now()
	logger.Info("run started",
		zap.String("job_id", jobID),
		zap.String("mode", mode),
		zap.String("user", params.User),
		zap.String("position_type", string(params.PositionType)))

	rep, err := r.Pipe.Run(ctx, params, progress)
	duration := r.Clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveRun(mode, "failed", duration)
		logger.Error("run failed", zap.String("job_id", jobID), zap.Error(err))
		if cerr := r.Coord.Complete(jobID, false, err.Error()); cerr != nil {
			logger.Warn("record job failure failed", zap.String("job_id", jobID), zap.Error(cerr))
		}
		subject := fmt.Sprintf("Position scout run %s failed", jobID)
		if nerr := r.Pipe.Mailer.SendNote(ctx, params.Recipient, subject, err.Error()); nerr != nil {
			logger.Warn("send failure note failed", zap.String("job_id", jobID), zap.Error(nerr))
		}
		return fmt.Errorf("run %s: %w", jobID, err)
	}

	summary := report.Summary(rep)
	metrics.ObserveRun(mode, "success", duration)
	logger.Info("run finished",
		zap.String("job_id", jobID),
		zap.String("summary", summary),
		zap.Duration("duration", duration))
	if cerr := r.Coord.Complete(jobID, true, summary); cerr != nil {
		logger.Warn("record job success failed", zap.String("job_id", jobID), zap.Error(cerr))
	}
	return nil
}

// drain pops queued runs one at a time until the queue is empty or the
// lock cannot be taken.
func (r *Runner) drain(ctx context.Context) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		metrics.SetQueueDepth(r.Coord.QueueLen())
		if err := ctx.Err(); err != nil {
			return
		}
		entry, ok := r.Coord.PopNext()
		if !ok {
			return
		}
		params := entry.RunParams()
		token, ok := r.Coord.Acquire("queued", params)
		if !ok {
			// Someone else grabbed the lock between runs; put the entry
			// back at the head so it runs once the lock frees up.
			logger.Warn("lock contention while draining queue", zap.String("job_id", entry.JobID))
			if err := r.Coord.Requeue(entry); err != nil {
				logger.Error("requeue after contention failed",
					zap.String("job_id", entry.JobID), zap.Error(err))
			}
			return
		}
		if err := r.runLocked(ctx, "queued", entry.JobID, token, params); err != nil {
			logger.Warn("queued run failed", zap.String("job_id", entry.JobID), zap.Error(err))
		}
	}
}
