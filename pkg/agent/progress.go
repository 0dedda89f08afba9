package agent

import (
	"context"
	"errors"
	"log/slog"

	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

// Reporter writes progress and status. A task deleted mid-run is ignored
// and other failures are logged, never returned.
type Reporter struct {
	store store.Store
	log   *slog.Logger
}

func NewReporter(st store.Store, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{store: st, log: log}
}

// Update sets progress, clamped to [0,100], and status unless it is empty.
func (r *Reporter) Update(ctx context.Context, taskID uint, progress int, status model.TaskStatus) {
	progress = clampProgress(progress)
	u := store.TaskUpdate{Progress: &progress}
	if status != "" {
		u.Status = &status
	}
	r.apply(ctx, taskID, u)
}

// Complete stores the result payload and marks the task completed at 100.
func (r *Reporter) Complete(ctx context.Context, taskID uint, resultJSON string) {
	progress := 100
	status := model.StatusCompleted
	r.apply(ctx, taskID, store.TaskUpdate{Progress: &progress, Status: &status, ResultData: &resultJSON})
}

func (r *Reporter) apply(ctx context.Context, taskID uint, u store.TaskUpdate) {
	_, err := r.store.UpdateTask(ctx, taskID, u)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		r.log.Debug("progress update for missing task", "task_id", taskID)
	default:
		r.log.Warn("update task progress failed", "task_id", taskID, "err", err)
	}
}

func clampProgress(p int) int {
	return max(0, min(p, 100))
}
