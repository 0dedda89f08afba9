package agent

import (
	"context"
	"log/slog"

	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

// StepListener observes every step that was persisted.
type StepListener func(model.TaskStep)

// Recorder appends steps on a best-effort basis: persistence failures are
// logged and never reach the caller.
type Recorder struct {
	store    store.Store
	log      *slog.Logger
	listener StepListener
}

func NewRecorder(st store.Store, log *slog.Logger, listener StepListener) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: st, log: log, listener: listener}
}

func (r *Recorder) Record(ctx context.Context, taskID uint, stepType model.StepType, content string) {
	step, err := r.store.AppendStep(ctx, taskID, stepType, content)
	if err != nil {
		r.log.Warn("record step failed", "task_id", taskID, "step_type", stepType, "err", err)
		return
	}
	if r.listener != nil {
		r.listener(step)
	}
}
