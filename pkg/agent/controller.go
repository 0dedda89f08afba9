package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"lynus-agent/pkg/actions"
	"lynus-agent/pkg/llm"
	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

const (
	DefaultMaxIterations  = 10
	DefaultIterationDelay = time.Second
	defaultTemperature    = 0.7
)

// Result is what one run reports back to its caller.
type Result struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message"`
}

// Controller drives the thought/action/observation loop for one task at a time
// per call. It is safe for concurrent use on different tasks.
type Controller struct {
	store       store.Store
	llm         llm.Completer
	actions     *actions.Dispatcher
	log         *slog.Logger
	listener    StepListener
	maxIter     int
	delay       time.Duration
	temperature float64
	done        CompletionCheck

	recorder *Recorder
	reporter *Reporter
}

type Option func(*Controller)

func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

func WithIterationDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.delay = d
		}
	}
}

func WithStepListener(l StepListener) Option {
	return func(c *Controller) { c.listener = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCompletionCheck replaces the keyword predicate used to end a run early.
func WithCompletionCheck(fn CompletionCheck) Option {
	return func(c *Controller) {
		if fn != nil {
			c.done = fn
		}
	}
}

func NewController(st store.Store, completer llm.Completer, dispatcher *actions.Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		store:       st,
		llm:         completer,
		actions:     dispatcher,
		log:         slog.Default(),
		maxIter:     DefaultMaxIterations,
		delay:       DefaultIterationDelay,
		temperature: defaultTemperature,
		done:        ObservationSignalsCompletion,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recorder = NewRecorder(st, c.log, c.listener)
	c.reporter = NewReporter(st, c.log)
	return c
}

func (c *Controller) MaxIterations() int {
	return c.maxIter
}

// Execute runs the loop for taskID and always leaves the task in a terminal
// status. The only error returned is ErrTaskNotFound, in which case the task
// is not touched. Cancelling ctx ends the run with status cancelled.
func (c *Controller) Execute(ctx context.Context, taskID uint, credential string) (res Result, err error) {
	log := c.log.With("task_id", taskID, "run_id", uuid.NewString())
	// terminal writes must land even after ctx is cancelled
	wctx := context.WithoutCancel(ctx)

	defer func() {
		if p := recover(); p != nil {
			log.Error("run aborted by panic", "panic", p, "stack", string(debug.Stack()))
			res, err = c.abort(wctx, taskID, fmt.Sprint(p)), nil
		}
	}()

	task, err := c.store.GetTask(wctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("task not found")
		return Result{Error: "Task not found", Message: "Task not found"}, ErrTaskNotFound
	}
	if err != nil {
		log.Error("load task failed", "err", err)
		return c.abort(wctx, taskID, err.Error()), nil
	}

	r := &run{
		Controller: c,
		ctx:        ctx,
		wctx:       wctx,
		task:       task,
		credential: credential,
		log:        log,
	}
	log.Info("run started", "max_iterations", c.maxIter)
	res = r.execute()
	log.Info("run finished", "success", res.Success, "message", res.Message)
	return res, nil
}

// abort is the run-level failure path: failed with progress reset to 0.
func (c *Controller) abort(ctx context.Context, taskID uint, reason string) Result {
	c.reporter.Update(ctx, taskID, 0, model.StatusFailed)
	c.recorder.Record(ctx, taskID, model.StepObservation, "Task execution error: "+reason)
	return Result{Error: reason, Message: "Task execution failed with error"}
}

// run holds the state of one Execute call.
type run struct {
	*Controller
	ctx        context.Context
	wctx       context.Context
	task       model.Task
	credential string
	log        *slog.Logger

	history  strings.Builder
	captured map[string]any
	progress int
}

func (r *run) execute() Result {
	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	r.setProgress(0, model.StatusRunning)

	for i := 0; i < r.maxIter; i++ {
		if r.ctx.Err() != nil {
			return r.cancelled()
		}
		finished, err := r.iterate(i)
		if err != nil {
			if r.ctx.Err() != nil {
				return r.cancelled()
			}
			r.log.Warn("iteration failed", "iteration", i+1, "err", err)
			r.step(model.StepObservation, fmt.Sprintf("Iteration %d failed: %v", i+1, err))
		}
		if finished {
			break
		}
		if i < r.maxIter-1 && !r.pause() {
			return r.cancelled()
		}
	}
	return r.finish()
}

// iterate runs one thought/action/observation cycle. Panics are turned into
// errors so a single bad iteration never ends the run.
func (r *run) iterate(i int) (finished bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("iteration panicked", "iteration", i+1, "panic", p)
			finished, err = false, fmt.Errorf("panic: %v", p)
		}
	}()

	r.step(model.StepThought, fmt.Sprintf("Starting iteration %d...", i+1))
	thought, err := r.complete(thoughtMessages(r.task, r.history.String()))
	if err != nil {
		return false, fmt.Errorf("thought: %w", err)
	}
	r.step(model.StepThought, thought)
	r.setProgress(iterationProgress(i, r.maxIter), "")

	raw, err := r.complete(actionMessages(r.task, thought))
	if err != nil {
		return false, fmt.Errorf("action selection: %w", err)
	}
	env := ParseEnvelope(raw)
	summary := env.Summary()
	r.step(model.StepAction, summary)

	if err := r.ctx.Err(); err != nil {
		return false, err
	}
	outcome := r.actions.Dispatch(r.ctx, env.Action, env.Parameters)
	if !outcome.Success {
		r.log.Debug("action failed", "action", env.Action, "err", outcome.Error)
	}

	observation, err := r.complete(observationMessages(outcome))
	if err != nil {
		return false, fmt.Errorf("observation: %w", err)
	}
	r.step(model.StepObservation, observation)

	if outcome.Success && len(outcome.Result) > 0 {
		r.captured = outcome.Result
		if r.done(observation) {
			return true, nil
		}
	}

	fmt.Fprintf(&r.history, "\nIteration %d:\nThought: %s\nAction: %s\nObservation: %s\n", i+1, thought, summary, observation)
	return false, nil
}

func (r *run) finish() Result {
	if r.captured == nil {
		r.setProgress(100, model.StatusFailed)
		r.step(model.StepObservation, "Task execution failed: no valid result produced")
		return Result{Error: "Task execution failed", Message: "No valid result produced"}
	}

	data, err := json.Marshal(r.captured)
	if err != nil {
		return r.abort(r.wctx, r.task.ID, fmt.Sprintf("encode result: %v", err))
	}
	r.reporter.Complete(r.wctx, r.task.ID, string(data))
	r.progress = 100
	r.step(model.StepObservation, fmt.Sprintf("Task completed! Result type: %v", resultType(r.captured)))
	return Result{Success: true, Result: r.captured, Message: "Task completed successfully"}
}

func (r *run) cancelled() Result {
	r.log.Info("run cancelled", "cause", context.Cause(r.ctx))
	r.reporter.Update(r.wctx, r.task.ID, r.progress, model.StatusCancelled)
	r.step(model.StepObservation, "Task execution cancelled")
	return Result{Error: "Task cancelled", Message: "Task execution was cancelled"}
}

func (r *run) complete(messages []llm.Message) (string, error) {
	return r.llm.Complete(r.ctx, r.credential, messages, r.temperature)
}

func (r *run) step(stepType model.StepType, content string) {
	r.recorder.Record(r.wctx, r.task.ID, stepType, content)
}

// setProgress never moves progress backwards within a run.
func (r *run) setProgress(p int, status model.TaskStatus) {
	if p < r.progress {
		p = r.progress
	}
	r.progress = p
	r.reporter.Update(r.wctx, r.task.ID, p, status)
}

// pause waits out the pacing delay; false means ctx was cancelled.
func (r *run) pause() bool {
	if r.delay <= 0 {
		return r.ctx.Err() == nil
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func iterationProgress(i, maxIter int) int {
	return min(20+i*60/maxIter, 80)
}

func resultType(result map[string]any) any {
	if t, ok := result["type"]; ok {
		return t
	}
	return "unknown"
}
