package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lynus-agent/pkg/agent"
	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
)

// StreamEvent is one message pushed to step stream clients.
type StreamEvent struct {
	Type   string          `json:"type"` // step | done
	TaskID uint            `json:"task_id"`
	Step   *model.TaskStep `json:"step,omitempty"`
	Result *agent.Result   `json:"result,omitempty"`
	Status string          `json:"status,omitempty"`
}

type subscriber struct {
	events chan StreamEvent
}

// StepHub fans recorded steps out to WebSocket subscribers keyed by task id.
type StepHub struct {
	upgrader websocket.Upgrader
	store    store.Store
	log      *slog.Logger

	mu   sync.Mutex
	subs map[uint]map[*subscriber]struct{}
}

func NewStepHub(st store.Store, log *slog.Logger) *StepHub {
	if log == nil {
		log = slog.Default()
	}
	return &StepHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		store: st,
		log:   log,
		subs:  map[uint]map[*subscriber]struct{}{},
	}
}

// Publish forwards a step to the task's subscribers. A subscriber whose
// buffer is full is dropped rather than stalling the recorder.
func (h *StepHub) Publish(step model.TaskStep) {
	h.broadcast(step.TaskID, StreamEvent{Type: "step", TaskID: step.TaskID, Step: &step})
}

// Finish tells subscribers the run ended and closes their streams.
func (h *StepHub) Finish(taskID uint, res agent.Result, err error) {
	ev := StreamEvent{Type: "done", TaskID: taskID, Result: &res}
	if err != nil {
		ev.Status = "error"
	}
	h.broadcast(taskID, ev)

	h.mu.Lock()
	subs := h.subs[taskID]
	delete(h.subs, taskID)
	h.mu.Unlock()
	for s := range subs {
		close(s.events)
	}
}

func (h *StepHub) broadcast(taskID uint, ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[taskID] {
		select {
		case s.events <- ev:
		default:
			h.log.Warn("step subscriber too slow, dropping", "task_id", taskID)
			h.removeLocked(taskID, s)
		}
	}
}

func (h *StepHub) subscribe(taskID uint) *subscriber {
	s := &subscriber{events: make(chan StreamEvent, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = map[*subscriber]struct{}{}
	}
	h.subs[taskID][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *StepHub) unsubscribe(taskID uint, s *subscriber) {
	h.mu.Lock()
	h.removeLocked(taskID, s)
	h.mu.Unlock()
}

// removeLocked closes s exactly once: only the caller that deletes it does.
func (h *StepHub) removeLocked(taskID uint, s *subscriber) {
	subs, ok := h.subs[taskID]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.subs, taskID)
	}
	close(s.events)
}

// Subscribers reports how many clients follow taskID.
func (h *StepHub) Subscribers(taskID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// Serve upgrades the request and streams the task's steps: the stored backlog
// first, then live steps. Steps already sent from the backlog are skipped.
func (h *StepHub) Serve(w http.ResponseWriter, r *http.Request, task model.Task) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "task_id", task.ID, "err", err)
		return
	}
	defer c.Close()
	log := h.log.With("task_id", task.ID, "remote", r.RemoteAddr)
	log.Info("step stream connected")
	defer log.Info("step stream disconnected")

	// subscribe before reading the backlog so no step falls in between
	sub := h.subscribe(task.ID)
	defer h.unsubscribe(task.ID, sub)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	backlog, err := h.store.ListSteps(ctx, task.ID)
	if err != nil {
		log.Warn("load step backlog failed", "err", err)
		return
	}
	sent := 0
	for i := range backlog {
		if err := writeEvent(c, StreamEvent{Type: "step", TaskID: task.ID, Step: &backlog[i]}); err != nil {
			return
		}
		sent = backlog[i].StepNumber
	}
	if current, err := h.store.GetTask(ctx, task.ID); err == nil && current.Status.Terminal() {
		// the run finished before we subscribed; drain whatever is buffered
		h.drain(c, sub, &sent)
		_ = writeEvent(c, StreamEvent{Type: "done", TaskID: task.ID, Status: string(current.Status)})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.events:
			if !ok {
				_ = c.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if ev.Step != nil && ev.Step.StepNumber <= sent {
				continue
			}
			if err := writeEvent(c, ev); err != nil {
				return
			}
			if ev.Step != nil {
				sent = ev.Step.StepNumber
			}
		}
	}
}

func (h *StepHub) drain(c *websocket.Conn, sub *subscriber, sent *int) {
	for {
		select {
		case ev, ok := <-sub.events:
			if !ok {
				return
			}
			if ev.Step == nil || ev.Step.StepNumber <= *sent {
				continue
			}
			if writeEvent(c, ev) != nil {
				return
			}
			*sent = ev.Step.StepNumber
		default:
			return
		}
	}
}

func writeEvent(c *websocket.Conn, ev StreamEvent) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(ev)
}
