package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Action identifiers. The set is closed: nothing else can be registered.
const (
	GenerateImage       = "generate_image"
	CreateSlides        = "create_slides"
	BuildWebpage        = "build_webpage"
	ProcessSpreadsheet  = "process_spreadsheet"
	CreateVisualization = "create_visualization"
	WriteDocument       = "write_document"
	WriteCode           = "write_code"
	AnalyzeWebpage      = "analyze_webpage"
)

// Known lists the action identifiers in prompt order.
var Known = []string{
	GenerateImage,
	CreateSlides,
	BuildWebpage,
	ProcessSpreadsheet,
	CreateVisualization,
	WriteDocument,
	WriteCode,
	AnalyzeWebpage,
}

var descriptions = map[string]string{
	GenerateImage:       "generate an image",
	CreateSlides:        "create a slide deck",
	BuildWebpage:        "build a web page",
	ProcessSpreadsheet:  "process a spreadsheet",
	CreateVisualization: "create a data visualization",
	WriteDocument:       "write a document",
	WriteCode:           "write code",
	AnalyzeWebpage:      "analyze a web page",
}

func IsKnown(name string) bool {
	_, ok := descriptions[name]
	return ok
}

// Handler produces the result payload for one action.
type Handler func(ctx context.Context, p Params) (map[string]any, error)

// Outcome is the envelope every dispatch returns.
type Outcome struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error,omitempty"`
}

// Dispatcher maps action identifiers to handlers. It never returns an error
// or panics: every failure is folded into the Outcome.
type Dispatcher struct {
	handlers map[string]Handler
	log      *slog.Logger
}

// NewDispatcher returns a dispatcher wired with the builtin handlers.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{handlers: make(map[string]Handler, len(Known)), log: log}
	for name, h := range builtins() {
		d.handlers[name] = h
	}
	return d
}

// Register swaps the handler for a known action.
func (d *Dispatcher) Register(name string, h Handler) error {
	if !IsKnown(name) {
		return fmt.Errorf("unknown action %q", name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %q", name)
	}
	d.handlers[name] = h
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) (out Outcome) {
	h, ok := d.handlers[name]
	if !ok {
		return Outcome{Error: "Unknown action: " + name}
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action handler panicked", "action", name, "panic", r)
			out = Outcome{Error: fmt.Sprint(r)}
		}
	}()
	result, err := h(ctx, Params(params))
	if err != nil {
		return Outcome{Error: err.Error()}
	}
	return Outcome{Success: true, Result: result}
}

// Names returns the registered identifiers, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of an action.
func Describe(name string) string {
	return descriptions[name]
}
