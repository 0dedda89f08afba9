package api

import (
	"log/slog"
	"net/http"

	"lynus-agent/pkg/auth"
	"lynus-agent/pkg/store"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	Store         store.Store
	Issuer        *auth.Issuer
	Exec          Executor
	Hub           *StepHub
	APIKey        string
	Model         string
	MaxIterations int
	StaticDir     string
	CORSOrigins   []string
	Log           *slog.Logger
}

// NewRouter wires every route group behind CORS and request logging.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()

	authH := &AuthHandler{Store: d.Store, Issuer: d.Issuer, Log: log}
	authH.RegisterRoutes(mux)
	(&TaskHandler{Store: d.Store, Auth: authH, Exec: d.Exec, Hub: d.Hub, Log: log}).RegisterRoutes(mux)
	(&AgentHandler{
		Store:         d.Store,
		Auth:          authH,
		Exec:          d.Exec,
		Hub:           d.Hub,
		APIKey:        d.APIKey,
		Model:         d.Model,
		MaxIterations: d.MaxIterations,
		Log:           log,
	}).RegisterRoutes(mux)

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("/", staticHandler(d.StaticDir))

	return Chain(mux, RequestLog(log), CORS(d.CORSOrigins))
}
