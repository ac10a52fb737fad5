// Package httpapi is the HTTP transport: one GraphQL endpoint plus health
// and metrics, with per-request session resolution feeding the permission
// layer.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/graphql-go/graphql"

	"graphbase.dev/internal/auth"
	"graphbase.dev/internal/database"
	"graphbase.dev/internal/obs"
)

// ReadyProbe reports whether the storage adapter is reachable.
type ReadyProbe struct {
	Check func(ctx context.Context) error
}

func (rp ReadyProbe) check(ctx context.Context) error {
	if rp.Check == nil {
		return nil
	}
	return rp.Check(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	schema     graphql.Schema
	controller *database.Controller
	sessions   *auth.Sessions
	readyProbe ReadyProbe
	version    string
}

func New(schema graphql.Schema, controller *database.Controller, sessions *auth.Sessions, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		schema:     schema,
		controller: controller,
		sessions:   sessions,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/graphql", a.GraphQL)
	a.mux.HandleFunc("/health", a.Health)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 50, 25)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "graphbase-api",
		"version": a.version,
	})
}

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (a *API) GraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "only POST is supported")
		return
	}

	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	rc, err := a.requestContext(w, r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	start := time.Now()
	result := graphql.Do(graphql.Params{
		Schema:         a.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        database.NewContext(r.Context(), rc),
	})
	obs.ObserveOperation(operationLabel(req.OperationName), len(result.Errors) > 0, time.Since(start))

	writeJSON(w, http.StatusOK, result)
}

func operationLabel(name string) string {
	if name == "" {
		return "anonymous"
	}
	return name
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"errors": []map[string]any{{"message": msg}},
	})
}
