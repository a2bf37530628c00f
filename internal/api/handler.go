package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
	"github.com/expoarte/registrar/internal/workflow"
)

// Controller is the workflow entry point the handler delegates to.
type Controller interface {
	Submit(ctx context.Context, stage domain.Stage, identity uuid.UUID, payload json.RawMessage) (workflow.Result, error)
}

// HealthChecker provides ledger health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Redirects are the pages the browser is sent to after each stage.
// The stage-1 and stage-2 targets get the identity appended as a query
// parameter so the next form can carry it forward.
type Redirects struct {
	Stage2 string
	Stage3 string
	Done   string
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Handler struct {
	controller Controller
	redirects  Redirects
	health     HealthChecker
}

func NewHandler(controller Controller, redirects Redirects) *Handler {
	return &Handler{controller: controller, redirects: redirects}
}

// WithHealthChecker sets the ledger health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(hc HealthChecker) *Handler {
	h.health = hc
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "exhibitor registration service is running")

	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		h.healthHandler(w, r)

	case strings.HasPrefix(r.URL.Path, "/submit-") && r.Method == http.MethodPost:
		stage, err := domain.ParseStage(strings.TrimPrefix(r.URL.Path, "/submit-"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.submit(w, r, stage)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, stage domain.Stage) {
	identity := uuid.Nil
	if stage.Rule().RequiresIdentity {
		raw := r.URL.Query().Get("identity")
		if raw == "" {
			http.Error(w, "identity required; start with the stage 1 form", http.StatusBadRequest)
			return
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid identity", http.StatusBadRequest)
			return
		}
		identity = parsed
	}

	payload, err := readPayload(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.controller.Submit(r.Context(), stage, identity, payload)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrMissingIdentity):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, workflow.ErrUnknownIdentity):
			http.Error(w, "unknown identity; start with the stage 1 form", http.StatusBadRequest)
		default:
			log.Printf("api: %s submit error: %v", stage, err)
			http.Error(w, "failed to save submission", http.StatusInternalServerError)
		}
		return
	}

	http.Redirect(w, r, h.redirectFor(stage, result.Identity), http.StatusFound)
}

// redirectFor builds the post-submit redirect. Intermediate stages carry
// the identity forward; the completion page does not need it.
func (h *Handler) redirectFor(stage domain.Stage, identity uuid.UUID) string {
	switch stage {
	case domain.Stage1:
		return appendIdentity(h.redirects.Stage2, identity)
	case domain.Stage2:
		return appendIdentity(h.redirects.Stage3, identity)
	default:
		return h.redirects.Done
	}
}

func appendIdentity(target string, identity uuid.UUID) string {
	u, err := url.Parse(target)
	if err != nil {
		// Fall back to a plain append; the target comes from config and
		// is validated at startup.
		return target + "?identity=" + identity.String()
	}
	q := u.Query()
	q.Set("identity", identity.String())
	u.RawQuery = q.Encode()
	return u.String()
}

// readPayload accepts either a JSON or a form-encoded body and returns
// the submission as canonical JSON. Field contents are not validated;
// that is deliberate.
func readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			return nil, errors.New("invalid json body")
		}
		return json.Marshal(fields)
	}

	if err := r.ParseForm(); err != nil {
		return nil, errors.New("invalid form body")
	}
	fields := make(map[string]any, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) == 1 {
			fields[key] = values[0]
		} else {
			fields[key] = values
		}
	}
	return json.Marshal(fields)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.health.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["ledger"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["ledger"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}
