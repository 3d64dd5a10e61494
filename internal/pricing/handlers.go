package pricing

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-pricing/internal/common"
)

// Handler exposes the pricing endpoints.
type Handler struct {
	service *Service
	commit  func(http.Handler) http.Handler
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	// CommitMiddleware wraps POST /pricing/commit, typically with an
	// Idempotency-Key guard.
	CommitMiddleware func(http.Handler) http.Handler
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, commit: cfg.CommitMiddleware}
}

// Routes mounts the pricing endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/pricing", func(r chi.Router) {
		r.Post("/calculate", h.Calculate)
		r.Post("/calculate-bulk", h.CalculateBulk)
		r.Post("/simulate-scenarios", h.SimulateScenarios)
		r.Post("/cache/invalidate", h.InvalidateCache)
		if h.commit != nil {
			r.With(h.commit).Post("/commit", h.Commit)
		} else {
			r.Post("/commit", h.Commit)
		}
	})
}

// Calculate handles POST /pricing/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var in SimulationContext
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.service.Calculate(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeResult(w, r, res)
}

// Commit handles POST /pricing/commit.
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var in SimulationContext
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.service.Commit(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.writeResult(w, r, res)
}

// CalculateBulk handles POST /pricing/calculate-bulk. Results are keyed by the
// input index.
func (h *Handler) CalculateBulk(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req BulkRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	results, err := h.service.CalculateBulk(r.Context(), req.Contexts)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out := make(map[string]SimulationResult, len(results))
	for i, res := range results {
		out[strconv.Itoa(i)] = Summary(res)
	}
	common.JSON(w, http.StatusOK, out)
}

// SimulateScenarios handles POST /pricing/simulate-scenarios.
func (h *Handler) SimulateScenarios(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req ScenarioRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	results, err := h.service.SimulateScenarios(r.Context(), req.BaseContext, req.Scenarios)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	out := make([]SimulationResult, 0, len(results))
	for _, res := range results {
		out = append(out, Summary(res))
	}
	common.JSON(w, http.StatusOK, map[string]any{"results": out})
}

// InvalidateCache handles POST /pricing/cache/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.service.InvalidateCache(r.Context()); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "pricing service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res Result) {
	q := r.URL.Query()
	if !queryBool(q.Get("detailed")) {
		common.JSON(w, http.StatusOK, Summary(res))
		return
	}
	common.JSON(w, http.StatusOK, Detailed(res, DetailOptions{
		IncludeMargins:      queryBool(q.Get("includeMargins")),
		IncludeSkippedRules: queryBoolDefault(q.Get("includeSkippedRules"), true),
	}))
}

func queryBool(raw string) bool {
	return queryBoolDefault(raw, false)
}

// queryBoolDefault returns def when raw is absent or not a boolean.
func queryBoolDefault(raw string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}
