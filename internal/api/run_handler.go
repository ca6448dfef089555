package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/domain"
	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/repo"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

// maxBodySize — ограничение тела запроса (документ workflow или payload сигнала).
const maxBodySize = 4 << 20

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?workflow_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     domain.RunStatus(q.Get("status")),
		Limit:      parseInt(q.Get("limit"), 50),
		Offset:     parseInt(q.Get("offset"), 0),
	}

	runs, err := h.runtime.List(r.Context(), filter)
	if err != nil {
		InternalError(w, telemetry.FromContext(r.Context()), err)
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}
	List(w, result, len(result))
}

// CreateRun запускает workflow.
// POST /api/v1/runs
//
// По умолчанию run запускается в фоне (202). С "wait": true запрос
// ждёт завершения и возвращает итоговый run (200).
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	def, err := definitionOf(&req)
	if err != nil {
		if errors.Is(err, errNoDefinition) {
			BadRequest(w, err.Error())
			return
		}
		InvalidWorkflow(w, err)
		return
	}

	if req.Wait {
		run, err := h.runtime.Run(r.Context(), def, req.Inputs)
		if HandleRuntimeError(w, telemetry.FromContext(r.Context()), err) {
			return
		}
		Success(w, RunFromDomain(*run))
		return
	}

	wf, err := h.runtime.Launch(def, req.Inputs)
	if HandleRuntimeError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Accepted(w, RunFromDomain(*wf.Snapshot()))
}

var errNoDefinition = errors.New("either workflow or document is required")

func definitionOf(req *CreateRunRequest) (*domain.WorkflowDef, error) {
	switch {
	case req.Document != "":
		return engine.ParseWorkflow([]byte(req.Document))
	case req.Workflow != nil:
		if err := engine.Validate(req.Workflow); err != nil {
			return nil, err
		}
		return req.Workflow, nil
	default:
		return nil, errNoDefinition
	}
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runtime.Get(r.Context(), id)
	if HandleRuntimeError(w, telemetry.FromContext(r.Context()), err) {
		return
	}
	Success(w, RunFromDomain(*run))
}

// CancelRun отменяет активный run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	if HandleRuntimeError(w, telemetry.FromContext(r.Context()), h.runtime.Cancel(id)) {
		return
	}
	Accepted(w, map[string]any{"id": id, "cancel_requested": true})
}

// SignalRun доставляет payload signal шагу активного run.
// POST /api/v1/runs/{id}/signals/{step}
//
// Тело запроса — произвольный JSON, он становится output шага.
// Пустое тело доставляет null.
func (h *Handler) SignalRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	stepID := r.PathValue("step")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			BadRequest(w, "signal payload must be JSON")
			return
		}
	}

	if HandleRuntimeError(w, telemetry.FromContext(r.Context()), h.runtime.Deliver(id, stepID, payload)) {
		return
	}
	Accepted(w, map[string]any{"id": id, "step_id": stepID, "delivered": true})
}

// ListHandlers возвращает зарегистрированные handlers.
// GET /api/v1/handlers
func (h *Handler) ListHandlers(w http.ResponseWriter, r *http.Request) {
	result := []HandlerResponse{}
	if h.registry != nil {
		for _, reg := range h.registry.List() {
			result = append(result, HandlerResponse{
				Name:        reg.Name,
				Version:     reg.Version,
				Description: reg.Handler.Meta().Description,
			})
		}
	}
	List(w, result, len(result))
}

func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// parseInt разбирает неотрицательное число или возвращает значение по умолчанию.
func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
