package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kaushiksamanta/krama/internal/engine"
	"github.com/kaushiksamanta/krama/internal/orchestrator"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeInvalidWorkflow ErrorCode = "INVALID_WORKFLOW"
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	StepID  string    `json:"step_id,omitempty"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Accepted отправляет ответ 202: команда принята, результат будет позже.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InvalidWorkflow отправляет ошибку 422 с шагом, в котором найдена ошибка.
func InvalidWorkflow(w http.ResponseWriter, err error) {
	detail := ErrorDetail{Code: ErrCodeInvalidWorkflow, Message: err.Error()}
	var graphErr *engine.GraphError
	if errors.As(err, &graphErr) {
		detail.StepID = graphErr.StepID
	}
	JSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: detail})
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleRuntimeError преобразует ошибку runtime в HTTP ответ.
func HandleRuntimeError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, orchestrator.ErrRunNotFound), errors.Is(err, orchestrator.ErrStepNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, orchestrator.ErrRunNotActive), errors.Is(err, orchestrator.ErrRunAlreadyActive):
		Conflict(w, err.Error())
	case errors.Is(err, orchestrator.ErrOrchestratorStopped):
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case isWorkflowError(err):
		InvalidWorkflow(w, err)
	default:
		InternalError(w, logger, err)
	}
	return true
}

// isWorkflowError — ошибка разбора или валидации документа.
func isWorkflowError(err error) bool {
	var graphErr *engine.GraphError
	return errors.As(err, &graphErr) ||
		errors.Is(err, engine.ErrParse) ||
		errors.Is(err, engine.ErrEmptySteps) ||
		errors.Is(err, engine.ErrDuplicateStepID) ||
		errors.Is(err, engine.ErrMissingDependency) ||
		errors.Is(err, engine.ErrCyclicDependency)
}
