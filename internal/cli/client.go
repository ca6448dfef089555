package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, клиент не зависит от internal/api) ---

// RunResponse — run из API.
type RunResponse struct {
	ID           string                        `json:"id"`
	WorkflowID   string                        `json:"workflow_id"`
	WorkflowName string                        `json:"workflow_name,omitempty"`
	Status       string                        `json:"status"`
	Inputs       map[string]any                `json:"inputs,omitempty"`
	Results      map[string]StepResultResponse `json:"results,omitempty"`
	Counts       map[string]int                `json:"counts"`
	StartedAt    string                        `json:"started_at,omitempty"`
	FinishedAt   string                        `json:"finished_at,omitempty"`
	DurationMs   int64                         `json:"duration_ms,omitempty"`
	CreatedAt    string                        `json:"created_at"`
}

// StepResultResponse — результат шага из API.
type StepResultResponse struct {
	Status     string     `json:"status"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Attempts   int        `json:"attempts"`
	Logs       []LogEntry `json:"logs,omitempty"`
	StartedAt  string     `json:"started_at,omitempty"`
	FinishedAt string     `json:"finished_at,omitempty"`
}

// LogEntry — строка лога шага.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// HandlerResponse — зарегистрированный handler.
type HandlerResponse struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// StartRunRequest — запрос на запуск run.
// Document — текст YAML/JSON документа workflow.
type StartRunRequest struct {
	Document string         `json:"document"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Wait     bool           `json:"wait,omitempty"`
}

// ListRunsOpts — параметры фильтрации для ListRuns.
type ListRunsOpts struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	StepID     string
}

func (e *APIError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Code, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		StepID  string `json:"step_id"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для krama API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
//
// Таймаут клиента не задан: запуск с wait держит соединение до конца run.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// WithTimeout ограничивает время одного запроса.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.httpClient.Timeout = d
	return c
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.WorkflowID != "" {
		params.Set("workflow_id", opts.WorkflowID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun запускает workflow из документа.
func (c *Client) StartRun(req StartRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+url.PathEscape(id), &run)
	return &run, err
}

// CancelRun запрашивает отмену активного run.
func (c *Client) CancelRun(id string) error {
	return c.post("/api/v1/runs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// SignalRun доставляет payload signal шагу. payload == nil доставляет null.
func (c *Client) SignalRun(id, stepID string, payload json.RawMessage) error {
	path := "/api/v1/runs/" + url.PathEscape(id) + "/signals/" + url.PathEscape(stepID)
	var body any
	if len(payload) > 0 {
		body = payload
	}
	return c.post(path, body, nil)
}

// --- Handlers ---

// ListHandlers возвращает зарегистрированные handlers.
func (c *Client) ListHandlers() ([]HandlerResponse, error) {
	var handlers []HandlerResponse
	err := c.list("/api/v1/handlers", nil, &handlers)
	return handlers, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent || result == nil {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       er.Error.Code,
		Message:    er.Error.Message,
		StepID:     er.Error.StepID,
	}
}
