package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kaushiksamanta/krama/internal/node"
	"github.com/kaushiksamanta/krama/internal/orchestrator"
)

func newServer(t *testing.T) (*httptest.Server, *orchestrator.Runtime) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := node.NewRegistry()
	reg.MustRegister(node.HandlerFunc{
		Info: node.Meta{Name: "echo", Version: "1.0.0", Description: "returns its input"},
		Fn: func(ctx context.Context, input any, nctx *node.Context) (any, error) {
			return input, nil
		},
	})

	rt := orchestrator.New(orchestrator.Config{Registry: reg, Logger: logger})
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })

	mux := http.NewServeMux()
	NewHandler(Config{Runtime: rt, Registry: reg, Logger: logger}).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rt
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const approvalDoc = `
id: approval
steps:
  - id: wait
    kind: signal
  - id: ship
    handlerName: echo
    dependsOn: [wait]
    input: "{{ step.wait.result.by }}"
`

func TestCreateRun_Wait(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/runs", map[string]any{
		"document": "id: hello\nsteps:\n  - id: greet\n    handlerName: echo\n    input: \"hi {{ inputs.name }}\"\n",
		"inputs":   map[string]any{"name": "ann"},
		"wait":     true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}

	data := body["data"].(map[string]any)
	if data["status"] != "COMPLETED" {
		t.Errorf("run status = %v", data["status"])
	}
	greet := data["results"].(map[string]any)["greet"].(map[string]any)
	if greet["output"] != "hi ann" {
		t.Errorf("greet output = %v", greet["output"])
	}
}

func TestCreateRun_Errors(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed body", "{", http.StatusBadRequest, "BAD_REQUEST"},
		{"no definition", map[string]any{"inputs": map[string]any{}}, http.StatusBadRequest, "BAD_REQUEST"},
		{"cycle", map[string]any{"workflow": map[string]any{"id": "wf", "steps": []any{
			map[string]any{"id": "a", "handlerName": "echo", "dependsOn": []string{"b"}},
			map[string]any{"id": "b", "handlerName": "echo", "dependsOn": []string{"a"}},
		}}}, http.StatusUnprocessableEntity, "INVALID_WORKFLOW"},
		{"bad document", map[string]any{"document": "steps: [: nope"}, http.StatusUnprocessableEntity, "INVALID_WORKFLOW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/runs", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.status, body)
			}
			code := body["error"].(map[string]any)["code"]
			if code != tt.code {
				t.Errorf("code = %v, want %s", code, tt.code)
			}
		})
	}
}

func TestRunLifecycle_Signal(t *testing.T) {
	srv, rt := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/v1/runs", map[string]any{"document": approvalDoc})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create status = %d (%v)", resp.StatusCode, body)
	}
	id := body["data"].(map[string]any)["id"].(string)

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/runs/"+id+"/signals/ghost", `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown step status = %d (%v)", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/runs/"+id+"/signals/wait", `{"by":"ops"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("signal status = %d", resp.StatusCode)
	}

	var run map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body = do(t, http.MethodGet, srv.URL+"/api/v1/runs/"+id, nil)
		run = body["data"].(map[string]any)
		if run["status"] == "COMPLETED" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if run["status"] != "COMPLETED" {
		t.Fatalf("run did not complete: %v", run)
	}
	ship := run["results"].(map[string]any)["ship"].(map[string]any)
	if ship["output"] != "ops" {
		t.Errorf("ship output = %v", ship["output"])
	}

	for rt.ActiveRunsCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Завершённый run нельзя отменить
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/runs/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cancel finished run status = %d, want 409", resp.StatusCode)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/runs?workflow_id=approval", nil)
	if body["total"] != float64(1) {
		t.Errorf("list total = %v", body["total"])
	}
}

func TestCancelRun(t *testing.T) {
	srv, _ := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/api/v1/runs", map[string]any{"document": approvalDoc})
	id := body["data"].(map[string]any)["id"].(string)

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/v1/runs/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	var run map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body = do(t, http.MethodGet, srv.URL+"/api/v1/runs/"+id, nil)
		run = body["data"].(map[string]any)
		if run["status"] == "CANCELLED" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if run["status"] != "CANCELLED" {
		t.Fatalf("status = %v, want CANCELLED", run["status"])
	}
	// Отмена могла прийти до начала ожидания: тогда у wait нет результата
	results, _ := run["results"].(map[string]any)
	if _, ok := results["ship"]; ok {
		t.Errorf("ship should have no result: %v", results)
	}
	if wait, ok := results["wait"].(map[string]any); ok && wait["status"] != "skipped" {
		t.Errorf("wait = %v, want skipped", wait)
	}
}

func TestGetRun_Errors(t *testing.T) {
	srv, _ := newServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/runs/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/runs/"+uuid.NewString(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d", resp.StatusCode)
	}
}

func TestListHandlers(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/handlers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list := body["data"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "echo" {
		t.Errorf("handlers = %v", list)
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		requestID  string
		wantStatus int
		wantLog    string
	}{
		{
			name:       "panic becomes 500",
			handler:    func(http.ResponseWriter, *http.Request) { panic("boom") },
			wantStatus: http.StatusInternalServerError,
			wantLog:    "panic recovered",
		},
		{
			name: "client request id is kept",
			handler: func(w http.ResponseWriter, r *http.Request) {
				NotFound(w, "nothing here")
			},
			requestID:  "req-42",
			wantStatus: http.StatusNotFound,
			wantLog:    `"request_id":"req-42"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			h := Chain(RequestLogger(logger), Recovery(), Logging())(tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.requestID != "" {
				req.Header.Set(HeaderRequestID, tt.requestID)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get(HeaderRequestID) == "" {
				t.Error("response has no request id")
			}
			if tt.requestID != "" && rec.Header().Get(HeaderRequestID) != tt.requestID {
				t.Errorf("request id = %q, want %q", rec.Header().Get(HeaderRequestID), tt.requestID)
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log does not contain %q:\n%s", tt.wantLog, buf.String())
			}
		})
	}
}
