package handlers

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaushiksamanta/krama/internal/node"
)

const (
	// NameHTTPCall — имя HTTP обработчика.
	NameHTTPCall = "http-call"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// HTTPCall — обработчик HTTP запроса.
//
// Вход:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/orders",
//	    "headers": {"Authorization": "Bearer {{ inputs.token }}"},
//	    "body": "{{ step.build.result }}",
//	    "followRedirects": true,
//	    "validateSsl": true
//	}
//
// Выход:
//
//	{
//	    "statusCode": 200,
//	    "headers": {"Content-Type": "application/json"},
//	    "body": {...}  // JSON или строка
//	}
//
// Ответ со статусом >= 400 — ошибка: 401/403 дают PermissionError,
// остальные ExecutionError.
type HTTPCall struct {
	// Пулы соединений: с проверкой сертификата и без.
	verified   *http.Transport
	unverified *http.Transport
}

// NewHTTPCall создаёт HTTP обработчик.
func NewHTTPCall() *HTTPCall {
	return &HTTPCall{
		verified:   newTransport(false),
		unverified: newTransport(true),
	}
}

func newTransport(insecure bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: insecure}
	return t
}

// transportFor возвращает общий transport для режима проверки TLS.
func (h *HTTPCall) transportFor(validateSSL bool) http.RoundTripper {
	if validateSSL {
		return h.verified
	}
	return h.unverified
}

// Meta реализует node.Handler.
func (h *HTTPCall) Meta() node.Meta {
	return node.Meta{
		Name:        NameHTTPCall,
		Description: "Performs an HTTP request and returns status, headers and body",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"url"},
			"properties": map[string]any{
				"method":          map[string]any{"type": "string"},
				"url":             map[string]any{"type": "string", "minLength": 1},
				"headers":         map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
				"followRedirects": map[string]any{"type": "boolean"},
				"validateSsl":     map[string]any{"type": "boolean"},
			},
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"statusCode": map[string]any{"type": "integer"},
				"headers":    map[string]any{"type": "object"},
				"body":       map[string]any{},
			},
		},
		Retry: defaultRetry(3),
	}
}

// Execute выполняет HTTP запрос.
func (h *HTTPCall) Execute(ctx context.Context, input any, nctx *node.Context) (any, error) {
	in, err := node.InputMap(input)
	if err != nil {
		return nil, err
	}

	cfg := h.parseConfig(in)
	client := h.buildClient(cfg)

	req, err := h.buildRequest(ctx, cfg)
	if err != nil {
		return nil, node.Wrap(node.KindValidation, err, "build request")
	}

	nctx.Logger.Info("http request", "method", cfg.Method, "url", cfg.URL, "attempt", nctx.Attempt)

	resp, err := client.Do(req)
	if err != nil {
		// url.Error сохраняет цепочку: дедлайн станет TimeoutError, сеть — NetworkError
		return nil, err
	}
	defer resp.Body.Close()

	out, err := h.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
		kind := node.KindExecution
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = node.KindPermission
		}
		return nil, node.Wrap(kind, httpErr, "")
	}

	nctx.Logger.Debug("http response", "status", resp.StatusCode)
	return out, nil
}

// httpConfig — разобранный вход HTTP обработчика.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
}

func (h *HTTPCall) parseConfig(in map[string]any) *httpConfig {
	cfg := &httpConfig{
		Method:          strings.ToUpper(node.GetString(in, "method")),
		URL:             node.GetString(in, "url"),
		Headers:         node.GetMapString(in, "headers"),
		Body:            in["body"],
		FollowRedirects: node.GetBool(in, "followRedirects", true),
		ValidateSSL:     node.GetBool(in, "validateSsl", true),
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg
}

// buildClient создаёт клиента. Таймаут задаёт дедлайн ctx попытки,
// здесь остаётся только верхняя граница.
func (h *HTTPCall) buildClient(cfg *httpConfig) *http.Client {
	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       defaultHTTPTimeout,
		CheckRedirect: checkRedirect,
		Transport:     h.transportFor(cfg.ValidateSSL),
	}
}

func (h *HTTPCall) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, ok := cfg.Headers["Content-Type"]; !ok {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

func serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (h *HTTPCall) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       body,
	}, nil
}

// HTTPError — ответ с ошибочным статусом.
type HTTPError struct {
	StatusCode int
	Status     string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}
