package remoteworker

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

	"github.com/shaiso/Automata/internal/mq"
)

// TaskHTTP — имя task, обслуживаемого HTTPExecutor.
const TaskHTTP = "http_call"

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи arguments HTTP task.
const (
	argMethod          = "method"
	argURL             = "url"
	argHeaders         = "headers"
	argBody            = "body"
	argFollowRedirects = "follow_redirects"
	argValidateSSL     = "validate_ssl"
	argTimeoutSec      = "timeout_sec"
)

// HTTPExecutor выполняет HTTP-запрос к внешнему API.
//
// Arguments:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {"Content-Type": "application/json"},
//	    "body": {"data": "..."},
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30
//	}
//
// Result:
//
//	{"status_code": 200, "headers": {...}, "body": {...}}
type HTTPExecutor struct{}

// NewHTTPExecutor создаёт HTTPExecutor.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{}
}

// Execute выполняет HTTP-запрос. Revert для http_call не поддерживается —
// HTTP-вызовы считаются непреднамеренно необратимыми, воркер отвечает
// FAILURE при ActionRevert.
func (e *HTTPExecutor) Execute(ctx context.Context, req *ExecutionRequest, progress ProgressFunc) (*ExecutionResult, error) {
	if req.Action == mq.ActionRevert {
		return &ExecutionResult{Failure: map[string]any{"error": "http_call does not support revert"}}, nil
	}

	cfg, err := e.parseConfig(req.Arguments)
	if err != nil {
		return nil, err
	}

	client := e.buildClient(cfg)

	httpReq, err := e.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return e.parseResponse(resp)
}

type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
	TimeoutSec      int
}

func (e *HTTPExecutor) parseConfig(args map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          getString(args, argMethod),
		URL:             getString(args, argURL),
		Headers:         getStringMap(args, argHeaders),
		Body:            args[argBody],
		FollowRedirects: getBool(args, argFollowRedirects, true),
		ValidateSSL:     getBool(args, argValidateSSL, true),
		TimeoutSec:      getInt(args, argTimeoutSec),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, TaskHTTP)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return cfg, nil
}

func (e *HTTPExecutor) buildClient(cfg *httpConfig) *http.Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.ValidateSSL},
		},
	}
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := e.serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
		if _, hasContentType := cfg.Headers["Content-Type"]; !hasContentType {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range cfg.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func (e *HTTPExecutor) serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (e *HTTPExecutor) parseResponse(resp *http.Response) (*ExecutionResult, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string)
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return &ExecutionResult{
		Result: map[string]any{
			"status_code": resp.StatusCode,
			"headers":     headers,
			"body":        body,
		},
	}, nil
}

func getString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(args map[string]any, key string) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func getBool(args map[string]any, key string, defaultVal bool) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

func getStringMap(args map[string]any, key string) map[string]string {
	if v, ok := args[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string, len(m))
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
