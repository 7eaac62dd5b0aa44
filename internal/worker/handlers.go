package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maumercado/task-orchestrator/internal/task"
)

// RegisterBuiltinHandlers wires the three reference handlers the demo seed
// script and the integration tests exercise: a synthetic CPU burn, a small
// JSON reshaping pipeline, and an outbound HTTP fetch.
func RegisterBuiltinHandlers(e *Executor, httpClient *http.Client) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	e.RegisterHandler("cpu_burn", cpuBurnHandler)
	e.RegisterHandler("data_transform", dataTransformHandler)
	e.RegisterHandler("http_fetch", httpFetchHandler(httpClient))
}

type cpuBurnPayload struct {
	Milliseconds int `json:"milliseconds"`
}

// cpuBurnHandler busy-waits for the requested duration, standing in for a
// CPU-bound handler without pulling in any real workload dependency.
func cpuBurnHandler(ctx context.Context, t *task.Task) (map[string]interface{}, error) {
	var p cpuBurnPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return nil, fmt.Errorf("cpu_burn: decode payload: %w", err)
	}

	deadline := time.Now().Add(time.Duration(p.Milliseconds) * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	return map[string]interface{}{"burned_ms": p.Milliseconds}, nil
}

type dataTransformPayload struct {
	Data   map[string]interface{} `json:"data"`
	Select []string               `json:"select"`
	Rename map[string]string      `json:"rename"`
}

// dataTransformHandler projects a subset of fields out of data, optionally
// renaming them, and reports how many fields survived the projection.
func dataTransformHandler(ctx context.Context, t *task.Task) (map[string]interface{}, error) {
	var p dataTransformPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return nil, fmt.Errorf("data_transform: decode payload: %w", err)
	}

	transformed := make(map[string]interface{}, len(p.Select))
	for _, field := range p.Select {
		value, ok := p.Data[field]
		if !ok {
			continue
		}
		name := field
		if renamed, ok := p.Rename[field]; ok {
			name = renamed
		}
		transformed[name] = value
	}

	return map[string]interface{}{
		"transformed": transformed,
		"field_count": len(transformed),
	}, nil
}

type httpFetchPayload struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// httpFetchHandler performs a single outbound request and reports its
// status code and a size-bounded slice of the response body.
func httpFetchHandler(client *http.Client) TaskHandler {
	return func(ctx context.Context, t *task.Task) (map[string]interface{}, error) {
		var p httpFetchPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("http_fetch: decode payload: %w", err)
		}
		if p.Method == "" {
			p.Method = http.MethodGet
		}

		req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("http_fetch: build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http_fetch: request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if err != nil {
			return nil, fmt.Errorf("http_fetch: read body: %w", err)
		}

		return map[string]interface{}{
			"status_code": resp.StatusCode,
			"body":        string(body),
		}, nil
	}
}
