package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/pipeline-gateway/pkg/runnable"
)

// DefaultWebhookTimeout bounds one remote call when none is configured.
const DefaultWebhookTimeout = 30 * time.Second

// maxResponseBytes caps a remote response body.
const maxResponseBytes = 10 << 20

// Webhook is a pipeline hosted behind HTTP. Input, output and configurable
// are forwarded untouched, so its schemas are open.
type Webhook struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	client  *http.Client
}

// WebhookConfig configures a webhook pipeline.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
	// AllowPrivate permits private and loopback targets.
	AllowPrivate bool
	// Client overrides the HTTP client; the timeout is applied per call.
	Client *http.Client
}

// remoteRequest is the body sent to <url>/invoke and <url>/batch.
type remoteRequest struct {
	Input  json.RawMessage   `json:"input,omitempty"`
	Inputs []json.RawMessage `json:"inputs,omitempty"`
	Config *remoteConfig     `json:"config,omitempty"`
}

type remoteConfig struct {
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RunName        string         `json:"run_name,omitempty"`
	MaxConcurrency int            `json:"max_concurrency,omitempty"`
	Configurable   map[string]any `json:"configurable,omitempty"`
}

// remoteResponse accepts both the gateway's own response shapes and the
// langserve ones, where batch outputs arrive as an array under "output".
type remoteResponse struct {
	Output  json.RawMessage    `json:"output"`
	Outputs []json.RawMessage  `json:"outputs"`
	Errors  []*domain.APIError `json:"errors"`
	Error   *domain.APIError   `json:"error"`
}

// NewWebhook creates a webhook pipeline.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url %q must be http or https", cfg.URL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("webhook url %q has no host", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
		if !cfg.AllowPrivate {
			client.Transport = safehttp.SafeTransport
		}
	}

	return &Webhook{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		timeout: timeout,
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Runnable exposes the webhook as a pipeline. Batch goes to the remote batch
// endpoint; stream modes are derived from invoke.
func (w *Webhook) Runnable(name string) *runnable.Runnable[json.RawMessage, json.RawMessage, map[string]any] {
	return &runnable.Runnable[json.RawMessage, json.RawMessage, map[string]any]{
		Name: name,
		InvokeFunc: func(ctx context.Context, in json.RawMessage, opts runnable.Options[map[string]any]) (json.RawMessage, error) {
			return w.Invoke(ctx, in, opts)
		},
		BatchFunc: func(ctx context.Context, ins []json.RawMessage, opts runnable.Options[map[string]any]) ([]runnable.Result[json.RawMessage], error) {
			return w.Batch(ctx, ins, opts)
		},
	}
}

// Invoke posts one input to <url>/invoke.
func (w *Webhook) Invoke(ctx context.Context, in json.RawMessage, opts runnable.Options[map[string]any]) (json.RawMessage, error) {
	resp, err := w.post(ctx, "/invoke", remoteRequest{Input: in, Config: forwardConfig(opts)})
	if err != nil {
		return nil, err
	}
	if resp.Output == nil {
		return nil, errors.New("webhook response has no output")
	}
	return resp.Output, nil
}

// Batch posts all inputs to <url>/batch in one call.
func (w *Webhook) Batch(ctx context.Context, ins []json.RawMessage, opts runnable.Options[map[string]any]) ([]runnable.Result[json.RawMessage], error) {
	resp, err := w.post(ctx, "/batch", remoteRequest{Inputs: ins, Config: forwardConfig(opts)})
	if err != nil {
		return nil, err
	}

	outputs := resp.Outputs
	if outputs == nil && resp.Output != nil {
		if err := json.Unmarshal(resp.Output, &outputs); err != nil {
			return nil, fmt.Errorf("webhook batch output is not an array: %w", err)
		}
	}
	if len(outputs) != len(ins) {
		return nil, fmt.Errorf("webhook returned %d outputs for %d inputs", len(outputs), len(ins))
	}

	results := make([]runnable.Result[json.RawMessage], len(outputs))
	for i, out := range outputs {
		if i < len(resp.Errors) && resp.Errors[i] != nil {
			results[i] = runnable.Result[json.RawMessage]{Err: errors.New(resp.Errors[i].Message)}
			continue
		}
		results[i] = runnable.Result[json.RawMessage]{Output: out}
	}
	return results, nil
}

func (w *Webhook) post(ctx context.Context, endpoint string, body remoteRequest) (*remoteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded remoteResponse
	decodeErr := json.Unmarshal(respBody, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && decoded.Error != nil {
			return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, decoded.Error.Message)
		}
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshal webhook response: %w", decodeErr)
	}
	return &decoded, nil
}

func forwardConfig(opts runnable.Options[map[string]any]) *remoteConfig {
	cfg := &remoteConfig{
		Tags:           opts.Tags,
		Metadata:       opts.Metadata,
		RunName:        opts.RunName,
		MaxConcurrency: opts.MaxConcurrency,
		Configurable:   opts.Config,
	}
	if cfg.Tags == nil && cfg.Metadata == nil && cfg.RunName == "" && cfg.MaxConcurrency == 0 && cfg.Configurable == nil {
		return nil
	}
	return cfg
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
