// Package client calls pipelines mounted on a remote gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
)

// DefaultTimeout bounds non-streaming calls. Streams are bounded only by
// their context.
const DefaultTimeout = 60 * time.Second

// APIError is the error a gateway reports in its error envelope.
type APIError = domain.APIError

// MountInfo describes one mount listed by the gateway.
type MountInfo = domain.MountInfo

// Config is the per-call config envelope. Configurable must encode to the
// mount's config schema.
type Config struct {
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RunName        string         `json:"run_name,omitempty"`
	MaxConcurrency int            `json:"max_concurrency,omitempty"`
	TimeoutMS      int64          `json:"timeout_ms,omitempty"`
	Configurable   any            `json:"configurable,omitempty"`
}

// BatchResult is the body of a batch call. Errors is nil when every input
// succeeded; otherwise it is aligned with Outputs.
type BatchResult struct {
	Outputs []json.RawMessage `json:"outputs"`
	Errors  []*APIError       `json:"errors,omitempty"`
}

// StageFilter narrows the events of a StreamEvents call by stage label.
type StageFilter struct {
	Include []string
	Exclude []string
}

// Client talks to one gateway.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout overrides DefaultTimeout for non-streaming calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a client for the gateway at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    DefaultTimeout,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke calls the mount at path once and decodes its output into out.
func (c *Client) Invoke(ctx context.Context, path string, input any, cfg *Config, out any) error {
	var resp struct {
		Output json.RawMessage `json:"output"`
	}
	body := map[string]any{"input": input}
	if cfg != nil {
		body["config"] = cfg
	}
	if err := c.call(ctx, http.MethodPost, path+"/invoke", body, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Output, out); err != nil {
		return fmt.Errorf("decode output: %w", err)
	}
	return nil
}

// Batch calls the mount at path over inputs. Under the partial policy a
// failed element shows up in the result's Errors, not as an error return.
func (c *Client) Batch(ctx context.Context, path string, inputs []any, cfg *Config) (*BatchResult, error) {
	if inputs == nil {
		inputs = []any{}
	}
	body := map[string]any{"inputs": inputs}
	if cfg != nil {
		body["config"] = cfg
	}
	var result BatchResult
	if err := c.call(ctx, http.MethodPost, path+"/batch", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stream opens a stream call. The caller must Close the returned stream.
func (c *Client) Stream(ctx context.Context, path string, input any, cfg *Config) (*Stream, error) {
	body := map[string]any{"input": input}
	if cfg != nil {
		body["config"] = cfg
	}
	return c.openStream(ctx, path+"/stream", body)
}

// StreamEvents opens a stream_events call. Each data frame's payload
// carries stage, event and data.
func (c *Client) StreamEvents(ctx context.Context, path string, input any, cfg *Config, filter StageFilter) (*Stream, error) {
	body := map[string]any{"input": input}
	if cfg != nil {
		body["config"] = cfg
	}
	if len(filter.Include) > 0 {
		body["include_stages"] = filter.Include
	}
	if len(filter.Exclude) > 0 {
		body["exclude_stages"] = filter.Exclude
	}
	return c.openStream(ctx, path+"/stream_events", body)
}

// InputSchema returns the JSON Schema of the mount's input.
func (c *Client) InputSchema(ctx context.Context, path string) (json.RawMessage, error) {
	return c.schema(ctx, path+"/input_schema")
}

// OutputSchema returns the JSON Schema of the mount's output.
func (c *Client) OutputSchema(ctx context.Context, path string) (json.RawMessage, error) {
	return c.schema(ctx, path+"/output_schema")
}

// ConfigSchema returns the JSON Schema of the mount's config envelope.
func (c *Client) ConfigSchema(ctx context.Context, path string) (json.RawMessage, error) {
	return c.schema(ctx, path+"/config_schema")
}

// Mounts lists the gateway's mounts.
func (c *Client) Mounts(ctx context.Context) ([]MountInfo, error) {
	var resp struct {
		Mounts []MountInfo `json:"mounts"`
	}
	if err := c.call(ctx, http.MethodGet, "/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Mounts, nil
}

func (c *Client) schema(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// call performs a non-streaming request and decodes a 200 body into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeError turns a non-200 response into an *APIError. Bodies that are
// not an error envelope keep the status and a truncated body as message.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var env struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Error != nil {
		return env.Error.WithStatusCode(resp.StatusCode)
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return domain.NewAPIError(domain.ErrorKindPipelineExecution, msg).WithStatusCode(resp.StatusCode)
}
