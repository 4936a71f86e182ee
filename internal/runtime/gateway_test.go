package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/pipeline-gateway/internal/core/domain"
	"github.com/tjfontaine/pipeline-gateway/internal/pkg/config"
	"github.com/tjfontaine/pipeline-gateway/internal/registration"
	"github.com/tjfontaine/pipeline-gateway/pkg/runnable"
)

func init() {
	// Register built-in pipeline factories for testing
	registration.RegisterBuiltins()
}

type echoIn struct {
	Text string `json:"text"`
}

func echo() *runnable.Runnable[echoIn, echoIn, runnable.NoConfig] {
	return &runnable.Runnable[echoIn, echoIn, runnable.NoConfig]{
		Name: "echo",
		InvokeFunc: func(_ context.Context, in echoIn, _ runnable.Options[runnable.NoConfig]) (echoIn, error) {
			return in, nil
		},
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.LifecycleEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event *domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []domain.LifecycleEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []domain.LifecycleEventType
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(mounts ...config.MountConfig) *config.Config {
	cfg := config.Default()
	cfg.Storage.Type = "memory"
	cfg.Mounts = mounts
	return cfg
}

func newTestGateway(t *testing.T, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	gw, err := New(opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		gw.Shutdown(context.Background())
	})
	return gw, srv
}

func post(t *testing.T, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return do(t, req)
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func errorKind(t *testing.T, body []byte) domain.ErrorKind {
	t.Helper()
	var env struct {
		Error *domain.APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		t.Fatalf("not an error envelope: %s", body)
	}
	return env.Error.Kind
}

func TestGateway_New_Defaults(t *testing.T) {
	gw, err := New(WithLogger(quietLogger()), WithMemoryStore())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.Config().Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", gw.Config().Server.Port)
	}
	mounts := gw.Mounts()
	if len(mounts) != 1 || len(gw.MountErrors()) != 0 {
		t.Fatalf("mounts = %v, errors = %v", mounts, gw.MountErrors())
	}
	if mounts[0].Path != "/propositional-retrieval" {
		t.Errorf("default mount path = %q", mounts[0].Path)
	}
}

func TestGateway_DefaultMountOnlyWhenNothingMounted(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		paths []string
	}{
		{
			name:  "no mounts",
			opts:  []Option{WithConfig(testConfig())},
			paths: []string{"/propositional-retrieval"},
		},
		{
			name:  "configured mount",
			opts:  []Option{WithConfig(testConfig(config.MountConfig{Path: "/props", Pipeline: "propositional"}))},
			paths: []string{"/props"},
		},
		{
			name:  "programmatic mount",
			opts:  []Option{WithConfig(testConfig()), WithMount("/echo", "echo", echo())},
			paths: []string{"/echo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, srv := newTestGateway(t, tt.opts...)
			var paths []string
			for _, m := range gw.Mounts() {
				paths = append(paths, m.Path)
			}
			if strings.Join(paths, ",") != strings.Join(tt.paths, ",") {
				t.Fatalf("mounts = %v, want %v", paths, tt.paths)
			}

			resp, body := get(t, srv.URL+tt.paths[0]+"/input_schema")
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET input_schema = %d %s", resp.StatusCode, body)
			}
		})
	}
}

func TestGateway_New_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = -1
	if _, err := New(WithLogger(quietLogger()), WithConfig(cfg)); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestGateway_ConfiguredMounts(t *testing.T) {
	gw, srv := newTestGateway(t, WithConfig(testConfig(
		config.MountConfig{Path: "/propositional-retrieval", Pipeline: "propositional", Description: "Answers from propositions"},
		config.MountConfig{Path: "/broken", Pipeline: "not-registered"},
	)), WithMount("/echo", "echo", echo()))

	if errs := gw.MountErrors(); len(errs) != 1 || errs[0].Path != "/broken" {
		t.Fatalf("mount errors = %v, want /broken rejected", errs)
	}

	resp, body := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	var list mountList
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Mounts) != 2 || list.Mounts[0].Path != "/echo" || list.Mounts[1].Path != "/propositional-retrieval" {
		t.Fatalf("mounts = %+v", list.Mounts)
	}
	if got := len(list.Mounts[1].Modes); got != 4 {
		t.Errorf("propositional modes = %v", list.Mounts[1].Modes)
	}

	resp, body = post(t, srv.URL+"/propositional-retrieval/invoke", `{"input":{"question":"What is a proposition?"},"config":{"configurable":{"top_k":1}}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke status = %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Output struct {
			Answer  string `json:"answer"`
			Sources []any  `json:"sources"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.Output.Answer == "" || len(out.Output.Sources) != 1 {
		t.Errorf("output = %+v", out.Output)
	}
}

func TestGateway_UnknownRoutes(t *testing.T) {
	_, srv := newTestGateway(t, WithConfig(testConfig()), WithMount("/echo", "echo", echo()))

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "unknown mount", method: http.MethodPost, path: "/nope/invoke"},
		{name: "unsupported mode", method: http.MethodPost, path: "/echo/unknown"},
		{name: "wrong method", method: http.MethodGet, path: "/echo/invoke"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(`{}`))
			resp, body := do(t, req)
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.StatusCode)
			}
			if kind := errorKind(t, body); kind != domain.ErrorKindNotFound {
				t.Errorf("kind = %s", kind)
			}
		})
	}
}

func TestGateway_InvocationRecords(t *testing.T) {
	pub := &recordingPublisher{}
	_, srv := newTestGateway(t, WithConfig(testConfig()), WithMount("/echo", "echo", echo()), WithEventPublisher(pub))

	resp, body := post(t, srv.URL+"/echo/invoke", `{"input":{"text":"hi"}}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke status = %d: %s", resp.StatusCode, body)
	}

	// Records are written after the response body.
	var list invocationList
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = get(t, srv.URL+"/_gateway/invocations?mount=/echo")
		if err := json.Unmarshal(body, &list); err != nil {
			t.Fatal(err)
		}
		if len(list.Invocations) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list.Invocations) != 1 {
		t.Fatalf("invocations = %s", body)
	}
	rec := list.Invocations[0]
	if rec.Status != domain.InvocationCompleted || rec.Mode != domain.ModeInvoke {
		t.Errorf("record = %+v", rec)
	}

	resp, body = get(t, srv.URL+"/_gateway/invocations/"+rec.ID)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), rec.ID) {
		t.Errorf("get record = %d %s", resp.StatusCode, body)
	}
	resp, _ = get(t, srv.URL+"/_gateway/invocations/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record status = %d", resp.StatusCode)
	}
	resp, _ = get(t, srv.URL+"/_gateway/invocations?limit=-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}

	if types := pub.types(); len(types) != 2 || types[0] != domain.LifecycleEventStarted || types[1] != domain.LifecycleEventCompleted {
		t.Errorf("published = %v", types)
	}

	_, body = get(t, srv.URL+"/metrics")
	if !strings.Contains(string(body), `pipeline_gateway_invocations_total{mode="invoke",mount="/echo",outcome="completed"} 1`) {
		t.Errorf("metrics missing invocation counter:\n%s", body)
	}
}

func TestGateway_NoStore(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Type = "none"
	_, srv := newTestGateway(t, WithConfig(cfg))

	resp, _ := get(t, srv.URL+"/_gateway/invocations")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGateway_APIKeys(t *testing.T) {
	_, srv := newTestGateway(t, WithConfig(testConfig()), WithMount("/echo", "echo", echo()), WithAPIKeys("s3cret"))

	if resp, _ := get(t, srv.URL+"/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want public", resp.StatusCode)
	}

	resp, body := post(t, srv.URL+"/echo/invoke", `{"input":{"text":"hi"}}`, nil)
	if resp.StatusCode != http.StatusUnauthorized || errorKind(t, body) != domain.ErrorKindUnauthorized {
		t.Errorf("no key: %d %s", resp.StatusCode, body)
	}

	resp, body = post(t, srv.URL+"/echo/invoke", `{"input":{"text":"hi"}}`, http.Header{"Authorization": {"Bearer s3cret"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with key: %d %s", resp.StatusCode, body)
	}
}

func TestGateway_Start_And_Shutdown(t *testing.T) {
	gw, err := New(
		WithLogger(quietLogger()),
		WithConfig(testConfig()),
		WithMount("/echo", "echo", echo()),
		WithListenAddr("127.0.0.1:0"),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := gw.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}

	resp, body := post(t, "http://"+gw.Addr().String()+"/echo/invoke", `{"input":{"text":"hi"}}`, nil)
	if resp.StatusCode != http.StatusOK || string(body) != "{\"output\":{\"text\":\"hi\"}}\n" {
		t.Errorf("invoke = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestGateway_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
logging:
  level: info
storage:
  type: memory
mounts:
  - path: /propositional-retrieval
    pipeline: propositional
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	level := new(slog.LevelVar)
	gw, err := New(
		WithLogger(quietLogger()),
		WithLogLevel(level),
		WithFileConfig(configPath),
		WithListenAddr("127.0.0.1:0"),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if len(gw.Mounts()) != 1 {
		t.Fatalf("mounts = %v, errors = %v", gw.Mounts(), gw.MountErrors())
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	updated := strings.Replace(configContent, "level: info", "level: debug", 1)
	if err := os.WriteFile(configPath, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for level.Level() != slog.LevelDebug {
		if time.Now().After(deadline) {
			t.Fatal("log level was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(gw.Mounts()) != 1 {
		t.Error("mounts changed on reload")
	}
}
