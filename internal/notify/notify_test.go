package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cms-sync/internal/storage"
	cmssync "github.com/dgnsrekt/cms-sync/internal/sync"
)

type captured struct {
	path    string
	headers http.Header
	body    string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{path: r.URL.Path, headers: r.Header.Clone(), body: string(body)})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func changedResult() *cmssync.RunResult {
	return &cmssync.RunResult{
		RunID:    "run-1",
		Duration: 1500 * time.Millisecond,
		Languages: []cmssync.LanguageResult{
			{
				Language:        "en-us",
				Changed:         true,
				Previous:        storage.SyncState{ItemToken: 0, PageToken: 0},
				Current:         storage.SyncState{ItemToken: 5, PageToken: 0},
				SitemapsUpdated: []string{"website"},
			},
			{Language: "fr-ca"},
		},
	}
}

func TestSendSuccess(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	logger, _ := zap.NewDevelopment()
	cfg := &Config{Enabled: true, Server: srv.URL + "/", Topic: "cms", Priority: "default", Tags: []string{"sync"}, Token: "tk", Click: "https://cms.example/health"}

	if err := New(cfg, logger).SendSuccess(context.Background(), changedResult()); err != nil {
		t.Fatalf("SendSuccess failed: %v", err)
	}

	if len(*got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*got))
	}
	req := (*got)[0]
	if req.path != "/cms" {
		t.Errorf("unexpected path %s", req.path)
	}
	if req.headers.Get("Title") != "Sync Complete: 1 of 2 languages changed" {
		t.Errorf("unexpected title %q", req.headers.Get("Title"))
	}
	if req.headers.Get("Tags") != "sync,white_check_mark" {
		t.Errorf("unexpected tags %q", req.headers.Get("Tags"))
	}
	if req.headers.Get("Click") != "https://cms.example/health" {
		t.Errorf("unexpected click %q", req.headers.Get("Click"))
	}
	if req.headers.Get("Authorization") != "Bearer tk" {
		t.Errorf("unexpected auth %q", req.headers.Get("Authorization"))
	}
	if !strings.Contains(req.body, "en-us: items 0 -> 5") || !strings.Contains(req.body, "sitemaps: website") {
		t.Errorf("unexpected body %q", req.body)
	}
}

func TestSendSuccessSkipsUnchanged(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	logger, _ := zap.NewDevelopment()
	cfg := &Config{Enabled: true, Server: srv.URL, Topic: "cms", Priority: "default", OnlyChanges: true}

	result := &cmssync.RunResult{RunID: "r", Languages: []cmssync.LanguageResult{{Language: "en-us"}}}
	if err := New(cfg, logger).SendSuccess(context.Background(), result); err != nil {
		t.Fatalf("SendSuccess failed: %v", err)
	}
	if len(*got) != 0 {
		t.Errorf("expected no request for unchanged run, got %d", len(*got))
	}
}

func TestSendFailure(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	logger, _ := zap.NewDevelopment()
	cfg := &Config{Enabled: true, Server: srv.URL, Topic: "cms", Priority: "low", Tags: []string{"sync"}}

	result := changedResult()
	result.Failed = "de-de"
	err := New(cfg, logger).SendFailure(context.Background(), result, errors.New("sync de-de: timeout"))
	if err != nil {
		t.Fatalf("SendFailure failed: %v", err)
	}

	req := (*got)[0]
	if req.headers.Get("Title") != "Sync Failed: de-de" || req.headers.Get("Priority") != "high" {
		t.Errorf("unexpected headers %v", req.headers)
	}
	if !strings.Contains(req.body, "Error: sync de-de: timeout") {
		t.Errorf("unexpected body %q", req.body)
	}
}

func TestSendReportsHTTPError(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	logger, _ := zap.NewDevelopment()
	cfg := &Config{Enabled: true, Server: srv.URL, Topic: "cms", Priority: "default"}

	if err := New(cfg, logger).SendFailure(context.Background(), nil, errors.New("x")); err == nil {
		t.Error("expected error for 403 response")
	}
}

func TestSendFailureUsesConfiguredPriority(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	cfg := &Config{Enabled: true, Server: srv.URL, Topic: "cms", FailurePriority: "urgent"}

	if err := New(cfg, zap.NewNop()).SendFailure(context.Background(), nil, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	req := (*got)[0]
	if req.headers.Get("Priority") != "urgent" || req.headers.Get("Title") != "Sync Failed" {
		t.Errorf("unexpected headers %v", req.headers)
	}
	if req.headers.Get("Click") != "" || req.headers.Get("Authorization") != "" {
		t.Errorf("unset options should not be sent: %v", req.headers)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("NTFY_ENABLED", "true")
	t.Setenv("NTFY_TOPIC", "cms-sync")
	t.Setenv("NTFY_TAGS", "cms, sync")
	t.Setenv("NTFY_ONLY_CHANGES", "false")

	cfg := LoadConfig()
	if !cfg.Enabled || cfg.Topic != "cms-sync" || cfg.OnlyChanges {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Tags) != 2 || cfg.Tags[1] != "sync" {
		t.Errorf("unexpected tags %v", cfg.Tags)
	}
	if cfg.Server != "https://ntfy.sh" || cfg.FailurePriority != "high" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error %v", err)
	}
}

func TestNewDisabled(t *testing.T) {
	n := New(&Config{Enabled: false}, zap.NewNop())
	if _, ok := n.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
	if err := n.SendFailure(context.Background(), nil, errors.New("x")); err != nil {
		t.Errorf("noop returned %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (&Config{Enabled: true, Priority: "default"}).Validate(); err == nil {
		t.Error("expected error for missing topic")
	}
	if err := (&Config{Enabled: true, Topic: "t", Priority: "loud"}).Validate(); err == nil {
		t.Error("expected error for bad priority")
	}
	if err := (&Config{Enabled: true, Topic: "t", Priority: "default", FailurePriority: "loud"}).Validate(); err == nil {
		t.Error("expected error for bad failure priority")
	}
	if err := (&Config{Enabled: true, Topic: "t", Priority: "urgent"}).Validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestFormatFailureMessageWithoutResult(t *testing.T) {
	msg := FormatFailureMessage(nil, errors.New("config invalid"))
	if msg != "Error: config invalid" {
		t.Errorf("unexpected message %q", msg)
	}
}
