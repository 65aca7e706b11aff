package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"callscribe/internal/config"
	"callscribe/internal/daemon"
	"callscribe/internal/ipc"
	"callscribe/internal/logging"
	"callscribe/internal/proxy"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/session"
	"callscribe/internal/testsupport"
)

type fakeLedger struct{}

func (fakeLedger) CreateTopic(context.Context, string) (string, error) {
	return "0.0.777", nil
}

func (fakeLedger) SubmitMessage(_ context.Context, topicID, _ string) (proxy.SubmitResult, error) {
	return proxy.SubmitResult{TopicID: topicID, SequenceNumber: 1}, nil
}

type countingProcessor struct {
	mu sync.Mutex
	n  int
}

func (p *countingProcessor) Process(context.Context, segment.Segment) error {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	processor  *countingProcessor
	socketPath string
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	configPath := filepath.Join(homeDir, ".config", "callscribe", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	coord := session.New(session.Options{
		Repository: store,
		Ledger:     fakeLedger{},
		OpenStream: func(context.Context, session.MeetingInfo) (segment.Stream, error) {
			return nil, segment.ErrNoStream
		},
		Logger: logger,
	})
	proc := &countingProcessor{}
	q := queue.New(queue.Options{Processor: proc, Sessions: coord, Journal: store, Logger: logger})
	coord.AttachQueue(q)

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: coord,
		Queue:    q,
		Hub:      proxy.NewHub(proxy.HubOptions{Logger: logger}),
		Events:   logging.NewEventHub(64),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		processor:  proc,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\nspool_dir = %q\n\n[daemon]\napi_bind = %q\n\n[stt]\nopenai_api_key = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.SpoolDir,
		cfg.Daemon.APIBind,
		cfg.STT.OpenAIAPIKey,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
