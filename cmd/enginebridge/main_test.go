package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/enginebridge/internal/config"
	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

func startHost(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	srv, err := buildServer(cfg, serveOptions{logLevel: "error", delay: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return ts
}

func wsURL(ts *httptest.Server, id int) string {
	return fmt.Sprintf("ws%s/views/%d/ws", strings.TrimPrefix(ts.URL, "http"), id)
}

func TestSendEchoesThroughServe(t *testing.T) {
	ts := startHost(t, config.Default())

	var out bytes.Buffer
	err := runSend(context.Background(), sendOptions{
		url:      wsURL(ts, 1),
		dir:      t.TempDir(),
		target:   "Echo",
		method:   "Ping",
		data:     "hello",
		wait:     500 * time.Millisecond,
		logLevel: "error",
	}, &out)
	if err != nil {
		t.Fatalf("runSend: %v", err)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var ev protocol.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		if msg, ok := ev.Message(); ok && msg.Method == "Ping" && msg.Data == "hello" {
			found = true
		}
	}
	if !found {
		t.Errorf("echo not printed:\n%s", out.String())
	}
}

func TestSendJSONAndFile(t *testing.T) {
	ts := startHost(t, config.Default())
	dir := t.TempDir()

	var out bytes.Buffer
	err := runSend(context.Background(), sendOptions{
		url: wsURL(ts, 2), dir: dir, target: "Echo", method: "State",
		data: `{"hp": 10}`, jsonData: true, wait: 300 * time.Millisecond, logLevel: "error",
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"hp":10`) {
		t.Errorf("JSON echo missing:\n%s", out.String())
	}

	file := filepath.Join(dir, "blob.bin")
	os.WriteFile(file, bytes.Repeat([]byte{7}, 2048), 0644)
	out.Reset()
	err = runSend(context.Background(), sendOptions{
		url: wsURL(ts, 3), dir: dir, target: "Echo", method: "Blob",
		file: file, wait: 300 * time.Millisecond, logLevel: "error",
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), string(protocol.EventBinaryMessage)) {
		t.Errorf("binary echo missing:\n%s", out.String())
	}

	err = runSend(context.Background(), sendOptions{
		url: wsURL(ts, 4), dir: dir, target: "Echo", method: "Bad", data: "[1]", jsonData: true,
	}, &out)
	if err == nil {
		t.Error("non-object JSON should be rejected")
	}
}

func TestServeMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Path = "/prom"
	ts := startHost(t, cfg)

	resp, err := http.Get(ts.URL + "/prom")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestBuildServerRejectsBadEngine(t *testing.T) {
	_, err := buildServer(config.Default(), serveOptions{engine: "godot", logLevel: "error"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	errors.Colors = false
	defer func() { errors.Colors = true }()
	var buf bytes.Buffer
	printError(&buf, err)
	if !strings.HasPrefix(buf.String(), "error[EB040]:") || !strings.Contains(buf.String(), "godot") {
		t.Errorf("printError:\n%s", buf.String())
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{
		{"config", "init", "--dir", dir},
		{"config", "init", "--dir", dir, "--format", "yaml"},
	} {
		cmd := rootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	if _, err := config.LoadFile(filepath.Join(dir, config.ConfigFileName)); err != nil {
		t.Errorf("json: %v", err)
	}
	if _, err := config.LoadFile(filepath.Join(dir, config.YAMLConfigFileName)); err != nil {
		t.Errorf("yaml: %v", err)
	}

	cmd := rootCmd()
	cmd.SetArgs([]string{"config", "init", "--dir", dir})
	if err := cmd.Execute(); err == nil {
		t.Error("overwriting without --force should fail")
	}
}

func TestVersion(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version = %q", out.String())
	}
}
