// ABOUTME: Tests for Gateway construction, listeners, and graceful shutdown
// ABOUTME: Runs the real HTTP server on a free port with a temporary SQLite database

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/2389/coven-wbot/internal/config"
	"github.com/2389/coven-wbot/internal/store"
	"github.com/2389/coven-wbot/internal/transport/simulator"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := httpListener.Addr().String()
	httpListener.Close()

	cfg := config.Default()
	cfg.Server.HTTPAddr = httpAddr
	cfg.Database.Path = filepath.Join(t.TempDir(), "wbot.db")
	cfg.Engine.QRInterval = time.Hour
	cfg.Lifecycle.RestartDelay = 20 * time.Millisecond
	cfg.Lifecycle.ReconnectSchedule = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)
	logger := testLogger()

	gw, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if gw.config != cfg {
		t.Error("gateway config mismatch")
	}
	if gw.store == nil {
		t.Error("store should not be nil")
	}
	if gw.service == nil {
		t.Error("service should not be nil")
	}
	if gw.relay != nil {
		t.Error("relay should be nil when matrix is disabled")
	}
}

func TestGatewayNew_UnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Name = "baileys"

	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestGatewayNew_EnvDatabasePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = "/nonexistent/dir/never.db"
	t.Setenv("WBOT_DB_PATH", filepath.Join(t.TempDir(), "env.db"))

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	_ = gw.Shutdown(context.Background())
}

func TestGatewayNew_WeakSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = "short"

	_, err := newGateway(cfg, store.NewMockStore(), simulator.New(time.Hour, nil), nil, testLogger())
	if err == nil {
		t.Fatal("expected error for weak jwt secret")
	}
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	logger := testLogger()

	gw, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestGatewayRun_BindFailure(t *testing.T) {
	cfg := testConfig(t)

	ln, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer ln.Close()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer gw.Shutdown(context.Background())

	if err := gw.Run(t.Context()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t)
	logger := testLogger()

	gw, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx := t.Context()

	// Run gateway
	go func() {
		_ = gw.Run(ctx)
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestResolveTailscaleStateDir(t *testing.T) {
	got, err := resolveTailscaleStateDir("/var/lib/wbot")
	if err != nil || got != "/var/lib/wbot" {
		t.Errorf("resolveTailscaleStateDir(configured) = %q, %v", got, err)
	}

	t.Setenv("HOME", "/home/test")
	got, err = resolveTailscaleStateDir("")
	if err != nil {
		t.Fatalf("resolveTailscaleStateDir() failed: %v", err)
	}
	if want := filepath.Join("/home/test", ".local", "share", "wbot-gateway", "tailscale"); got != want {
		t.Errorf("resolveTailscaleStateDir() = %q, want %q", got, want)
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without auth key")
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	got, err := resolveTailscaleAuthKey("")
	if err != nil || got != "tskey-env" {
		t.Errorf("resolveTailscaleAuthKey(env) = %q, %v", got, err)
	}

	got, err = resolveTailscaleAuthKey("tskey-config")
	if err != nil || got != "tskey-config" {
		t.Errorf("resolveTailscaleAuthKey(config) = %q, %v", got, err)
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Default()
	opts := engineOptions(cfg.Engine)

	if opts.Browser != [3]string{"wbot", "Chrome", "10.0"} {
		t.Errorf("browser = %v", opts.Browser)
	}
	if len(opts.Version) != 3 || opts.Version[0] != 2 {
		t.Errorf("version = %v", opts.Version)
	}
	if opts.ConnectTimeout != cfg.Engine.ConnectTimeout {
		t.Errorf("connect timeout = %v", opts.ConnectTimeout)
	}
}
