package file

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/agent-router/internal/pkg/config"
)

func writeConfig(t *testing.T, path string, port int) {
	t.Helper()
	data := []byte("server:\n  port: " + strconv.Itoa(port) + "\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestNewProvider_EmptyPath(t *testing.T) {
	if _, err := NewProvider("", nil); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestProvider_LoadAndWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 9100)

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want 9100", cfg.Server.Port)
	}

	changed := make(chan *config.Config, 4)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- p.Watch(ctx, func(c *config.Config) { changed <- c })
	}()
	waitForWatcher(t, p)

	writeConfig(t, path, 9200)

	// A truncate-then-write can surface an intermediate reload.
	deadline := time.After(5 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-changed:
			reloaded = c.Server.Port == 9200
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	if p.Current().Server.Port != 9200 {
		t.Errorf("Current() port = %d, want 9200", p.Current().Server.Port)
	}

	cancel()
	if err := <-watchErr; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func waitForWatcher(t *testing.T, p *Provider) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.RLock()
		ready := p.watcher != nil
		p.mu.RUnlock()
		if ready {
			// Add follows the assignment; give it a moment to register.
			time.Sleep(50 * time.Millisecond)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watcher did not start")
}

func TestProvider_WatchBlocksUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 9100)

	p, err := NewProvider(path, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	returned := make(chan error, 1)
	go func() {
		returned <- p.Watch(ctx, func(*config.Config) { calls.Add(1) })
	}()
	waitForWatcher(t, p)

	select {
	case err := <-returned:
		t.Fatalf("Watch() returned early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-returned:
		if err != nil {
			t.Errorf("Watch() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}

	before := calls.Load()
	writeConfig(t, path, 9300)
	time.Sleep(200 * time.Millisecond)
	if got := calls.Load(); got != before {
		t.Errorf("onChange called %d times after Watch returned", got-before)
	}
}
