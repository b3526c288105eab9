package browser

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Headless {
		t.Error("expected headless by default")
	}
	if cfg.PageTimeout != 60*time.Second {
		t.Errorf("PageTimeout = %v, want 60s", cfg.PageTimeout)
	}
	if cfg.MaxPages != 3 {
		t.Errorf("MaxPages = %d, want 3", cfg.MaxPages)
	}
}

func TestNewManagerFillsDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.ViewportWidth != 1920 || m.cfg.ViewportHeight != 1080 {
		t.Errorf("viewport = %dx%d, want 1920x1080", m.cfg.ViewportWidth, m.cfg.ViewportHeight)
	}
	if m.cfg.PageTimeout != 60*time.Second {
		t.Errorf("PageTimeout = %v, want 60s", m.cfg.PageTimeout)
	}
	if cap(m.pageSlots) != 3 {
		t.Errorf("page slot capacity = %d, want 3", cap(m.pageSlots))
	}
}

func TestNewManagerKeepsExplicitConfig(t *testing.T) {
	m := NewManager(Config{PageTimeout: 5 * time.Second, MaxPages: 1})
	if m.cfg.PageTimeout != 5*time.Second {
		t.Errorf("PageTimeout = %v, want 5s", m.cfg.PageTimeout)
	}
	if cap(m.pageSlots) != 1 {
		t.Errorf("page slot capacity = %d, want 1", cap(m.pageSlots))
	}
}

func TestUnstartedManagerLifecycle(t *testing.T) {
	m := NewManager(DefaultConfig())
	if m.IsConnected() {
		t.Error("IsConnected = true before Start")
	}
	if url := m.ControlURL(); url != "" {
		t.Errorf("ControlURL = %q before Start, want empty", url)
	}
	// Shutdown before Start is a no-op.
	if err := m.Shutdown(); err != nil {
		t.Errorf("Shutdown on unstarted manager: %v", err)
	}
}
