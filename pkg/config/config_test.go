package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadStrictDecodeAppliesDefaultsForMissingFields(t *testing.T) {
	path := writeTemp(t, `
max_connections = 50

[[proxies]]
host = "10.0.0.1"
port = 1081
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxConnections != 50 {
		t.Fatalf("expected max_connections=50, got %d", cfg.MaxConnections)
	}
	if cfg.TimeoutMs != DefaultTimeoutMs {
		t.Fatalf("expected default timeout_ms, got %d", cfg.TimeoutMs)
	}
	if cfg.Proxy.ProxyFile != DefaultProxyFile {
		t.Fatalf("expected default proxy_file, got %q", cfg.Proxy.ProxyFile)
	}
	if len(cfg.Proxies) != 1 || cfg.Proxies[0].Host != "10.0.0.1" || cfg.Proxies[0].ProxyType != "socks5" {
		t.Fatalf("unexpected proxies: %+v", cfg.Proxies)
	}
}

func TestLoadEmptyProxiesInsertsSyntheticLocal(t *testing.T) {
	path := writeTemp(t, `timeout_ms = 5000
proxies = []
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Proxies) != 1 {
		t.Fatalf("expected synthetic proxy inserted, got %+v", cfg.Proxies)
	}
	p := cfg.Proxies[0]
	if p.Host != DefaultBindHost || p.Port != DefaultBindPort {
		t.Fatalf("expected synthetic 127.0.0.1:1080, got %+v", p)
	}
}

func TestLoadMalformedFallsBackLeniently(t *testing.T) {
	path := writeTemp(t, `
timeout_ms = 7000
max_connections = "not-a-table-but-looks-okay

[[proxies]]
host = "10.0.0.5"
port = 1090
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The unterminated string breaks the generic parse as well, so Load
	// falls back to pure defaults plus the synthetic entry and does not
	// error outright.
	if cfg.TimeoutMs == 0 {
		t.Fatalf("expected some timeout value recovered or defaulted, got 0")
	}
	if len(cfg.Proxies) == 0 {
		t.Fatalf("expected at least the synthetic fallback proxy")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
