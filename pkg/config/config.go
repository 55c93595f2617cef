// Package config loads the TOML configuration file (spec §6), grounded on
// original_source's crates/lokipool-core/src/config.rs: the same key set,
// the same defaults, and the same lenient-parse fallback when a strict
// decode fails.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultCanaryURL mirrors the original's single baked-in test URL.
const DefaultCanaryURL = "http://www.baidu.com"

// Defaults, named after the TOML keys they back (spec §6's table).
const (
	DefaultTimeoutMs             = 10000
	DefaultMaxConnections        = 100
	DefaultRetryCount            = 3
	DefaultProxyFile             = "proxies.txt"
	DefaultTestTimeoutSeconds    = 10
	DefaultHealthCheckInterval   = 300
	DefaultRetryTimes            = 3
	DefaultSwitchIntervalSeconds = 300
	DefaultBindHost              = "127.0.0.1"
	DefaultBindPort              = 1080
)

// ProxySettings is the `[proxy]` table.
type ProxySettings struct {
	ProxyFile           string `toml:"proxy_file"`
	TestTimeout         int64  `toml:"test_timeout"`
	HealthCheckInterval int64  `toml:"health_check_interval"`
	RetryTimes          int    `toml:"retry_times"`
	AutoSwitch          bool   `toml:"auto_switch"`
	SwitchInterval      int64  `toml:"switch_interval"`
}

func defaultProxySettings() ProxySettings {
	return ProxySettings{
		ProxyFile:           DefaultProxyFile,
		TestTimeout:         DefaultTestTimeoutSeconds,
		HealthCheckInterval: DefaultHealthCheckInterval,
		RetryTimes:          DefaultRetryTimes,
		AutoSwitch:          false,
		SwitchInterval:      DefaultSwitchIntervalSeconds,
	}
}

// ServerSettings is the `[server]` table.
type ServerSettings struct {
	BindHost string `toml:"bind_host"`
	BindPort int    `toml:"bind_port"`
}

func defaultServerSettings() ServerSettings {
	return ServerSettings{BindHost: DefaultBindHost, BindPort: DefaultBindPort}
}

// ProxyConfig is one `[[proxies]]` entry.
type ProxyConfig struct {
	Host      string `toml:"host"`
	Port      uint16 `toml:"port"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Location  string `toml:"location"`
	ProxyType string `toml:"proxy_type"`
}

// Config is the root of config.toml.
type Config struct {
	TimeoutMs      int64          `toml:"timeout_ms"`
	MaxConnections int            `toml:"max_connections"`
	RetryCount     int            `toml:"retry_count"`
	TestURLs       []string       `toml:"test_urls"`
	Proxy          ProxySettings  `toml:"proxy"`
	Proxies        []ProxyConfig  `toml:"proxies"`
	Server         ServerSettings `toml:"server"`
}

// Default returns a Config populated with every spec §6 default.
func Default() Config {
	return Config{
		TimeoutMs:      DefaultTimeoutMs,
		MaxConnections: DefaultMaxConnections,
		RetryCount:     DefaultRetryCount,
		TestURLs:       []string{DefaultCanaryURL},
		Proxy:          defaultProxySettings(),
		Proxies:        nil,
		Server:         defaultServerSettings(),
	}
}

// Load reads path, strict-decodes it, and on failure falls back to a
// lenient, best-effort per-field walk (parseWithFallbacks). If no
// `[[proxies]]` result from either path, a synthetic local entry is
// inserted, matching spec §6's "if no upstreams result" rule.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err == nil {
		applyDefaultsWhereZero(&cfg)
		ensureNonEmptyProxies(&cfg)
		return cfg, nil
	}

	fallback, ferr := parseWithFallbacks(data)
	if ferr != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, ferr)
	}
	return fallback, nil
}

// applyDefaultsWhereZero fills in zero-valued fields the TOML decode left
// untouched (go-toml/v2 doesn't apply struct-tag defaults the way serde's
// #[serde(default = "...")] does, so this replicates it by hand).
func applyDefaultsWhereZero(cfg *Config) {
	def := Default()
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = def.TimeoutMs
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = def.RetryCount
	}
	if len(cfg.TestURLs) == 0 {
		cfg.TestURLs = def.TestURLs
	}
	if cfg.Proxy.ProxyFile == "" {
		cfg.Proxy.ProxyFile = def.Proxy.ProxyFile
	}
	if cfg.Proxy.TestTimeout == 0 {
		cfg.Proxy.TestTimeout = def.Proxy.TestTimeout
	}
	if cfg.Proxy.HealthCheckInterval == 0 {
		cfg.Proxy.HealthCheckInterval = def.Proxy.HealthCheckInterval
	}
	if cfg.Proxy.RetryTimes == 0 {
		cfg.Proxy.RetryTimes = def.Proxy.RetryTimes
	}
	if cfg.Proxy.SwitchInterval == 0 {
		cfg.Proxy.SwitchInterval = def.Proxy.SwitchInterval
	}
	if cfg.Server.BindHost == "" {
		cfg.Server.BindHost = def.Server.BindHost
	}
	if cfg.Server.BindPort == 0 {
		cfg.Server.BindPort = def.Server.BindPort
	}
	for i := range cfg.Proxies {
		if cfg.Proxies[i].ProxyType == "" {
			cfg.Proxies[i].ProxyType = "socks5"
		}
	}
}

// ensureNonEmptyProxies inserts the synthetic 127.0.0.1:1080 entry when the
// config lists no [[proxies]]. Only the config is checked: the proxy file is
// not read here, so the entry is inserted even when that file lists
// upstreams.
func ensureNonEmptyProxies(cfg *Config) {
	if len(cfg.Proxies) > 0 {
		return
	}
	cfg.Proxies = append(cfg.Proxies, ProxyConfig{
		Host:      DefaultBindHost,
		Port:      DefaultBindPort,
		Location:  "Local Default",
		ProxyType: "socks5",
	})
}

// parseWithFallbacks handles a malformed config.toml by walking a generic
// map and pulling out whatever fields it can, defaulting the rest —
// grounded directly on config.rs's parse_with_fallbacks.
func parseWithFallbacks(data []byte) (Config, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		// Even the generic map failed to parse: fall all the way back to
		// pure defaults plus the synthetic entry, rather than failing
		// startup outright.
		cfg := Default()
		ensureNonEmptyProxies(&cfg)
		return cfg, nil
	}

	cfg := Default()

	if v, ok := asInt64(raw["timeout_ms"]); ok {
		cfg.TimeoutMs = v
	}
	if v, ok := asInt64(raw["max_connections"]); ok {
		cfg.MaxConnections = int(v)
	}
	if v, ok := asInt64(raw["retry_count"]); ok {
		cfg.RetryCount = int(v)
	}
	if arr, ok := raw["test_urls"].([]any); ok {
		var urls []string
		for _, v := range arr {
			if s, ok := v.(string); ok {
				urls = append(urls, s)
			}
		}
		if len(urls) > 0 {
			cfg.TestURLs = urls
		}
	}

	if proxyTable, ok := raw["proxy"].(map[string]any); ok {
		if s, ok := proxyTable["proxy_file"].(string); ok {
			cfg.Proxy.ProxyFile = s
		}
		if v, ok := asInt64(proxyTable["test_timeout"]); ok {
			cfg.Proxy.TestTimeout = v
		}
		if v, ok := asInt64(proxyTable["health_check_interval"]); ok {
			cfg.Proxy.HealthCheckInterval = v
		}
		if v, ok := asInt64(proxyTable["retry_times"]); ok {
			cfg.Proxy.RetryTimes = int(v)
		}
		if b, ok := proxyTable["auto_switch"].(bool); ok {
			cfg.Proxy.AutoSwitch = b
		}
		if v, ok := asInt64(proxyTable["switch_interval"]); ok {
			cfg.Proxy.SwitchInterval = v
		}
	}

	if serverTable, ok := raw["server"].(map[string]any); ok {
		if s, ok := serverTable["bind_host"].(string); ok {
			cfg.Server.BindHost = s
		}
		if v, ok := asInt64(serverTable["bind_port"]); ok {
			cfg.Server.BindPort = int(v)
		}
	}

	if arr, ok := raw["proxies"].([]any); ok {
		for _, item := range arr {
			table, ok := item.(map[string]any)
			if !ok {
				continue
			}
			pc := ProxyConfig{
				Host:      "127.0.0.1",
				Port:      1080,
				ProxyType: "socks5",
			}
			if s, ok := table["host"].(string); ok {
				pc.Host = s
			}
			if v, ok := asInt64(table["port"]); ok {
				pc.Port = uint16(v)
			}
			if s, ok := table["username"].(string); ok {
				pc.Username = s
			}
			if s, ok := table["password"].(string); ok {
				pc.Password = s
			}
			if s, ok := table["location"].(string); ok {
				pc.Location = s
			}
			if s, ok := table["proxy_type"].(string); ok {
				pc.ProxyType = s
			}
			cfg.Proxies = append(cfg.Proxies, pc)
		}
	}

	ensureNonEmptyProxies(&cfg)
	return cfg, nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
