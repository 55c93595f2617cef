// Package persistence reads and rewrites the proxy list file: newline
// delimited host:port pairs, credentials and tags never included (spec §5,
// grounded on original_source's proxy_pool.rs load_from_file/fs::write and
// pool.rs's equivalent).
package persistence

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mkaranja/lokipool/internal/poolentry"
)

// Address is one parsed host:port line from the proxy list file.
type Address struct {
	Host string
	Port uint16
}

// Load reads path, deduplicating lines while preserving first-seen order
// (spec §5 "load" op). Blank lines and lines starting with '#' are
// skipped. A missing file is not an error: it yields an empty list, since
// the pool may still be seeded entirely from config.
func Load(path string) ([]Address, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var out []Address

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true

		addr, err := parseHostPort(line)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("persistence: read %s: %w", path, err)
	}
	return out, nil
}

// Save rewrites path with one host:port per line, in the order given.
// Callers pass entries already sorted by latency (spec §4.4's "rewrite the
// file after every health-check cycle" requirement) — Save itself performs
// no ordering. Credentials, location, and proxy type are deliberately
// dropped: only the bare address is ever persisted.
func Save(path string, entries []*poolentry.Entry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s:%d\n", e.Host, e.Port)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("persistence: write %s: %w", path, err)
	}
	return nil
}

func parseHostPort(line string) (Address, error) {
	idx := strings.LastIndex(line, ":")
	if idx < 0 || idx == len(line)-1 {
		return Address{}, fmt.Errorf("persistence: malformed address %q", line)
	}
	host := line[:idx]
	port, err := strconv.ParseUint(line[idx+1:], 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("persistence: malformed port in %q: %w", line, err)
	}
	return Address{Host: host, Port: uint16(port)}, nil
}
