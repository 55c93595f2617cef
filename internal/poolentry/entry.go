// Package poolentry defines the upstream-entry and test-result data model
// shared by the pool, prober, and health-check components (spec §3).
package poolentry

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Status is one of the lifecycle states an upstream entry can be in.
type Status int

const (
	Untested Status = iota
	Available
	InUse
	Failed
	Unknown
)

func (s Status) String() string {
	switch s {
	case Untested:
		return "Untested"
	case Available:
		return "Available"
	case InUse:
		return "In Use"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// NoLatency is the sentinel value for "never measured" latency.
const NoLatency = -1

// Entry is one upstream SOCKS5 proxy in the pool. ID is a UUID assigned at
// creation — the key is never the host:port pair alone, since the same
// address may appear twice under different credentials.
type Entry struct {
	ID       string
	Host     string
	Port     uint16
	Username string
	Password string
	Location string
	ProxyType string

	Status      Status
	LatencyMs   int64 // NoLatency if never measured
	FailCount   int
	LastProbed  time.Time
}

// New creates a fresh, untested entry with a freshly-minted UUID.
func New(host string, port uint16, username, password, location string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		Location:  location,
		ProxyType: "socks5",
		Status:    Untested,
		LatencyMs: NoLatency,
	}
}

// Clone returns a value copy, safe to hand out from behind a lock.
func (e *Entry) Clone() *Entry {
	cp := *e
	return &cp
}

// Address formats the entry's dial target as host:port.
func (e *Entry) Address() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// ApplySuccess records a successful probe: status flips to Available,
// latency is updated, and fail count resets to zero (spec §3 invariant:
// "fail_count ... is reset to zero on any successful probe").
func (e *Entry) ApplySuccess(latencyMs int64) {
	e.Status = Available
	e.LatencyMs = latencyMs
	e.FailCount = 0
	e.LastProbed = time.Now().UTC()
}

// ApplyFailure records a failed probe. Unlike ApplySuccess, it does not
// reset fail count — callers decide whether to increment it (test_all
// leaves fail_count unchanged per spec §4.3; health-check increments it
// per §4.4).
func (e *Entry) ApplyFailure() {
	e.Status = Failed
	e.LastProbed = time.Now().UTC()
}

// TestResult is an immutable probe outcome, produced by value by the
// prober and handed off to the pool (spec §3).
type TestResult struct {
	EntryID   string
	Success   bool
	LatencyMs int64 // present (>=0) iff Success
	Err       string
	Timestamp time.Time
}
