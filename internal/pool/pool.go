// Package pool holds the set of known upstream SOCKS5 entries and the
// selection/maintenance operations the rest of the system drives it with
// (spec §3, §4.3).
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mkaranja/lokipool/internal/poolentry"
	"github.com/mkaranja/lokipool/internal/prober"
)

// ErrCapacityExceeded is returned by Add once the pool already holds
// MaxEntries entries.
var ErrCapacityExceeded = errors.New("pool: capacity exceeded")

// MaxEntries bounds the pool size, mirroring the teacher's maxCandidates
// guard in AddressPool.refreshCandidates.
const MaxEntries = 1000

// DefaultConcurrency bounds how many probes TestAll/RetryFailed run at once,
// grounded on the teacher's checkLoop semaphore (sem := make(chan struct{}, 40)).
const DefaultConcurrency = 40

// Pool is the mutex-guarded collection of upstream entries. The zero value
// is not usable; construct with New.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolentry.Entry // keyed by Entry.ID, never host:port
	sorted  []string                    // Available entry IDs, latency-sorted
	cursor  int                         // rotation position into sorted, for Next

	probeOpts prober.Options
	probeFn   probeFunc
}

// New returns an empty pool configured with the given probe options
// (canary URL, per-probe timeout), applied to every TestAll/RetryFailed call.
func New(opts prober.Options) *Pool {
	return &Pool{
		entries:   make(map[string]*poolentry.Entry),
		probeOpts: opts,
		probeFn:   prober.Probe,
	}
}

// Add inserts a new entry. Capacity is enforced per spec §4.3's "pool has a
// maximum size" edge case.
func (p *Pool) Add(e *poolentry.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= MaxEntries {
		return ErrCapacityExceeded
	}
	p.entries[e.ID] = e
	return nil
}

// GetAvailable returns a clone of the lowest-latency Available entry,
// breaking ties by entry ID for determinism (spec §8). Returns nil if no
// entry is Available.
func (p *Pool) GetAvailable() *poolentry.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *poolentry.Entry
	for _, e := range p.entries {
		if e.Status != poolentry.Available {
			continue
		}
		if best == nil || e.LatencyMs < best.LatencyMs ||
			(e.LatencyMs == best.LatencyMs && e.ID < best.ID) {
			best = e
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

// Next advances a round-robin cursor over the latency-sorted Available
// view, distinct from GetAvailable's pure-min-latency pick (spec §4.3's
// rotation strategy), and returns the entry the cursor then points to. It
// wraps around and returns nil only when no entry is Available.
func (p *Pool) Next() *poolentry.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resortLocked()
	if len(p.sorted) == 0 {
		return nil
	}
	if p.cursor >= len(p.sorted) {
		p.cursor = 0
	}
	p.cursor = (p.cursor + 1) % len(p.sorted)
	id := p.sorted[p.cursor]
	e, ok := p.entries[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

// Current returns a clone of the entry the rotation cursor currently points
// to, without advancing it. This is the entry the most recent Next call
// returned (unless the Available set has changed since), so it makes
// rotation driven by Next (including the auto-switch loop's periodic calls)
// observable without disturbing the cursor. Returns nil if no entry is
// Available.
func (p *Pool) Current() *poolentry.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resortLocked()
	if len(p.sorted) == 0 {
		return nil
	}
	if p.cursor >= len(p.sorted) {
		p.cursor = 0
	}
	id := p.sorted[p.cursor]
	e, ok := p.entries[id]
	if !ok {
		return nil
	}
	return e.Clone()
}

// ReplaceAll swaps the pool's entire entry set for entries, keyed by their
// own IDs. Used by the health-check loop to apply eviction decisions made
// on a GetAll snapshot back to the live pool (spec §4.4).
func (p *Pool) ReplaceAll(entries []*poolentry.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*poolentry.Entry, len(entries))
	for _, e := range entries {
		next[e.ID] = e
	}
	p.entries = next
	p.resortLocked()
}

// GetAll returns a snapshot clone of every entry, in no particular order.
func (p *Pool) GetAll() []*poolentry.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*poolentry.Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.Clone())
	}
	return out
}

// probeTarget pairs an entry ID with the clone handed to the prober, so
// results can be applied back to the canonical entry under lock.
type probeTarget struct {
	id    string
	clone *poolentry.Entry
}

// TestAll probes every known entry concurrently, bounded by
// DefaultConcurrency, and applies results back to the pool: success flips
// an entry to Available with fresh latency and a reset fail count; failure
// flips it to Failed without touching fail count (spec §4.3 leaves
// eviction bookkeeping to the health-check loop, not the bulk test).
// It returns one TestResult per probed entry, identified by EntryID, for
// callers that want to report them (e.g. the REPL's "test" command); entry
// snapshots are not included in the return value.
func (p *Pool) TestAll(ctx context.Context) []poolentry.TestResult {
	targets := p.snapshotTargets()
	results := p.runProbes(ctx, targets, p.probeFn)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range results {
		e, ok := p.entries[r.EntryID]
		if !ok {
			continue
		}
		if r.Success {
			e.ApplySuccess(r.LatencyMs)
		} else {
			e.ApplyFailure()
		}
	}
	p.resortLocked()
	return results
}

// RetryFailed re-probes only entries currently in the Failed state,
// flipping survivors back to Available and resetting their fail count on
// success (spec §4.3's distinct retry_failed operation, as opposed to the
// unconditional TestAll sweep). It returns true if at least one entry
// recovered.
func (p *Pool) RetryFailed(ctx context.Context) bool {
	p.mu.Lock()
	var targets []probeTarget
	for id, e := range p.entries {
		if e.Status == poolentry.Failed {
			targets = append(targets, probeTarget{id: id, clone: e.Clone()})
		}
	}
	p.mu.Unlock()

	results := p.runProbes(ctx, targets, p.probeFn)

	recovered := false
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range results {
		e, ok := p.entries[r.EntryID]
		if !ok {
			continue
		}
		if r.Success {
			e.ApplySuccess(r.LatencyMs)
			recovered = true
		} else {
			e.ApplyFailure()
		}
	}
	p.resortLocked()
	return recovered
}

// snapshotTargets copies every entry under a short lock, for probing
// outside of it (teacher's checkLoop pattern: RLock to snapshot, probe
// unlocked, Lock to apply).
func (p *Pool) snapshotTargets() []probeTarget {
	p.mu.Lock()
	defer p.mu.Unlock()

	targets := make([]probeTarget, 0, len(p.entries))
	for id, e := range p.entries {
		targets = append(targets, probeTarget{id: id, clone: e.Clone()})
	}
	return targets
}

type probeFunc func(ctx context.Context, e *poolentry.Entry, opts prober.Options) poolentry.TestResult

// runProbes fans out targets to fn with bounded concurrency, grounded on
// the teacher's checkLoop (wg + sem := make(chan struct{}, 40)).
func (p *Pool) runProbes(ctx context.Context, targets []probeTarget, fn probeFunc) []poolentry.TestResult {
	results := make([]poolentry.TestResult, len(targets))
	var wg sync.WaitGroup
	sem := make(chan struct{}, DefaultConcurrency)

	for i, t := range targets {
		wg.Add(1)
		go func(i int, t probeTarget) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = fn(ctx, t.clone, p.probeOpts)
		}(i, t)
	}
	wg.Wait()
	return results
}

// resortLocked rebuilds the Available-entry rotation view in latency order,
// breaking ties by ID. Callers must hold p.mu. The rotation cursor resets
// whenever the membership of the Available set changes, since the old
// cursor position no longer has a stable meaning.
func (p *Pool) resortLocked() {
	ids := make([]string, 0, len(p.entries))
	for id, e := range p.entries {
		if e.Status == poolentry.Available {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := p.entries[ids[i]], p.entries[ids[j]]
		if a.LatencyMs == b.LatencyMs {
			return a.ID < b.ID
		}
		return a.LatencyMs < b.LatencyMs
	})

	if !sameIDs(p.sorted, ids) {
		p.cursor = 0
	}
	p.sorted = ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
