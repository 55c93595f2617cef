// Package healthcheck runs the periodic re-probe loop that keeps the pool's
// Available set honest over time, evicting proxies that fail repeatedly and
// persisting the surviving, latency-sorted address list back to disk (spec
// §4.4, grounded on original_source's proxy_pool.rs start_health_check:
// ticker loop, per-entry fail_count increment, remove at retry_times, then
// re-sort and rewrite the file).
package healthcheck

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mkaranja/lokipool/internal/persistence"
	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/poolentry"
	"github.com/mkaranja/lokipool/internal/prober"
)

// DefaultInterval is used when Options.Interval is unset.
const DefaultInterval = 60 * time.Second

// DefaultMaxFailures is the fail_count threshold at which an entry is
// evicted from the pool (spec §4.4's "max failures" edge case), grounded
// on the original's config.proxy.retry_times.
const DefaultMaxFailures = 3

// Options configures one Loop run.
type Options struct {
	Interval     time.Duration
	MaxFailures  int
	ProxyFile    string // if empty, persistence is skipped
	ProbeOptions prober.Options
}

// Loop periodically re-probes every entry in p, evicts entries whose
// fail_count reaches MaxFailures, and persists survivors back to ProxyFile
// in latency-sorted order. It runs until ctx is canceled or done is
// closed, whichever comes first — done mirrors the proxy server's
// shutdown broadcast (spec §4.6's single shutdown signal fanning out to
// every independent loop).
func Loop(ctx context.Context, p *pool.Pool, done <-chan struct{}, opts Options) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxFailures := opts.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			runCycle(ctx, p, maxFailures, opts)
		}
	}
}

// runCycle re-probes every current entry concurrently, applies the
// increment-or-reset fail_count rule, evicts entries that reach the threshold,
// and persists the rest.
func runCycle(ctx context.Context, p *pool.Pool, maxFailures int, opts Options) {
	entries := p.GetAll()
	if len(entries) == 0 {
		return
	}

	results := make([]poolentry.TestResult, len(entries))
	var wg sync.WaitGroup
	sem := make(chan struct{}, pool.DefaultConcurrency)
	for i, e := range entries {
		wg.Add(1)
		go func(i int, e *poolentry.Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = prober.ProbeHealthCheck(ctx, e, opts.ProbeOptions)
		}(i, e)
	}
	wg.Wait()

	byID := make(map[string]*poolentry.Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var evicted []string
	for _, r := range results {
		e, ok := byID[r.EntryID]
		if !ok {
			continue
		}
		if r.Success {
			e.ApplySuccess(r.LatencyMs)
			continue
		}
		e.FailCount++
		e.Status = poolentry.Failed
		if e.FailCount >= maxFailures {
			evicted = append(evicted, e.ID)
		}
	}

	for _, id := range evicted {
		delete(byID, id)
	}
	p.ReplaceAll(mapValues(byID))

	if len(evicted) > 0 {
		log.Printf("healthcheck: evicted %d entr(ies) after %d consecutive failures", len(evicted), maxFailures)
	}

	if opts.ProxyFile == "" {
		return
	}
	survivors := p.GetAll()
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].LatencyMs == survivors[j].LatencyMs {
			return survivors[i].ID < survivors[j].ID
		}
		return survivors[i].LatencyMs < survivors[j].LatencyMs
	})
	if err := persistence.Save(opts.ProxyFile, survivors); err != nil {
		log.Printf("healthcheck: persist failed: %v", err)
	}
}

func mapValues(m map[string]*poolentry.Entry) []*poolentry.Entry {
	out := make([]*poolentry.Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	return out
}
