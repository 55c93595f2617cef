package healthcheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/poolentry"
	"github.com/mkaranja/lokipool/internal/prober"
)

func TestRunCycleEvictsAfterMaxFailures(t *testing.T) {
	p := pool.New(prober.Options{})
	bad := poolentry.New("10.0.0.1", 1, "", "", "")
	bad.Status = poolentry.Available
	bad.FailCount = DefaultMaxFailures - 1
	if err := p.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Unreachable port with a tiny timeout makes ProbeHealthCheck fail fast.
	runCycle(context.Background(), p, DefaultMaxFailures, Options{
		ProbeOptions: prober.Options{Timeout: 200 * time.Millisecond},
	})

	all := p.GetAll()
	if len(all) != 0 {
		t.Fatalf("expected entry evicted after reaching max failures, got %+v", all)
	}
}

func TestRunCycleIncrementsFailCountWithoutEviction(t *testing.T) {
	p := pool.New(prober.Options{})
	bad := poolentry.New("10.0.0.1", 1, "", "", "")
	bad.Status = poolentry.Available
	if err := p.Add(bad); err != nil {
		t.Fatalf("add: %v", err)
	}

	runCycle(context.Background(), p, DefaultMaxFailures, Options{
		ProbeOptions: prober.Options{Timeout: 200 * time.Millisecond},
	})

	all := p.GetAll()
	if len(all) != 1 {
		t.Fatalf("expected entry to survive below max failures, got %+v", all)
	}
	if all[0].FailCount != 1 || all[0].Status != poolentry.Failed {
		t.Fatalf("expected fail_count=1 and Failed status, got %+v", all[0])
	}
}

func TestRunCyclePersistsSurvivorsSortedByLatency(t *testing.T) {
	p := pool.New(prober.Options{})
	fast := poolentry.New("10.0.0.1", 1080, "", "", "")
	fast.Status = poolentry.Available
	fast.LatencyMs = 5
	slow := poolentry.New("10.0.0.2", 1080, "", "", "")
	slow.Status = poolentry.Available
	slow.LatencyMs = 50
	p.Add(fast)
	p.Add(slow)

	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")

	// Force both probes to fail (unreachable port) so we don't depend on
	// the network, but keep them below eviction threshold so both persist.
	runCycle(context.Background(), p, 99, Options{
		ProbeOptions: prober.Options{Timeout: 200 * time.Millisecond},
		ProxyFile:    path,
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected persisted content, got empty file")
	}
	if want := "10.0.0.1:1080\n10.0.0.2:1080\n"; string(data) != want {
		t.Fatalf("expected survivors in ascending latency order %q, got %q", want, data)
	}
}

func TestLoopStopsOnDone(t *testing.T) {
	p := pool.New(prober.Options{})
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		Loop(context.Background(), p, done, Options{Interval: 10 * time.Millisecond})
		close(finished)
	}()

	close(done)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("Loop did not stop after done was closed")
	}
}
