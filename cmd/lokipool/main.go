// Command lokipool starts the SOCKS5 proxy pool front-end: it loads the
// pool from config/disk, probes it, starts the health-check loop (and the
// optional auto-switch loop), brings up the listener, and drives an
// interactive REPL on stdin — wiring adapted from original_source's
// main.rs (signal::ctrl_c() raced against the REPL's quit command, a
// bounded drain on shutdown) into the teacher's flag-based cmd/ layout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkaranja/lokipool/internal/healthcheck"
	"github.com/mkaranja/lokipool/internal/persistence"
	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/poolentry"
	"github.com/mkaranja/lokipool/internal/prober"
	"github.com/mkaranja/lokipool/internal/proxyserver"
	"github.com/mkaranja/lokipool/internal/repl"
	"github.com/mkaranja/lokipool/pkg/banner"
	"github.com/mkaranja/lokipool/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	banner.Print()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("failed to load config, using defaults: %v", err)
		cfg = config.Default()
	}

	probeOpts := prober.Options{
		Timeout:   time.Duration(cfg.Proxy.TestTimeout) * time.Second,
		CanaryURL: firstOrDefault(cfg.TestURLs, config.DefaultCanaryURL),
	}

	p := pool.New(probeOpts)
	seedPool(p, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Printf("probing %d upstream(s)...", len(p.GetAll()))
	results := p.TestAll(ctx)
	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	log.Printf("probe complete: %d/%d upstream(s) reachable", successCount, len(results))

	srv := proxyserver.New(p)

	var wg waitGroup

	wg.Go(func() {
		healthcheck.Loop(ctx, p, srv.Done(), healthcheck.Options{
			Interval:     time.Duration(cfg.Proxy.HealthCheckInterval) * time.Second,
			MaxFailures:  cfg.Proxy.RetryTimes,
			ProxyFile:    cfg.Proxy.ProxyFile,
			ProbeOptions: probeOpts,
		})
	})

	if cfg.Proxy.AutoSwitch {
		wg.Go(func() {
			runAutoSwitch(p, srv.Done(), time.Duration(cfg.Proxy.SwitchInterval)*time.Second)
		})
	}

	bindAddr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.BindPort)
	serveErrCh := make(chan error, 1)
	wg.Go(func() {
		serveErrCh <- srv.Serve(ctx, bindAddr)
	})
	// Give Serve a moment to fail fast on bind errors before announcing.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-serveErrCh:
		if err != nil {
			log.Printf("fatal: %v", err)
			return 1
		}
	default:
		banner.PrintListenerStatus(bindAddr)
	}

	console := repl.New(p, os.Stdin, os.Stdout)
	console.ProbeOptions = probeOpts
	go console.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("received shutdown signal, shutting down...")
	case <-console.Quit:
		log.Println("quit requested, shutting down...")
	case err := <-serveErrCh:
		if err != nil {
			log.Printf("fatal: %v", err)
			return 1
		}
	}

	cancel()
	srv.Shutdown()
	wg.WaitTimeout(proxyserver.DefaultDrainTimeout + time.Second)

	log.Println("shutdown complete")
	return 0
}

// seedPool installs every [[proxies]] entry from config, then any
// addresses recovered from the on-disk proxy file not already present.
func seedPool(p *pool.Pool, cfg config.Config) {
	seen := make(map[string]bool)
	for _, pc := range cfg.Proxies {
		e := poolentry.New(pc.Host, pc.Port, pc.Username, pc.Password, pc.Location)
		if err := p.Add(e); err != nil {
			log.Printf("seed pool: %v", err)
			continue
		}
		seen[e.Address()] = true
	}

	if cfg.Proxy.ProxyFile == "" {
		return
	}
	addrs, err := persistence.Load(cfg.Proxy.ProxyFile)
	if err != nil {
		log.Printf("load proxy file %s: %v", cfg.Proxy.ProxyFile, err)
		return
	}
	for _, a := range addrs {
		e := poolentry.New(a.Host, a.Port, "", "", "")
		if seen[e.Address()] {
			continue
		}
		if err := p.Add(e); err != nil {
			log.Printf("seed pool from file: %v", err)
			break
		}
		seen[e.Address()] = true
	}
}

// runAutoSwitch advances the rotation cursor on a fixed interval when
// proxy.auto_switch is enabled (spec §6's auto_switch/switch_interval
// keys, supplemented since spec.md's base contract only specifies
// rotation via the explicit `next` command).
func runAutoSwitch(p *pool.Pool, done <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = time.Duration(config.DefaultSwitchIntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if e := p.Next(); e != nil {
				log.Printf("auto-switch: now using %s", e.Address())
			}
		}
	}
}

func firstOrDefault(urls []string, def string) string {
	if len(urls) > 0 && urls[0] != "" {
		return urls[0]
	}
	return def
}

// waitGroup is a tiny sync.WaitGroup substitute that supports a bounded wait,
// used so shutdown never blocks forever on a stuck background task
// (mirrors proxyserver's own drain-timeout pattern).
type waitGroup struct {
	done []chan struct{}
}

func (w *waitGroup) Go(fn func()) {
	ch := make(chan struct{})
	w.done = append(w.done, ch)
	go func() {
		defer close(ch)
		fn()
	}()
}

func (w *waitGroup) WaitTimeout(timeout time.Duration) {
	deadline := time.After(timeout)
	for _, ch := range w.done {
		select {
		case <-ch:
		case <-deadline:
			return
		}
	}
}
