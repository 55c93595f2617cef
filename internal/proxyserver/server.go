// Package proxyserver binds the listener, accepts connections, spawns a
// session per connection, and coordinates shutdown (spec §4.6), grounded
// on the teacher's accept-loop/connection-tracking style.
package proxyserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/session"
)

// DefaultDrainTimeout bounds how long Shutdown waits for in-flight
// sessions before returning regardless (spec §4.6, §5, §8 scenario 6).
const DefaultDrainTimeout = 3 * time.Second

// Server owns the TCP listener and the set of in-flight session tasks.
type Server struct {
	pool *pool.Pool

	mu       sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	DrainTimeout time.Duration
}

// New creates a server backed by p. The shutdown broadcast channel is
// created empty (open) and is closed exactly once by Shutdown, fanning out
// to the accept loop and every session task (spec §5's single-sender,
// N-receiver broadcast).
func New(p *pool.Pool) *Server {
	return &Server{
		pool:         p,
		done:         make(chan struct{}),
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Done returns the shutdown broadcast channel, for callers (e.g. the
// health-check loop, the auto-switch loop) that need to race their own
// ticks against process shutdown.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown closes the broadcast channel exactly once. Safe to call more
// than once or concurrently.
func (s *Server) Shutdown() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Serve binds bindAddr and runs the accept loop until Shutdown is called
// or ctx is canceled. It blocks until the accept loop exits and all
// in-flight sessions have either finished or the drain timeout elapsed.
func (s *Server) Serve(ctx context.Context, bindAddr string) error {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("proxyserver: listen %s: %w", bindAddr, err)
	}
	defer ln.Close()

	log.Printf("proxyserver: listening on %s", bindAddr)

	go func() {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.waitForDrain()
				return nil
			case <-ctx.Done():
				s.waitForDrain()
				return nil
			default:
				return fmt.Errorf("proxyserver: accept: %w", err)
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session.Handle(ctx, conn, s.pool, s.done)
		}()
	}
}

// waitForDrain waits up to DrainTimeout for outstanding sessions to finish,
// then returns regardless (spec §4.6: "proceeds to process exit
// regardless").
func (s *Server) waitForDrain() {
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	timeout := s.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	select {
	case <-drained:
	case <-time.After(timeout):
		log.Printf("proxyserver: drain timeout (%s) elapsed with sessions still active", timeout)
	}
}
