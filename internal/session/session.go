// Package session implements the per-connection SOCKS5 state machine: it
// terminates a client handshake, picks an upstream from the pool, performs
// the upstream SOCKS5 handshake, and relays bytes full-duplex (spec §4.5).
// Grounded on the teacher's connection-handling style in
// internal/client (accept-and-spawn, io.Copy relay, context-based
// cancellation) generalized from a single fixed upstream to a pool-backed
// selection.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/wire"
)

// ErrNoUpstream names the NoUpstream condition (spec §7) as a typed error.
// Handle does not return it: it reports that condition to the client as
// SOCKS5 reply code 4.
var ErrNoUpstream = errors.New("session: no upstream available")

// EstablishTimeout bounds every step from accept through the RELAY
// transition (spec §5: "Session establishment steps: bounded by a 30s
// overall deadline from accept to RELAY entry").
const EstablishTimeout = 30 * time.Second

// Handle drives one client connection through the full state machine. It
// always closes conn before returning. done is the shutdown broadcast
// channel (closed once, read by every session): if it closes mid-relay,
// both halves are torn down at the next I/O suspension point.
func Handle(ctx context.Context, conn net.Conn, p *pool.Pool, done <-chan struct{}) {
	defer conn.Close()

	establishCtx, cancel := context.WithTimeout(ctx, EstablishTimeout)
	defer cancel()

	if err := conn.SetDeadline(time.Now().Add(EstablishTimeout)); err != nil {
		log.Printf("session: set deadline: %v", err)
		return
	}

	// GREET
	if _, err := wire.ReadGreeting(conn); err != nil {
		log.Printf("session: greet: %v", err)
		return
	}
	if err := wire.WriteMethodSelection(conn, wire.MethodNoAuth); err != nil {
		log.Printf("session: write method selection: %v", err)
		return
	}

	// REQ
	req, err := wire.ReadRequest(conn)
	if err != nil {
		log.Printf("session: request: %v", err)
		return
	}

	// PICK
	upstream := p.GetAvailable()
	if upstream == nil {
		_ = wire.WriteReply(conn, wire.ReplyHostUnreachable)
		log.Printf("session: no upstream available for %s:%d", req.Host, req.Port)
		return
	}

	// DIAL — failure here is session-fatal only; the entry is not evicted,
	// since a mid-session fault may be client-side (spec §4.5, §9 open
	// question resolved in favor of "no pool penalty").
	var d net.Dialer
	upConn, err := d.DialContext(establishCtx, "tcp", upstream.Address())
	if err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: dial upstream %s: %v", upstream.Address(), err)
		return
	}
	defer upConn.Close()
	if err := upConn.SetDeadline(time.Now().Add(EstablishTimeout)); err != nil {
		log.Printf("session: set upstream deadline: %v", err)
		return
	}

	// UP_GREET
	if err := wire.WriteGreeting(upConn, wire.Greeting{Version: wire.Version5, Methods: []byte{wire.MethodNoAuth}}); err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: write upstream greeting: %v", err)
		return
	}
	sel := make([]byte, 2)
	if _, err := io.ReadFull(upConn, sel); err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: read upstream method selection: %v", err)
		return
	}
	if sel[0] != wire.Version5 || sel[1] != wire.MethodNoAuth {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: upstream rejected no-auth: %x", sel)
		return
	}

	// UP_REQ — forward the client's original target verbatim.
	if err := wire.WriteRequest(upConn, req); err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: forward request to upstream: %v", err)
		return
	}
	hdr, err := wire.ReadReplyHeader(upConn)
	if err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: read upstream reply: %v", err)
		return
	}
	if err := wire.DiscardBoundAddr(upConn, hdr[3]); err != nil {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: discard upstream bound addr: %v", err)
		return
	}
	if hdr[1] != wire.ReplySuccess {
		_ = wire.WriteReply(conn, wire.ReplyGeneralFailure)
		log.Printf("session: upstream refused connect to %s:%d: code %d", req.Host, req.Port, hdr[1])
		return
	}

	// RELAY
	if err := wire.WriteReply(conn, wire.ReplySuccess); err != nil {
		log.Printf("session: write success reply: %v", err)
		return
	}
	// Establishment complete: lift the handshake deadline for the
	// potentially long-lived relay phase (spec §5: "Relay itself is
	// unbounded").
	if err := conn.SetDeadline(time.Time{}); err != nil {
		log.Printf("session: clear client deadline: %v", err)
	}
	if err := upConn.SetDeadline(time.Time{}); err != nil {
		log.Printf("session: clear upstream deadline: %v", err)
	}

	relay(conn, upConn, done)
}

// relay runs the two half-duplex copy loops and returns once either
// completes, or the shutdown broadcast fires — whichever comes first.
// Errors here are routine for long-lived tunnels and are only logged, not
// treated as session failures (spec §4.5, §7).
func relay(client, upstream net.Conn, done <-chan struct{}) {
	finished := make(chan struct{}, 2)

	go func() {
		_, err := io.Copy(upstream, client)
		if err != nil {
			log.Printf("session: client->upstream copy ended: %v", err)
		}
		finished <- struct{}{}
	}()
	go func() {
		_, err := io.Copy(client, upstream)
		if err != nil {
			log.Printf("session: upstream->client copy ended: %v", err)
		}
		finished <- struct{}{}
	}()

	select {
	case <-finished:
	case <-done:
	}
}
