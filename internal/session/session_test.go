package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mkaranja/lokipool/internal/pool"
	"github.com/mkaranja/lokipool/internal/poolentry"
	"github.com/mkaranja/lokipool/internal/prober"
	"github.com/mkaranja/lokipool/internal/wire"
)

// startFakeUpstream accepts one connection, completes a SOCKS5 handshake
// with the given reply code, and if accepted echoes bytes back (standing
// in for the relayed target).
func startFakeUpstream(t *testing.T, replyCode byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if _, err := wire.ReadGreeting(conn); err != nil {
			return
		}
		if err := wire.WriteMethodSelection(conn, wire.MethodNoAuth); err != nil {
			return
		}
		if _, err := wire.ReadRequest(conn); err != nil {
			return
		}
		if err := wire.WriteReply(conn, replyCode); err != nil {
			return
		}
		if replyCode != wire.ReplySuccess {
			return
		}
		io.Copy(conn, conn) // loop back whatever arrives, for the happy path
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func poolWithUpstream(t *testing.T, addr string) *pool.Pool {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	var port int
	for _, c := range portStr {
		port = port*10 + int(c-'0')
	}

	p := pool.New(prober.Options{})
	e := poolentry.New(host, uint16(port), "", "", "")
	e.ApplySuccess(1)
	if err := p.Add(e); err != nil {
		t.Fatalf("add: %v", err)
	}
	return p
}

func TestHandleNoUpstreamRepliesHostUnreachable(t *testing.T) {
	p := pool.New(prober.Options{})
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})

	go Handle(context.Background(), serverConn, p, done)

	if err := wire.WriteGreeting(clientConn, wire.Greeting{Version: wire.Version5, Methods: []byte{wire.MethodNoAuth}}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	sel := make([]byte, 2)
	if _, err := io.ReadFull(clientConn, sel); err != nil {
		t.Fatalf("read method selection: %v", err)
	}

	atyp, addr, _ := wire.EncodeAddr("example.com")
	if err := wire.WriteRequest(clientConn, wire.Request{Command: wire.CmdConnect, Atyp: atyp, Addr: addr, Port: 80}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	hdr, err := wire.ReadReplyHeader(clientConn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if hdr[1] != wire.ReplyHostUnreachable {
		t.Fatalf("expected reply code %d (host unreachable), got %d", wire.ReplyHostUnreachable, hdr[1])
	}
}

func TestHandleHappyPathRelaysBytes(t *testing.T) {
	upstreamAddr := startFakeUpstream(t, wire.ReplySuccess)
	p := poolWithUpstream(t, upstreamAddr)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go Handle(context.Background(), serverConn, p, done)

	if err := wire.WriteGreeting(clientConn, wire.Greeting{Version: wire.Version5, Methods: []byte{wire.MethodNoAuth}}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	sel := make([]byte, 2)
	if _, err := io.ReadFull(clientConn, sel); err != nil {
		t.Fatalf("read method selection: %v", err)
	}
	if sel[1] != wire.MethodNoAuth {
		t.Fatalf("expected no-auth selection, got %x", sel)
	}

	atyp, addr, _ := wire.EncodeAddr("1.2.3.4")
	if err := wire.WriteRequest(clientConn, wire.Request{Command: wire.CmdConnect, Atyp: atyp, Addr: addr, Port: 443}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	hdr, err := wire.ReadReplyHeader(clientConn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if hdr[1] != wire.ReplySuccess {
		t.Fatalf("expected success reply, got code %d", hdr[1])
	}
	if err := wire.DiscardBoundAddr(clientConn, hdr[3]); err != nil {
		t.Fatalf("discard bound addr: %v", err)
	}

	payload := []byte("hello upstream")
	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientConn.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	buf := bufio.NewReader(clientConn)
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(buf, got); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected echo %q, got %q", payload, got)
	}
	clientConn.Close()
}

func TestHandleUpstreamRejectRepliesGeneralFailure(t *testing.T) {
	upstreamAddr := startFakeUpstream(t, wire.ReplyGeneralFailure)
	p := poolWithUpstream(t, upstreamAddr)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go Handle(context.Background(), serverConn, p, done)

	if err := wire.WriteGreeting(clientConn, wire.Greeting{Version: wire.Version5, Methods: []byte{wire.MethodNoAuth}}); err != nil {
		t.Fatalf("write greeting: %v", err)
	}
	sel := make([]byte, 2)
	io.ReadFull(clientConn, sel)

	atyp, addr, _ := wire.EncodeAddr("1.2.3.4")
	wire.WriteRequest(clientConn, wire.Request{Command: wire.CmdConnect, Atyp: atyp, Addr: addr, Port: 443})

	hdr, err := wire.ReadReplyHeader(clientConn)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if hdr[1] != wire.ReplyGeneralFailure {
		t.Fatalf("expected general failure reply, got code %d", hdr[1])
	}

	// The entry must remain Available: session-level failures are not
	// pool-fatal (spec §4.5, §9).
	all := p.GetAll()
	if len(all) != 1 || all[0].Status != poolentry.Available {
		t.Fatalf("expected entry to remain Available after session failure, got %+v", all)
	}
}
