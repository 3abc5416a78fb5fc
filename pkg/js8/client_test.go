// Copyright 2025-2026 Quixote Systems

package js8

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeJS8 is a loopback TCP server standing in for the JS8Call socket API.
// It records every line written to it and can push event lines to all
// connected clients.
type fakeJS8 struct {
	t        *testing.T
	listener net.Listener
	conns    chan net.Conn
	lines    chan string
}

func newFakeJS8(t *testing.T) *fakeJS8 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeJS8{
		t:        t,
		listener: l,
		conns:    make(chan net.Conn, 4),
		lines:    make(chan string, 16),
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			f.conns <- conn
			go func() {
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					f.lines <- scanner.Text()
				}
			}()
		}
	}()
	t.Cleanup(func() { _ = l.Close() })
	return f
}

func (f *fakeJS8) addr() string {
	return f.listener.Addr().String()
}

func (f *fakeJS8) nextConn() net.Conn {
	f.t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("no connection accepted")
		return nil
	}
}

func (f *fakeJS8) nextLine() string {
	f.t.Helper()
	select {
	case l := <-f.lines:
		return l
	case <-time.After(2 * time.Second):
		f.t.Fatal("no line received")
		return ""
	}
}

func connectedClient(t *testing.T) (*Client, *fakeJS8) {
	t.Helper()
	srv := newFakeJS8(t)
	c, err := NewClient(Config{
		ListenTransport: "tcp",
		ListenAddr:      srv.addr(),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewClient(Config{ListenTransport: "serial", ListenAddr: "x"}, zerolog.Nop()); err == nil {
		t.Error("bad transport should be rejected")
	}
	if _, err := NewClient(Config{ListenTransport: "tcp"}, zerolog.Nop()); err == nil {
		t.Error("missing listen_addr should be rejected")
	}
	c, err := NewClient(Config{ListenTransport: "udp", ListenAddr: "127.0.0.1:2242"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("udp config: %v", err)
	}
	if c.cfg.SendAddr != "127.0.0.1:2242" {
		t.Errorf("SendAddr should default to ListenAddr, got %q", c.cfg.SendAddr)
	}
}

func TestReceiveStream(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)

	// First accepted conn is the send link, second the receive stream.
	srv.nextConn()
	rx := srv.nextConn()

	evt := `{"type":"RX.DIRECTED","value":"","params":{"FROM":"EA1ABC","TEXT":"EA1ABC: @ops hi"}}` + "\n"
	evt += "this line is not json\n"
	if _, err := rx.Write([]byte(evt)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case m := <-c.Events():
		if m.Type != TypeRxDirected {
			t.Errorf("type: got %q", m.Type)
		}
		if got := m.Param("FROM"); got != "EA1ABC" {
			t.Errorf("FROM: got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	// The junk line must not surface.
	select {
	case m := <-c.Events():
		t.Errorf("unexpected extra event: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendDirectedWireFormat(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)

	if err := c.SendDirected(context.Background(), "@ea2xyz", "hello"); err != nil {
		t.Fatalf("SendDirected: %v", err)
	}
	var m Message
	if err := json.Unmarshal([]byte(srv.nextLine()), &m); err != nil {
		t.Fatalf("unmarshal sent line: %v", err)
	}
	if m.Type != TypeTxSendMsg {
		t.Errorf("type: got %q", m.Type)
	}
	if m.Value != "EA2XYZ hello" {
		t.Errorf("value: got %q", m.Value)
	}
}

func TestSendFreeWireFormat(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)

	if err := c.SendFree(context.Background(), "CQ de bridge"); err != nil {
		t.Fatalf("SendFree: %v", err)
	}
	var m Message
	if err := json.Unmarshal([]byte(srv.nextLine()), &m); err != nil {
		t.Fatalf("unmarshal sent line: %v", err)
	}
	if m.Type != TypeTxSendMsg || m.Value != "CQ de bridge" {
		t.Errorf("unexpected message: %+v", m)
	}
	if to, _ := m.Params["TO"].(string); to != "@ALLCALL" {
		t.Errorf("TO: got %q", to)
	}
}

func TestSetFrequencyWireFormat(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)

	if err := c.SetFrequency(context.Background(), 7078000, 2000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	line := srv.nextLine()
	if !strings.Contains(line, `"RIG.SET_FREQ"`) || !strings.Contains(line, "7078000") {
		t.Errorf("unexpected wire line: %s", line)
	}
}

func TestProbePassesOnRecentTraffic(t *testing.T) {
	t.Parallel()
	c, _ := connectedClient(t)
	// Connect just stamped lastSeen, so the probe must not block.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Probe(ctx); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestProbeQueriesWhenIdle(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)
	sendConn := srv.nextConn()

	// Pretend the link has been idle far longer than the probe window.
	c.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())

	go func() {
		// Answer the callsign query like JS8Call would.
		srv.nextLine()
		_, _ = sendConn.Write([]byte(`{"type":"STATION.CALLSIGN","value":"30QXT02"}` + "\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Probe(ctx); err != nil {
		t.Errorf("Probe: %v", err)
	}
}

func TestProbeFailsWithoutResponse(t *testing.T) {
	t.Parallel()
	c, _ := connectedClient(t)
	c.lastSeen.Store(time.Now().Add(-time.Minute).UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Probe(ctx); err == nil {
		t.Error("Probe should fail when nothing answers")
	}
}

func TestDoneFiresOnPeerClose(t *testing.T) {
	t.Parallel()
	c, srv := connectedClient(t)
	srv.nextConn().Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done did not fire after peer close")
	}
}

func TestDedupePad(t *testing.T) {
	t.Parallel()
	c := &Client{}
	if got := c.dedupePad("hello"); got != "hello" {
		t.Errorf("fresh text should be unpadded, got %q", got)
	}
	c.lastFreeBase = "hello"
	first := c.dedupePad("hello")
	second := c.dedupePad("hello")
	if first == "hello" || second == "hello" {
		t.Error("repeated text should be padded")
	}
	if first == second {
		t.Error("pad should rotate between repeats")
	}
	if !strings.HasPrefix(first, "hello") {
		t.Errorf("pad should append, got %q", first)
	}
}
