// Copyright 2025-2026 Quixote Systems

package mesh

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"go.bug.st/serial"
)

// DefaultTCPPort is the radio's API port when none is given.
const DefaultTCPPort = "4403"

// serialBaud is fixed by the firmware's serial console.
const serialBaud = 115200

// transport is one physical link to the radio. Both implementations carry
// the same framed byte stream.
type transport interface {
	io.ReadWriteCloser
}

func dialTCP(ctx context.Context, addr string) (transport, error) {
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, DefaultTCPPort)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial radio at %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
	}
	return conn, nil
}

func openSerial(path string) (transport, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: serialBaud})
	if err != nil {
		return nil, fmt.Errorf("open radio serial port %s: %w", path, err)
	}
	return port, nil
}
