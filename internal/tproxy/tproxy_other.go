//go:build !linux

package tproxy

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

// ErrUnsupported is returned on platforms without IP_TRANSPARENT support.
// Implementers on other platforms must provide an equivalent redirection
// mechanism or accept this limitation (§9).
var ErrUnsupported = errors.New("tproxy: IP_TRANSPARENT is only supported on linux")

func Listen(_ context.Context, _ string) (net.Listener, error) {
	return nil, ErrUnsupported
}

func OriginalDestination(_ net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, ErrUnsupported
}

func DialOriginal(ctx context.Context, target netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", target.String())
}

// ShutdownWrite and ShutdownReadWrite fall back to a plain net.Conn Close
// where no half-close primitive is available.
func ShutdownWrite(conn net.Conn) error     { return conn.Close() }
func ShutdownReadWrite(conn net.Conn) error { return conn.Close() }
