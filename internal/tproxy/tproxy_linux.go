//go:build linux

// Package tproxy wraps the Linux IP_TRANSPARENT socket option so the
// recording proxy can bind a single listener that accepts kernel-redirected
// connections whose local address is the connection's original destination
// (§4.B, §9 "TPROXY socket option is OS-specific").
package tproxy

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

// Listen binds a TCP listener on addr with IP_TRANSPARENT and SO_REUSEADDR
// set, so the kernel will deliver connections redirected to it by a TPROXY
// iptables/nftables rule with their original destination address intact.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
				if sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tproxy: listen on %s: %w", addr, err)
	}
	return ln, nil
}

// OriginalDestination returns the connection's original destination address.
// Under IP_TRANSPARENT, the kernel presents this as the accepted socket's own
// local address rather than the proxy's bind address (§4.B.1).
func OriginalDestination(conn net.Conn) (netip.AddrPort, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("tproxy: connection is not a *net.TCPConn")
	}
	addr, ok := tcpConn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("tproxy: local address is not a *net.TCPAddr")
	}
	ap, ok := netip.AddrFromSlice(addr.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("tproxy: could not parse local address %v", addr.IP)
	}
	return netip.AddrPortFrom(ap, uint16(addr.Port)), nil
}

// DialOriginal opens an outbound TCP connection to the original destination,
// used by the recorder to reach the real target (§4.B.2).
func DialOriginal(ctx context.Context, target netip.AddrPort) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, fmt.Errorf("tproxy: dial %s: %w", target, err)
	}
	return conn, nil
}

// ShutdownWrite half-closes conn for writing (SHUT_WR), used when the peer
// on the opposite side of the proxied pair has hit EOF and will never be
// forwarded more data (§4.B.4).
func ShutdownWrite(conn net.Conn) error {
	return shutdown(conn, unix.SHUT_WR)
}

// ShutdownReadWrite fully shuts down conn in both directions (SHUT_RDWR),
// used once the remote side of a connection is known to be finished (§4.B.6).
func ShutdownReadWrite(conn net.Conn) error {
	return shutdown(conn, unix.SHUT_RDWR)
}

func shutdown(conn net.Conn, how int) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return fmt.Errorf("tproxy: connection does not support raw control")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("tproxy: syscall conn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.Shutdown(int(fd), how)
	})
	if err != nil {
		return fmt.Errorf("tproxy: control: %w", err)
	}
	return sockErr
}
