// Package safehttp provides an HTTP transport for calling user-configured
// URLs without reaching internal addresses.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// ErrPrivateAddress is returned when a dial targets a denied address.
var ErrPrivateAddress = errors.New("access to private IP is denied")

// SafeTransport rejects connections to private, loopback, link-local and
// unspecified addresses to reduce SSRF risk. The address is checked after
// DNS resolution and before the connection is made, so a hostname cannot
// smuggle in an internal IP.
var SafeTransport = NewTransport(5 * time.Second)

// NewTransport returns a transport like SafeTransport with the given dial
// timeout.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
		Control: deny,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// deny runs for every resolved address the dialer tries.
func deny(network, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("failed to parse remote address %q: %w", address, err)
	}
	if Denied(addrPort.Addr()) {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, addrPort.Addr())
	}
	return nil
}

// Denied reports whether addr is off limits.
func Denied(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
