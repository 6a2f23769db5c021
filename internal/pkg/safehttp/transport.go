// Package safehttp builds HTTP clients for webhook tool servers that refuse
// to reach loopback, private or link-local addresses.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// ErrBlockedAddress is wrapped by every dial refused by a safe client.
var ErrBlockedAddress = errors.New("webhook destination is not a public address")

// Blocked reports whether ip is refused.
func Blocked(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// checkAddress runs after name resolution and before connect, so a hostname
// that resolves to a refused address never opens a socket.
func checkAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || Blocked(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// NewTransport returns a transport that refuses non-public destinations.
// Proxies are ignored since they would hide the real destination.
func NewTransport(dialTimeout time.Duration) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: dialTimeout, Control: checkAddress}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = nil
	t.DialContext = dialer.DialContext
	return t
}

// NewClient returns a client over NewTransport. timeout bounds each request
// and each dial; zero leaves requests unbounded.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: NewTransport(timeout), Timeout: timeout}
}
