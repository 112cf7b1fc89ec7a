// Package ratelimit bounds login attempts per source address.
//
// State is keyed by a 64-bit fingerprint of the caller's IP address: IPv4
// addresses are limited individually, IPv6 callers are grouped by /48 so a
// single allocation cannot rotate through addresses to dodge the limit.
package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Limiter tracks attempts per fingerprint.
//
// Check peeks at the fingerprint's allowance without recording anything.
// Consume records one attempt whether or not Check reported the caller as
// limited, so probing without consuming gains nothing.
type Limiter interface {
	Check(ctx context.Context, fingerprint uint64) (limited bool, err error)
	Consume(ctx context.Context, fingerprint uint64) error
	Close() error
}

// Fingerprint derives the rate-limit key for addr. IPv4 (including
// IPv4-mapped IPv6) maps to the 32-bit address; IPv6 maps to its leading six
// octets. The zero Addr maps to zero.
func Fingerprint(addr netip.Addr) uint64 {
	if !addr.IsValid() {
		return 0
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
	}
	b := addr.As16()
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// ParseAddr accepts the address forms proxies and listeners hand us: a bare
// IP, host:port, [v6]:port, a quoted RFC 7239 node or a zoned IPv6 address.
// The zone is dropped.
func ParseAddr(raw string) (netip.Addr, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone(""), true
}
