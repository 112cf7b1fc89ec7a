package api

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/jmcleod/totpauth/ratelimit"
)

// clientAddr returns the address a request is rate limited and logged
// under. Proxy headers are only believed when the direct peer is a trusted
// proxy, and then X-Forwarded-For and Forwarded are walked from the right:
// the first hop that is not itself a trusted proxy is the client. Anything
// to the left of it was supplied by the client and may be forged.
func clientAddr(r *http.Request, trustedProxies []netip.Prefix) netip.Addr {
	peer, _ := ratelimit.ParseAddr(r.RemoteAddr)
	if !trusted(peer, trustedProxies) {
		return peer
	}

	if addr, ok := rightmostUntrusted(forwardedFor(r.Header.Values("X-Forwarded-For")), trustedProxies); ok {
		return addr
	}
	if addr, ok := rightmostUntrusted(forwardedNodes(r.Header.Values("Forwarded")), trustedProxies); ok {
		return addr
	}
	if addr, ok := ratelimit.ParseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr
	}
	return peer
}

// trusted reports whether addr lies inside one of prefixes.
func trusted(addr netip.Addr, prefixes []netip.Prefix) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// rightmostUntrusted walks hops from the proxy nearest to us outwards.
// Unparsable hops stop the walk: nothing left of them can be attributed.
// When every hop is a trusted proxy the leftmost one is returned.
func rightmostUntrusted(hops []string, trustedProxies []netip.Prefix) (netip.Addr, bool) {
	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := ratelimit.ParseAddr(hops[i])
		if !ok {
			break
		}
		if !trusted(addr, trustedProxies) {
			return addr, true
		}
		last = addr
	}
	return last, last.IsValid()
}

func forwardedFor(values []string) []string {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}
	return hops
}

// forwardedNodes extracts the for= node of every RFC 7239 element.
func forwardedNodes(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			for _, pair := range strings.Split(elem, ";") {
				name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
				if ok && strings.EqualFold(name, "for") {
					hops = append(hops, value)
				}
			}
		}
	}
	return hops
}
