// Package webhook receives push notifications from the Rachio cloud,
// authenticates the sender and routes the decoded events to the owning
// bridge.
package webhook

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPFilter is an allow-list of addresses and CIDR ranges. The zero filter
// matches nothing; a nil filter means "not configured".
type IPFilter struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

// ParseIPFilter parses a semicolon separated list of IP addresses and CIDR
// ranges ("192.168.1.1;10.0.0.0/8"). An empty spec yields a nil filter.
func ParseIPFilter(spec string) (*IPFilter, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	f := &IPFilter{}
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, fmt.Errorf("ip filter entry %q: %w", part, err)
			}
			f.prefixes = append(f.prefixes, p)
			continue
		}
		a, err := netip.ParseAddr(part)
		if err != nil {
			return nil, fmt.Errorf("ip filter entry %q: %w", part, err)
		}
		f.addrs = append(f.addrs, a)
	}
	if len(f.addrs) == 0 && len(f.prefixes) == 0 {
		return nil, nil
	}
	return f, nil
}

// Allow reports whether the address matches the filter.
func (f *IPFilter) Allow(addr netip.Addr) bool {
	if f == nil {
		return false
	}
	addr = addr.Unmap()
	for _, a := range f.addrs {
		if a == addr {
			return true
		}
	}
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
