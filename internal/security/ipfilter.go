package security

import (
	"fmt"
	"net/netip"
	"strings"
	"sync/atomic"
)

type networkLists struct {
	blocked []netip.Prefix
	allowed []netip.Prefix
}

// IPFilter applies blocked and allowed networks. A blocked match always wins;
// an empty allow list admits everyone else.
type IPFilter struct {
	lists atomic.Pointer[networkLists]
}

func NewIPFilter(blocked, allowed []string) (*IPFilter, error) {
	f := &IPFilter{}
	if err := f.Update(blocked, allowed); err != nil {
		return nil, err
	}
	return f, nil
}

// Update replaces both lists atomically. On error the old lists stay active.
func (f *IPFilter) Update(blocked, allowed []string) error {
	b, err := ParseNetworks(blocked)
	if err != nil {
		return fmt.Errorf("blocked networks: %w", err)
	}
	a, err := ParseNetworks(allowed)
	if err != nil {
		return fmt.Errorf("allowed networks: %w", err)
	}
	f.lists.Store(&networkLists{blocked: b, allowed: a})
	return nil
}

func (f *IPFilter) Allowed(ip string) bool {
	lists := f.lists.Load()
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return len(lists.allowed) == 0
	}
	addr = addr.Unmap()

	for _, p := range lists.blocked {
		if p.Contains(addr) {
			return false
		}
	}
	if len(lists.allowed) == 0 {
		return true
	}
	for _, p := range lists.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseNetworks accepts CIDR prefixes and bare addresses, which become /32 or /128.
func ParseNetworks(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
