package allowlist

import (
	"net/netip"
	"sort"
	"sync"
)

// LoopbackIP is always present in a new IPSet.
const LoopbackIP = "127.0.0.1"

// IPSet is a grow-only, concurrency-safe set of canonical IP strings.
type IPSet struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

// NewIPSet returns a set seeded with the loopback address and any extra
// seeds. Unparseable seeds are ignored.
func NewIPSet(seeds ...string) *IPSet {
	s := &IPSet{ips: map[string]struct{}{LoopbackIP: {}}}
	for _, ip := range seeds {
		s.Add(ip)
	}
	return s
}

// Add inserts ip in canonical form and reports whether it was new.
func (s *IPSet) Add(ip string) bool {
	key, ok := canonical(ip)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ips[key]; exists {
		return false
	}
	s.ips[key] = struct{}{}
	return true
}

// Contains reports whether ip, in canonical form, is in the set.
func (s *IPSet) Contains(ip string) bool {
	key, ok := canonical(ip)
	if !ok {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.ips[key]
	return exists
}

// Len returns the number of addresses in the set.
func (s *IPSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ips)
}

// Snapshot returns the addresses in sorted order.
func (s *IPSet) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ips))
	for ip := range s.ips {
		out = append(out, ip)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// canonical parses ip and returns its normalized string form. IPv4-mapped
// IPv6 addresses collapse to IPv4 and zones are dropped.
func canonical(ip string) (string, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", false
	}
	return addr.Unmap().WithZone("").String(), true
}
