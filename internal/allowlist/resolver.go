// Package allowlist decides whether a caller's IP may use the dispatch
// endpoints, based on a configured list of host names resolved on every call.
package allowlist

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mail-dispatch/internal/metrics"
)

const defaultLookupTimeout = 5 * time.Second

// sentinels allow every caller without consulting DNS.
var sentinels = []string{"ALL", "ANY", "*"}

// HostResolver resolves a host name to IP address strings.
// *net.Resolver satisfies it.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver gates callers on a DNS-backed allow-list. The configured hosts
// are resolved fresh on each call and every address learned is kept in the
// cache for the life of the process.
type Resolver struct {
	raw           string
	hosts         []string
	allowAll      bool
	dns           HostResolver
	cache         *IPSet
	lookupTimeout time.Duration
	log           zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupTimeout bounds each host lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// New creates a Resolver for the raw comma-separated host list. A nil dns
// uses net.DefaultResolver and a nil cache gets a fresh loopback-seeded set.
func New(raw string, dns HostResolver, cache *IPSet, log zerolog.Logger, opts ...Option) *Resolver {
	if dns == nil {
		dns = net.DefaultResolver
	}
	if cache == nil {
		cache = NewIPSet()
	}

	r := &Resolver{
		raw:           raw,
		hosts:         ParseHosts(raw),
		allowAll:      IsSentinel(raw),
		dns:           dns,
		cache:         cache,
		lookupTimeout: defaultLookupTimeout,
		log:           log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseHosts splits raw on commas, trims each entry and drops empty ones.
func ParseHosts(raw string) []string {
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// IsSentinel reports whether raw is one of the allow-everyone values.
func IsSentinel(raw string) bool {
	raw = strings.TrimSpace(raw)
	for _, s := range sentinels {
		if strings.EqualFold(raw, s) {
			return true
		}
	}
	return false
}

// Configured reports whether any host or sentinel is configured.
func (r *Resolver) Configured() bool {
	return len(r.hosts) > 0
}

// Cache returns the shared set of learned addresses.
func (r *Resolver) Cache() *IPSet {
	return r.cache
}

// IsAllowed reports whether callerIP may proceed. An unparseable caller or
// an empty configuration is always denied, loopback included.
func (r *Resolver) IsAllowed(ctx context.Context, callerIP string) bool {
	allowed, reason := r.decide(ctx, callerIP)
	metrics.AllowListDecisionsTotal.WithLabelValues(reason).Inc()

	r.log.Debug().
		Str("caller_ip", callerIP).
		Bool("allowed", allowed).
		Str("reason", reason).
		Msg("allow-list decision")

	return allowed
}

func (r *Resolver) decide(ctx context.Context, callerIP string) (bool, string) {
	if _, ok := canonical(strings.TrimSpace(callerIP)); !ok {
		return false, "invalid_ip"
	}
	if !r.Configured() {
		return false, "not_configured"
	}
	if r.allowAll {
		return true, "allow_all"
	}

	r.refresh(ctx)

	if r.cache.Contains(strings.TrimSpace(callerIP)) {
		return true, "allowed"
	}
	return false, "denied"
}

// refresh resolves every configured host and adds the results to the cache.
// A failing host is logged and skipped; earlier results stay cached.
func (r *Resolver) refresh(ctx context.Context) {
	for _, host := range r.hosts {
		// Literal addresses in the list skip DNS.
		if _, ok := canonical(host); ok {
			r.cache.Add(host)
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		addrs, err := r.dns.LookupHost(lookupCtx, host)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("host", host).Msg("allow-list host lookup failed")
			continue
		}

		for _, addr := range addrs {
			if r.cache.Add(addr) {
				r.log.Info().Str("host", host).Str("ip", addr).Msg("allow-list address learned")
			}
		}
	}
}
