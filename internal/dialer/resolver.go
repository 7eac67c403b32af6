package dialer

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const lookupTimeout = 10 * time.Second

// resolver caches successful lookups for a fixed TTL and collapses
// concurrent lookups of the same name into one.
type resolver struct {
	cache  *cache.Cache
	group  singleflight.Group
	lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
}

func newResolver(ttl time.Duration) *resolver {
	return &resolver{
		cache:  cache.New(ttl, 2*ttl),
		lookup: net.DefaultResolver.LookupNetIP,
	}
}

func (r *resolver) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	if v, ok := r.cache.Get(host); ok {
		return v.([]netip.Addr), nil
	}

	// The lookup outlives any single caller so that waiters sharing it are
	// not failed by the first caller's cancellation.
	ch := r.group.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		addrs, err := r.lookup(lctx, "ip", host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
		}
		r.cache.SetDefault(host, addrs)
		return addrs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]netip.Addr), nil
	}
}
