package forwarder

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
)

const reclaimInterval = 50 * time.Millisecond

// dialer caps the number of open gateway sockets across all hosts and caches
// DNS answers for a bounded time.
type dialer struct {
	nd       *net.Dialer
	resolver *net.Resolver
	cache    *expirable.LRU[string, []net.IPAddr]
	sem      *semaphore.Weighted

	// reclaim closes idle pooled sockets so their slots can be reused.
	reclaim func()

	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func newDialer(opts Options) *dialer {
	return &dialer{
		nd:       &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		resolver: net.DefaultResolver,
		cache:    expirable.NewLRU[string, []net.IPAddr](opts.DNSCacheSize, nil, opts.DNSCacheTTL),
		sem:      semaphore.NewWeighted(int64(opts.MaxConns)),
		conns:    make(map[*trackedConn]struct{}),
	}
}

func (d *dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := d.acquire(ctx); err != nil {
		return nil, err
	}
	c, err := d.dial(ctx, network, addr)
	if err != nil {
		d.sem.Release(1)
		return nil, err
	}
	tc := &trackedConn{Conn: c, d: d}
	d.mu.Lock()
	d.conns[tc] = struct{}{}
	d.mu.Unlock()
	return tc, nil
}

// acquire takes a socket slot. While every slot is taken, idle pooled
// sockets are given up so a new host never waits on connections nobody is
// using. Sockets that turn idle during the wait are reclaimed on the next
// round.
func (d *dialer) acquire(ctx context.Context) error {
	for {
		if d.sem.TryAcquire(1) {
			return nil
		}
		if d.reclaim == nil {
			return d.sem.Acquire(ctx, 1)
		}
		d.reclaim()
		wctx, cancel := context.WithTimeout(ctx, reclaimInterval)
		err := d.sem.Acquire(wctx, 1)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *dialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) != nil {
		return d.nd.DialContext(ctx, network, addr)
	}
	ips, err := d.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, ip := range ips {
		c, err := d.nd.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return c, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (d *dialer) lookup(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ips, ok := d.cache.Get(host); ok {
		return ips, nil
	}
	ips, err := d.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	d.cache.Add(host, ips)
	return ips, nil
}

func (d *dialer) active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// closeAll force-closes every socket still open.
func (d *dialer) closeAll() {
	d.mu.Lock()
	conns := make([]*trackedConn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type trackedConn struct {
	net.Conn
	d    *dialer
	once sync.Once
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() {
		c.d.mu.Lock()
		delete(c.d.conns, c)
		c.d.mu.Unlock()
		c.d.sem.Release(1)
	})
	return err
}
