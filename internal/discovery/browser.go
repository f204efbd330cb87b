package discovery

import (
	"context"
	"fmt"
	"maps"
	"net"
	"slices"
	"sync/atomic"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Default browse parameters for Powersensor plugs.
const (
	DefaultService = "_powersensor._udp"
	DefaultDomain  = "local."
)

// Sink receives raw service notifications. *Adapter implements it.
type Sink interface {
	Add(svc Service)
	Update(svc Service)
	Remove(name string)
}

// BrowserConfig selects what to browse and where.
type BrowserConfig struct {
	Service   string
	Domain    string
	Interface string // empty browses every interface

	// RetryMin and RetryMax bound the delay before a failed browse is
	// restarted. The delay doubles after each failure.
	RetryMin time.Duration
	RetryMax time.Duration

	// AddressMaxAge drops an address that has not been announced for this
	// long, letting a plug that changed address move to the new one.
	AddressMaxAge time.Duration
}

// Browse defaults.
const (
	DefaultRetryMin      = time.Second
	DefaultRetryMax      = time.Minute
	DefaultAddressMaxAge = 10 * time.Minute
)

// browseFunc matches zeroconf.Browse.
type browseFunc func(ctx context.Context, service, domain string, entries, removed chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// Browser runs an mDNS browse and feeds a Sink.
type Browser struct {
	cfg    BrowserConfig
	sink   Sink
	logger Logger
	browse browseFunc
	now    func() time.Time

	restarts atomic.Uint64
}

// NewBrowser creates a Browser. Zero fields fall back to the Powersensor
// defaults.
func NewBrowser(cfg BrowserConfig, sink Sink, logger Logger) *Browser {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.RetryMin <= 0 {
		cfg.RetryMin = DefaultRetryMin
	}
	if cfg.RetryMax < cfg.RetryMin {
		cfg.RetryMax = max(DefaultRetryMax, cfg.RetryMin)
	}
	if cfg.AddressMaxAge <= 0 {
		cfg.AddressMaxAge = DefaultAddressMaxAge
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Browser{cfg: cfg, sink: sink, logger: logger, browse: zeroconf.Browse, now: time.Now}
}

// Restarts returns how many times the browse has been restarted.
func (b *Browser) Restarts() uint64 {
	return b.restarts.Load()
}

// Run browses until ctx is cancelled. A browse that fails or ends early is
// restarted after a backoff; services already seen stay tracked across
// restarts.
//
// Returns:
//   - error: always nil; browse failures are logged and retried
func (b *Browser) Run(ctx context.Context) error {
	b.logger.Info("browsing for plugs", "service", b.cfg.Service, "domain", b.cfg.Domain)

	t := newTracker(b.sink, b.cfg.AddressMaxAge, b.now)
	delay := b.cfg.RetryMin
	for {
		started := b.now()
		err := b.browseOnce(ctx, t)
		if ctx.Err() != nil {
			return nil
		}

		// A session that stayed up longer than the longest delay was healthy.
		if b.now().Sub(started) > b.cfg.RetryMax {
			delay = b.cfg.RetryMin
		}
		b.restarts.Add(1)
		if err != nil {
			b.logger.Warn("mDNS browse failed, restarting", "error", err, "retry_in", delay)
		} else {
			b.logger.Warn("mDNS browse ended, restarting", "retry_in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay = min(delay*2, b.cfg.RetryMax)
	}
}

// browseOnce runs one browse session. zeroconf closes both channels when
// the session ends; entries are drained until then so it never blocks.
func (b *Browser) browseOnce(ctx context.Context, t *tracker) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- b.browse(ctx, b.cfg.Service, b.cfg.Domain, entries, removed, b.options()...)
	}()

	for {
		select {
		case err := <-browseErr:
			if err != nil {
				return fmt.Errorf("browsing %s: %w", b.cfg.Service, err)
			}
			return nil

		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if ctx.Err() == nil {
				t.announce(serviceFromEntry(entry))
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if ctx.Err() == nil {
				t.goodbye(entry.Instance)
			}
		}
	}
}

func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.cfg.Interface != "" {
		iface, err := net.InterfaceByName(b.cfg.Interface)
		if err != nil {
			b.logger.Warn("discovery interface not found, browsing all", "interface", b.cfg.Interface, "error", err)
			return nil
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}
	return opts
}

func serviceFromEntry(entry *zeroconf.ServiceEntry) Service {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)

	return Service{
		Name:      entry.Instance,
		HostName:  entry.HostName,
		Addresses: addrs,
		Port:      entry.Port,
		Text:      ParseText(entry.Text),
	}
}

// tracker turns the browse stream into add, update, and remove calls.
//
// zeroconf reports each packet's address set on its own, so a plug heard
// on two interfaces alternates between sets. Addresses are merged per
// service instead, keeping their first-seen order so the preferred
// address stays put while it is still announced. An address not heard
// for maxAge is dropped. A removal from zeroconf covers the whole
// instance.
type tracker struct {
	sink     Sink
	maxAge   time.Duration
	now      func() time.Time
	services map[string]*trackedService
}

type trackedService struct {
	svc      Service
	lastSeen map[string]time.Time // per address
}

func newTracker(sink Sink, maxAge time.Duration, now func() time.Time) *tracker {
	if now == nil {
		now = time.Now
	}
	return &tracker{sink: sink, maxAge: maxAge, now: now, services: make(map[string]*trackedService)}
}

func (t *tracker) announce(svc Service) {
	now := t.now()
	cur, known := t.services[svc.Name]
	if !known {
		cur = &trackedService{svc: svc, lastSeen: make(map[string]time.Time)}
		cur.svc.Addresses = mergeAddresses(nil, svc.Addresses)
		cur.stamp(svc.Addresses, now)
		t.services[svc.Name] = cur
		t.sink.Add(cur.snapshot())
		return
	}

	prev := cur.svc
	next := svc
	if svc.HostName != prev.HostName {
		// A different host record means the old addresses describe another
		// machine.
		cur.lastSeen = make(map[string]time.Time)
		next.Addresses = mergeAddresses(nil, svc.Addresses)
	} else {
		next.Addresses = mergeAddresses(prev.Addresses, svc.Addresses)
	}
	cur.stamp(svc.Addresses, now)
	next.Addresses = cur.prune(next.Addresses, now.Add(-t.maxAge))
	cur.svc = next

	if !sameService(prev, next) {
		t.sink.Update(cur.snapshot())
	}
}

func (t *tracker) goodbye(name string) {
	delete(t.services, name)
	t.sink.Remove(name)
}

func (ts *trackedService) stamp(addrs []net.IP, now time.Time) {
	for _, ip := range addrs {
		ts.lastSeen[ip.String()] = now
	}
}

// prune drops addresses last seen before cutoff.
func (ts *trackedService) prune(addrs []net.IP, cutoff time.Time) []net.IP {
	out := addrs[:0:0]
	for _, ip := range addrs {
		key := ip.String()
		if ts.lastSeen[key].Before(cutoff) {
			delete(ts.lastSeen, key)
			continue
		}
		out = append(out, ip)
	}
	return out
}

func (ts *trackedService) snapshot() Service {
	svc := ts.svc
	svc.Addresses = slices.Clone(ts.svc.Addresses)
	svc.Text = maps.Clone(ts.svc.Text)
	return svc
}

// mergeAddresses appends the addresses in add that are not already in
// existing, preserving order.
func mergeAddresses(existing, add []net.IP) []net.IP {
	out := slices.Clone(existing)
	seen := make(map[string]bool, len(existing)+len(add))
	for _, ip := range existing {
		seen[ip.String()] = true
	}
	for _, ip := range add {
		key := ip.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ip)
	}
	return out
}

// sameService reports whether two announcements resolve to the same plug
// location. Addresses other than the preferred one do not count.
func sameService(a, b Service) bool {
	if a.Port != b.Port || a.HostName != b.HostName {
		return false
	}
	if !maps.Equal(a.Text, b.Text) {
		return false
	}
	return preferredAddress(a.Addresses) == preferredAddress(b.Addresses)
}
