package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Config selects the interface and record TTL.
type Config struct {
	// Interface restricts mDNS to one network interface. Empty means all.
	Interface string

	// TTL for advertised records. Zero uses the library default.
	TTL time.Duration

	// ServiceType overrides the DNS-SD service type. Empty means ServiceType.
	ServiceType string

	// Logger for operational messages. Nil uses slog.Default().
	Logger *slog.Logger
}

func (c Config) interfaces() []net.Interface {
	if c.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

func (c Config) serviceType() string {
	if c.ServiceType == "" {
		return ServiceType
	}
	return c.ServiceType
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Advertiser publishes the Anchor service.
type Advertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
	info   AnchorInfo
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config Config) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise starts (or restarts) advertising info.
func (a *Advertiser) Advertise(info AnchorInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.InstanceName(),
		a.config.serviceType(),
		Domain,
		port,
		TXTRecordsToStrings(EncodeAnchorTXT(&info)),
		a.config.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register anchor service: %w", err)
	}

	a.server = server
	a.info = info
	a.config.logger().Info("discovery: advertising", "instance", info.InstanceName(), "port", port)
	return nil
}

// Readvertise restarts the last advertisement, e.g. after a disconnect.
func (a *Advertiser) Readvertise() error {
	a.mu.Lock()
	info := a.info
	active := a.server != nil
	a.mu.Unlock()

	if !active {
		return ErrNotFound
	}
	return a.Advertise(info)
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browser finds Anchors.
type Browser struct {
	config Config
}

// NewBrowser creates a browser.
func NewBrowser(config Config) *Browser {
	return &Browser{config: config}
}

// Browse streams Anchors as they are found. Addresses seen on several
// interfaces are merged into one entry per instance. The channel closes when
// ctx ends.
func (b *Browser) Browse(ctx context.Context) (<-chan *AnchorService, error) {
	out := make(chan *AnchorService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := b.config.interfaces(); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}

	go func() {
		defer close(out)

		seen := make(map[string]*AnchorService)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToAnchor(entry)
				if svc == nil {
					continue
				}
				if existing, found := seen[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				seen[svc.InstanceName] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := zeroconf.Browse(ctx, b.config.serviceType(), Domain, entries, removed, opts...); err != nil {
			b.config.logger().Warn("discovery: browse failed", "error", err)
		}
	}()

	return out, nil
}

// FindAnchor returns the first Anchor for vehicleID exposing serviceUUID.
// Without a deadline on ctx, BrowseTimeout applies.
func (b *Browser) FindAnchor(ctx context.Context, vehicleID, serviceUUID string) (*AnchorService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, fmt.Errorf("%w: vehicle %s", ErrNotFound, vehicleID)
			}
			if svc.Matches(vehicleID, serviceUUID) {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: vehicle %s: %v", ErrNotFound, vehicleID, ctx.Err())
		}
	}
}

// Resolver returns a function suitable for link.TCPDialer.Resolve.
func (b *Browser) Resolver(vehicleID, serviceUUID string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		svc, err := b.FindAnchor(ctx, vehicleID, serviceUUID)
		if err != nil {
			return "", err
		}
		return svc.Addr()
	}
}

func entryToAnchor(entry *zeroconf.ServiceEntry) *AnchorService {
	ips := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	ips = append(ips, entry.AddrIPv4...)
	ips = append(ips, entry.AddrIPv6...)
	return newAnchorService(entry.Instance, entry.HostName, entry.Port, entry.Text, ips)
}

// newAnchorService builds a service from resolved DNS-SD data. It returns
// nil when the TXT records are not an Anchor's.
func newAnchorService(instance, host string, port int, text []string, ips []net.IP) *AnchorService {
	info, err := DecodeAnchorTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil
	}
	info.Port = uint16(port)

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}

	return &AnchorService{
		AnchorInfo:   *info,
		InstanceName: instance,
		Host:         host,
		Addresses:    addrs,
	}
}

// mergeAddresses appends addresses not yet present.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}
