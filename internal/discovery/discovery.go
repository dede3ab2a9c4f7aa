// Package discovery locates the forwarding server over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/rjboer/GoSigGen/internal/connectionmgr"
	"github.com/rjboer/GoSigGen/internal/logging"
)

const (
	// ServiceType is what forwarding servers advertise.
	ServiceType = "_siggen._tcp"
	Domain      = "local."
)

// ErrNotFound is returned when a browse ends without a usable host.
var ErrNotFound = errors.New("no forwarding server found")

// Host is one advertised forwarding server.
type Host struct {
	Instance  string // "siggen on bench"
	Hostname  string // "bench.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns host:port for the first IPv4 address, falling back to the
// first address of any family.
func (h Host) Addr() (string, bool) {
	if h.Port <= 0 || len(h.Addresses) == 0 {
		return "", false
	}
	ip := h.Addresses[0]
	for _, a := range h.Addresses {
		if a.To4() != nil {
			ip = a
			break
		}
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(h.Port)), true
}

// BrowseFunc starts a browse that delivers entries until ctx ends.
// (*zeroconf.Resolver).Browse has this shape.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("resolver error: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// Discover browses for service for the given duration and returns the hosts
// seen, deduplicated by hostname and port and sorted by instance name.
func Discover(ctx context.Context, service string, timeout time.Duration) ([]Host, error) {
	return discover(ctx, zeroconfBrowse, service, timeout)
}

func discover(ctx context.Context, browse BrowseFunc, service string, timeout time.Duration) ([]Host, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(map[string]Host)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				h := fromEntry(e)
				results[fmt.Sprintf("%s|%d", h.Hostname, h.Port)] = h
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := browse(ctx, service, Domain, entries); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("browse error: %w", err)
	}
	<-done

	out := make([]Host, 0, len(results))
	for _, h := range results {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Instance != out[j].Instance {
			return out[i].Instance < out[j].Instance
		}
		return out[i].Port < out[j].Port
	})
	return out, nil
}

func fromEntry(e *zeroconf.ServiceEntry) Host {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Host{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       append([]string{}, e.Text...),
	}
}

// cleanInstance removes zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}

// Pick returns the first host that has a dialable address.
func Pick(hosts []Host) (Host, string, error) {
	for _, h := range hosts {
		if addr, ok := h.Addr(); ok {
			return h, addr, nil
		}
	}
	return Host{}, "", ErrNotFound
}

// Resolver returns a connectionmgr.ResolveFunc that browses on every
// connect attempt, so a server that moved is found again after a drop.
func Resolver(service string, timeout time.Duration, logger logging.Logger) connectionmgr.ResolveFunc {
	return newResolver(zeroconfBrowse, service, timeout, logger)
}

func newResolver(browse BrowseFunc, service string, timeout time.Duration, logger logging.Logger) connectionmgr.ResolveFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context) (string, error) {
		hosts, err := discover(ctx, browse, service, timeout)
		if err != nil {
			return "", err
		}
		host, addr, err := Pick(hosts)
		if err != nil {
			return "", fmt.Errorf("%w: browsed %s for %v", err, service, timeout)
		}
		logger.Info("discovered forwarding server",
			logging.F("addr", addr),
			logging.F("instance", host.Instance),
			logging.F("candidates", len(hosts)),
		)
		return addr, nil
	}
}
