// Package zeroconf advertises the pulsemix status API over mDNS/DNS-SD and
// finds other daemons on the LAN.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD type the status API is published under.
const ServiceType = "_pulsemix._tcp"

const domain = "local."

// Service advertises one daemon.
type Service struct {
	name string // instance name, usually the hostname
	port int
	txt  []string
}

// New returns a Service for port with TXT records such as "mode=running".
func New(name string, port int, txt ...string) *Service {
	return &Service{name: name, port: port, txt: txt}
}

// TXT returns the records the service advertises.
func (s *Service) TXT() []string { return s.txt }

// Start registers the service and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.port <= 0 || s.port > 65535 {
		return fmt.Errorf("zeroconf: invalid port %d", s.port)
	}
	server, err := zeroconf.Register(s.name, ServiceType, domain, s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service", "name", s.name, "type", ServiceType, "port", s.port, "txt", s.txt)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

// Peer is a daemon found by Browse.
type Peer struct {
	Instance string
	Host     string
	Addrs    []string
	Port     int
	TXT      map[string]string
}

// Browse collects the daemons that answer until ctx is done, sorted by instance.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("zeroconf resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("zeroconf browse: %w", err)
	}

	seen := map[string]Peer{}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return sortPeers(seen), nil
			}
			if e != nil {
				p := peerFromEntry(e)
				seen[p.Instance] = p
			}
		case <-ctx.Done():
			return sortPeers(seen), nil
		}
	}
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	p := Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		TXT:      ParseTXT(e.Text),
	}
	for _, ip := range e.AddrIPv4 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		p.Addrs = append(p.Addrs, ip.String())
	}
	return p
}

// ParseTXT splits key=value records. A record without '=' maps to "".
func ParseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			m[k] = v
		}
	}
	return m
}

func sortPeers(m map[string]Peer) []Peer {
	out := make([]Peer, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
