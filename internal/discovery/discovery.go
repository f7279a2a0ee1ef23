// Package discovery finds photo-sharing servers advertised over multicast
// DNS, or serves a fixed list from configuration.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType   = "_dpap._tcp"
	DefaultDomain = "local."
	DefaultPort   = 8770
)

// Service is one resolved server.
type Service struct {
	Address          string
	Port             int
	Name             string
	PasswordRequired bool
	MachineID        string
}

// HostPort joins Address and Port for dialing.
func (s Service) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Source yields services until ctx ends or the source is exhausted. The
// returned channel is closed when it is done.
type Source interface {
	Services(ctx context.Context) (<-chan Service, error)
}

// Browser resolves services over mDNS.
type Browser struct {
	ServiceType string
	Domain      string
	log         zerolog.Logger
}

func NewBrowser() *Browser {
	return &Browser{
		ServiceType: ServiceType,
		Domain:      DefaultDomain,
		log:         log.Logger.With().Str("component", "discovery").Logger(),
	}
}

func (b *Browser) Services(ctx context.Context) (<-chan Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, b.ServiceType, b.Domain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse %s: %w", b.ServiceType, err)
	}

	out := make(chan Service)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				svc, ok := FromEntry(e)
				if !ok {
					b.log.Debug().Str("instance", e.Instance).Msg("entry without address")
					continue
				}
				b.log.Debug().Str("name", svc.Name).Str("addr", svc.HostPort()).Bool("password", svc.PasswordRequired).Msg("service resolved")
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// FromEntry converts a resolved mDNS entry. IPv4 addresses are preferred.
func FromEntry(e *zeroconf.ServiceEntry) (Service, bool) {
	if e == nil {
		return Service{}, false
	}
	svc := Service{Name: e.Instance, Port: e.Port}
	switch {
	case len(e.AddrIPv4) > 0:
		svc.Address = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		svc.Address = e.AddrIPv6[0].String()
	case e.HostName != "":
		svc.Address = strings.TrimSuffix(e.HostName, ".")
	default:
		return Service{}, false
	}
	if svc.Port == 0 {
		svc.Port = DefaultPort
	}
	txt := ParseTXT(e.Text)
	svc.PasswordRequired = strings.EqualFold(txt["password"], "true")
	svc.MachineID = txt["machine id"]
	if name := txt["machine name"]; name != "" && svc.Name == "" {
		svc.Name = name
	}
	return svc, true
}

// ParseTXT splits key=value records. Keys are lower-cased.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

// Static is a fixed list of services.
type Static []Service

func (s Static) Services(ctx context.Context) (<-chan Service, error) {
	out := make(chan Service, len(s))
	for _, svc := range s {
		out <- svc
	}
	close(out)
	return out, nil
}

// Collect gathers services from src until timeout or exhaustion.
func Collect(ctx context.Context, src Source, timeout time.Duration) ([]Service, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ch, err := src.Services(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Service
	for svc := range ch {
		key := svc.HostPort() + "|" + svc.Name
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, svc)
	}
	return out, nil
}

// First returns the first service src yields.
func First(ctx context.Context, src Source, timeout time.Duration) (Service, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ch, err := src.Services(ctx)
	if err != nil {
		return Service{}, err
	}
	svc, ok := <-ch
	if !ok {
		return Service{}, ErrNoService
	}
	return svc, nil
}
