package network

import (
	"context"
	"net"
	"time"

	"go.uber.org/multierr"
)

// DefaultDNSServers are used when the config names none.
var DefaultDNSServers = []string{"1.1.1.1", "8.8.8.8"}

const dnsDialTimeout = 5 * time.Second

// NewResolver returns a resolver pinned to explicit DNS servers instead of
// whatever the host's resolv.conf says. Servers are tried in order.
func NewResolver(servers []string) *net.Resolver {
	if len(servers) == 0 {
		servers = DefaultDNSServers
	}
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, netw, _ string) (net.Conn, error) {
			dialer := net.Dialer{Timeout: dnsDialTimeout}
			var errs error
			for _, server := range servers {
				conn, err := dialer.DialContext(ctx, netw, net.JoinHostPort(server, "53"))
				if err == nil {
					return conn, nil
				}
				errs = multierr.Combine(errs, err)
			}
			return nil, errs
		},
	}
}
