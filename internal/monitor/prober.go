package monitor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
)

// Prober answers whether the machine can reach the network at all.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// DNSProber resolves Host; any answer means the network is up.
type DNSProber struct {
	Host     string
	Timeout  time.Duration
	Resolver *net.Resolver
}

func (p DNSProber) Probe(ctx context.Context) error {
	r := p.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if _, err := r.LookupHost(ctx, p.Host); err != nil {
		return fmt.Errorf("%w: %v", common.ErrNoInternet, err)
	}
	return nil
}
