// Package connectivity runs a coarse network reachability probe. The SDK
// uses it to distinguish "the service rejected us" from "we are offline",
// and to re-trigger fetch and stream reopen the moment the network comes
// back.
package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultInterval = 30 * time.Second
	dialTimeout     = 5 * time.Second

	// probeAddr is a well-known reachable endpoint; the probe only cares
	// whether a TCP dial succeeds, not what answers.
	probeAddr = "cloud.ibm.com:443"
)

// CheckFunc reports whether the network is currently reachable.
type CheckFunc func(ctx context.Context) bool

func dialCheck(ctx context.Context) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", probeAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Probe polls reachability on a fixed interval and invokes a callback on
// every down-to-up transition.
type Probe struct {
	check    CheckFunc
	interval time.Duration
	onUp     func()
	log      zerolog.Logger

	up atomic.Bool
}

// Option customizes a Probe.
type Option func(*Probe)

// WithCheckFunc replaces the reachability check.
func WithCheckFunc(check CheckFunc) Option {
	return func(p *Probe) { p.check = check }
}

// WithInterval overrides the polling interval.
func WithInterval(d time.Duration) Option {
	return func(p *Probe) { p.interval = d }
}

// NewProbe creates a probe that calls onUp on each down-to-up transition.
// The probe starts optimistic: it assumes the network is up until a check
// says otherwise, so a healthy start never fires onUp.
func NewProbe(onUp func(), log zerolog.Logger, opts ...Option) *Probe {
	p := &Probe{
		check:    dialCheck,
		interval: defaultInterval,
		onUp:     onUp,
		log:      log.With().Str("component", "connectivity").Logger(),
	}
	p.up.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Up reports the last observed reachability state.
func (p *Probe) Up() bool { return p.up.Load() }

// Run polls until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.poll(ctx)
		}
	}
}

func (p *Probe) poll(ctx context.Context) {
	reachable := p.check(ctx)
	wasUp := p.up.Swap(reachable)
	switch {
	case reachable && !wasUp:
		p.log.Info().Msg("network connectivity restored")
		if p.onUp != nil {
			p.onUp()
		}
	case !reachable && wasUp:
		p.log.Warn().Msg("network connectivity lost")
	}
}
