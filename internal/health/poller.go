package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tomasvik/docpipe/internal/common"
)

// Pinger is the probe target, typically the inference client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Poller probes the inference service on a fixed interval, independent of
// whether the pipeline is running. Hosts read Up() to decorate their status
// output; the pipeline itself never consults it.
type Poller struct {
	cfg     common.HealthConfig
	pinger  Pinger
	logger  *slog.Logger
	up      atomic.Bool
	onState func(up bool) // optional, invoked on every probe result
}

func NewPoller(cfg common.HealthConfig, pinger Pinger, onState func(bool), logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Poller{cfg: cfg, pinger: pinger, logger: logger, onState: onState}
}

// Up reports the result of the most recent probe.
func (p *Poller) Up() bool { return p.up.Load() }

// Run probes immediately, then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.probe(ctx)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Poller) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	err := p.pinger.Ping(probeCtx)
	up := err == nil
	was := p.up.Swap(up)
	if up != was {
		if up {
			p.logger.Info("inference_reachable")
		} else {
			p.logger.Warn("inference_unreachable", "error", err)
		}
	}
	if p.onState != nil {
		p.onState(up)
	}
}
