// Package health probes configured providers in the background and
// exports their reachability as a Prometheus gauge.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/metrics"
)

const probeTimeout = 10 * time.Second

// Checker runs periodic health probes against every provider in the
// current config snapshot. It is started only when the config's
// check_config block is enabled.
type Checker struct {
	Store  *llmrelay.Store
	Client *http.Client
	Logger *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// Run probes until ctx is done. The endpoint and interval are re-read
// from the snapshot every round, so a config reload takes effect without
// a restart.
func (c *Checker) Run(ctx context.Context) {
	c.seen = make(map[string]bool)
	for {
		cfg := c.Store.Snapshot()
		cc := cfg.CheckConfig
		if cc == nil || !cc.Enabled {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Minute):
			}
			continue
		}

		c.probeAll(ctx, cfg, cc.Endpoint)

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(cc.Interval) * time.Second):
		}
	}
}

func (c *Checker) probeAll(ctx context.Context, cfg *llmrelay.Config, endpoint string) {
	var wg sync.WaitGroup
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.record(p.Name, c.probe(ctx, p, endpoint))
		}()
	}
	wg.Wait()
}

func (c *Checker) probe(ctx context.Context, p *llmrelay.Provider, endpoint string) bool {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, p.Origin()+endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// record updates the gauge and logs reachability transitions, keeping
// steady-state rounds quiet.
func (c *Checker) record(name string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	metrics.ProviderUp.WithLabelValues(name).Set(v)

	c.mu.Lock()
	prev, known := c.seen[name]
	c.seen[name] = up
	c.mu.Unlock()

	if known && prev != up {
		if up {
			c.Logger.Info("provider is back up", "provider", name)
		} else {
			c.Logger.Warn("provider went down", "provider", name)
		}
	}
}
