// Package prober implements background link reachability checking over a
// bounded worker pool. Probes are independent per link: one link's timeout
// never delays another's, and no probe result is ever cached — every probe is
// a fresh network attempt.
package prober

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jinresearch/linkbeacon/internal/links"
	"github.com/jinresearch/linkbeacon/internal/metrics"
)

// Config controls pool sizing and the per-probe budget.
type Config struct {
	Concurrency int
	QueueDepth  int
	Timeout     time.Duration
}

const (
	defaultConcurrency = 8
	defaultQueueDepth  = 64
	defaultTimeout     = 3 * time.Second
)

type job struct {
	identity links.Identity
	done     chan links.ProbeOutcome
}

// Prober dispatches probe requests to a fixed pool of workers and tracks the
// latest status per link. The status map has a single writer per link: the
// most recent probe for that identity.
type Prober struct {
	fetcher links.Fetcher
	cfg     Config
	logger  *zap.Logger

	jobs     chan job
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu       sync.RWMutex
	statuses map[links.Identity]links.HealthStatus
}

// New builds a Prober and starts its workers.
func New(fetcher links.Fetcher, cfg Config, logger *zap.Logger) *Prober {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Prober{
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(chan job, cfg.QueueDepth),
		statuses: make(map[links.Identity]links.HealthStatus),
	}
	p.wg.Add(cfg.Concurrency)
	for i := 0; i < cfg.Concurrency; i++ {
		go p.worker()
	}
	return p
}

// Probe performs a fresh reachability check for rawURL and returns the
// resulting status. Invalid URLs classify as unreachable. If ctx finishes
// before a worker delivers the result, the probe continues in the background
// and Checking is returned; the caller never blocks past its own deadline.
func (p *Prober) Probe(ctx context.Context, rawURL string) links.ProbeOutcome {
	identity, err := links.Normalize(rawURL)
	if err != nil {
		return links.ProbeOutcome{Status: links.StatusUnreachable}
	}

	p.setStatus(identity, links.StatusChecking)
	j := job{identity: identity, done: make(chan links.ProbeOutcome, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return links.ProbeOutcome{Status: links.StatusChecking}
	}

	select {
	case out := <-j.done:
		return out
	case <-ctx.Done():
		return links.ProbeOutcome{Status: links.StatusChecking}
	}
}

// Status reports the last known status for rawURL without probing. Links
// never probed report Checking.
func (p *Prober) Status(rawURL string) links.HealthStatus {
	identity, err := links.Normalize(rawURL)
	if err != nil {
		return links.StatusUnreachable
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st, ok := p.statuses[identity]; ok {
		return st
	}
	return links.StatusChecking
}

// Stop drains the pool. Probe must not be called after Stop.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

func (p *Prober) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		out := p.perform(j.identity)
		p.setStatus(j.identity, out.Status)
		metrics.ObserveProbe(string(out.Status))
		j.done <- out
	}
}

func (p *Prober) perform(identity links.Identity) links.ProbeOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), 2*p.cfg.Timeout)
	defer cancel()

	res, err := p.fetcher.Probe(ctx, links.FetchRequest{URL: identity.String(), Timeout: p.cfg.Timeout})
	if err != nil {
		out := links.ProbeOutcome{Status: links.StatusUnreachable}
		if fe, ok := links.AsFetchError(err); ok {
			out.StatusCode = fe.StatusCode
			if fe.Kind == links.KindHTTPStatus && fe.StatusCode < 400 {
				out.Status = links.StatusReachable
			}
		}
		p.logger.Debug("probe failed", zap.String("url", identity.String()), zap.Error(err))
		return out
	}

	metrics.ObserveFetch("probe", res.Duration)
	status := links.StatusReachable
	if res.StatusCode >= 400 {
		status = links.StatusUnreachable
	}
	return links.ProbeOutcome{
		Status:     status,
		StatusCode: res.StatusCode,
		Latency:    res.Duration,
	}
}

func (p *Prober) setStatus(identity links.Identity, status links.HealthStatus) {
	p.mu.Lock()
	p.statuses[identity] = status
	p.mu.Unlock()
}
