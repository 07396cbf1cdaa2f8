// Package chain implements the Chain Adapter: a failover-aware RPC client
// that turns ticket mint instructions into submitted, confirmed
// transactions. Transport is go-ethereum's generic JSON-RPC client, the
// same library the ticket contract client used for its single-endpoint
// dial; this package generalizes that to a pool of endpoints with health
// tracking, since a production mint path cannot depend on one RPC node.
package chain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pannpers/go-apperr/apperr"
	"github.com/pannpers/go-apperr/apperr/codes"
	"github.com/pannpers/go-logging/logging"
)

// maxConsecutiveFailures is the failure count at which an endpoint is
// marked unhealthy.
const maxConsecutiveFailures = 3

// endpoint wraps one RPC node and its health bookkeeping.
type endpoint struct {
	url                 string
	client              *gethrpc.Client
	healthy             atomic.Bool
	consecutiveFailures atomic.Int32
	lastCheck           atomic.Int64 // unix nanos
	latency             atomic.Int64 // nanos
}

// EndpointPool maintains a priority-ordered list of RPC endpoints,
// preferring the first healthy one, and periodically re-probes unhealthy
// endpoints so a recovered node rejoins rotation without a restart.
type EndpointPool struct {
	logger *logging.Logger

	mu        sync.Mutex
	endpoints []*endpoint

	probeInterval time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

// DialPool connects to every url, eagerly failing dials are recorded as
// unhealthy rather than aborting the pool: a node can come back later.
func DialPool(ctx context.Context, logger *logging.Logger, urls []string, probeInterval time.Duration) (*EndpointPool, error) {
	if len(urls) == 0 {
		return nil, apperr.New(codes.InvalidArgument, "chain: at least one RPC endpoint is required")
	}
	p := &EndpointPool{logger: logger, probeInterval: probeInterval, done: make(chan struct{})}
	for _, u := range urls {
		ep := &endpoint{url: u}
		c, err := gethrpc.DialContext(ctx, u)
		if err != nil {
			logger.Warn(ctx, "chain: initial dial failed, marking unhealthy", slog.String("url", u), slog.Any("error", err))
			ep.healthy.Store(false)
		} else {
			ep.client = c
			ep.healthy.Store(true)
		}
		p.endpoints = append(p.endpoints, ep)
	}

	probeCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.probeLoop(probeCtx)
	return p, nil
}

// Endpoints returns the pool's endpoints in priority order, the first
// being the primary. Used by Execute-style callers that need to attempt
// every endpoint in a single call.
func (p *EndpointPool) Endpoints() []*endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*endpoint(nil), p.endpoints...)
}

// Pick returns the first healthy endpoint. If every endpoint is unhealthy
// it still returns the primary (index 0): a degraded chain is attempted
// rather than refused outright.
func (p *EndpointPool) Pick() (*endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		if ep.healthy.Load() && ep.client != nil {
			return ep, nil
		}
	}
	if p.endpoints[0].client != nil {
		return p.endpoints[0], nil
	}
	return nil, apperr.New(codes.Unavailable, "chain: no RPC endpoint available")
}

// MarkFailure increments ep's consecutive failure count, marking it
// unhealthy once it reaches maxConsecutiveFailures.
func (p *EndpointPool) MarkFailure(ep *endpoint) {
	if ep.consecutiveFailures.Add(1) >= maxConsecutiveFailures {
		ep.healthy.Store(false)
	}
}

// MarkSuccess resets ep's failure count and records its health unchanged
// (it may already be healthy, or this may be a probe restoring it).
func (p *EndpointPool) MarkSuccess(ep *endpoint, latency time.Duration) {
	ep.consecutiveFailures.Store(0)
	ep.latency.Store(int64(latency))
	ep.healthy.Store(true)
}

// probeLoop periodically redials unhealthy endpoints so a recovered node
// rejoins rotation.
func (p *EndpointPool) probeLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

// probeOnce issues a cheap read call against every unhealthy endpoint
// (redialing first if its client was never established) and restores any
// that now respond.
func (p *EndpointPool) probeOnce(ctx context.Context) {
	p.mu.Lock()
	endpoints := append([]*endpoint(nil), p.endpoints...)
	p.mu.Unlock()

	for _, ep := range endpoints {
		if ep.healthy.Load() {
			continue
		}
		ep.lastCheck.Store(time.Now().UnixNano())

		c := ep.client
		if c == nil {
			dialed, err := gethrpc.DialContext(ctx, ep.url)
			if err != nil {
				continue
			}
			c = dialed
		}

		start := time.Now()
		var blockHeight uint64
		if err := c.CallContext(ctx, &blockHeight, "getBlockHeight"); err != nil {
			continue
		}

		p.mu.Lock()
		ep.client = c
		p.mu.Unlock()
		p.MarkSuccess(ep, time.Since(start))
		p.logger.Info(ctx, "chain: endpoint recovered", slog.String("url", ep.url))
	}
}

// Close stops the background prober and closes every live RPC client. It
// is registered with the shutdown manager's drain phase.
func (p *EndpointPool) Close() error {
	p.cancel()
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
		}
	}
	return nil
}
