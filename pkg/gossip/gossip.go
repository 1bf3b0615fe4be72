// Package gossip drives eventual convergence of beacon state across
// peers. The coordinator periodically broadcasts the local snapshot and
// merges whatever arrives; because merge is idempotent and
// order-insensitive, every exchange is safe to duplicate, reorder, or
// abandon mid-flight.
package gossip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaincast/chaincast/pkg/beacon"
	"github.com/chaincast/chaincast/pkg/metrics"
	"github.com/chaincast/chaincast/pkg/types"
)

// Transport delivers opaque beacon payloads to peers. No ordering,
// delivery, or dedup guarantees are expected; retries are the
// transport's own business.
type Transport interface {
	Broadcast(ctx context.Context, payload []byte) error
}

// Config configures a Coordinator.
type Config struct {
	State     *beacon.State
	Transport Transport
	// Interval between full-snapshot broadcasts. Zero means the
	// default of 5 seconds.
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// OnUpdate, if set, is called with the publishers whose entries
	// changed after an inbound merge. Peers use it to chase new heads.
	OnUpdate func(updated []types.PublisherID)
}

// Coordinator owns the gossip loop of one peer.
type Coordinator struct {
	state     *beacon.State
	transport Transport
	interval  time.Duration
	log       *slog.Logger
	metrics   *metrics.Metrics
	onUpdate  func([]types.PublisherID)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.State == nil {
		return nil, fmt.Errorf("gossip: state must not be nil")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("gossip: transport must not be nil")
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		state:     cfg.State,
		transport: cfg.Transport,
		interval:  cfg.Interval,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		onUpdate:  cfg.OnUpdate,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the periodic broadcast loop. Returns immediately.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()
			for {
				select {
				case <-c.ctx.Done():
					return
				case <-ticker.C:
					c.broadcastSnapshot()
				}
			}
		}()
	})
}

// Stop cancels the loop and waits for it to finish.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
}

func (c *Coordinator) broadcastSnapshot() {
	snapshot := c.state.Snapshot()
	if len(snapshot) == 0 {
		return
	}
	if err := c.transport.Broadcast(c.ctx, beacon.EncodeEntries(snapshot)); err != nil {
		c.log.Debug("snapshot broadcast failed", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.GossipRoundsTotal.Inc()
	}
}

// Announce broadcasts a single freshly-published entry right away,
// without waiting for the next snapshot round.
func (c *Coordinator) Announce(entry beacon.Entry) error {
	payload := beacon.EncodeEntries([]beacon.Entry{entry})
	if err := c.transport.Broadcast(c.ctx, payload); err != nil {
		return fmt.Errorf("announce entry: %w", err)
	}
	return nil
}

// HandleReceive decodes an inbound payload and merges it. Malformed
// payloads are an error; stale or duplicate entries are not.
func (c *Coordinator) HandleReceive(payload []byte) error {
	entries, err := beacon.DecodeEntries(payload)
	if err != nil {
		return fmt.Errorf("decode gossip payload: %w", err)
	}

	updated := c.state.Merge(entries)
	if c.metrics != nil {
		c.metrics.MergesAppliedTotal.Add(float64(len(updated)))
		c.metrics.MergesStaleTotal.Add(float64(len(entries) - len(updated)))
	}
	if len(updated) > 0 {
		c.log.Debug("merged beacon entries", "updated", len(updated))
		if c.onUpdate != nil {
			c.onUpdate(updated)
		}
	}
	return nil
}
