// Package chaincast distributes live video as a peer-addressable,
// append-only linked structure. Each segment becomes a content-addressed
// node linking to its temporal predecessor; a small convergent beacon
// state lets peers agree on the current stream head without any central
// coordinator.
package chaincast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaincast/chaincast/internal/keyValStore"
	"github.com/chaincast/chaincast/pkg/beacon"
	"github.com/chaincast/chaincast/pkg/gossip"
	"github.com/chaincast/chaincast/pkg/metrics"
	"github.com/chaincast/chaincast/pkg/nodestore"
	"github.com/chaincast/chaincast/pkg/player"
	"github.com/chaincast/chaincast/pkg/streamindex"
	"github.com/chaincast/chaincast/pkg/types"
)

var (
	ErrNotStarted = errors.New("chaincast: peer not started")
	ErrClosed     = errors.New("chaincast: peer closed")
	ErrNoStream   = errors.New("chaincast: no active stream session")
)

// Config configures a peer.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is the free-space threshold checked at startup.
	MinimumFreeGB int
	// Publisher is this peer's identity for beacon announcements.
	// Peers that only consume can leave it empty.
	Publisher types.PublisherID
	// Transport carries beacon payloads between peers. nil disables
	// gossip; local production and playback still work.
	Transport gossip.Transport
	// GossipInterval between snapshot broadcasts. Zero means 5s.
	GossipInterval time.Duration
	// GCInterval between badger value-log GC cycles. Zero means 5m.
	GCInterval time.Duration
	// Fetcher resolves remote nodes on local store misses. May be nil.
	Fetcher nodestore.Fetcher
	// Logger is an optional structured logger. If nil, a stderr text
	// logger is used.
	Logger *slog.Logger
	// Metrics is optional Prometheus instrumentation.
	Metrics *metrics.Metrics
}

// Peer is the main handle. It owns the node store, the per-stream
// index, the local beacon replica, and the gossip loop.
type Peer struct {
	log    *slog.Logger
	config Config

	kv     *keyValStore.KeyValStore
	store  *nodestore.Store
	beacon *beacon.State
	coord  *gossip.Coordinator

	// production state of the single active stream session
	streamMu sync.Mutex
	index    *streamindex.Index
	setup    *types.SetupNode
	setupRef types.Hash

	gcCancel context.CancelFunc
	gcWG     sync.WaitGroup

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a peer handle. New does not touch the disk or start
// goroutines; call Start.
func New(conf Config) (*Peer, error) {
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	return &Peer{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the store and, when a transport is configured, launches
// the gossip loop. Safe to call more than once; only the first call has
// effect.
func (p *Peer) Start() error {
	var startErr error
	p.startOnce.Do(func() {
		verbose := p.log.Enabled(context.Background(), slog.LevelDebug)

		kvLogger := logrus.New()
		kvLogger.SetLevel(logrus.WarnLevel)
		if verbose {
			kvLogger.SetLevel(logrus.DebugLevel)
		}

		kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
			Paths:            p.config.Paths,
			MinimumFreeSpace: p.config.MinimumFreeGB,
			Logger:           kvLogger,
		})
		if err != nil {
			startErr = fmt.Errorf("open key value store: %w", err)
			return
		}
		if verbose {
			kv.StartTransactionCounter()
		}

		p.kv = kv
		p.startGC()
		p.store = nodestore.New(kv, p.config.Fetcher, p.log)
		p.beacon = beacon.NewState(p.config.Publisher)
		p.index = streamindex.New()

		if p.config.Transport != nil {
			coord, err := gossip.NewCoordinator(gossip.Config{
				State:     p.beacon,
				Transport: p.config.Transport,
				Interval:  p.config.GossipInterval,
				Logger:    p.log,
				Metrics:   p.config.Metrics,
				OnUpdate:  p.onBeaconUpdate,
			})
			if err != nil {
				startErr = err
				return
			}
			p.coord = coord
			p.coord.Start()
		}

		p.started.Store(true)
		p.log.Info("chaincast peer started",
			"publisher", p.config.Publisher.String(),
			"path", p.config.Paths[0])
	})
	return startErr
}

// startGC launches the periodic badger value-log GC goroutine. It runs
// until Close.
func (p *Peer) startGC() {
	interval := p.config.GCInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.gcCancel = cancel
	p.gcWG.Add(1)
	go func() {
		defer p.gcWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.kv.GarbageCollect(); err != nil {
					p.log.Warn("value log gc failed", "error", err)
				}
			}
		}
	}()
}

// Close stops gossip and the GC loop and closes the store. Safe to call
// more than once.
func (p *Peer) Close() error {
	var closeErr error
	p.closeOnce.Do(func() {
		if !p.started.Load() {
			return
		}
		p.started.Store(false)
		if p.coord != nil {
			p.coord.Stop()
		}
		p.gcCancel()
		p.gcWG.Wait()
		closeErr = p.kv.Close()
	})
	return closeErr
}

func (p *Peer) onBeaconUpdate(updated []types.PublisherID) {
	if p.config.Metrics != nil {
		p.config.Metrics.KnownPublishers.Set(float64(len(p.beacon.Publishers())))
	}
	for _, id := range updated {
		if entry, ok := p.beacon.Get(id); ok {
			p.log.Debug("new head announced",
				"publisher", id.String(),
				"clock", entry.Clock,
				"variants", len(entry.VariantHeads))
		}
	}
}

// OnStreamSetup ingests a stream's setup descriptor: it stores the
// initialization payloads, builds and stores the SetupNode, and makes
// it the root of all subsequent variant chains. Starting a new session
// resets the index and heads of the previous one.
func (p *Peer) OnStreamSetup(variants []types.Variant, initSegments map[int][]byte) (types.Hash, error) {
	if !p.started.Load() {
		return types.Hash{}, ErrNotStarted
	}
	if len(variants) == 0 {
		return types.Hash{}, fmt.Errorf("stream setup needs at least one variant")
	}

	setup := &types.SetupNode{
		Variants: variants,
		Init:     make([]types.InitSegment, len(variants)),
	}
	for i := range variants {
		payload, ok := initSegments[i]
		if !ok {
			continue
		}
		addr, chunks, _, err := p.store.PutPayload(payload)
		if err != nil {
			return types.Hash{}, fmt.Errorf("store init segment for variant %d: %w", i, err)
		}
		setup.Init[i] = types.InitSegment{PayloadAddress: addr, PayloadChunks: chunks}
	}

	setupRef, err := p.store.Put(setup)
	if err != nil {
		return types.Hash{}, fmt.Errorf("store setup node: %w", err)
	}

	p.streamMu.Lock()
	p.setup = setup
	p.setupRef = setupRef
	p.index = streamindex.New()
	p.streamMu.Unlock()

	p.log.Info("stream session started",
		"setup", setupRef.String(),
		"variants", len(variants))
	return setupRef, nil
}

// OnNewSegment ingests one produced segment: stores its payload as
// chunks, builds a SegmentNode linked to the variant's previous node
// (or the SetupNode for the first segment), stores it, appends it to
// the stream index, and announces the new head via the beacon.
func (p *Peer) OnNewSegment(variant uint32, start, duration types.Timecode, payload []byte) (types.Hash, error) {
	if !p.started.Load() {
		return types.Hash{}, ErrNotStarted
	}

	p.streamMu.Lock()
	setupRef := p.setupRef
	index := p.index
	p.streamMu.Unlock()

	if setupRef.IsZero() {
		return types.Hash{}, ErrNoStream
	}

	previous, err := index.HeadOf(variant)
	if err != nil {
		if !errors.Is(err, streamindex.ErrEmpty) {
			return types.Hash{}, err
		}
		previous = setupRef
	}

	payloadAddr, chunks, written, err := p.store.PutPayload(payload)
	if err != nil {
		return types.Hash{}, fmt.Errorf("store segment payload: %w", err)
	}

	node := &types.SegmentNode{
		Previous:       previous,
		Variant:        variant,
		Start:          start,
		Duration:       duration,
		PayloadAddress: payloadAddr,
		PayloadChunks:  chunks,
	}
	addr, err := p.store.Put(node)
	if err != nil {
		return types.Hash{}, fmt.Errorf("store segment node: %w", err)
	}

	if err := index.Append(variant, start, duration, addr); err != nil {
		return types.Hash{}, err
	}

	if p.config.Metrics != nil {
		p.config.Metrics.SegmentsStoredTotal.Inc()
		p.config.Metrics.ChunksWrittenTotal.Add(float64(written))
	}

	entry := p.beacon.Publish(setupRef, index.Heads())
	if p.coord != nil {
		if err := p.coord.Announce(entry); err != nil {
			// the next snapshot round re-announces it
			p.log.Debug("head announcement failed", "error", err)
		}
	}

	return addr, nil
}

// Play resolves a timecode to a segment address, preferring the given
// variant and falling back to lower ones.
func (p *Peer) Play(timecode types.Timecode, preferredVariant uint32) (types.Hash, uint32, error) {
	if !p.started.Load() {
		return types.Hash{}, 0, ErrNotStarted
	}
	p.streamMu.Lock()
	index := p.index
	p.streamMu.Unlock()

	return player.New(index, p.store, p.log).Play(timecode, preferredVariant)
}

// Player returns a player bound to the current stream session.
func (p *Peer) Player() *player.Player {
	p.streamMu.Lock()
	index := p.index
	p.streamMu.Unlock()
	return player.New(index, p.store, p.log)
}

// HandleReceive feeds an inbound gossip payload into the local beacon
// replica. Transports that deliver via callback wire this method in.
func (p *Peer) HandleReceive(payload []byte) error {
	if !p.started.Load() {
		return ErrNotStarted
	}
	if p.coord == nil {
		return fmt.Errorf("chaincast: no gossip transport configured")
	}
	return p.coord.HandleReceive(payload)
}

// Beacon exposes the local beacon replica.
func (p *Peer) Beacon() *beacon.State {
	return p.beacon
}

// Store exposes the node store, mainly for integration points and
// tests.
func (p *Peer) Store() *nodestore.Store {
	return p.store
}

// Index exposes the current stream session's index.
func (p *Peer) Index() *streamindex.Index {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	return p.index
}

// SetupRef returns the address of the active stream session's
// SetupNode.
func (p *Peer) SetupRef() (types.Hash, error) {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if p.setupRef.IsZero() {
		return types.Hash{}, ErrNoStream
	}
	return p.setupRef, nil
}
