package gossip

import (
	"context"
	"sync"
)

// Loopback is an in-process broadcast fabric connecting multiple peers.
// It delivers payloads synchronously to every peer except the sender,
// which is enough for tests and the demo binary; real deployments plug
// in a pubsub or mesh transport instead.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]func(payload []byte)
}

func NewLoopback() *Loopback {
	return &Loopback{
		handlers: make(map[string]func(payload []byte)),
	}
}

// Join registers a peer with an inbound handler and returns that peer's
// Transport endpoint. A nil handler makes the peer send-only.
func (l *Loopback) Join(peerID string, handler func(payload []byte)) Transport {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[peerID] = handler
	return &loopbackPeer{fabric: l, id: peerID}
}

// Leave removes a peer from the fabric.
func (l *Loopback) Leave(peerID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, peerID)
}

func (l *Loopback) deliver(from string, payload []byte) {
	l.mu.RLock()
	peers := make([]func([]byte), 0, len(l.handlers))
	for id, handler := range l.handlers {
		if id == from || handler == nil {
			continue
		}
		peers = append(peers, handler)
	}
	l.mu.RUnlock()

	for _, handler := range peers {
		handler(payload)
	}
}

type loopbackPeer struct {
	fabric *Loopback
	id     string
}

func (p *loopbackPeer) Broadcast(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.fabric.deliver(p.id, payload)
	return nil
}
