// streamdemo runs a publisher and a viewer in one process, connected by
// the in-memory loopback fabric. The publisher produces synthetic
// segments; the viewer discovers each head via gossip, fetches the
// chain, and renders a live playlist.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	chaincast "github.com/chaincast/chaincast"
	"github.com/chaincast/chaincast/pkg/gossip"
	"github.com/chaincast/chaincast/pkg/logging"
	"github.com/chaincast/chaincast/pkg/nodestore"
	"github.com/chaincast/chaincast/pkg/types"
)

type peerFetcher struct {
	src func() *nodestore.Store
}

func (f *peerFetcher) Fetch(addr types.Hash) ([]byte, error) {
	node, err := f.src().Get(addr)
	if err != nil {
		return nil, err
	}
	return nodestore.EncodeNode(node)
}

func main() {
	segments := flag.Int("segments", 8, "number of segments to produce")
	segmentMillis := flag.Int("segment-ms", 4000, "segment duration in milliseconds")
	flag.Parse()

	log := logging.NewCLILogger(slog.LevelInfo)

	fabric := gossip.NewLoopback()

	var publisher, viewer *chaincast.Peer
	publisherTransport := fabric.Join("publisher", func(p []byte) { _ = publisher.HandleReceive(p) })
	viewerTransport := fabric.Join("viewer", func(p []byte) { _ = viewer.HandleReceive(p) })

	publisher = mustPeer(log, chaincast.Config{
		Paths:     []string{tempDir(log, "publisher")},
		Publisher: "publisher",
		Transport: publisherTransport,
		Logger:    log.With("peer", "publisher"),
	})
	defer publisher.Close()

	viewer = mustPeer(log, chaincast.Config{
		Paths:     []string{tempDir(log, "viewer")},
		Transport: viewerTransport,
		Fetcher:   &peerFetcher{src: func() *nodestore.Store { return publisher.Store() }},
		Logger:    log.With("peer", "viewer"),
	})
	defer viewer.Close()

	variants := []types.Variant{
		{Codec: "avc1.42c01f,mp4a.40.2", Quality: "720p30", Bitrate: 3000},
		{Codec: "avc1.42c02a,mp4a.40.2", Quality: "1080p60", Bitrate: 6000},
	}
	setupRef, err := publisher.OnStreamSetup(variants, map[int][]byte{
		0: []byte("init-720p30"),
		1: []byte("init-1080p60"),
	})
	if err != nil {
		log.Error("stream setup failed", "error", err)
		os.Exit(1)
	}
	log.Info("stream session", "setup", setupRef.String()[:16])

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	duration := types.Timecode(*segmentMillis)

	for i := 0; i < *segments; i++ {
		start := types.Timecode(i) * duration
		for variant := uint32(0); variant < uint32(len(variants)); variant++ {
			payload := make([]byte, 64*1024)
			rng.Read(payload)
			if _, err := publisher.OnNewSegment(variant, start, duration, payload); err != nil {
				log.Error("segment production failed", "variant", variant, "error", err)
				os.Exit(1)
			}
		}

		// the viewer chases the announced 1080p head
		entry, ok := viewer.Beacon().Get("publisher")
		if !ok {
			log.Error("viewer has no beacon entry yet")
			os.Exit(1)
		}
		head := entry.VariantHeads[1]
		nodes, err := viewer.Store().ResolveChain(head, 3)
		if err != nil {
			log.Error("chain resolution failed", "error", err)
			os.Exit(1)
		}
		if segment, ok := nodes[0].(*types.SegmentNode); ok {
			if err := viewer.Index().Append(segment.Variant, segment.Start, segment.Duration, head); err != nil {
				log.Error("index append failed", "error", err)
				os.Exit(1)
			}
		}
		log.Info("viewer converged",
			"clock", entry.Clock,
			"head", head.String()[:16],
			"resolved", len(nodes))
	}

	playlist, err := viewer.Player().Playlist(1, 5)
	if err != nil {
		log.Error("playlist rendering failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(playlist))
}

func mustPeer(log *slog.Logger, conf chaincast.Config) *chaincast.Peer {
	peer, err := chaincast.New(conf)
	if err != nil {
		log.Error("peer creation failed", "error", err)
		os.Exit(1)
	}
	if err := peer.Start(); err != nil {
		log.Error("peer start failed", "error", err)
		os.Exit(1)
	}
	return peer
}

func tempDir(log *slog.Logger, name string) string {
	dir, err := os.MkdirTemp("", "streamdemo-"+name+"-*")
	if err != nil {
		log.Error("temp dir creation failed", "error", err)
		os.Exit(1)
	}
	return dir
}
