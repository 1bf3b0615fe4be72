package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Hash is the fixed-width content address. It is the SHA-512 digest of a
// node's canonical byte encoding (or of a raw payload / chunk).
type Hash [64]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h *Hash) FromBytes(b []byte) error {
	if len(b) != 64 {
		return fmt.Errorf("invalid byte length for Hash: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

func HashFromString(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hex for Hash: %w", err)
	}
	if err := h.FromBytes(b); err != nil {
		return h, err
	}
	return h, nil
}

// PublisherID identifies a publisher across peers. It is an opaque flat
// identifier with equality semantics only, typically a public key
// fingerprint or a stable name.
type PublisherID string

func (p PublisherID) Bytes() []byte {
	return []byte(p)
}

func (p PublisherID) String() string {
	return string(p)
}

// Timecode is a position on a stream's time axis in milliseconds since
// the start of the stream session. Durations use the same unit.
type Timecode uint64

func (t Timecode) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t))
	return b
}

func (t Timecode) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

func (t Timecode) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

func TimecodeFromDuration(d time.Duration) Timecode {
	return Timecode(d / time.Millisecond)
}

// Variant describes one quality rendition of a stream.
type Variant struct {
	Codec   string // e.g. "avc1.42c02a,mp4a.40.2"
	Quality string // e.g. "1080p60"
	Bitrate uint32 // target bitrate in kbit/s
}

func (v Variant) String() string {
	return v.Quality
}

// NodeKind discriminates the two node types in a stream chain.
type NodeKind uint8

const (
	KindSetup NodeKind = iota + 1
	KindSegment
)

func (k NodeKind) String() string {
	switch k {
	case KindSetup:
		return "Setup"
	case KindSegment:
		return "Segment"
	}
	return "Unknown"
}

// Node is either a *SetupNode or a *SegmentNode.
type Node interface {
	Kind() NodeKind
}

// InitSegment carries a variant's initialization payload by reference.
// PayloadAddress is the digest of the raw initialization bytes,
// PayloadChunks the ordered chunk addresses to reassemble them.
type InitSegment struct {
	PayloadAddress Hash
	PayloadChunks  []Hash
}

// SetupNode is the immutable root of all variant chains of one stream
// session. Variants are ordered from lowest to highest quality; Init
// holds one initialization segment per variant, same order.
type SetupNode struct {
	Variants []Variant
	Init     []InitSegment
}

func (n *SetupNode) Kind() NodeKind { return KindSetup }

// SegmentNode is one playable time slice of one variant. Previous links
// to the prior SegmentNode of the same variant, or to the SetupNode for
// the first segment of a chain.
type SegmentNode struct {
	Previous       Hash
	Variant        uint32
	Start          Timecode
	Duration       Timecode
	PayloadAddress Hash
	PayloadChunks  []Hash
}

func (n *SegmentNode) Kind() NodeKind { return KindSegment }

// End returns the first timecode after this segment.
func (n *SegmentNode) End() Timecode {
	return n.Start + n.Duration
}
