package beacon

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/chaincast/chaincast/pkg/types"
)

// Wire format for gossip payloads, hand-driven protobuf wire encoding.
// Merge correctness depends on (publisher, clock, variantHeads)
// surviving the round trip exactly; unknown fields are skipped on
// decode so replicas of different versions interoperate.
//
// Payload: 1=entry(bytes, repeated).
// Entry:   1=publisher(bytes), 2=clock(varint), 3=stream(bytes),
//          4=head(bytes, repeated).
// Head:    1=variant(varint), 2=address(bytes).

const (
	payloadFieldEntry = 1

	entryFieldPublisher = 1
	entryFieldClock     = 2
	entryFieldStream    = 3
	entryFieldHead      = 4

	headFieldVariant = 1
	headFieldAddress = 2
)

// EncodeEntries serializes entries for broadcast. Variant heads are
// written in ascending variant order so equal entries always encode to
// equal bytes.
func EncodeEntries(entries []Entry) []byte {
	var b []byte
	for _, e := range entries {
		b = protowire.AppendTag(b, payloadFieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEntry(e))
	}
	return b
}

func encodeEntry(e Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, entryFieldPublisher, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Publisher.Bytes())
	b = protowire.AppendTag(b, entryFieldClock, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Clock)
	b = protowire.AppendTag(b, entryFieldStream, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Stream.Bytes())

	variants := make([]uint32, 0, len(e.VariantHeads))
	for v := range e.VariantHeads {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })

	for _, v := range variants {
		var head []byte
		head = protowire.AppendTag(head, headFieldVariant, protowire.VarintType)
		head = protowire.AppendVarint(head, uint64(v))
		head = protowire.AppendTag(head, headFieldAddress, protowire.BytesType)
		head = protowire.AppendBytes(head, e.VariantHeads[v].Bytes())

		b = protowire.AppendTag(b, entryFieldHead, protowire.BytesType)
		b = protowire.AppendBytes(b, head)
	}
	return b
}

// DecodeEntries parses a gossip payload back into entries.
func DecodeEntries(b []byte) ([]Entry, error) {
	var entries []Entry

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode payload: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == payloadFieldEntry && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode entry: %w", protowire.ParseError(n))
			}
			entry, err := decodeEntry(v)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	return entries, nil
}

func decodeEntry(b []byte) (Entry, error) {
	entry := Entry{VariantHeads: make(map[uint32]types.Hash)}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return entry, fmt.Errorf("decode entry: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == entryFieldPublisher && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return entry, fmt.Errorf("decode publisher: %w", protowire.ParseError(n))
			}
			entry.Publisher = types.PublisherID(v)
			b = b[n:]
		case num == entryFieldClock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return entry, fmt.Errorf("decode clock: %w", protowire.ParseError(n))
			}
			entry.Clock = v
			b = b[n:]
		case num == entryFieldStream && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return entry, fmt.Errorf("decode stream: %w", protowire.ParseError(n))
			}
			if err := entry.Stream.FromBytes(v); err != nil {
				return entry, err
			}
			b = b[n:]
		case num == entryFieldHead && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return entry, fmt.Errorf("decode head: %w", protowire.ParseError(n))
			}
			variant, addr, err := decodeHead(v)
			if err != nil {
				return entry, err
			}
			entry.VariantHeads[variant] = addr
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return entry, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return entry, nil
}

func decodeHead(b []byte) (uint32, types.Hash, error) {
	var variant uint32
	var addr types.Hash

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, addr, fmt.Errorf("decode head: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == headFieldVariant && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, addr, fmt.Errorf("decode head variant: %w", protowire.ParseError(n))
			}
			variant = uint32(v)
			b = b[n:]
		case num == headFieldAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, addr, fmt.Errorf("decode head address: %w", protowire.ParseError(n))
			}
			if err := addr.FromBytes(v); err != nil {
				return 0, addr, err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, addr, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return variant, addr, nil
}
