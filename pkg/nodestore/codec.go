package nodestore

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/chaincast/chaincast/pkg/types"
)

// Nodes are encoded with raw protobuf wire primitives instead of a
// generated message. The encoder always emits fields in ascending tag
// order with list elements in sequence order, which makes the encoding
// canonical: identical nodes always produce identical bytes, a property
// content addressing depends on and that descriptor-driven proto
// marshaling does not promise.
//
// Envelope: 1=kind(varint), 2=setup(bytes), 3=segment(bytes).
// Setup:    1=variant(bytes, repeated), 2=init(bytes, repeated).
// Variant:  1=codec(bytes), 2=quality(bytes), 3=bitrate(varint).
// Init:     1=payloadAddress(bytes), 2=chunk(bytes, repeated).
// Segment:  1=previous(bytes), 2=variant(varint), 3=start(varint),
//           4=duration(varint), 5=payloadAddress(bytes),
//           6=chunk(bytes, repeated).

const (
	fieldKind    = 1
	fieldSetup   = 2
	fieldSegment = 3

	setupFieldVariant = 1
	setupFieldInit    = 2

	variantFieldCodec   = 1
	variantFieldQuality = 2
	variantFieldBitrate = 3

	initFieldPayloadAddress = 1
	initFieldChunk          = 2

	segmentFieldPrevious       = 1
	segmentFieldVariant        = 2
	segmentFieldStart          = 3
	segmentFieldDuration       = 4
	segmentFieldPayloadAddress = 5
	segmentFieldChunk          = 6
)

// EncodeNode returns the canonical byte encoding of a node. The content
// address of a node is the digest of exactly these bytes.
func EncodeNode(node types.Node) ([]byte, error) {
	switch n := node.(type) {
	case *types.SetupNode:
		var b []byte
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(types.KindSetup))
		b = protowire.AppendTag(b, fieldSetup, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSetup(n))
		return b, nil
	case *types.SegmentNode:
		var b []byte
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(types.KindSegment))
		b = protowire.AppendTag(b, fieldSegment, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSegment(n))
		return b, nil
	default:
		return nil, fmt.Errorf("unknown node type %T", node)
	}
}

func encodeSetup(n *types.SetupNode) []byte {
	var b []byte
	for _, v := range n.Variants {
		b = protowire.AppendTag(b, setupFieldVariant, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeVariant(v))
	}
	for _, init := range n.Init {
		b = protowire.AppendTag(b, setupFieldInit, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeInit(init))
	}
	return b
}

func encodeVariant(v types.Variant) []byte {
	var b []byte
	b = protowire.AppendTag(b, variantFieldCodec, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(v.Codec))
	b = protowire.AppendTag(b, variantFieldQuality, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(v.Quality))
	b = protowire.AppendTag(b, variantFieldBitrate, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.Bitrate))
	return b
}

func encodeInit(init types.InitSegment) []byte {
	var b []byte
	b = protowire.AppendTag(b, initFieldPayloadAddress, protowire.BytesType)
	b = protowire.AppendBytes(b, init.PayloadAddress.Bytes())
	for _, c := range init.PayloadChunks {
		b = protowire.AppendTag(b, initFieldChunk, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Bytes())
	}
	return b
}

func encodeSegment(n *types.SegmentNode) []byte {
	var b []byte
	b = protowire.AppendTag(b, segmentFieldPrevious, protowire.BytesType)
	b = protowire.AppendBytes(b, n.Previous.Bytes())
	b = protowire.AppendTag(b, segmentFieldVariant, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Variant))
	b = protowire.AppendTag(b, segmentFieldStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Start))
	b = protowire.AppendTag(b, segmentFieldDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.Duration))
	b = protowire.AppendTag(b, segmentFieldPayloadAddress, protowire.BytesType)
	b = protowire.AppendBytes(b, n.PayloadAddress.Bytes())
	for _, c := range n.PayloadChunks {
		b = protowire.AppendTag(b, segmentFieldChunk, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Bytes())
	}
	return b
}

// DecodeNode parses a canonical node encoding. Unknown fields are
// skipped so newer peers can add fields without breaking older ones.
func DecodeNode(b []byte) (types.Node, error) {
	var kind types.NodeKind
	var setupBytes, segmentBytes []byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode node: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("decode node kind: %w", protowire.ParseError(n))
			}
			kind = types.NodeKind(v)
			b = b[n:]
		case num == fieldSetup && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode setup node: %w", protowire.ParseError(n))
			}
			setupBytes = v
			b = b[n:]
		case num == fieldSegment && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment node: %w", protowire.ParseError(n))
			}
			segmentBytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch kind {
	case types.KindSetup:
		return decodeSetup(setupBytes)
	case types.KindSegment:
		return decodeSegment(segmentBytes)
	default:
		return nil, fmt.Errorf("unknown node kind %d", kind)
	}
}

func decodeSetup(b []byte) (*types.SetupNode, error) {
	node := &types.SetupNode{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode setup: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == setupFieldVariant && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode variant: %w", protowire.ParseError(n))
			}
			variant, err := decodeVariant(v)
			if err != nil {
				return nil, err
			}
			node.Variants = append(node.Variants, variant)
			b = b[n:]
		case num == setupFieldInit && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode init segment: %w", protowire.ParseError(n))
			}
			init, err := decodeInit(v)
			if err != nil {
				return nil, err
			}
			node.Init = append(node.Init, init)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return node, nil
}

func decodeVariant(b []byte) (types.Variant, error) {
	var v types.Variant

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return v, fmt.Errorf("decode variant: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == variantFieldCodec && typ == protowire.BytesType:
			s, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, fmt.Errorf("decode variant codec: %w", protowire.ParseError(n))
			}
			v.Codec = string(s)
			b = b[n:]
		case num == variantFieldQuality && typ == protowire.BytesType:
			s, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return v, fmt.Errorf("decode variant quality: %w", protowire.ParseError(n))
			}
			v.Quality = string(s)
			b = b[n:]
		case num == variantFieldBitrate && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return v, fmt.Errorf("decode variant bitrate: %w", protowire.ParseError(n))
			}
			v.Bitrate = uint32(u)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return v, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return v, nil
}

func decodeInit(b []byte) (types.InitSegment, error) {
	var init types.InitSegment

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return init, fmt.Errorf("decode init: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == initFieldPayloadAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return init, fmt.Errorf("decode init address: %w", protowire.ParseError(n))
			}
			if err := init.PayloadAddress.FromBytes(v); err != nil {
				return init, err
			}
			b = b[n:]
		case num == initFieldChunk && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return init, fmt.Errorf("decode init chunk: %w", protowire.ParseError(n))
			}
			var h types.Hash
			if err := h.FromBytes(v); err != nil {
				return init, err
			}
			init.PayloadChunks = append(init.PayloadChunks, h)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return init, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return init, nil
}

func decodeSegment(b []byte) (*types.SegmentNode, error) {
	node := &types.SegmentNode{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("decode segment: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == segmentFieldPrevious && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment previous: %w", protowire.ParseError(n))
			}
			if err := node.Previous.FromBytes(v); err != nil {
				return nil, err
			}
			b = b[n:]
		case num == segmentFieldVariant && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment variant: %w", protowire.ParseError(n))
			}
			node.Variant = uint32(u)
			b = b[n:]
		case num == segmentFieldStart && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment start: %w", protowire.ParseError(n))
			}
			node.Start = types.Timecode(u)
			b = b[n:]
		case num == segmentFieldDuration && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment duration: %w", protowire.ParseError(n))
			}
			node.Duration = types.Timecode(u)
			b = b[n:]
		case num == segmentFieldPayloadAddress && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment address: %w", protowire.ParseError(n))
			}
			if err := node.PayloadAddress.FromBytes(v); err != nil {
				return nil, err
			}
			b = b[n:]
		case num == segmentFieldChunk && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("decode segment chunk: %w", protowire.ParseError(n))
			}
			var h types.Hash
			if err := h.FromBytes(v); err != nil {
				return nil, err
			}
			node.PayloadChunks = append(node.PayloadChunks, h)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return node, nil
}
