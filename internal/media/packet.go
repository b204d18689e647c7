// Package media defines the MediaPacket type shared by C2 (message
// router) and every downstream consumer/bridge: a refcounted,
// immutable byte region tagged with an RTMP-flavored timestamp and
// message type.
package media

import "sync/atomic"

// Type classifies a MediaPacket's payload.
type Type uint8

const (
	TypeAudio Type = iota
	TypeVideo
	TypeScript
)

// buffer is a refcounted immutable byte region. Bytes are never
// mutated once wrapped; Copy only bumps the refcount.
type buffer struct {
	bytes []byte
	refs  int32
}

func newBuffer(b []byte) *buffer {
	return &buffer{bytes: b, refs: 1}
}

func (b *buffer) retain() *buffer {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Release decrements the refcount. Callers that track packet
// lifetime precisely can use this to detect the last reference
// dropping (refs reaches zero); it never frees Go-GC'd memory itself,
// it only hands back an accurate liveness signal for pooling.
func (b *buffer) release() int32 {
	return atomic.AddInt32(&b.refs, -1)
}

// Packet is the lingua franca between the chunk/message router and
// every downstream consumer and bridge (RTP builder, TS muxer, FLV
// replay cache, ...).
type Packet struct {
	TimestampMS int64
	MessageType Type
	StreamID    uint32
	CodecHints  CodecHints

	buf *buffer
}

// CodecHints carries cheap-to-compute classification flags set by the
// router so downstream consumers don't need to re-parse payload
// headers to find a sequence header or codec id.
type CodecHints struct {
	IsSequenceHeader bool
	CodecID          uint8
}

// Wrap transfers ownership of raw to a new Packet; raw MUST NOT be
// mutated by the caller afterward.
func Wrap(raw []byte, msgType Type, streamID uint32, timestampMS int64) Packet {
	return Packet{
		TimestampMS: timestampMS,
		MessageType: msgType,
		StreamID:    streamID,
		CodecHints:  classify(msgType, raw),
		buf:         newBuffer(raw),
	}
}

// Copy returns a new Packet referencing the same underlying bytes,
// bumping the refcount rather than copying payload bytes.
func (p Packet) Copy() Packet {
	cp := p
	cp.buf = p.buf.retain()
	return cp
}

// Release drops this Packet's reference, returning the remaining
// refcount after decrement (pooling callers can recycle the backing
// array once this reaches zero).
func (p Packet) Release() int32 {
	return p.buf.release()
}

// Bytes returns the packet's payload. The returned slice MUST NOT be
// mutated.
func (p Packet) Bytes() []byte {
	return p.buf.bytes
}

// Len returns the payload length in bytes.
func (p Packet) Len() int {
	return len(p.buf.bytes)
}

// IsAudio reports whether this packet carries audio.
func (p Packet) IsAudio() bool { return p.MessageType == TypeAudio }

// IsVideo reports whether this packet carries video.
func (p Packet) IsVideo() bool { return p.MessageType == TypeVideo }

func classify(msgType Type, raw []byte) CodecHints {
	if len(raw) < 2 {
		return CodecHints{}
	}
	switch msgType {
	case TypeVideo:
		codecID := raw[0] & 0x0f
		isSeq := (codecID == 7 || codecID == 12) && raw[1] == 0
		return CodecHints{IsSequenceHeader: isSeq, CodecID: codecID}
	case TypeAudio:
		codecID := raw[0] >> 4
		isSeq := codecID == 10 && raw[1] == 0
		return CodecHints{IsSequenceHeader: isSeq, CodecID: codecID}
	default:
		return CodecHints{}
	}
}
