// Package chunk implements the RTMP chunk stream codec: basic/message
// header framing (fmt 0-3), chunk-stream-id multiplexing, extended
// timestamps, and reassembly of a multi-chunk message.
package chunk

import "encoding/binary"

// Chunk format types (the two high bits of the basic header byte).
const (
	Fmt0 = 0 // 11 bytes: timestamp(3) + length(3) + type(1) + stream id(4)
	Fmt1 = 1 // 7 bytes: delta(3) + length(3) + type(1)
	Fmt2 = 2 // 3 bytes: delta(3)
	Fmt3 = 3 // 0 bytes
)

// Protocol control and RTMP message type ids.
const (
	TypeSetChunkSize     = 1
	TypeAbort            = 2
	TypeAcknowledgement  = 3
	TypeWindowAckSize    = 5
	TypeSetPeerBandwidth = 6
	TypeEvent            = 4
	TypeAudio            = 8
	TypeVideo            = 9
	TypeFlexStream       = 15 // AMF3 data
	TypeData             = 18 // AMF0 data
	TypeFlexObject       = 16 // AMF3 shared object
	TypeSharedObject     = 19 // AMF0 shared object
	TypeFlexMessage      = 17 // AMF3 command
	TypeInvoke           = 20 // AMF0 command
	TypeMetadata         = 22 // aggregate
)

// Well-known chunk stream ids used for outbound protocol/control messages.
const (
	ChannelProtocol = 2
	ChannelInvoke   = 3
	ChannelAudio    = 4
	ChannelVideo    = 5
	ChannelData     = 6
)

// DefaultChunkSize is the size assumed before either peer sends
// TypeSetChunkSize.
const DefaultChunkSize = 128

// messageHeaderSize indexes by fmt (0-3) the byte length of the
// message header that follows the basic header.
var messageHeaderSize = [4]uint32{11, 7, 3, 0}

// Header is an RTMP chunk message header, merged across the basic and
// message header fields the wire format splits apart.
type Header struct {
	Timestamp  int64
	Fmt        uint32
	CID        uint32
	PacketType uint32
	StreamID   uint32
	Length     uint32
}

// Message is one reassembled RTMP message: header plus however much
// of the payload has been read so far across chunks.
type Message struct {
	Header   Header
	Clock    int64
	Capacity uint32
	Bytes    uint32
	Handled  bool
	Payload  []byte

	// ExtTimestamp is the 31-bit extended timestamp established by
	// this message's first chunk, kept around so a later fmt=3
	// continuation chunk can tell a genuine repeated extended-
	// timestamp field apart from payload bytes that merely happen to
	// follow immediately (the librtmp ambiguity in §4.1).
	ExtTimestamp int64
}

// NewMessage returns a blank Message ready for its first chunk.
func NewMessage() Message {
	return Message{Payload: []byte{}}
}

// BasicHeader serializes the 1-3 byte chunk basic header for the
// given fmt/chunk-stream-id pair.
func BasicHeader(fmtType uint32, cid uint32) []byte {
	switch {
	case cid >= 64+255:
		return []byte{
			byte(fmtType<<6) | 1,
			byte(cid-64) & 0xff,
			byte((cid-64)>>8) & 0xff,
		}
	case cid >= 64:
		return []byte{byte(fmtType << 6), byte(cid-64) & 0xff}
	default:
		return []byte{byte(fmtType<<6) | byte(cid)}
	}
}

// MessageHeader serializes the message header fields present for
// msg.Header.Fmt (timestamp/delta, length+type, stream id).
func MessageHeader(msg *Message) []byte {
	out := make([]byte, 0, 11)

	if msg.Header.Fmt <= Fmt2 {
		b := make([]byte, 4)
		if msg.Header.Timestamp >= 0xffffff {
			binary.BigEndian.PutUint32(b, 0xffffff)
		} else {
			binary.BigEndian.PutUint32(b, uint32(msg.Header.Timestamp))
		}
		out = append(out, b[1:]...)
	}

	if msg.Header.Fmt <= Fmt1 {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, msg.Header.Length)
		out = append(out, b[1:]...)
		out = append(out, byte(msg.Header.PacketType))
	}

	if msg.Header.Fmt == Fmt0 {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, msg.Header.StreamID)
		out = append(out, b...)
	}

	return out
}

// CreateChunks splits msg's payload into outChunkSize chunks, the
// first prefixed with the full basic+message header, each continuation
// chunk prefixed with a Fmt3 basic header (and a repeated extended
// timestamp, if one was required).
func (msg *Message) CreateChunks(outChunkSize int) []byte {
	basicHeader := BasicHeader(msg.Header.Fmt, msg.Header.CID)
	basicHeader3 := BasicHeader(Fmt3, msg.Header.CID)
	messageHeader := MessageHeader(msg)

	useExtendedTimestamp := msg.Header.Timestamp >= 0xffffff

	headerSize := len(basicHeader) + len(messageHeader)
	if useExtendedTimestamp {
		headerSize += 4
	}

	payloadSize := int(msg.Header.Length)
	n := headerSize + payloadSize + payloadSize/outChunkSize
	if useExtendedTimestamp {
		n += (payloadSize / outChunkSize) * 4
	}
	if payloadSize%outChunkSize == 0 && payloadSize > 0 {
		n--
		if useExtendedTimestamp {
			n -= 4
		}
	}

	out := make([]byte, n)
	offset := 0

	offset += copy(out[offset:], basicHeader)
	offset += copy(out[offset:], messageHeader)
	if useExtendedTimestamp {
		binary.BigEndian.PutUint32(out[offset:offset+4], uint32(msg.Header.Timestamp))
		offset += 4
	}

	payloadOffset := 0
	for payloadSize > 0 {
		n := outChunkSize
		if n > payloadSize {
			n = payloadSize
		}
		offset += copy(out[offset:], msg.Payload[payloadOffset:payloadOffset+n])
		payloadOffset += n
		payloadSize -= n

		if payloadSize > 0 {
			offset += copy(out[offset:], basicHeader3)
			if useExtendedTimestamp {
				binary.BigEndian.PutUint32(out[offset:offset+4], uint32(msg.Header.Timestamp))
				offset += 4
			}
		}
	}

	return out
}
