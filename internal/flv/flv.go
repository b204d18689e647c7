// Package flv frames and deframes FLV tags: the container format used
// by the GOP replay cache and any file/HTTP-FLV output path.
package flv

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// tag type ids, matching the RTMP message type ids reused by FLV.
const (
	TagAudio  = 8
	TagVideo  = 9
	TagScript = 18
)

func tagType(t media.Type) byte {
	switch t {
	case media.TypeAudio:
		return TagAudio
	case media.TypeVideo:
		return TagVideo
	default:
		return TagScript
	}
}

// EncodeTag builds a complete FLV tag (11-byte tag header + payload +
// 4-byte PreviousTagSize trailer) for one media packet.
func EncodeTag(p media.Packet) []byte {
	payload := p.Bytes()
	length := uint32(len(payload))
	previousTagSize := 11 + length

	b := make([]byte, previousTagSize+4)
	b[0] = tagType(p.MessageType)

	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, length)
	b[1] = lenBytes[1]
	b[2] = lenBytes[2]
	b[3] = lenBytes[3]

	ts := uint32(p.TimestampMS)
	b[4] = byte(ts >> 16)
	b[5] = byte(ts >> 8)
	b[6] = byte(ts)
	b[7] = byte(ts >> 24)

	b[8] = 0
	b[9] = 0
	b[10] = 0

	copy(b[11:11+length], payload)

	binary.BigEndian.PutUint32(b[previousTagSize:previousTagSize+4], previousTagSize)

	return b
}

// Tag is one deframed FLV tag, prior to being wrapped as a media.Packet.
type Tag struct {
	Type        byte
	TimestampMS int64
	StreamID    uint32
	Payload     []byte
}

// DecodeTag parses one FLV tag starting at buf[0] (the tag-type byte),
// returning the tag and the number of bytes consumed, including its
// trailing PreviousTagSize field.
func DecodeTag(buf []byte) (Tag, int, error) {
	if len(buf) < 11 {
		return Tag{}, 0, rtmperrors.New(rtmperrors.ProtocolViolation, "flv tag header truncated")
	}

	length := uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	total := 11 + int(length) + 4
	if len(buf) < total {
		return Tag{}, 0, rtmperrors.New(rtmperrors.ProtocolViolation, "flv tag payload truncated")
	}

	ts := int64(uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]) | uint32(buf[7])<<24)
	streamID := uint32(buf[8])<<16 | uint32(buf[9])<<8 | uint32(buf[10])

	payload := make([]byte, length)
	copy(payload, buf[11:11+length])

	return Tag{
		Type:        buf[0],
		TimestampMS: ts,
		StreamID:    streamID,
		Payload:     payload,
	}, total, nil
}

// ToPacket wraps a decoded Tag as a media.Packet.
func (t Tag) ToPacket() media.Packet {
	var mt media.Type
	switch t.Type {
	case TagAudio:
		mt = media.TypeAudio
	case TagVideo:
		mt = media.TypeVideo
	default:
		mt = media.TypeScript
	}
	return media.Wrap(t.Payload, mt, t.StreamID, t.TimestampMS)
}

// DecodeAll deframes every tag in a GOP-cache-style FLV byte stream,
// skipping the initial 9-byte file header + first PreviousTagSize(0)
// if present (detected by the "FLV" signature).
func DecodeAll(buf []byte) ([]Tag, error) {
	offset := 0
	if len(buf) >= 9 && buf[0] == 'F' && buf[1] == 'L' && buf[2] == 'V' {
		offset = 9 + 4
	}

	var tags []Tag
	for offset < len(buf) {
		tag, n, err := DecodeTag(buf[offset:])
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
		offset += n
	}
	return tags, nil
}
