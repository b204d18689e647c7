package framebuilder

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/pion/rtp"
)

// AAC reassembles an RTP AAC-hbr packet (RFC 3640) into an FLV audio
// tag, prefixing the raw AU data with [0xAF, 0x01] (AAC raw body).
type AAC struct {
	StreamID uint32
}

// Reassemble extracts the single access unit carried by pkt (AAC-hbr
// mode emits exactly one AU per RTP packet).
func (a AAC) Reassemble(pkt *rtp.Packet, timestampMS int64) (media.Packet, bool) {
	if len(pkt.Payload) < 4 {
		return media.Packet{}, false
	}
	headerLenBits := binary.BigEndian.Uint16(pkt.Payload[0:2])
	headerBytes := int((headerLenBits + 7) / 8)
	if len(pkt.Payload) < 2+headerBytes+2 {
		return media.Packet{}, false
	}
	auHeader := binary.BigEndian.Uint16(pkt.Payload[2 : 2+headerBytes])
	auSize := int(auHeader >> 3)

	dataOffset := 2 + headerBytes
	if dataOffset+auSize > len(pkt.Payload) {
		return media.Packet{}, false
	}
	au := pkt.Payload[dataOffset : dataOffset+auSize]

	body := make([]byte, 2+len(au))
	body[0] = 0xAF
	body[1] = 0x01
	copy(body[2:], au)

	return media.Wrap(body, media.TypeAudio, a.StreamID, timestampMS), true
}

// Opus reassembles an RTP Opus packet into an audio MediaPacket
// carrying a bare Opus frame (no AAC transcode is performed; an RTMP
// player expecting AAC must be served through an offline transcoder).
type Opus struct {
	StreamID uint32
}

// Reassemble wraps pkt's payload as an Opus-in-FLV-style audio packet.
func (o Opus) Reassemble(pkt *rtp.Packet, timestampMS int64) media.Packet {
	body := make([]byte, 1+len(pkt.Payload))
	body[0] = 0xDF // soundFormat=Opus(13, see av.AudioCodecName) << 4 | 0x0F
	copy(body[1:], pkt.Payload)
	return media.Wrap(body, media.TypeAudio, o.StreamID, timestampMS)
}
