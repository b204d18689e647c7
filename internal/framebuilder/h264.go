package framebuilder

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/pion/rtp"
)

const (
	h264NALUTypeSPS   = 7
	h264NALUTypePPS   = 8
	h264NALUTypeIDR   = 5
	h264NALUTypeSTAPA = 24
	h264NALUTypeFUA   = 28
)

// H264 reassembles an RTP access unit (single-NALU / STAP-A / FU-A)
// into an FLV video tag per spec.md §4.11.
type H264 struct {
	// StreamID is the RTMP message stream id stamped on synthesized packets.
	StreamID uint32
}

// ReassembleAccessUnit builds the FLV video tag media.Packet for one
// complete access unit's RTP packets (already ordered, last carrying
// the marker bit). timestampMS is the frame's presentation time.
func (h H264) ReassembleAccessUnit(pkts []*rtp.Packet, timestampMS int64) (media.Packet, bool) {
	nalus, ok := collectNALUs(pkts)
	if !ok || len(nalus) == 0 {
		return media.Packet{}, false
	}

	keyframe := false
	for _, n := range nalus {
		t := n[0] & 0x1f
		if t == h264NALUTypeSPS || t == h264NALUTypePPS || t == h264NALUTypeIDR {
			keyframe = true
		}
	}

	frameType := byte(2)
	if keyframe {
		frameType = 1
	}

	body := make([]byte, 0, 5)
	header := (frameType << 4) | 7 // codec id 7 = AVC
	body = append(body, header, 1, 0, 0, 0)

	for _, n := range nalus {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(n)))
		body = append(body, lenBuf...)
		body = append(body, n...)
	}

	return media.Wrap(body, media.TypeVideo, h.StreamID, timestampMS), true
}

// collectNALUs expands single-NALU, STAP-A, and FU-A RTP payloads
// into decode-order raw NALUs (with their 1-byte header intact).
func collectNALUs(pkts []*rtp.Packet) ([][]byte, bool) {
	var nalus [][]byte
	var fu []byte
	var fuHeader byte
	inFU := false

	for _, p := range pkts {
		if len(p.Payload) == 0 {
			continue
		}
		naluType := p.Payload[0] & 0x1f

		switch naluType {
		case h264NALUTypeSTAPA:
			offset := 1
			for offset+2 <= len(p.Payload) {
				size := int(binary.BigEndian.Uint16(p.Payload[offset : offset+2]))
				offset += 2
				if offset+size > len(p.Payload) {
					return nil, false
				}
				nalus = append(nalus, append([]byte(nil), p.Payload[offset:offset+size]...))
				offset += size
			}

		case h264NALUTypeFUA:
			if len(p.Payload) < 2 {
				return nil, false
			}
			fuIndicator := p.Payload[0]
			header := p.Payload[1]
			start := header&0x80 != 0
			end := header&0x40 != 0
			naluT := header & 0x1f

			if start {
				fuHeader = (fuIndicator & 0x60) | naluT
				fu = append([]byte{fuHeader}, p.Payload[2:]...)
				inFU = true
			} else if inFU {
				fu = append(fu, p.Payload[2:]...)
			}

			if end && inFU {
				nalus = append(nalus, fu)
				fu = nil
				inFU = false
			}

		default:
			nalus = append(nalus, append([]byte(nil), p.Payload...))
		}
	}

	return nalus, true
}
