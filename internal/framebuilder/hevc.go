package framebuilder

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/pion/rtp"
)

const (
	hevcNALUTypeVPS       = 32
	hevcNALUTypeSPS       = 33
	hevcNALUTypePPS       = 34
	hevcNALUTypeAggregate = 48
	hevcNALUTypeFU        = 49
)

// HEVC reassembles an RTP access unit into an enhanced-RTMP HEVC
// video tag per spec.md §4.11 (5-byte header + fourCC "hvc1").
type HEVC struct {
	StreamID uint32
}

func hevcNALUType(nalu []byte) byte {
	if len(nalu) < 1 {
		return 0
	}
	return (nalu[0] >> 1) & 0x3f
}

func isIRAP(t byte) bool { return t >= 16 && t <= 23 }

// ReassembleAccessUnit builds the enhanced-RTMP HEVC video tag for
// one complete access unit.
func (h HEVC) ReassembleAccessUnit(pkts []*rtp.Packet, timestampMS int64) (media.Packet, bool) {
	nalus, ok := collectHEVCNALUs(pkts)
	if !ok || len(nalus) == 0 {
		return media.Packet{}, false
	}

	keyframe := false
	for _, n := range nalus {
		t := hevcNALUType(n)
		if t == hevcNALUTypeVPS || t == hevcNALUTypeSPS || t == hevcNALUTypePPS || isIRAP(t) {
			keyframe = true
		}
	}

	frameType := byte(2)
	if keyframe {
		frameType = 1
	}

	// is_ex_header (enhanced RTMP) + frame_type + packet_type=3 (CodedFramesX, no composition time)
	body := make([]byte, 0, 9)
	body = append(body, 0x80|(frameType<<4)|3)
	body = append(body, []byte("hvc1")...)

	for _, n := range nalus {
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(n)))
		body = append(body, lenBuf...)
		body = append(body, n...)
	}

	return media.Wrap(body, media.TypeVideo, h.StreamID, timestampMS), true
}

func collectHEVCNALUs(pkts []*rtp.Packet) ([][]byte, bool) {
	var nalus [][]byte
	var fu []byte
	inFU := false

	for _, p := range pkts {
		if len(p.Payload) < 2 {
			continue
		}
		naluType := (uint16(p.Payload[0])<<8 | uint16(p.Payload[1])) >> 9 & 0x3f

		switch byte(naluType) {
		case hevcNALUTypeAggregate:
			offset := 2
			for offset+2 <= len(p.Payload) {
				size := int(binary.BigEndian.Uint16(p.Payload[offset : offset+2]))
				offset += 2
				if offset+size > len(p.Payload) {
					return nil, false
				}
				nalus = append(nalus, append([]byte(nil), p.Payload[offset:offset+size]...))
				offset += size
			}

		case hevcNALUTypeFU:
			if len(p.Payload) < 3 {
				return nil, false
			}
			layerTID := (uint16(p.Payload[0])<<8 | uint16(p.Payload[1])) & 0x01ff
			fuHeader := p.Payload[2]
			start := fuHeader&0x80 != 0
			end := fuHeader&0x40 != 0
			realType := fuHeader & 0x3f

			if start {
				reconstructed := make([]byte, 2)
				binary.BigEndian.PutUint16(reconstructed, uint16(realType)<<9|layerTID)
				fu = append(reconstructed, p.Payload[3:]...)
				inFU = true
			} else if inFU {
				fu = append(fu, p.Payload[3:]...)
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
