package rtpbuilder

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

const (
	hevcNALUTypeVPS       = 32
	hevcNALUTypeSPS       = 33
	hevcNALUTypePPS       = 34
	hevcNALUTypeIDRWRADL  = 19
	hevcNALUTypeAggregate = 48 // AP
	hevcNALUTypeFU        = 49
)

// HEVC packetizes FLV-framed H.265 access units into RTP packets per
// RFC 7798: single-NALU, an aggregation packet (AP, analogous to
// STAP-A) on a VPS/SPS/PPS change, and FU fragmentation above MTU.
type HEVC struct {
	MTU         int
	PayloadType uint8
	SSRC        uint32

	seq        uint16
	vps, sps, pps []byte
}

// NewHEVC returns an HEVC packetizer.
func NewHEVC(mtu int, payloadType uint8, ssrc uint32) *HEVC {
	return &HEVC{MTU: mtu, PayloadType: payloadType, SSRC: ssrc}
}

// IsIRAPHEVC reports whether a 2-byte-header HEVC NALU type triggers
// sequence-header emission (VPS/SPS/PPS/IDR_W_RADL).
func IsIRAPHEVC(naluType byte) bool {
	switch naluType {
	case hevcNALUTypeVPS, hevcNALUTypeSPS, hevcNALUTypePPS, hevcNALUTypeIDRWRADL:
		return true
	default:
		return false
	}
}

// HEVCNALUType extracts the 6-bit NAL unit type from a 2-byte HEVC
// NAL header.
func HEVCNALUType(nalu []byte) byte {
	if len(nalu) < 1 {
		return 0
	}
	return (nalu[0] >> 1) & 0x3f
}

// SetParameterSets records the current VPS/SPS/PPS, emitting an
// aggregation packet only when they differ from the last-known set.
func (h *HEVC) SetParameterSets(vps, sps, pps []byte) []*rtp.Packet {
	if bytesEqual(h.vps, vps) && bytesEqual(h.sps, sps) && bytesEqual(h.pps, pps) {
		return nil
	}
	h.vps = append([]byte(nil), vps...)
	h.sps = append([]byte(nil), sps...)
	h.pps = append([]byte(nil), pps...)

	payload := make([]byte, 0, 6+len(vps)+len(sps)+len(pps))
	for _, nalu := range [][]byte{vps, sps, pps} {
		payload = append(payload, uint16Bytes(len(nalu))...)
		payload = append(payload, nalu...)
	}

	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(hevcNALUTypeAggregate)<<9)
	payload = append(header, payload...)

	return []*rtp.Packet{h.newPacketTS(payload, false, 0)}
}

// PacketizeAccessUnit packetizes every 2-byte-header NALU in nalus.
func (h *HEVC) PacketizeAccessUnit(nalus [][]byte, ts uint32) []*rtp.Packet {
	var out []*rtp.Packet
	for i, nalu := range nalus {
		last := i == len(nalus)-1
		out = append(out, h.packetizeNALU(nalu, last, ts)...)
	}
	return out
}

func (h *HEVC) packetizeNALU(nalu []byte, lastOfAU bool, ts uint32) []*rtp.Packet {
	if len(nalu) < 2 {
		return nil
	}
	if len(nalu) <= h.MTU {
		return []*rtp.Packet{h.newPacketTS(nalu, lastOfAU, ts)}
	}

	naluType := HEVCNALUType(nalu)
	layerTID := (uint16(nalu[0])<<8 | uint16(nalu[1])) & 0x01ff
	payload := nalu[2:]

	payloadHdr := make([]byte, 2)
	binary.BigEndian.PutUint16(payloadHdr, uint16(hevcNALUTypeFU)<<9|layerTID)

	budget := h.MTU - 3
	if budget < 1 {
		budget = 1
	}

	var out []*rtp.Packet
	for offset := 0; offset < len(payload); offset += budget {
		end := offset + budget
		if end > len(payload) {
			end = len(payload)
		}
		isFirst := offset == 0
		isLast := end == len(payload)

		fuHeader := naluType
		if isFirst {
			fuHeader |= 0x80
		}
		if isLast {
			fuHeader |= 0x40
		}

		frag := make([]byte, 0, 3+(end-offset))
		frag = append(frag, payloadHdr...)
		frag = append(frag, fuHeader)
		frag = append(frag, payload[offset:end]...)

		out = append(out, h.newPacketTS(frag, isLast && lastOfAU, ts))
	}
	return out
}

func (h *HEVC) newPacketTS(payload []byte, marker bool, ts uint32) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    h.PayloadType,
			SequenceNumber: h.seq,
			Timestamp:      ts,
			SSRC:           h.SSRC,
		},
		Payload: payload,
	}
	h.seq++
	return pkt
}
