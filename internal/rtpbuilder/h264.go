package rtpbuilder

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

const (
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// H264 packetizes FLV-framed (4-byte length-prefixed) H.264 access
// units into RTP packets per RFC 6184: single-NALU, STAP-A on a
// sequence-header change, FU-A fragmentation above the MTU budget.
type H264 struct {
	MTU       int
	PayloadType uint8
	SSRC      uint32

	seq   uint16
	sps   []byte
	pps   []byte
}

// NewH264 returns an H264 packetizer. mtu is the maximum RTP payload
// size budget (header-exclusive).
func NewH264(mtu int, payloadType uint8, ssrc uint32) *H264 {
	return &H264{MTU: mtu, PayloadType: payloadType, SSRC: ssrc}
}

// SetParameterSets records the current SPS/PPS, emitting a STAP-A
// packet only when they differ from the last-known set.
func (h *H264) SetParameterSets(sps, pps []byte) []*rtp.Packet {
	if bytesEqual(h.sps, sps) && bytesEqual(h.pps, pps) {
		return nil
	}
	h.sps = append([]byte(nil), sps...)
	h.pps = append([]byte(nil), pps...)

	payload := make([]byte, 0, 2+len(sps)+2+len(pps))
	payload = append(payload, uint16Bytes(len(sps))...)
	payload = append(payload, sps...)
	payload = append(payload, uint16Bytes(len(pps))...)
	payload = append(payload, pps...)

	nri := sps[0] & 0x60
	if ppsNRI := pps[0] & 0x60; ppsNRI > nri {
		nri = ppsNRI
	}
	payload = append([]byte{nri | naluTypeSTAPA}, payload...)

	pkt := h.newPacket(payload, false, 0)
	return []*rtp.Packet{pkt}
}

// PacketizeAccessUnit packetizes every NALU in nalus (already
// length-prefix-stripped), setting the marker bit only on the final
// RTP packet of the access unit. timestampOffset is called once and
// returns the 90kHz RTP clock value for this access unit.
func (h *H264) PacketizeAccessUnit(nalus [][]byte, timestampOffset func() uint32) []*rtp.Packet {
	var out []*rtp.Packet
	ts := timestampOffset()

	for i, nalu := range nalus {
		last := i == len(nalus)-1
		out = append(out, h.packetizeNALU(nalu, last, ts)...)
	}
	return out
}

func (h *H264) packetizeNALU(nalu []byte, lastOfAU bool, ts uint32) []*rtp.Packet {
	if len(nalu) == 0 {
		return nil
	}

	if len(nalu) <= h.MTU {
		return []*rtp.Packet{h.newPacketTS(nalu, lastOfAU, ts)}
	}

	header := nalu[0]
	nri := header & 0x60
	naluType := header & 0x1f
	payload := nalu[1:]

	fuIndicator := nri | naluTypeFUA
	budget := h.MTU - 2
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

		frag := make([]byte, 0, 2+(end-offset))
		frag = append(frag, fuIndicator, fuHeader)
		frag = append(frag, payload[offset:end]...)

		out = append(out, h.newPacketTS(frag, isLast && lastOfAU, ts))
	}
	return out
}

func (h *H264) newPacket(payload []byte, marker bool, ts uint32) *rtp.Packet {
	return h.newPacketTS(payload, marker, ts)
}

func (h *H264) newPacketTS(payload []byte, marker bool, ts uint32) *rtp.Packet {
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

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uint16Bytes(n int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(n))
	return b
}
