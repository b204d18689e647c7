package rtpbuilder

import (
	"encoding/binary"

	"github.com/pion/rtp"
)

// AAC packetizes raw AAC access units into RTP per RFC 3640's
// "AAC-hbr" mode: one RTP packet per access unit, payload
// [AU-headers-length(2B, bits)][AU-header(16b: 13-bit size, 3-bit
// index)][AU data], marker set on every packet.
type AAC struct {
	PayloadType uint8
	SSRC        uint32

	seq uint16
}

// NewAAC returns an AAC RTP packetizer.
func NewAAC(payloadType uint8, ssrc uint32) *AAC {
	return &AAC{PayloadType: payloadType, SSRC: ssrc}
}

// Packetize builds one RTP packet for a single AAC access unit at the
// given sample-rate-scaled RTP timestamp.
func (a *AAC) Packetize(accessUnit []byte, ts uint32) *rtp.Packet {
	auHeader := uint16(len(accessUnit)&0x1fff) << 3

	payload := make([]byte, 4+len(accessUnit))
	binary.BigEndian.PutUint16(payload[0:2], 16) // AU-headers-length in bits
	binary.BigEndian.PutUint16(payload[2:4], auHeader)
	copy(payload[4:], accessUnit)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    a.PayloadType,
			SequenceNumber: a.seq,
			Timestamp:      ts,
			SSRC:           a.SSRC,
		},
		Payload: payload,
	}
	a.seq++
	return pkt
}

// RescaleTimestamp converts a DTS expressed in 1kHz (RTMP's
// millisecond clock) to the negotiated sample-rate clock (e.g. 48000).
func RescaleTimestamp(dtsMS int64, sampleRate uint32) uint32 {
	return uint32((dtsMS * int64(sampleRate)) / 1000)
}

// TWCCExtensionID is the one-byte-header RTP extension id negotiated
// for "draft-holmer-rmcat-transport-wide-cc-extensions-01".
type TWCCExtensionID uint8

// TWCC tracks the per-sender transport-wide sequence number, applied
// to every outgoing packet regardless of SSRC when the peer has
// negotiated the TWCC header extension URI.
type TWCC struct {
	ExtensionID TWCCExtensionID
	seq         uint16
}

// Apply sets the one-byte-header TWCC extension on pkt and advances
// the shared sequence counter.
func (t *TWCC) Apply(pkt *rtp.Packet) error {
	if t == nil || t.ExtensionID == 0 {
		return nil
	}
	t.seq++
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, t.seq)
	return pkt.SetExtension(uint8(t.ExtensionID), payload)
}
