package bridge

import (
	"github.com/docterling/rtmp-bridge-server/internal/av"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtpbuilder"
	"github.com/pion/rtp"
)

// RTPSink receives the RTP packets a Target produces. It is the
// external collaborator boundary named in spec.md §1 (the actual
// SRTP/ICE transport is out of scope here): a WebRTC track writer for
// an RTC target, or a raw UDP/RTSP-interleaved writer for an RTSP
// target.
type RTPSink interface {
	WriteRTP(pkt *rtp.Packet) error
}

// RTPTarget is the RTC/RTSP bridge Target (C9/C10): it packetizes
// every incoming FLV-framed media.Packet into RTP (H.264/HEVC video,
// AAC-hbr audio) and forwards the resulting packets to Sink.
type RTPTarget struct {
	Sink RTPSink

	videoMTU int
	videoPT  uint8
	audioPT  uint8
	ssrcV    uint32
	ssrcA    uint32

	sampleRate uint32

	h264 *rtpbuilder.H264
	hevc *rtpbuilder.HEVC
	aac  *rtpbuilder.AAC
	twcc *rtpbuilder.TWCC

	videoCodec uint8
}

// NewRTPTarget returns an RTPTarget writing to sink. mtu bounds the
// RTP payload size budget for video fragmentation (FU-A/FU); the
// payload types and SSRCs are whatever the session negotiated for
// this subscriber's m-lines.
func NewRTPTarget(sink RTPSink, mtu int, videoPT, audioPT uint8, ssrcVideo, ssrcAudio uint32, audioSampleRate uint32) *RTPTarget {
	return &RTPTarget{
		Sink:       sink,
		videoMTU:   mtu,
		videoPT:    videoPT,
		audioPT:    audioPT,
		ssrcV:      ssrcVideo,
		ssrcA:      ssrcAudio,
		sampleRate: audioSampleRate,
	}
}

// EnableTWCC arms the transport-wide-congestion-control extension at
// extensionID, applied to every outgoing video/audio packet
// regardless of codec once the peer negotiates the TWCC URI.
func (t *RTPTarget) EnableTWCC(extensionID uint8) {
	t.twcc = &rtpbuilder.TWCC{ExtensionID: rtpbuilder.TWCCExtensionID(extensionID)}
}

// OnPublish is a no-op: packetizer state resets naturally on the
// first sequence header of a new publish.
func (t *RTPTarget) OnPublish() {}

// OnFrame converts one FLV-framed media packet into RTP and writes it
// to Sink. OnFrame owns p (bridge.Bridge.OnFrame hands each target its
// own reference) and releases it before returning.
func (t *RTPTarget) OnFrame(p media.Packet) {
	defer p.Release()

	if p.Len() == 0 {
		return
	}

	if p.IsVideo() {
		t.onVideo(p)
		return
	}
	if p.IsAudio() {
		t.onAudio(p)
	}
}

func (t *RTPTarget) onVideo(p media.Packet) {
	raw := p.Bytes()
	codec := raw[0] & 0x0f
	isSeq := p.CodecHints.IsSequenceHeader
	if raw[0]&0x80 != 0 {
		// enhanced-RTMP: the low nibble is the packet type and the
		// fourCC after the first byte names the codec.
		if len(raw) < 5 || string(raw[1:5]) != "hvc1" {
			return
		}
		codec = av.CodecHEVC
		isSeq = raw[0]&0x0f == 0 // PacketTypeSequenceStart
	}
	t.videoCodec = codec

	if isSeq {
		switch codec {
		case av.CodecH264:
			sps, pps := splitAVCDecoderConfig(raw)
			if sps == nil {
				return
			}
			if t.h264 == nil {
				t.h264 = rtpbuilder.NewH264(t.videoMTU, t.videoPT, t.ssrcV)
			}
			t.emit(t.h264.SetParameterSets(sps, pps))
		case av.CodecHEVC:
			vps, sps, pps := splitHEVCDecoderConfig(raw)
			if sps == nil {
				return
			}
			if t.hevc == nil {
				t.hevc = rtpbuilder.NewHEVC(t.videoMTU, t.videoPT, t.ssrcV)
			}
			t.emit(t.hevc.SetParameterSets(vps, sps, pps))
		}
		return
	}

	if len(raw) < 5 {
		return
	}
	nalus := splitAVCCNALUs(raw[5:])
	if len(nalus) == 0 {
		return
	}
	ts := uint32(p.TimestampMS * 90)

	switch codec {
	case av.CodecH264:
		if t.h264 == nil {
			t.h264 = rtpbuilder.NewH264(t.videoMTU, t.videoPT, t.ssrcV)
		}
		t.emit(t.h264.PacketizeAccessUnit(nalus, func() uint32 { return ts }))
	case av.CodecHEVC:
		if t.hevc == nil {
			t.hevc = rtpbuilder.NewHEVC(t.videoMTU, t.videoPT, t.ssrcV)
		}
		t.emit(t.hevc.PacketizeAccessUnit(nalus, func() uint32 { return ts }))
	}
}

func (t *RTPTarget) onAudio(p media.Packet) {
	raw := p.Bytes()
	if raw[0]>>4 != 10 { // AAC only; other codecs have no RTP mapping here
		return
	}
	if p.CodecHints.IsSequenceHeader {
		if len(raw) >= 4 {
			cfg := av.ReadAACSpecificConfig(raw)
			if cfg.SampleRate != 0 {
				t.sampleRate = cfg.SampleRate
			}
		}
		return
	}
	if t.sampleRate == 0 {
		t.sampleRate = 48000
	}
	if t.aac == nil {
		t.aac = rtpbuilder.NewAAC(t.audioPT, t.ssrcA)
	}
	if len(raw) <= 2 {
		return
	}
	ts := rtpbuilder.RescaleTimestamp(p.TimestampMS, t.sampleRate)
	t.emitOne(t.aac.Packetize(raw[2:], ts))
}

func (t *RTPTarget) emit(pkts []*rtp.Packet) {
	for _, pkt := range pkts {
		t.emitOne(pkt)
	}
}

func (t *RTPTarget) emitOne(pkt *rtp.Packet) {
	if pkt == nil || t.Sink == nil {
		return
	}
	if t.twcc != nil {
		_ = t.twcc.Apply(pkt)
	}
	_ = t.Sink.WriteRTP(pkt)
}

// OnUnpublish resets packetizer state so a subsequent publish starts
// clean (fresh STAP-A/AP on the next sequence header).
func (t *RTPTarget) OnUnpublish() {
	t.h264 = nil
	t.hevc = nil
	t.aac = nil
}

// Close is a no-op; RTPTarget owns no resources beyond Sink.
func (t *RTPTarget) Close() {}

// splitAVCDecoderConfig extracts the first SPS/PPS NALU from an
// AVCDecoderConfigurationRecord embedded in an RTMP AVC sequence
// header payload (5-byte VIDEODATA header included).
func splitAVCDecoderConfig(raw []byte) (sps, pps []byte) {
	if len(raw) < 11 {
		return nil, nil
	}
	off := 5
	off++ // configurationVersion
	off += 3 // profile, compat, level
	off++    // lengthSizeMinusOne
	numSPS := int(raw[off]) & 0x1f
	off++
	for i := 0; i < numSPS && off+2 <= len(raw); i++ {
		l := int(raw[off])<<8 | int(raw[off+1])
		off += 2
		if off+l > len(raw) {
			return sps, pps
		}
		if sps == nil {
			sps = raw[off : off+l]
		}
		off += l
	}
	if off >= len(raw) {
		return sps, pps
	}
	numPPS := int(raw[off])
	off++
	for i := 0; i < numPPS && off+2 <= len(raw); i++ {
		l := int(raw[off])<<8 | int(raw[off+1])
		off += 2
		if off+l > len(raw) {
			return sps, pps
		}
		if pps == nil {
			pps = raw[off : off+l]
		}
		off += l
	}
	return sps, pps
}

// splitHEVCDecoderConfig extracts the first VPS/SPS/PPS NALU from an
// enhanced-RTMP HEVCDecoderConfigurationRecord (5-byte header + fourCC
// "hvc1" + record, matching internal/framebuilder.HEVC's framing).
func splitHEVCDecoderConfig(raw []byte) (vps, sps, pps []byte) {
	if len(raw) < 9 || string(raw[1:5]) != "hvc1" {
		return nil, nil, nil
	}
	record := raw[5:]
	if len(record) < 23 {
		return nil, nil, nil
	}
	numArrays := int(record[22])
	off := 23
	for i := 0; i < numArrays && off < len(record); i++ {
		naluType := record[off] & 0x3f
		off++
		if off+2 > len(record) {
			break
		}
		count := int(record[off])<<8 | int(record[off+1])
		off += 2
		for n := 0; n < count && off+2 <= len(record); n++ {
			l := int(record[off])<<8 | int(record[off+1])
			off += 2
			if off+l > len(record) {
				return vps, sps, pps
			}
			nalu := record[off : off+l]
			off += l
			switch naluType {
			case 32:
				if vps == nil {
					vps = nalu
				}
			case 33:
				if sps == nil {
					sps = nalu
				}
			case 34:
				if pps == nil {
					pps = nalu
				}
			}
		}
	}
	return vps, sps, pps
}

// splitAVCCNALUs splits a 4-byte-length-prefixed (AVCC) access unit
// into its constituent raw NALUs.
func splitAVCCNALUs(b []byte) [][]byte {
	var out [][]byte
	for len(b) >= 4 {
		l := int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3])
		b = b[4:]
		if l < 0 || l > len(b) {
			break
		}
		out = append(out, b[:l])
		b = b[l:]
	}
	return out
}
