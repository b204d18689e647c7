package bridge

import (
	"github.com/asticode/go-astits"
	"github.com/docterling/rtmp-bridge-server/internal/av"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/tsmux"
)

// TSTarget is the SRT bridge Target (C9/C12 outbound direction): it
// encapsulates every incoming FLV-framed media.Packet into MPEG-TS
// via tsmux.Builder. The underlying io.Writer (a UDP/SRT socket) is
// supplied by the caller through tsmux.NewBuilder; this type only
// owns the FLV->TS framing decision (stream types, PTS/DTS
// extraction from the AVC composition-time field).
type TSTarget struct {
	builder *tsmux.Builder
}

// NewTSTarget wraps an already-constructed tsmux.Builder (built with
// the negotiated video/audio stream types) as a bridge Target.
func NewTSTarget(builder *tsmux.Builder) *TSTarget {
	return &TSTarget{builder: builder}
}

// OnPublish is a no-op; the muxer writes PAT/PMT lazily on the first
// WriteFrame call.
func (t *TSTarget) OnPublish() {}

// OnFrame strips the FLV/enhanced-RTMP frame header, rescales
// composition time into a PTS offset, and muxes the remaining
// elementary-stream bytes as one PES unit.
func (t *TSTarget) OnFrame(p media.Packet) {
	defer p.Release()

	raw := p.Bytes()
	if p.CodecHints.IsSequenceHeader || len(raw) == 0 {
		return
	}

	var es []byte
	ctsMS := int64(0)

	if p.IsVideo() {
		if len(raw) < 5 {
			return
		}
		if raw[0]&0x80 != 0 { // enhanced-RTMP HEVC, no composition time field
			es = raw[5:]
		} else {
			cts := int32(raw[2])<<16 | int32(raw[3])<<8 | int32(raw[4])
			ctsMS = int64(cts)
			es = raw[5:]
		}
		es = flattenToAnnexB(es)
	} else if p.IsAudio() {
		if len(raw) < 2 {
			return
		}
		es = raw[2:]
	} else {
		return
	}

	frame := media.Wrap(es, p.MessageType, p.StreamID, p.TimestampMS)
	defer frame.Release()

	_ = t.builder.WriteFrame(frame, p.TimestampMS+ctsMS, p.TimestampMS)
}

// OnUnpublish is a no-op; a fresh TS segment is expected to start a
// new Builder rather than reuse this one across publishes.
func (t *TSTarget) OnUnpublish() {}

// Close is a no-op; the caller owns the underlying io.Writer.
func (t *TSTarget) Close() {}

// VideoStreamType maps an RTMP video codec id to the astits stream
// type tsmux.NewBuilder expects.
func VideoStreamType(codecID byte) astits.StreamType {
	switch codecID {
	case av.CodecHEVC:
		return tsmux.StreamTypeHEVC
	default:
		return tsmux.StreamTypeH264
	}
}

// flattenToAnnexB rewrites AVCC 4-byte-length-prefixed NALUs as
// Annex-B start-code-delimited NALUs, the wire form MPEG-TS PES
// payloads carry for H.264/H.265 elementary streams.
func flattenToAnnexB(avcc []byte) []byte {
	var out []byte
	for len(avcc) >= 4 {
		l := int(avcc[0])<<24 | int(avcc[1])<<16 | int(avcc[2])<<8 | int(avcc[3])
		avcc = avcc[4:]
		if l < 0 || l > len(avcc) {
			break
		}
		out = append(out, 0, 0, 0, 1)
		out = append(out, avcc[:l]...)
		avcc = avcc[l:]
	}
	return out
}
