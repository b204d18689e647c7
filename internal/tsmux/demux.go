package tsmux

import (
	"bytes"
	"context"
	"io"

	"github.com/asticode/go-astits"
	"github.com/docterling/rtmp-bridge-server/internal/av"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// Demuxer consumes an MPEG-TS byte stream (SRT's payload), maintains
// PAT/PMT, reassembles per-PID PES units, and emits FLV-framed
// media.Packets, per spec.md §4.12's inbound direction. It records
// when the AVC SPS/PPS or the AAC AudioSpecificConfig change (see
// TakeParameterSetChange and TakeAACConfigChange) but builds no
// sequence-header frame itself. Video is parsed as H.264 only: an HEVC
// PID is framed with the AVC header and NAL-type rules, and no VPS or
// HEVC SPS/PPS changes are tracked.
type Demuxer struct {
	demuxer *astits.Demuxer

	// StreamID is stamped onto every synthesized media.Packet.
	StreamID uint32

	videoPID uint16
	audioPID uint16

	lastSPS, lastPPS []byte
	paramsChanged    bool

	lastAACConfig av.AACSpecificConfig
	sawAACConfig  bool
	aacChanged    bool

	hasBasePTS bool
	basePTS    int64
}

// TakeParameterSetChange returns the current AVC SPS/PPS and clears
// the pending-change flag, ok is true only on the call immediately
// following a frame whose parameter sets differed from the last ones
// seen — so internal/bridge's SRTInbound emits a fresh
// av.BuildAVCSequenceHeader exactly once per change, not once per
// frame.
func (d *Demuxer) TakeParameterSetChange() (sps, pps []byte, ok bool) {
	if !d.paramsChanged {
		return nil, nil, false
	}
	d.paramsChanged = false
	return d.lastSPS, d.lastPPS, true
}

// TakeAACConfigChange returns the decoded AudioSpecificConfig fields
// recovered from the first ADTS header seen (or a later header whose
// profile/sample-rate/channel config changed), analogous to
// TakeParameterSetChange for audio.
func (d *Demuxer) TakeAACConfigChange() (cfg av.AACSpecificConfig, ok bool) {
	if !d.aacChanged {
		return av.AACSpecificConfig{}, false
	}
	d.aacChanged = false
	return d.lastAACConfig, true
}

// NewDemuxer wraps r as an MPEG-TS demuxer.
func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{demuxer: astits.NewDemuxer(context.Background(), r)}
}

// rescaleMS converts a 90kHz PES PTS/DTS clock value into a
// millisecond timestamp relative to the first PTS this Demuxer has
// seen, matching RTMP's zero-based publish-relative clock.
func (d *Demuxer) rescaleMS(pts int64) int64 {
	if !d.hasBasePTS {
		d.basePTS = pts
		d.hasBasePTS = true
	}
	delta := pts - d.basePTS
	if delta < 0 {
		delta = 0
	}
	return delta / 90
}

// Next reads and classifies the next demuxed unit, returning a
// media.Packet once a full PES payload resolves to an elementary
// stream frame. ok is false for PAT/PMT bookkeeping data with no
// frame to emit yet; err is io.EOF at stream end.
func (d *Demuxer) Next() (pkt media.Packet, ok bool, err error) {
	data, err := d.demuxer.NextData()
	if err != nil {
		if err == astits.ErrNoMorePackets {
			return media.Packet{}, false, io.EOF
		}
		return media.Packet{}, false, rtmperrors.Wrap(rtmperrors.TransientIO, "demux TS", err)
	}

	if data.PMT != nil {
		for _, es := range data.PMT.ElementaryStreams {
			switch es.StreamType {
			case StreamTypeH264, StreamTypeHEVC:
				d.videoPID = es.ElementaryPID
			case StreamTypeAAC:
				d.audioPID = es.ElementaryPID
			}
		}
		return media.Packet{}, false, nil
	}

	if data.PES == nil {
		return media.Packet{}, false, nil
	}

	ts := int64(0)
	if data.PES.Header.OptionalHeader != nil && data.PES.Header.OptionalHeader.PTS != nil {
		ts = d.rescaleMS(data.PES.Header.OptionalHeader.PTS.Base)
	}

	switch data.PID {
	case d.videoPID:
		return d.handleVideo(data.PES.Data, ts)
	case d.audioPID:
		return d.handleAudio(data.PES.Data, ts)
	default:
		return media.Packet{}, false, nil
	}
}

// handleVideo demuxes an Annex-B elementary-stream PES payload into
// an FLV video tag, emitting a sequence-header frame first if the
// parameter sets changed since the last frame.
func (d *Demuxer) handleVideo(es []byte, ts int64) (media.Packet, bool, error) {
	nalus := splitAnnexB(es)
	if len(nalus) == 0 {
		return media.Packet{}, false, nil
	}

	var sps, pps []byte
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		switch n[0] & 0x1f {
		case 7:
			sps = n
		case 8:
			pps = n
		}
	}
	if sps != nil && pps != nil && (!bytes.Equal(sps, d.lastSPS) || !bytes.Equal(pps, d.lastPPS)) {
		d.lastSPS = append([]byte(nil), sps...)
		d.lastPPS = append([]byte(nil), pps...)
		d.paramsChanged = true
	}

	body := flattenAVC(nalus)
	return media.Wrap(body, media.TypeVideo, d.StreamID, ts), true, nil
}

func (d *Demuxer) handleAudio(es []byte, ts int64) (media.Packet, bool, error) {
	if len(es) < 7 {
		return media.Packet{}, false, nil
	}
	cfg, ok := adtsAACConfig(es)
	if !ok {
		return media.Packet{}, false, nil
	}
	if !d.sawAACConfig || cfg.SamplingIndex != d.lastAACConfig.SamplingIndex || cfg.ChanConfig != d.lastAACConfig.ChanConfig || cfg.ObjectType != d.lastAACConfig.ObjectType {
		d.sawAACConfig = true
		d.lastAACConfig = cfg
		d.aacChanged = true
	}

	headerLen := 7
	frameLen := adtsFrameLength(es)
	if frameLen <= headerLen || frameLen > len(es) {
		return media.Packet{}, false, nil
	}
	raw := es[headerLen:frameLen]

	body := make([]byte, 2+len(raw))
	body[0] = 0xAF
	body[1] = 0x01
	copy(body[2:], raw)

	return media.Wrap(body, media.TypeAudio, d.StreamID, ts), true, nil
}

func splitAnnexB(es []byte) [][]byte {
	var nalus [][]byte
	start := bytes.Index(es, []byte{0, 0, 0, 1})
	sc := 4
	if start < 0 {
		start = bytes.Index(es, []byte{0, 0, 1})
		sc = 3
	}
	if start < 0 {
		return nil
	}
	offset := start + sc

	for offset < len(es) {
		next := indexStartCode(es[offset:])
		if next < 0 {
			nalus = append(nalus, es[offset:])
			break
		}
		nalus = append(nalus, es[offset:offset+next])
		offset += next + startCodeLenAt(es[offset+next:])
	}
	return nalus
}

func indexStartCode(b []byte) int {
	for i := 0; i+3 <= len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && (b[i+2] == 1 || (i+4 <= len(b) && b[i+2] == 0 && b[i+3] == 1)) {
			return i
		}
	}
	return -1
}

func startCodeLenAt(b []byte) int {
	if len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1 {
		return 4
	}
	return 3
}

func flattenAVC(nalus [][]byte) []byte {
	frameType := byte(2)
	for _, n := range nalus {
		if len(n) > 0 && n[0]&0x1f == 5 {
			frameType = 1
		}
	}

	body := []byte{(frameType << 4) | 7, 1, 0, 0, 0}
	for _, n := range nalus {
		lenBuf := []byte{
			byte(len(n) >> 24), byte(len(n) >> 16), byte(len(n) >> 8), byte(len(n)),
		}
		body = append(body, lenBuf...)
		body = append(body, n...)
	}
	return body
}
