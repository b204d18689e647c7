package bridge

import (
	"sync"

	"github.com/docterling/rtmp-bridge-server/internal/framebuilder"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/pion/rtp"
)

// TrackKind classifies an inbound RTP track for RTCInbound.
type TrackKind uint8

const (
	TrackVideoH264 TrackKind = iota
	TrackVideoHEVC
	TrackAudioAAC
	TrackAudioOpus
)

// RTCInbound is the RTC bridge's ingest half (C9's "on_rtp" contract,
// C11's Frame Builder): one per published RTC source, reassembling
// each track's RTP stream into FLV-framed media.Packets and
// forwarding them to an attached RTMP target. The RTC transport
// itself (ICE/DTLS/SRTP, RTP demultiplexing by SSRC) is the
// out-of-scope collaborator named in spec.md §1; this type only
// implements what happens once a *rtp.Packet for a known track has
// already been handed in.
type RTCInbound struct {
	StreamID uint32
	Target   RTMPForwarder

	mu      sync.Mutex
	jitters map[uint32]*framebuilder.JitterBuffer
	kinds   map[uint32]TrackKind

	publishing bool
}

// NewRTCInbound returns an RTCInbound that synthesizes media.Packets
// stamped with streamID and forwards them into target.
func NewRTCInbound(streamID uint32, target RTMPForwarder) *RTCInbound {
	return &RTCInbound{
		StreamID: streamID,
		Target:   target,
		jitters:  make(map[uint32]*framebuilder.JitterBuffer),
		kinds:    make(map[uint32]TrackKind),
	}
}

// OnPublish begins publishing into Target.
func (r *RTCInbound) OnPublish() {
	r.mu.Lock()
	if r.publishing {
		r.mu.Unlock()
		return
	}
	r.publishing = true
	r.mu.Unlock()
	r.Target.BeginPublish()
}

// OnUnpublish ends publishing on Target and forgets all jitter
// buffers, so a subsequent publish (same SSRC or not) starts clean.
func (r *RTCInbound) OnUnpublish() {
	r.mu.Lock()
	if !r.publishing {
		r.mu.Unlock()
		return
	}
	r.publishing = false
	r.jitters = make(map[uint32]*framebuilder.JitterBuffer)
	r.kinds = make(map[uint32]TrackKind)
	r.mu.Unlock()
	r.Target.EndPublish()
}

// OnRTP feeds one inbound RTP packet for the named SSRC/kind. On a
// marker-bit access-unit boundary the reassembled frame is forwarded
// to Target.
func (r *RTCInbound) OnRTP(ssrc uint32, kind TrackKind, pkt *rtp.Packet, timestampMS int64) {
	r.mu.Lock()
	j, ok := r.jitters[ssrc]
	if !ok {
		j = framebuilder.NewJitterBuffer(64)
		r.jitters[ssrc] = j
		r.kinds[ssrc] = kind
	}
	units := j.Push(pkt)
	r.mu.Unlock()

	for _, unit := range units {
		r.dispatch(kind, unit, timestampMS)
	}
}

func (r *RTCInbound) dispatch(kind TrackKind, pkts []*rtp.Packet, timestampMS int64) {
	var frame media.Packet
	var ok bool

	switch kind {
	case TrackVideoH264:
		frame, ok = framebuilder.H264{StreamID: r.StreamID}.ReassembleAccessUnit(pkts, timestampMS)
	case TrackVideoHEVC:
		frame, ok = framebuilder.HEVC{StreamID: r.StreamID}.ReassembleAccessUnit(pkts, timestampMS)
	case TrackAudioAAC:
		if len(pkts) == 0 {
			return
		}
		frame, ok = framebuilder.AAC{StreamID: r.StreamID}.Reassemble(pkts[len(pkts)-1], timestampMS)
	case TrackAudioOpus:
		if len(pkts) == 0 {
			return
		}
		frame = framebuilder.Opus{StreamID: r.StreamID}.Reassemble(pkts[len(pkts)-1], timestampMS)
		ok = true
	}

	if !ok {
		return
	}
	r.Target.PublishFrame(frame)
}
