package bridge

import (
	"context"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

// twccExtensionURI is the TWCC header extension URI a peer negotiates
// in its SDP offer/answer for transport-wide congestion control.
const twccExtensionURI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"

// NewWebRTCTarget returns an RTPTarget writing into a pion WebRTC
// local track: *webrtc.TrackLocalStaticRTP already satisfies RTPSink
// (WriteRTP(*rtp.Packet) error), so this is the RTC bridge's (C9)
// concrete outbound port, the ICE/DTLS/SRTP transport around it being
// the out-of-scope collaborator named in spec.md §1.
func NewWebRTCTarget(track *webrtc.TrackLocalStaticRTP, mtu int, videoPT, audioPT uint8, ssrcVideo, ssrcAudio uint32, audioSampleRate uint32) *RTPTarget {
	return NewRTPTarget(track, mtu, videoPT, audioPT, ssrcVideo, ssrcAudio, audioSampleRate)
}

// NegotiateTWCCExtension scans an answer/offer SDP for the TWCC
// extmap line and returns the negotiated extension id, for
// RTPTarget.EnableTWCC (§4.10).
func NegotiateTWCCExtension(sdpBlob []byte) (id uint8, ok bool) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(sdpBlob); err != nil {
		return 0, false
	}
	for _, media := range desc.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key != "extmap" {
				continue
			}
			extID, uri, ok := parseExtmap(attr.Value)
			if ok && uri == twccExtensionURI {
				return extID, true
			}
		}
	}
	return 0, false
}

func parseExtmap(value string) (id uint8, uri string, ok bool) {
	var n int
	var u string
	if _, err := fmt.Sscanf(value, "%d %s", &n, &u); err != nil || n < 0 || n > 255 {
		return 0, "", false
	}
	return uint8(n), u, true
}

// HandleRTCP scans a batch of incoming RTCP packets from the RTC peer
// for receiver reports, logging the reported fraction lost so a
// deployment can correlate RTC-side loss with bridge-side bitrate
// decisions. This is the C9 RTC target's receiver-report half.
func HandleRTCP(pkts []rtcp.Packet) {
	for _, p := range pkts {
		rr, ok := p.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			if report.FractionLost == 0 {
				continue
			}
			rtmplog.Warning(fmt.Sprintf("rtc bridge: ssrc %d reports %d/256 fraction lost, %d total lost",
				report.SSRC, report.FractionLost, report.TotalLost))
		}
	}
}

// PumpTrackRTP reads RTP packets off a remote WebRTC track and feeds
// them into an RTCInbound's jitter buffers (C9's inbound "on_rtp"
// leg, C11's Frame Builder), until ctx is done or the track ends.
func PumpTrackRTP(ctx context.Context, track *webrtc.TrackRemote, kind TrackKind, sink *RTCInbound) error {
	clockRate := track.Codec().ClockRate
	if clockRate == 0 {
		clockRate = 90000
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return err
		}
		timestampMS := int64(pkt.Timestamp) * 1000 / int64(clockRate)
		sink.OnRTP(uint32(track.SSRC()), kind, pkt, timestampMS)
	}
}
