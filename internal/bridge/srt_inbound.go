package bridge

import (
	"io"

	"github.com/docterling/rtmp-bridge-server/internal/av"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
	"github.com/docterling/rtmp-bridge-server/internal/tsmux"
)

// SRTBridge is the SRT source's composite bridge (C9's "on_packet"
// contract): it embeds the ordinary outbound *Bridge (so RTC/RTSP/
// direct-RTMP targets attach exactly as they would on an RTMP
// source's bridge) and adds the MPEG-TS demux half (C12 inbound),
// feeding every received TS chunk through a tsmux.Demuxer and
// cascading each synthesized frame into its own Bridge.OnFrame,
// synthesizing a fresh sequence-header frame whenever the inbound
// parameter sets or AAC config change.
type SRTBridge struct {
	*Bridge

	demux *tsmux.Demuxer
	pw    *io.PipeWriter
	done  chan struct{}
}

// NewSRTBridge returns an SRTBridge stamping streamID onto every
// synthesized media.Packet.
func NewSRTBridge(streamID uint32) *SRTBridge {
	pr, pw := io.Pipe()
	d := tsmux.NewDemuxer(pr)
	d.StreamID = streamID

	s := &SRTBridge{
		Bridge: New(),
		demux:  d,
		pw:     pw,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// OnPacket feeds one chunk of received MPEG-TS bytes (one or more
// 188-byte packets) into the demuxer.
func (s *SRTBridge) OnPacket(ts []byte) error {
	_, err := s.pw.Write(ts)
	return err
}

// Close stops the demux loop. Safe to call once the SRT transport has
// torn down; OnPacket after Close returns io.ErrClosedPipe.
func (s *SRTBridge) Close() {
	_ = s.pw.CloseWithError(io.EOF)
	<-s.done
}

func (s *SRTBridge) run() {
	defer close(s.done)

	for {
		frame, ok, err := s.demux.Next()
		if err != nil {
			if err != io.EOF {
				rtmplog.Warning("srt bridge: demux TS: " + err.Error())
			}
			return
		}
		if !ok {
			continue
		}

		if sps, pps, changed := s.demux.TakeParameterSetChange(); changed {
			hdr := av.BuildAVCSequenceHeader(sps, pps)
			s.Bridge.OnFrame(media.Wrap(hdr, media.TypeVideo, s.demux.StreamID, frame.TimestampMS))
		}
		if cfg, changed := s.demux.TakeAACConfigChange(); changed {
			hdr := av.BuildAACSequenceHeader(cfg)
			s.Bridge.OnFrame(media.Wrap(hdr, media.TypeAudio, s.demux.StreamID, frame.TimestampMS))
		}

		s.Bridge.OnFrame(frame)
	}
}
