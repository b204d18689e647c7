package session

import (
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/command"
)

// handleAudio/handleVideo forward one reassembled media frame from
// the publisher straight into its source.Source, which owns sequence
// header caching, GOP replay, the bridge cascade, and consumer
// fan-out; this package only needs to gate on isPublishing and set
// the frame's wall clock.
func (s *Session) handleAudio(p media.Packet) bool {
	return s.publishFrame(p)
}

func (s *Session) handleVideo(p media.Packet) bool {
	return s.publishFrame(p)
}

func (s *Session) publishFrame(p media.Packet) bool {
	s.publishMu.Lock()
	src := s.pubSrc
	publishing := s.isPublishing
	s.publishMu.Unlock()

	if !publishing || src == nil {
		p.Release()
		return true
	}

	s.clock = p.TimestampMS
	src.PublishFrame(p)
	return true
}

// handleData processes an AMF0/AMF3 data-channel message; the only
// one this server acts on is "@setDataFrame", which carries the
// onMetaData object a publisher announces once at the start of a
// stream.
func (s *Session) handleData(data command.Data) bool {
	if data.Tag != "@setDataFrame" {
		return true
	}

	s.publishMu.Lock()
	src := s.pubSrc
	publishing := s.isPublishing
	s.publishMu.Unlock()

	if !publishing || src == nil {
		return true
	}

	metaCmd := command.NewData("onMetaData")
	metaCmd.Set("dataObj", *data.GetArg("dataObj"))
	encoded := metaCmd.Encode()

	p := media.Wrap(encoded, media.TypeScript, s.publishStreamID, s.clock)
	src.SetMetadata(p)

	return true
}
