package session

import (
	"strconv"
	"time"

	"github.com/docterling/rtmp-bridge-server/internal/rtmp/command"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
	"github.com/docterling/rtmp-bridge-server/internal/source"
)

// handleCommand dispatches one decoded AMF0 command to its handler,
// returning false if the connection must close.
func (s *Session) handleCommand(cmd command.Command, streamID uint32) bool {
	switch cmd.Name {
	case "connect":
		return s.handleConnect(cmd)
	case "createStream":
		return s.handleCreateStream(cmd)
	case "publish":
		return s.handlePublish(cmd, streamID)
	case "play":
		return s.handlePlay(cmd, streamID)
	case "pause":
		return s.handlePause(cmd)
	case "deleteStream":
		return s.handleDeleteStream(cmd)
	case "closeStream":
		return s.handleCloseStream(streamID)
	case "receiveAudio":
		s.receiveAudio = cmd.GetArg("bool").GetBool()
	case "receiveVideo":
		s.receiveVideo = cmd.GetArg("bool").GetBool()
	}

	return true
}

func (s *Session) handleConnect(cmd command.Command) bool {
	s.channel = cmd.GetArg("cmdObj").GetProperty("app").GetString()

	if !validateStreamKey(s.channel, s.server.StreamIDMaxLength) {
		s.logDebug("invalid channel name in connect: '" + s.channel + "'")
		return false
	}

	hasObjectEncoding := !cmd.GetArg("cmdObj").GetProperty("objectEncoding").IsUndefined()
	s.objectEncoding = uint32(cmd.GetArg("cmdObj").GetProperty("objectEncoding").GetInteger())
	s.connectTime = time.Now().UnixMilli()
	s.bitRateLastTick = s.connectTime
	s.isConnected = true

	transID := int64(cmd.GetArg("transId").GetDouble())

	rtmplog.Request(s.id, s.ip, "CONNECT '"+s.channel+"'")

	s.ackWindowSize = 5_000_000
	s.sendWindowACK(s.ackWindowSize)
	s.setPeerBandwidth(5_000_000, 2)
	s.setChunkSize(s.outChunkSize)
	s.respondConnect(transID, hasObjectEncoding)

	return true
}

func (s *Session) handleCreateStream(cmd command.Command) bool {
	transID := int64(cmd.GetArg("transId").GetDouble())
	s.respondCreateStream(transID)
	return true
}

func (s *Session) handlePublish(cmd command.Command, streamID uint32) bool {
	s.key = splitStreamPath(cmd.GetArg("streamName").GetString())

	if s.key == "" || !s.isConnected {
		return true
	}
	if !validateStreamKey(s.key, s.server.StreamIDMaxLength) {
		s.sendStatus(streamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return false
	}

	s.publishStreamID = streamID

	if s.isPublishing {
		s.sendStatus(streamID, "error", "NetStream.Publish.BadConnection", "Connection already publishing")
		return true
	}

	key := sourceKey(s.channel, s.key)
	src := s.server.Registry.FetchOrCreate(key)
	if src.IsPublishing() {
		s.sendStatus(streamID, "error", "NetStream.Publish.BadName", "Stream already publishing")
		return false
	}

	rtmplog.Request(s.id, s.ip, "PUBLISH ("+strconv.Itoa(int(streamID))+") '"+s.channel+"/"+s.key+"'")

	if s.server.Authorizer != nil {
		accepted, upstreamID := s.server.Authorizer.RequestPublish(s.channel, s.key, s.ip)
		if !accepted {
			rtmplog.Request(s.id, s.ip, "publish rejected by authorizer")
			s.sendStatus(streamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			return false
		}
		s.streamID = upstreamID
	}

	if s.server.NewBridge != nil {
		src.Bridge = s.server.NewBridge(s.channel, s.key)
	}

	s.publishMu.Lock()
	s.pubSrc = src
	s.isPublishing = true
	s.publishMu.Unlock()

	s.server.registerPublisher(s.channel, s)
	src.BeginPublish()

	s.sendStatus(streamID, "status", "NetStream.Publish.Start", s.streamPath()+" is now published.")

	return true
}

func (s *Session) handlePlay(cmd command.Command, streamID uint32) bool {
	rawName := cmd.GetArg("streamName").GetString()
	s.key = splitStreamPath(rawName)
	s.gopPlayNo, s.gopPlayClear = parsePlayParams(rawName)

	if s.key == "" || !s.isConnected {
		return true
	}

	s.playStreamID = streamID

	if s.isIdling || s.isPlaying {
		s.sendStatus(streamID, "error", "NetStream.Play.BadConnection", "Connection already playing")
		return true
	}

	if !s.server.canPlay(s.ip) {
		s.sendStatus(streamID, "error", "NetStream.Play.BadName", "Your net address is not whitelisted for playing")
		return false
	}

	rtmplog.Request(s.id, s.ip, "PLAY ("+strconv.Itoa(int(streamID))+") '"+s.channel+"/"+s.key+"'")

	s.respondPlay()

	src := s.server.Registry.FetchOrCreate(sourceKey(s.channel, s.key))
	s.playSrc = src

	consumer := source.NewConsumer(src, 0)
	consumer.Handler = s.playerDeliver
	s.consumer = consumer

	if src.IsPublishing() {
		s.isPlaying = true
	} else {
		s.isIdling = true
		rtmplog.Request(s.id, s.ip, "PLAY IDLE '"+s.channel+"/"+s.key+"'")
	}

	src.Subscribe(consumer)

	return true
}

func (s *Session) handlePause(cmd command.Command) bool {
	if !s.isPlaying {
		return true
	}

	s.isPaused = cmd.GetArg("pause").GetBool()

	if s.isPaused {
		s.sendStreamStatus(streamEOF, s.playStreamID)
		s.sendStatus(s.playStreamID, "status", "NetStream.Pause.Notify", "Paused live")
		rtmplog.Request(s.id, s.ip, "PAUSE '"+s.channel+"/"+s.key+"'")
	} else {
		s.sendStreamStatus(streamBegin, s.playStreamID)
		rtmplog.Request(s.id, s.ip, "RESUME '"+s.channel+"/"+s.key+"'")
		s.sendStatus(s.playStreamID, "status", "NetStream.Unpause.Notify", "Unpaused live")
	}

	return true
}

func (s *Session) handleDeleteStream(cmd command.Command) bool {
	streamID := uint32(cmd.GetArg("streamId").GetInteger())
	s.deleteStreamWithStatus(streamID)
	return true
}

func (s *Session) handleCloseStream(streamID uint32) bool {
	s.deleteStreamWithStatus(streamID)
	return true
}

// deleteStreamWithStatus is deleteStream plus the onStatus
// notifications a deleteStream/closeStream command (as opposed to a
// connection teardown) is expected to send back.
func (s *Session) deleteStreamWithStatus(streamID uint32) {
	if streamID == s.playStreamID {
		rtmplog.Request(s.id, s.ip, "PLAY STOP '"+s.channel+"/"+s.key+"'")
		s.sendStatus(s.playStreamID, "status", "NetStream.Play.Stop", "Stopped playing stream.")
	}
	s.deleteStream(streamID)
}

func (s *Session) endPublish() {
	s.publishMu.Lock()
	src := s.pubSrc
	s.pubSrc = nil
	s.isPublishing = false
	s.publishMu.Unlock()

	if src != nil {
		src.EndPublish()
	}

	s.server.unregisterPublisher(s.channel, s)

	if s.server.Authorizer != nil {
		s.server.Authorizer.ReleasePublish(s.channel, s.key, s.streamID)
	}
}
