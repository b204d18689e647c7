package session

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/amf"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/chunk"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/command"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

// User control event types used by stream-status notifications.
const (
	streamBegin = 0x00
	streamEOF   = 0x01
)

func (s *Session) writeSync(b []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = s.conn.Write(b)
}

func (s *Session) sendAck(size uint32) {
	b := make([]byte, 16)
	copy(b, []byte{0x02, 0, 0, 0, 0, 0, 4, byte(chunk.TypeAcknowledgement)})
	binary.BigEndian.PutUint32(b[12:16], size)
	s.writeSync(b)
}

func (s *Session) sendWindowACK(size uint32) {
	b := make([]byte, 16)
	copy(b, []byte{0x02, 0, 0, 0, 0, 0, 4, byte(chunk.TypeWindowAckSize)})
	binary.BigEndian.PutUint32(b[12:16], size)
	s.writeSync(b)
}

func (s *Session) setPeerBandwidth(size uint32, limitType byte) {
	b := make([]byte, 17)
	copy(b, []byte{0x02, 0, 0, 0, 0, 0, 5, byte(chunk.TypeSetPeerBandwidth)})
	binary.BigEndian.PutUint32(b[12:16], size)
	b[16] = limitType
	s.writeSync(b)
}

func (s *Session) setChunkSize(size uint32) {
	b := make([]byte, 16)
	copy(b, []byte{0x02, 0, 0, 0, 0, 0, 4, byte(chunk.TypeSetChunkSize)})
	binary.BigEndian.PutUint32(b[12:16], size)
	s.writeSync(b)
	s.outChunkSize = size
}

func (s *Session) sendStreamStatus(eventType uint16, streamID uint32) {
	b := make([]byte, 18)
	copy(b, []byte{0x02, 0, 0, 0, 0, 0, 6, byte(chunk.TypeEvent)})
	binary.BigEndian.PutUint16(b[12:14], eventType)
	binary.BigEndian.PutUint32(b[14:18], streamID)
	s.writeSync(b)
}

func (s *Session) sendInvoke(streamID uint32, cmd command.Command) {
	msg := chunk.NewMessage()
	msg.Header.Fmt = chunk.Fmt0
	msg.Header.CID = chunk.ChannelInvoke
	msg.Header.PacketType = chunk.TypeInvoke
	msg.Header.StreamID = streamID
	msg.Payload = cmd.Encode()
	msg.Header.Length = uint32(len(msg.Payload))

	s.writeSync(msg.CreateChunks(int(s.outChunkSize)))
}

func (s *Session) sendData(streamID uint32, data command.Data) {
	msg := chunk.NewMessage()
	msg.Header.Fmt = chunk.Fmt0
	msg.Header.CID = chunk.ChannelData
	msg.Header.PacketType = chunk.TypeData
	msg.Header.StreamID = streamID
	msg.Payload = data.Encode()
	msg.Header.Length = uint32(len(msg.Payload))

	s.writeSync(msg.CreateChunks(int(s.outChunkSize)))
}

func (s *Session) sendStatus(streamID uint32, level, code, description string) {
	cmd := command.NewCommand("onStatus")
	cmd.Set("transId", amf.NewNumber(0))
	cmd.Set("cmdObj", amf.NewValue(amf.TypeNull))

	info := amf.NewObject(map[string]*amf.Value{})
	infoLevel := amf.NewString(level)
	infoCode := amf.NewString(code)
	info.GetObject()["level"] = &infoLevel
	info.GetObject()["code"] = &infoCode
	if description != "" {
		infoDesc := amf.NewString(description)
		info.GetObject()["description"] = &infoDesc
	}
	cmd.Set("info", info)

	s.sendInvoke(streamID, cmd)
}

func (s *Session) sendSampleAccess(streamID uint32) {
	data := command.NewData("|RtmpSampleAccess")
	data.Set("bool1", amf.NewBool(false))
	data.Set("bool2", amf.NewBool(false))
	s.sendData(streamID, data)
}

func (s *Session) respondConnect(transID int64, hasObjectEncoding bool) {
	cmd := command.NewCommand("_result")
	cmd.Set("transId", amf.NewNumber(float64(transID)))

	cmdObj := amf.NewObject(map[string]*amf.Value{})
	fmsVer := amf.NewString("FMS/3,0,1,123")
	caps := amf.NewNumber(31)
	cmdObj.GetObject()["fmsVer"] = &fmsVer
	cmdObj.GetObject()["capabilities"] = &caps
	cmd.Set("cmdObj", cmdObj)

	info := amf.NewObject(map[string]*amf.Value{})
	level := amf.NewString("status")
	code := amf.NewString("NetConnection.Connect.Success")
	desc := amf.NewString("Connection succeeded.")
	info.GetObject()["level"] = &level
	info.GetObject()["code"] = &code
	info.GetObject()["description"] = &desc
	if hasObjectEncoding {
		oe := amf.NewNumber(float64(s.objectEncoding))
		info.GetObject()["objectEncoding"] = &oe
	} else {
		oe := amf.NewValue(amf.TypeUndefined)
		info.GetObject()["objectEncoding"] = &oe
	}
	cmd.Set("info", info)

	s.sendInvoke(0, cmd)
}

func (s *Session) respondCreateStream(transID int64) {
	cmd := command.NewCommand("_result")
	cmd.Set("transId", amf.NewNumber(float64(transID)))
	cmd.Set("cmdObj", amf.NewValue(amf.TypeNull))

	s.streamCount++
	cmd.Set("info", amf.NewNumber(float64(s.streamCount)))

	s.sendInvoke(0, cmd)
}

func (s *Session) respondPlay() {
	s.sendStreamStatus(streamBegin, s.playStreamID)
	s.sendStatus(s.playStreamID, "status", "NetStream.Play.Reset", "Playing and resetting stream.")
	s.sendStatus(s.playStreamID, "status", "NetStream.Play.Start", "Started playing stream.")
	s.sendSampleAccess(0)
}

// sendMediaPacket forwards one media.Packet to this player's socket
// as an RTMP audio/video message carrying the player's own
// playStreamID, regardless of the stream id the packet was originally
// published under.
func (s *Session) sendMediaPacket(p media.Packet) {
	msg := chunk.NewMessage()
	msg.Header.Fmt = chunk.Fmt0
	msg.Header.StreamID = s.playStreamID
	msg.Header.Timestamp = p.TimestampMS
	msg.Payload = p.Bytes()
	msg.Header.Length = uint32(len(msg.Payload))

	if p.IsAudio() {
		msg.Header.CID = chunk.ChannelAudio
		msg.Header.PacketType = chunk.TypeAudio
	} else {
		msg.Header.CID = chunk.ChannelVideo
		msg.Header.PacketType = chunk.TypeVideo
	}

	s.writeSync(msg.CreateChunks(int(s.outChunkSize)))
}

// sendMetadataPacket forwards a data-channel (onMetaData) media.Packet
// carrying pre-encoded AMF0 bytes.
func (s *Session) sendMetadataPacket(p media.Packet) {
	msg := chunk.NewMessage()
	msg.Header.Fmt = chunk.Fmt0
	msg.Header.CID = chunk.ChannelData
	msg.Header.PacketType = chunk.TypeData
	msg.Header.StreamID = s.playStreamID
	msg.Header.Timestamp = p.TimestampMS
	msg.Payload = p.Bytes()
	msg.Header.Length = uint32(len(msg.Payload))

	s.writeSync(msg.CreateChunks(int(s.outChunkSize)))
}

// playerDeliver is the fan-out Handler installed on a player's
// Consumer: it classifies the packet by MessageType and writes the
// matching RTMP message straight to the socket, releasing the
// packet's reference once sent.
func (s *Session) playerDeliver(p media.Packet) {
	defer p.Release()

	if !s.receiveAudio && p.IsAudio() {
		return
	}
	if !s.receiveVideo && p.IsVideo() {
		return
	}
	if s.isPaused {
		return
	}

	if p.MessageType == media.TypeScript {
		s.sendMetadataPacket(p)
		return
	}
	s.sendMediaPacket(p)
}

func (s *Session) logDebug(msg string) {
	rtmplog.DebugSession(s.id, s.ip, msg)
}
