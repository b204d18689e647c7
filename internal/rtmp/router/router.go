// Package router dispatches a fully reassembled chunk.Message (C1's
// output) into one typed Event: a protocol-control update, a decoded
// AMF command/data packet, or a media.Packet ready for the consumer
// fan-out.
package router

import (
	"encoding/binary"

	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/chunk"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/command"
	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// Kind identifies the concrete payload carried by an Event.
type Kind int

const (
	KindDropped Kind = iota
	KindSetChunkSize
	KindWindowAckSize
	KindSetPeerBandwidth
	KindUserControl
	KindCommand
	KindData
	KindMedia
)

// User control event types (RTMP UserControlMessage, type id 4).
const (
	UserControlStreamBegin     = 0
	UserControlStreamEOF       = 1
	UserControlStreamDry       = 2
	UserControlSetBufferLength = 3
	UserControlStreamIsRecorded = 4
	UserControlPingRequest     = 6
	UserControlPingResponse    = 7
)

// UserControl is a decoded UserControlMessage.
type UserControl struct {
	EventType uint16
	Data      []byte
}

// Event is the router's dispatch result for one completed message.
type Event struct {
	Kind Kind

	ChunkSize        uint32
	AckWindowSize    uint32
	PeerBandwidth    uint32
	UserControl      UserControl
	Command          command.Command
	Data             command.Data
	Media            media.Packet
}

// Dispatch classifies msg (which must have Handled == true, i.e. be a
// fully reassembled message) and decodes its payload per C2.
func Dispatch(msg *chunk.Message) (Event, error) {
	switch msg.Header.PacketType {
	case chunk.TypeSetChunkSize:
		if len(msg.Payload) < 4 {
			return Event{}, rtmperrors.New(rtmperrors.ProtocolViolation, "short SetChunkSize payload")
		}
		return Event{Kind: KindSetChunkSize, ChunkSize: binary.BigEndian.Uint32(msg.Payload) & 0x7fffffff}, nil

	case chunk.TypeWindowAckSize:
		if len(msg.Payload) < 4 {
			return Event{}, rtmperrors.New(rtmperrors.ProtocolViolation, "short WindowAckSize payload")
		}
		return Event{Kind: KindWindowAckSize, AckWindowSize: binary.BigEndian.Uint32(msg.Payload)}, nil

	case chunk.TypeSetPeerBandwidth:
		if len(msg.Payload) < 4 {
			return Event{}, rtmperrors.New(rtmperrors.ProtocolViolation, "short SetPeerBandwidth payload")
		}
		return Event{Kind: KindSetPeerBandwidth, PeerBandwidth: binary.BigEndian.Uint32(msg.Payload)}, nil

	case chunk.TypeAcknowledgement, chunk.TypeAbort:
		return Event{Kind: KindDropped}, nil

	case chunk.TypeEvent:
		if len(msg.Payload) < 2 {
			return Event{}, rtmperrors.New(rtmperrors.ProtocolViolation, "short UserControlMessage payload")
		}
		return Event{Kind: KindUserControl, UserControl: UserControl{
			EventType: binary.BigEndian.Uint16(msg.Payload[0:2]),
			Data:      msg.Payload[2:],
		}}, nil

	case chunk.TypeInvoke, chunk.TypeFlexMessage:
		// FFmpeg sends a spurious 4-byte AMF0-channel "timecode" probe
		// (first byte 0x00) on some versions; it is not a real command
		// and must be silently dropped rather than failed to decode.
		if len(msg.Payload) == 4 && msg.Payload[0] == 0x00 {
			return Event{Kind: KindDropped}, nil
		}
		payload := msg.Payload
		if msg.Header.PacketType == chunk.TypeFlexMessage && len(payload) > 0 {
			payload = payload[1:] // leading AMF3-marker byte
		}
		return Event{Kind: KindCommand, Command: command.DecodeCommand(payload)}, nil

	case chunk.TypeData, chunk.TypeFlexStream:
		payload := msg.Payload
		if msg.Header.PacketType == chunk.TypeFlexStream && len(payload) > 0 {
			payload = payload[1:]
		}
		return Event{Kind: KindData, Data: command.DecodeData(payload)}, nil

	case chunk.TypeAudio:
		return Event{Kind: KindMedia, Media: media.Wrap(msg.Payload, media.TypeAudio, msg.Header.StreamID, msg.Clock)}, nil

	case chunk.TypeVideo:
		return Event{Kind: KindMedia, Media: media.Wrap(msg.Payload, media.TypeVideo, msg.Header.StreamID, msg.Clock)}, nil

	case chunk.TypeSharedObject, chunk.TypeFlexObject:
		return Event{Kind: KindDropped}, nil

	default:
		return Event{Kind: KindDropped}, nil
	}
}
