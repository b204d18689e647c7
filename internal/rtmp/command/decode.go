package command

import (
	"strconv"

	"github.com/docterling/rtmp-bridge-server/internal/amf"
)

// commandArgNames maps a command name to the semantic names of its
// positional arguments following transId, in wire order. Commands not
// listed here (e.g. vendor extensions) get generic "argN" names for
// every argument after transId, the command object included ("arg0").
var commandArgNames = map[string][]string{
	"connect":       {"cmdObj"},
	"createStream":  {"cmdObj"},
	"publish":       {"cmdObj", "streamName", "publishType"},
	"play":          {"cmdObj", "streamName", "start", "duration", "reset"},
	"play2":         {"cmdObj", "playParams"},
	"pause":         {"cmdObj", "pause", "ms"},
	"seek":          {"cmdObj", "ms"},
	"deleteStream":  {"cmdObj", "streamId"},
	"closeStream":   {"cmdObj"},
	"receiveAudio":  {"cmdObj", "bool"},
	"receiveVideo":  {"cmdObj", "bool"},
	"releaseStream": {"cmdObj", "streamName"},
	"FCPublish":     {"cmdObj", "streamName"},
	"FCUnpublish":   {"cmdObj", "streamName"},
	"_checkbw":      {"cmdObj"},
	"_result":       {"cmdObj", "info"},
	"_error":        {"cmdObj", "info"},
	"onStatus":      {"cmdObj", "info"},
}

// DecodeCommand decodes an AMF0 command message body: a command name
// string, a transaction id number, then the arguments named per
// commandArgNames (or genericArgName for unknown commands).
func DecodeCommand(payload []byte) Command {
	s := amf.NewDecodingStream(payload)
	cmd := NewCommand("")

	if s.IsEnded() {
		return cmd
	}
	name := s.ReadOne()
	cmd.Name = name.GetString()

	if s.IsEnded() {
		return cmd
	}
	transID := s.ReadOne()
	cmd.Set("transId", transID)

	names := commandArgNames[cmd.Name]
	i := 0
	for !s.IsEnded() {
		v := s.ReadOne()
		if i < len(names) {
			cmd.Set(names[i], v)
		} else {
			cmd.Set(genericArgName(i), v)
		}
		i++
	}

	return cmd
}

// DecodeData decodes an AMF0 data-channel message body: a tag string
// followed by positional arguments, the first named "dataObj" and any
// later ones "argN", whatever the tag. For "@setDataFrame" the nested
// tag (conventionally "onMetaData") is skipped, so its arguments read
// the same as a direct onMetaData message; Tag stays "@setDataFrame".
func DecodeData(payload []byte) Data {
	s := amf.NewDecodingStream(payload)
	d := NewData("")

	if s.IsEnded() {
		return d
	}
	tag := s.ReadOne()
	d.Tag = tag.GetString()

	if d.Tag == "@setDataFrame" && !s.IsEnded() {
		s.ReadOne() // inner tag, conventionally "onMetaData" again
	}

	i := 0
	for !s.IsEnded() {
		v := s.ReadOne()
		if i == 0 {
			d.Set("dataObj", v)
		} else {
			d.Set(genericArgName(i), v)
		}
		i++
	}

	return d
}

func genericArgName(i int) string {
	return "arg" + strconv.Itoa(i)
}
