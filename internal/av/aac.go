// Package av parses the codec configuration records embedded in RTMP
// AAC and AVC (H.264/HEVC) sequence header messages.
package av

import "github.com/docterling/rtmp-bridge-server/internal/bitop"

var AudioCodecName = []string{
	"", "ADPCM", "MP3", "LinearLE", "Nellymoser16", "Nellymoser8",
	"Nellymoser", "G711A", "G711U", "", "AAC", "Speex", "", "OPUS",
	"MP3-8K", "DeviceSpecific", "Uncompressed",
}

var AudioSoundRate = []uint32{5512, 11025, 22050, 44100}

var VideoCodecName = []string{
	"", "Jpeg", "Sorenson-H263", "ScreenVideo", "On2-VP6",
	"On2-VP6-Alpha", "ScreenVideo2", "H264", "", "", "", "", "H265",
}

var aacSampleRate = []uint32{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350, 0, 0, 0,
}

var aacChannels = []uint32{0, 1, 2, 3, 4, 5, 6, 8}

// AACSpecificConfig is the decoded AudioSpecificConfig of an AAC
// sequence header (ISO/IEC 14496-3).
type AACSpecificConfig struct {
	ObjectType    uint32
	SampleRate    uint32
	SamplingIndex byte
	ChanConfig    uint32
	Channels      uint32
	SBR           int32
	PS            int32
	ExtObjectType uint32
}

func readAudioObjectType(r *bitop.Reader) uint32 {
	v := r.Read(5)
	if v == 31 {
		v = r.Read(6) + 32
	}
	return v
}

func readAudioSampleRate(r *bitop.Reader, samplingIndex byte) uint32 {
	if samplingIndex == 0x0f {
		return r.Read(24)
	}
	return SampleRateForIndex(samplingIndex)
}

// SampleRateForIndex maps an MPEG-4 sampling frequency index (0-12)
// to its rate in Hz, shared with the ADTS header parser in
// internal/tsmux for the SRT AAC ingest path.
func SampleRateForIndex(samplingIndex byte) uint32 {
	if int(samplingIndex) < len(aacSampleRate) {
		return aacSampleRate[samplingIndex]
	}
	return 0
}

// ReadAACSpecificConfig decodes an AAC sequence header payload. Callers
// pass the raw sequence header bytes: the two leading FLV AUDIODATA
// bytes (sound format byte and AACPacketType) are skipped here, and the
// AudioSpecificConfig is read from what follows.
func ReadAACSpecificConfig(aacSequenceHeader []byte) AACSpecificConfig {
	var res AACSpecificConfig
	r := bitop.NewReader(aacSequenceHeader)

	r.Read(16)

	res.ObjectType = readAudioObjectType(r)
	res.SamplingIndex = byte(r.Read(4))
	res.SampleRate = readAudioSampleRate(r, res.SamplingIndex)
	res.ChanConfig = r.Read(4)

	if int(res.ChanConfig) < len(aacChannels) {
		res.Channels = aacChannels[res.ChanConfig]
	}

	res.SBR = -1
	res.PS = -1

	if res.ObjectType == 5 || res.ObjectType == 29 {
		if res.ObjectType == 29 {
			res.PS = 1
		}
		res.ExtObjectType = 5
		res.SBR = 1
		res.SamplingIndex = byte(r.Read(4))
		res.SampleRate = readAudioSampleRate(r, res.SamplingIndex)
		res.ObjectType = readAudioObjectType(r)
	}

	return res
}

// AACProfileName returns the human-readable MPEG-4 audio object type
// name used in stream metadata/logging.
func AACProfileName(info AACSpecificConfig) string {
	switch info.ObjectType {
	case 1:
		return "Main"
	case 2:
		if info.PS > 0 {
			return "HEv2"
		}
		if info.SBR > 0 {
			return "HE"
		}
		return "LC"
	case 3:
		return "SSR"
	case 4:
		return "LTP"
	case 5:
		return "SBR"
	default:
		return ""
	}
}
