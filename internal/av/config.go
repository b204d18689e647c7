package av

const (
	CodecH264 = 7
	CodecHEVC = 12
)

// VideoSpecificConfig wraps the per-codec sequence header, selected by
// the codec id in the first byte of an RTMP VIDEODATA sequence header.
type VideoSpecificConfig struct {
	Codec uint32
	H264  H264SpecificConfig
	HEVC  HEVCSpecificConfig
}

// ReadVideoSpecificConfig dispatches to the H.264 or HEVC sequence
// header decoder based on the low nibble of the first payload byte.
func ReadVideoSpecificConfig(avcSequenceHeader []byte) VideoSpecificConfig {
	if len(avcSequenceHeader) == 0 {
		return VideoSpecificConfig{}
	}
	codecID := uint32(avcSequenceHeader[0] & 0x0f)
	r := VideoSpecificConfig{Codec: codecID}

	switch codecID {
	case CodecH264:
		r.H264 = ReadH264SpecificConfig(avcSequenceHeader)
	case CodecHEVC:
		r.HEVC = ReadHEVCSpecificConfig(avcSequenceHeader)
	}

	return r
}

// BuildAVCSequenceHeader assembles an RTMP AVC sequence header
// payload (5-byte VIDEODATA header + AVCDecoderConfigurationRecord)
// from a single SPS/PPS pair, used by the SRT->RTMP bridge (C12) to
// synthesize the sequence header FLV tag on first sight of the
// parameter sets, since an Annex-B TS elementary stream carries SPS/
// PPS in-band rather than as a discrete config record.
func BuildAVCSequenceHeader(sps, pps []byte) []byte {
	profile, compat, level := byte(0), byte(0), byte(0)
	if len(sps) >= 4 {
		profile, compat, level = sps[1], sps[2], sps[3]
	}

	body := make([]byte, 0, 16+len(sps)+len(pps))
	body = append(body, (1<<4)|CodecH264, 0x00, 0, 0, 0) // RTMP VIDEODATA header, AVC seq header
	body = append(body, 0x01, profile, compat, level, 0xFF, 0xE1)
	body = append(body, byte(len(sps)>>8), byte(len(sps)))
	body = append(body, sps...)
	body = append(body, 0x01)
	body = append(body, byte(len(pps)>>8), byte(len(pps)))
	body = append(body, pps...)
	return body
}

// BuildHEVCSequenceHeader assembles an enhanced-RTMP HEVC sequence
// header payload from a VPS/SPS/PPS triplet. The
// HEVCDecoderConfigurationRecord's general profile/level and other
// header fields are all left zero (nothing is read from the SPS); only
// the NALU length size is set, and the VPS/SPS/PPS arrays carry the
// bytes an HEVC decoder actually needs.
func BuildHEVCSequenceHeader(vps, sps, pps []byte) []byte {
	body := make([]byte, 0, 32+len(vps)+len(sps)+len(pps))
	body = append(body, 0x80|(1<<4)|0) // is_ex_header | frame_type=key | packet_type=0 (SequenceStart)
	body = append(body, []byte("hvc1")...)

	// HEVCDecoderConfigurationRecord (23 bytes before the arrays):
	// version(1) + 20 bytes of profile/tier/level, segmentation,
	// parallelism, chroma format, bit depths and avgFrameRate (zeroed,
	// non-critical for decode) + constantFrameRate/numTemporalLayers/
	// temporalIdNested/lengthSizeMinusOne(1) + numOfArrays(1).
	record := make([]byte, 23)
	record[0] = 0x01
	record[21] = 0x03 // lengthSizeMinusOne=3 (4-byte NALU length)
	record[22] = 0x03 // numOfArrays

	appendArray := func(naluType byte, nalus ...[]byte) {
		record = append(record, 0x80|naluType)
		record = append(record, byte(len(nalus)>>8), byte(len(nalus)))
		for _, n := range nalus {
			record = append(record, byte(len(n)>>8), byte(len(n)))
			record = append(record, n...)
		}
	}
	appendArray(32, vps)
	appendArray(33, sps)
	appendArray(34, pps)

	body = append(body, record...)
	return body
}

// BuildAACSequenceHeader assembles an RTMP AAC sequence header
// payload ([0xAF, 0x00, AudioSpecificConfig]) from an ADTS header's
// decoded fields, used by the SRT->RTMP bridge on first sight of an
// ADTS frame (ADTS carries the config inline; RTMP AAC consumers
// expect it split out as a discrete sequence header tag first).
func BuildAACSequenceHeader(cfg AACSpecificConfig) []byte {
	asc := uint16(cfg.ObjectType&0x1f)<<11 | uint16(cfg.SamplingIndex&0x0f)<<7 | uint16(cfg.ChanConfig&0x0f)<<3
	return []byte{0xAF, 0x00, byte(asc >> 8), byte(asc)}
}

// VideoProfileName returns the human-readable profile name for
// stream metadata, independent of the selected codec.
func VideoProfileName(info VideoSpecificConfig) string {
	var profile byte
	switch info.Codec {
	case CodecH264:
		profile = info.H264.Profile
	case CodecHEVC:
		profile = byte(info.HEVC.Profile)
	default:
		return ""
	}
	switch profile {
	case 1:
		return "Main"
	case 2:
		return "Main 10"
	case 3:
		return "Main Still Picture"
	case 66:
		return "Baseline"
	case 77:
		return "Main"
	case 100:
		return "High"
	default:
		return ""
	}
}
