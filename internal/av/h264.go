package av

import "github.com/docterling/rtmp-bridge-server/internal/bitop"

// H264SpecificConfig is the subset of an AVCDecoderConfigurationRecord
// and embedded SPS needed for stream metadata (width/height/profile).
type H264SpecificConfig struct {
	Width        uint32
	Height       uint32
	Profile      byte
	Compat       byte
	Level        float32
	NALULenSize  byte
	NumSPS       byte
	AVCRefFrames uint32
}

// ReadH264SpecificConfig decodes an AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15) and the first embedded SPS, recovering the
// coded picture width/height and profile/level.
func ReadH264SpecificConfig(avcSequenceHeader []byte) H264SpecificConfig {
	var res H264SpecificConfig
	r := bitop.NewReader(avcSequenceHeader)

	r.Read(48)

	res.Profile = byte(r.Read(8))
	res.Compat = byte(r.Read(8))
	res.Level = float32(r.Read(8))

	res.NALULenSize = (byte(r.Read(8)) & 0x03) + 1
	res.NumSPS = byte(r.Read(8)) & 0x1F

	if res.NumSPS == 0 {
		return res
	}

	r.Read(16) // NAL unit length
	nt := r.Read(8)
	if nt != 0x67 {
		return res
	}

	profileIDC := r.Read(8)
	r.Read(8)      // constraint flags
	r.Read(8)      // level
	r.ReadGolomb() // sps id

	if profileIDC == 100 || profileIDC == 110 || profileIDC == 122 ||
		profileIDC == 244 || profileIDC == 44 || profileIDC == 83 ||
		profileIDC == 86 || profileIDC == 118 {
		chromaFormatIDC := r.ReadGolomb()
		if chromaFormatIDC == 3 {
			r.Read(1) // separate colour plane
		}
		r.ReadGolomb() // bit depth luma - 8
		r.ReadGolomb() // bit depth chroma - 8
		r.Read(1)      // qpprime y zero transform bypass

		if r.Read(1) != 0 { // seq scaling matrix present
			if chromaFormatIDC == 3 {
				r.Read(12)
			} else {
				r.Read(8)
			}
		}
	}

	r.ReadGolomb() // log2 max frame num - 4

	switch r.ReadGolomb() { // pic order cnt type
	case 0:
		r.ReadGolomb() // log2 max pic order cnt - 4
	case 1:
		r.Read(1)                     // delta pic order always zero
		r.ReadGolomb()                // offset for non-ref pic
		r.ReadGolomb()                // offset for top to bottom field
		numRefFrames := r.ReadGolomb() // num ref frames in pic order cnt cycle
		for n := uint32(0); n < numRefFrames; n++ {
			r.ReadGolomb()
		}
	}

	res.AVCRefFrames = r.ReadGolomb() // max num ref frames
	r.Read(1)                         // gaps in frame num allowed

	width := r.ReadGolomb()
	height := r.ReadGolomb()
	frameMbsOnly := r.Read(1)
	if frameMbsOnly == 0 {
		r.Read(1) // mbs adaptive frame field
	}
	r.Read(1) // direct 8x8 inference flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	if r.Read(1) != 0 {
		cropLeft = r.ReadGolomb()
		cropRight = r.ReadGolomb()
		cropTop = r.ReadGolomb()
		cropBottom = r.ReadGolomb()
	}

	res.Level = res.Level / 10.0
	res.Width = (width+1)*16 - (cropLeft+cropRight)*2
	res.Height = (2-frameMbsOnly)*(height+1)*16 - (cropTop+cropBottom)*2

	return res
}
