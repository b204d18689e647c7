package av

import "github.com/docterling/rtmp-bridge-server/internal/bitop"

// PTL is an HEVC profile_tier_level() structure.
type PTL struct {
	ProfileSpace                  uint32
	TierFlag                      uint32
	ProfileIDC                    uint32
	ProfileCompatibilityFlags     uint32
	GeneralProgressiveSourceFlag  uint32
	GeneralInterlacedSourceFlag   uint32
	GeneralNonPackedConstraintFlag uint32
	GeneralFrameOnlyConstraintFlag uint32
	LevelIDC                      uint32

	SubLayerProfilePresentFlag []byte
	SubLayerLevelPresentFlag   []byte
	SubLayerLevelIDC           []byte
}

// HEVCParsePTL reads a profile_tier_level() element from r.
func HEVCParsePTL(r *bitop.Reader, maxSubLayersMinus1 uint32) PTL {
	var p PTL
	p.ProfileSpace = r.Read(2)
	p.TierFlag = r.Read(1)
	p.ProfileIDC = r.Read(5)
	p.ProfileCompatibilityFlags = r.Read(32)
	p.GeneralProgressiveSourceFlag = r.Read(1)
	p.GeneralInterlacedSourceFlag = r.Read(1)
	p.GeneralNonPackedConstraintFlag = r.Read(1)
	p.GeneralFrameOnlyConstraintFlag = r.Read(1)
	r.Read(32)
	r.Read(12)
	p.LevelIDC = r.Read(8)

	for i := uint32(0); i < maxSubLayersMinus1; i++ {
		p.SubLayerProfilePresentFlag = append(p.SubLayerProfilePresentFlag, byte(r.Read(1)))
		p.SubLayerLevelPresentFlag = append(p.SubLayerLevelPresentFlag, byte(r.Read(1)))
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			r.Read(2)
		}
	}

	for i := 0; i < int(maxSubLayersMinus1); i++ {
		if i < len(p.SubLayerProfilePresentFlag) && p.SubLayerProfilePresentFlag[i] != 0 {
			r.Read(2)
			r.Read(1)
			r.Read(5)
			r.Read(32)
			r.Read(1)
			r.Read(1)
			r.Read(1)
			r.Read(1)
			r.Read(32)
			r.Read(12)
		}
		if i < len(p.SubLayerLevelPresentFlag) && p.SubLayerLevelPresentFlag[i] != 0 {
			p.SubLayerLevelIDC = append(p.SubLayerLevelIDC, byte(r.Read(8)))
		} else {
			p.SubLayerLevelIDC = append(p.SubLayerLevelIDC, byte(1))
		}
	}

	return p
}

// SPS is the subset of an HEVC seq_parameter_set_rbsp() needed to
// recover picture dimensions.
type SPS struct {
	ProfileTierLevel PTL

	VideoParameterSetID    uint32
	MaxSubLayersMinus1     uint32
	TemporalIDNestingFlag  uint32
	SeqParameterSetID      uint32
	ChromaFormatIDC        uint32
	SeparateColourPlane    uint32
	PicWidthInLumaSamples  uint32
	PicHeightInLumaSamples uint32
	ConformanceWindowFlag  uint32
	ConfWinLeftOffset      uint32
	ConfWinRightOffset     uint32
	ConfWinTopOffset       uint32
	ConfWinBottomOffset    uint32
}

// HEVCParseSPS strips emulation-prevention bytes from a raw SPS NAL
// unit and decodes the header fields needed for frame dimensions.
func HEVCParseSPS(nalu []byte) SPS {
	var sps SPS
	r := bitop.NewReader(nalu)
	n := len(nalu)

	r.Read(1) // forbidden_zero_bit
	r.Read(6) // nal_unit_type
	r.Read(6) // nuh_reserved_zero_6bits
	r.Read(3) // nuh_temporal_id_plus1

	rbsp := make([]byte, 0, n)
	for i := 2; i < n; i++ {
		if i+2 < n && r.Look(24) == 0x000003 {
			rbsp = append(rbsp, byte(r.Read(8)), byte(r.Read(8)))
			i += 2
			r.Read(8) // emulation_prevention_three_byte
		} else {
			rbsp = append(rbsp, byte(r.Read(8)))
		}
	}

	rr := bitop.NewReader(rbsp)
	sps.VideoParameterSetID = rr.Read(4)
	sps.MaxSubLayersMinus1 = rr.Read(3)
	sps.TemporalIDNestingFlag = rr.Read(1)
	sps.ProfileTierLevel = HEVCParsePTL(rr, sps.MaxSubLayersMinus1)
	sps.SeqParameterSetID = rr.ReadGolomb()
	sps.ChromaFormatIDC = rr.ReadGolomb()
	if sps.ChromaFormatIDC == 3 {
		sps.SeparateColourPlane = rr.Read(1)
	}
	sps.PicWidthInLumaSamples = rr.ReadGolomb()
	sps.PicHeightInLumaSamples = rr.ReadGolomb()
	sps.ConformanceWindowFlag = rr.Read(1)
	if sps.ConformanceWindowFlag != 0 {
		vertMult, horizMult := uint32(2), uint32(2)
		if sps.ChromaFormatIDC >= 2 {
			vertMult = 1
		}
		if sps.ChromaFormatIDC >= 3 {
			horizMult = 1
		}
		sps.ConfWinLeftOffset = rr.ReadGolomb() * horizMult
		sps.ConfWinRightOffset = rr.ReadGolomb() * horizMult
		sps.ConfWinTopOffset = rr.ReadGolomb() * vertMult
		sps.ConfWinBottomOffset = rr.ReadGolomb() * vertMult
	}

	return sps
}

// HEVCSpecificConfig is the decoded subset of an HEVCDecoderConfigurationRecord.
type HEVCSpecificConfig struct {
	Width   uint32
	Height  uint32
	Profile uint32
	Level   float32
}

// ReadHEVCSpecificConfig decodes an HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15) following the 5-byte RTMP VIDEODATA prefix,
// extracting dimensions from the first embedded SPS array entry.
func ReadHEVCSpecificConfig(hevcSequenceHeader []byte) HEVCSpecificConfig {
	var info HEVCSpecificConfig

	if len(hevcSequenceHeader) < 5 {
		return info
	}
	h := hevcSequenceHeader[5:]
	if len(h) < 23 {
		return info
	}
	if h[0] != 1 { // configurationVersion
		return info
	}

	generalProfileIDC := uint32(h[1]) & 0x1F
	generalLevelIDC := uint32(h[12])

	numOfArrays := int(h[22])
	p := h[23:]
	for i := 0; i < numOfArrays; i++ {
		if len(p) < 3 {
			break
		}
		naluType := p[0]
		count := (uint32(p[1]) << 8) | uint32(p[2])
		p = p[3:]
		for j := uint32(0); j < count; j++ {
			if len(p) < 2 {
				break
			}
			k := (uint32(p[0]) << 8) | uint32(p[1])
			p = p[2:]
			if uint32(len(p)) < k {
				break
			}
			if naluType == 33 { // SPS
				sps := HEVCParseSPS(p[:k])
				info.Profile = generalProfileIDC
				info.Level = float32(generalLevelIDC) / 30.0
				info.Width = sps.PicWidthInLumaSamples - (sps.ConfWinLeftOffset + sps.ConfWinRightOffset)
				info.Height = sps.PicHeightInLumaSamples - (sps.ConfWinTopOffset + sps.ConfWinBottomOffset)
			}
			p = p[k:]
		}
	}

	return info
}
