// Package tsmux implements the MPEG-TS demuxer/builder (C12): SRT
// carries MPEG-TS, so bridging SRT<->RTMP means demuxing/muxing TS
// elementary streams into/from the FLV media model.
package tsmux

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/asticode/go-astits"
	"github.com/docterling/rtmp-bridge-server/internal/av"
	"github.com/docterling/rtmp-bridge-server/internal/media"
	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// Stream types this muxer/demuxer recognizes.
const (
	StreamTypeH264 = astits.StreamTypeH264Video
	StreamTypeHEVC = astits.StreamTypeH265Video
	StreamTypeAAC  = astits.StreamTypeAACAudio
)

// Builder encapsulates FLV-framed media packets into MPEG-TS,
// writing PAT/PMT before the first frame and writing whole 188-byte
// packets per spec.md §4.12's outbound direction.
type Builder struct {
	muxer      *astits.Muxer
	out        io.Writer
	videoPID   uint16
	audioPID   uint16
	wroteStart bool
}

// NewBuilder returns a Builder writing TS packets to out, with one
// video elementary stream (videoStreamType, one of the StreamType*
// constants) and optionally one audio stream (audioStreamType == 0
// disables audio).
func NewBuilder(out io.Writer, videoStreamType, audioStreamType astits.StreamType) *Builder {
	const (
		pmtPID   = 256
		videoPID = 257
		audioPID = 258
	)

	m := astits.NewMuxer(context.Background(), out)
	_ = m.SetPCRPID(videoPID)

	_ = m.AddElementaryStream(astits.PMTElementaryStream{
		ElementaryPID: videoPID,
		StreamType:    videoStreamType,
	})

	b := &Builder{muxer: m, out: out, videoPID: videoPID}

	if audioStreamType != 0 {
		_ = m.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: audioPID,
			StreamType:    audioStreamType,
		})
		b.audioPID = audioPID
	}

	return b
}

// WriteFrame encapsulates one media packet (already FLV-framing
// stripped to a raw elementary-stream access unit) as a PES unit and
// writes it as one or more TS packets.
func (b *Builder) WriteFrame(p media.Packet, ptsMS, dtsMS int64) error {
	if !b.wroteStart {
		if err := b.muxer.WriteTables(); err != nil {
			return rtmperrors.Wrap(rtmperrors.BridgeInternal, "write PAT/PMT", err)
		}
		b.wroteStart = true
	}

	pid := b.videoPID
	streamID := uint8(0xe0)
	if p.IsAudio() {
		pid = b.audioPID
		streamID = 0xc0
	}

	pts := astits.ClockReference{Base: ptsMS * 90}
	dts := astits.ClockReference{Base: dtsMS * 90}

	_, err := b.muxer.WriteData(&astits.MuxerData{
		PID: pid,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:      2,
					PTSDTSIndicator: astits.PTSDTSIndicatorBothPresent,
					PTS:             &pts,
					DTS:             &dts,
				},
				StreamID: streamID,
			},
			Data: p.Bytes(),
		},
	})
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.BridgeInternal, "write PES", err)
	}
	return nil
}

// AESEncryptor applies AES-128-CBC with PKCS7 padding over completed
// 16-byte blocks, used for HLS AES segment encryption when a segment
// is finalized.
type AESEncryptor struct {
	block cipher.Block
	iv    []byte
}

// NewAESEncryptor builds an encryptor from a 16-byte key and IV.
func NewAESEncryptor(key, iv []byte) (*AESEncryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, rtmperrors.Wrap(rtmperrors.InvalidArgument, "aes key", err)
	}
	return &AESEncryptor{block: block, iv: iv}, nil
}

// Encrypt pads plaintext with PKCS7 and returns the CBC ciphertext.
func (e *AESEncryptor) Encrypt(plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(e.block, e.iv).CryptBlocks(out, padded)
	return out
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte(nil), b...), padding...)
}

// adtsAACConfig extracts an AAC AudioSpecificConfig-equivalent from
// the first 7-byte ADTS header of an elementary stream, used to
// synthesize an AAC sequence header the first time ADTS is seen.
func adtsAACConfig(adts []byte) (av.AACSpecificConfig, bool) {
	if len(adts) < 7 || adts[0] != 0xFF || adts[1]&0xF0 != 0xF0 {
		return av.AACSpecificConfig{}, false
	}
	profile := (adts[2] >> 6) & 0x03
	samplingIdx := (adts[2] >> 2) & 0x0F
	chanConfig := ((adts[2] & 0x01) << 2) | (adts[3] >> 6)

	return av.AACSpecificConfig{
		ObjectType:    uint32(profile) + 1,
		SamplingIndex: samplingIdx,
		SampleRate:    av.SampleRateForIndex(samplingIdx),
		ChanConfig:    uint32(chanConfig),
		Channels:      uint32(chanConfig),
	}, true
}

func adtsFrameLength(adts []byte) int {
	if len(adts) < 7 {
		return 0
	}
	return int(adts[3]&0x03)<<11 | int(adts[4])<<3 | int(adts[5])>>5
}
