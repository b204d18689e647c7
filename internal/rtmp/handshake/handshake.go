// Package handshake implements the RTMP C0/C1/C2 <-> S0/S1/S2 digest
// handshake (Adobe's complex scheme, falling back to the simple
// scheme), plus the SRS proxy-IP preamble extension.
package handshake

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"net"

	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
)

// Message format of the client's C1, as detected from its digest placement.
const (
	FormatSimple  = 0
	FormatDigest1 = 1 // digest in the first half (bytes 0-771)
	FormatDigest2 = 2 // digest in the second half (bytes 772-1535)
)

const (
	sigSize  = 1536
	digestLen = 32

	// Version byte every C0/S0 carries.
	Version = 3

	// ProxyPreambleMarker is the first byte of an SRS proxy-IP
	// preamble, sent ahead of C0 by a proxying load balancer.
	ProxyPreambleMarker = 0xF3

	// maxProxyPayload bounds the preamble's declared length so a
	// malformed or hostile preamble cannot make us allocate/read
	// unbounded data ahead of the real handshake.
	maxProxyPayload = 1024
)

var randomCrud = []byte{
	0xf0, 0xee, 0xc2, 0x4a, 0x80, 0x68, 0xbe, 0xe8,
	0x2e, 0x00, 0xd0, 0xd1, 0x02, 0x9e, 0x7e, 0x57,
	0x6e, 0xec, 0x5d, 0x2d, 0x29, 0x80, 0x6f, 0xab,
	0x93, 0xb8, 0xe6, 0x36, 0xcf, 0xeb, 0x31, 0xae,
}

const genuineFMSConst = "Genuine Adobe Flash Media Server 001"

var genuineFMSConstCrud = append([]byte(genuineFMSConst), randomCrud...)

const genuineFPConst = "Genuine Adobe Flash Player 001"

func calcHmac(message []byte, key []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

func compareSignatures(sig1, sig2 []byte) bool {
	if len(sig1) != len(sig2) {
		return false
	}
	result := true
	for j := 0; j < len(sig1); j++ {
		result = result && (sig1[j] == sig2[j])
	}
	return result
}

func clientGenuineConstDigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 12
}

func serverGenuineConstDigestOffset(buf []byte) uint32 {
	offset := uint32(buf[0]) + uint32(buf[1]) + uint32(buf[2]) + uint32(buf[3])
	return (offset % 728) + 776
}

// DetectClientFormat inspects a 1536-byte client signature (C1) and
// determines whether it carries a digest in the first or second half,
// or no verifiable digest at all (simple handshake).
func DetectClientFormat(clientSig []byte) uint32 {
	if cutSignatureMatches(clientSig, serverGenuineConstDigestOffset(clientSig[772:776])) {
		return FormatDigest2
	}
	if cutSignatureMatches(clientSig, clientGenuineConstDigestOffset(clientSig[8:12])) {
		return FormatDigest1
	}
	return FormatSimple
}

func cutSignatureMatches(clientSig []byte, sdl uint32) bool {
	msg := make([]byte, sdl)
	copy(msg, clientSig[0:sdl])
	msg = append(msg, clientSig[(sdl+digestLen):]...)
	msg = padOrTruncate(msg, sigSize-digestLen)

	computed := calcHmac(msg, []byte(genuineFPConst))
	provided := clientSig[sdl : sdl+digestLen]
	return compareSignatures(computed, provided)
}

func padOrTruncate(b []byte, n int) []byte {
	if len(b) < n {
		return append(b, make([]byte, n-len(b))...)
	}
	return b[:n]
}

func generateS1(messageFormat uint32) []byte {
	randomBytes := make([]byte, sigSize-8)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	handshakeBytes := []byte{0, 0, 0, 0, 1, 2, 3, 4}
	handshakeBytes = append(handshakeBytes, randomBytes...)
	handshakeBytes = padOrTruncate(handshakeBytes, sigSize)

	var serverDigestOffset uint32
	if messageFormat == FormatDigest1 {
		serverDigestOffset = clientGenuineConstDigestOffset(handshakeBytes[8:12])
	} else {
		serverDigestOffset = clientGenuineConstDigestOffset(handshakeBytes[772:776])
	}

	msg := make([]byte, serverDigestOffset)
	copy(msg, handshakeBytes[0:serverDigestOffset])
	msg = append(msg, handshakeBytes[(serverDigestOffset+digestLen):]...)
	msg = padOrTruncate(msg, sigSize-digestLen)

	h := calcHmac(msg, []byte(genuineFMSConst))
	copy(handshakeBytes[serverDigestOffset:serverDigestOffset+digestLen], h)

	return handshakeBytes
}

func generateS2(messageFormat uint32, clientSig []byte) []byte {
	randomBytes := make([]byte, sigSize-digestLen)
	if _, err := rand.Read(randomBytes); err != nil {
		panic(err)
	}

	var challengeKeyOffset uint32
	if messageFormat == FormatDigest1 {
		challengeKeyOffset = clientGenuineConstDigestOffset(clientSig[8:12])
	} else {
		challengeKeyOffset = serverGenuineConstDigestOffset(clientSig[772:776])
	}

	challengeKey := clientSig[challengeKeyOffset : challengeKeyOffset+32]

	h := calcHmac(challengeKey, genuineFMSConstCrud)
	signature := calcHmac(randomBytes, h)

	s2Bytes := append(randomBytes[:], signature...)
	return padOrTruncate(s2Bytes, sigSize)
}

// BuildResponse builds the S0S1S2 response for a received 1536-byte C1
// signature, choosing the complex digest scheme when a digest is
// found and falling back to the simple handshake (echoing C1) when
// the client sends none.
func BuildResponse(clientSig []byte) (s0s1s2 []byte, usedDigest bool) {
	messageFormat := DetectClientFormat(clientSig)

	if messageFormat == FormatSimple {
		out := make([]byte, 0, 1+2*sigSize)
		out = append(out, Version)
		out = append(out, clientSig...)
		out = append(out, clientSig...)
		return out, false
	}

	s1 := generateS1(messageFormat)
	s2 := generateS2(messageFormat, clientSig)
	out := make([]byte, 0, 1+len(s1)+len(s2))
	out = append(out, Version)
	out = append(out, s1...)
	out = append(out, s2...)
	return out, true
}

// ProxyPreamble is a parsed SRS proxy-IP preamble, sent by a load
// balancer ahead of the real C0C1 to identify the true client IP.
type ProxyPreamble struct {
	ClientIP string
}

// ParseProxyPreamble inspects the first byte already read from the
// connection (firstByte) together with the rest of the stream (via
// readN) to detect and consume an SRS proxy preamble. If firstByte is
// not ProxyPreambleMarker, ok is false and the caller should treat
// firstByte as the real C0 version byte.
//
// On a detected preamble, readN is called to read the 2-byte length
// header and then the N-byte payload; the first 4 bytes of the
// payload (when N >= 4) are interpreted as a big-endian client IPv4.
func ParseProxyPreamble(firstByte byte, readN func(n int) ([]byte, error)) (preamble ProxyPreamble, ok bool, err error) {
	if firstByte != ProxyPreambleMarker {
		return ProxyPreamble{}, false, nil
	}

	lenBytes, err := readN(2)
	if err != nil {
		return ProxyPreamble{}, false, err
	}
	n := int(lenBytes[0])<<8 | int(lenBytes[1])
	if n > maxProxyPayload {
		return ProxyPreamble{}, false, rtmperrors.New(rtmperrors.ProtocolViolation, "proxy preamble length exceeds limit")
	}

	payload, err := readN(n)
	if err != nil {
		return ProxyPreamble{}, false, err
	}

	if n >= 4 {
		preamble.ClientIP = formatIPv4(payload[0:4])
	}

	return preamble, true, nil
}

func formatIPv4(b []byte) string {
	return net.IPv4(b[0], b[1], b[2], b[3]).String()
}
