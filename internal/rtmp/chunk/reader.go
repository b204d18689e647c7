package chunk

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/docterling/rtmp-bridge-server/internal/rtmperrors"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

// Reader demultiplexes an RTMP chunk stream into complete Messages,
// keyed by chunk-stream-id (cid) the way a single TCP connection
// interleaves several logical message streams.
type Reader struct {
	src *bufio.Reader

	// InChunkSize is read before each chunk; callers update it
	// directly after handling a TypeSetChunkSize control message.
	InChunkSize uint32

	// RefreshDeadline, if set, is invoked before each underlying
	// read so a session can keep renewing its idle-read deadline
	// mid-message the way the teacher does per read(), rather than
	// once per full message.
	RefreshDeadline func() error

	messages map[uint32]*Message
}

// NewReader wraps src for chunk-by-chunk reads. src is wrapped in a
// bufio.Reader (unless it already is one) so the extended-timestamp
// rewind heuristic in ReadOne can peek ahead without consuming bytes
// that turn out to be payload.
func NewReader(src io.Reader) *Reader {
	br, ok := src.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(src)
	}
	return &Reader{
		src:         br,
		InChunkSize: DefaultChunkSize,
		messages:    make(map[uint32]*Message),
	}
}

func (r *Reader) readFull(buf []byte) error {
	if r.RefreshDeadline != nil {
		if err := r.RefreshDeadline(); err != nil {
			return rtmperrors.Wrap(rtmperrors.TransientIO, "set read deadline", err)
		}
	}
	_, err := io.ReadFull(r.src, buf)
	if err != nil {
		return rtmperrors.Wrap(rtmperrors.ConnectionClosed, "read chunk bytes", err)
	}
	return nil
}

// ReadOne reads exactly one chunk from the stream, returning the
// owning Message and whether this chunk completed it (msg.Payload is
// only safe to consume once complete is true), plus the number of raw
// bytes consumed off the wire (for ack/bitrate accounting).
func (r *Reader) ReadOne() (msg *Message, complete bool, bytesRead uint32, err error) {
	startByte := make([]byte, 1)
	if err = r.readFull(startByte); err != nil {
		return nil, false, 0, err
	}
	bytesRead++

	var basicLen int
	switch startByte[0] & 0x3f {
	case 0:
		basicLen = 2
	case 1:
		basicLen = 3
	default:
		basicLen = 1
	}

	header := make([]byte, basicLen)
	header[0] = startByte[0]
	if basicLen > 1 {
		if err = r.readFull(header[1:]); err != nil {
			return nil, false, 0, err
		}
		bytesRead += uint32(basicLen - 1)
	}

	msgHeaderSize := int(messageHeaderSize[header[0]>>6])
	if msgHeaderSize > 0 {
		rest := make([]byte, msgHeaderSize)
		if err = r.readFull(rest); err != nil {
			return nil, false, 0, err
		}
		bytesRead += uint32(msgHeaderSize)
		header = append(header, rest...)
	}

	fmtType := uint32(header[0] >> 6)
	var cid uint32
	switch basicLen {
	case 2:
		cid = 64 + uint32(header[1])
	case 3:
		cid = 64 + uint32(header[1]) + uint32(header[2])<<8
	default:
		cid = uint32(header[0] & 0x3f)
	}

	msg = r.messages[cid]
	fresh := msg == nil

	// Edge cases §4.1 MUST enforce: a fresh chunk stream must begin
	// with fmt=0 (librtmp is tolerated on fmt=1 with a warning, since
	// it omits the stream id and this chunk stream has no prior
	// header to inherit one from); a chunk stream that has already
	// been initialized must not see another fmt=0, since that would
	// silently restart whatever message is cached for this cid.
	if fresh {
		switch fmtType {
		case Fmt0:
			// normal
		case Fmt1:
			rtmplog.Warning("fmt=1 on fresh chunk stream (librtmp compatibility), continuing")
		default:
			return nil, false, bytesRead, rtmperrors.New(rtmperrors.ProtocolViolation, "fresh chunk stream must start with fmt=0")
		}
	} else if fmtType == Fmt0 {
		return nil, false, bytesRead, rtmperrors.New(rtmperrors.ProtocolViolation, "fmt=0 on a cached chunk stream")
	}

	var inProgress bool
	var cachedLength uint32
	if !fresh {
		inProgress = msg.Bytes > 0 && !msg.Handled
		cachedLength = msg.Header.Length
	}

	if fresh {
		m := NewMessage()
		msg = &m
		r.messages[cid] = msg
	} else if msg.Handled {
		msg.Handled = false
		msg.Payload = msg.Payload[:0]
		msg.Bytes = 0
	}

	msg.Header.CID = cid
	msg.Header.Fmt = fmtType

	offset := basicLen

	if msg.Header.Fmt <= Fmt2 {
		ts := header[offset : offset+3]
		msg.Header.Timestamp = int64(uint32(ts[2]) | uint32(ts[1])<<8 | uint32(ts[0])<<16)
		offset += 3
	}

	if msg.Header.Fmt <= Fmt1 {
		ln := header[offset : offset+3]
		// The 24-bit length field is unsigned by construction here:
		// it is assembled from three raw bytes, so it can never carry
		// a negative value to assert against.
		length := uint32(ln[2]) | uint32(ln[1])<<8 | uint32(ln[0])<<16
		if msg.Header.Fmt == Fmt1 && inProgress && length != cachedLength {
			return nil, false, bytesRead, rtmperrors.New(rtmperrors.ProtocolViolation, "fmt=1 length does not match in-progress message")
		}
		msg.Header.Length = length
		msg.Header.PacketType = uint32(header[offset+3])
		offset += 4
	}

	if msg.Header.Fmt == Fmt0 {
		msg.Header.StreamID = binary.LittleEndian.Uint32(header[offset : offset+4])
	}

	if msg.Header.PacketType > TypeMetadata {
		return nil, false, bytesRead, rtmperrors.New(rtmperrors.ProtocolViolation, "unknown message type")
	}

	extendedTimestamp := msg.Header.Timestamp
	if msg.Header.Timestamp == 0x00ffffff {
		if msg.Bytes == 0 {
			// First chunk of the message: the extended timestamp field
			// is mandatory whenever the sentinel is set, no ambiguity.
			tsBytes := make([]byte, 4)
			if err = r.readFull(tsBytes); err != nil {
				return nil, false, 0, err
			}
			bytesRead += 4
			extendedTimestamp = int64(binary.BigEndian.Uint32(tsBytes)) & 0x7fffffff
			msg.ExtTimestamp = extendedTimestamp
		} else {
			// Continuation chunk: some encoders repeat the extended
			// timestamp field on every chunk of the message, others
			// send it only once on the first chunk. Peek 4 bytes and
			// only consume them if they match the timestamp already
			// established for this message; otherwise they are
			// payload bytes and must be left in the stream.
			if r.RefreshDeadline != nil {
				if err = r.RefreshDeadline(); err != nil {
					return nil, false, 0, rtmperrors.Wrap(rtmperrors.TransientIO, "set read deadline", err)
				}
			}
			peeked, peekErr := r.src.Peek(4)
			if peekErr == nil && len(peeked) == 4 &&
				int64(binary.BigEndian.Uint32(peeked))&0x7fffffff == msg.ExtTimestamp {
				if _, err = r.src.Discard(4); err != nil {
					return nil, false, 0, rtmperrors.Wrap(rtmperrors.ConnectionClosed, "read chunk bytes", err)
				}
				bytesRead += 4
			}
			extendedTimestamp = msg.ExtTimestamp
		}
	}

	if msg.Bytes == 0 {
		if msg.Header.Fmt == Fmt0 {
			msg.Clock = extendedTimestamp
		} else {
			msg.Clock += extendedTimestamp
		}
		if msg.Capacity < msg.Header.Length {
			msg.Capacity = 1024 + msg.Header.Length
		}
	}

	sizeToRead := r.InChunkSize - (msg.Bytes % r.InChunkSize)
	if sizeToRead > msg.Header.Length-msg.Bytes {
		sizeToRead = msg.Header.Length - msg.Bytes
	}
	if sizeToRead > 0 {
		payload := make([]byte, sizeToRead)
		if err = r.readFull(payload); err != nil {
			return nil, false, 0, err
		}
		bytesRead += sizeToRead
		msg.Bytes += sizeToRead
		msg.Payload = append(msg.Payload, payload...)
	}

	if msg.Bytes >= msg.Header.Length {
		msg.Handled = true
		// Messages whose 32-bit clock has wrapped past the RTMP
		// wire's range are dropped rather than dispatched, matching
		// the teacher's sanity check against a corrupt timestamp.
		complete = msg.Clock <= 0xffffffff
	}

	return msg, complete, bytesRead, nil
}
