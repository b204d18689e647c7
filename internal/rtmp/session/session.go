// Package session implements the RTMP connection state machine (C5):
// handshake, chunk read loop, protocol-control bookkeeping (ack
// windows, bitrate), and the connect/publish/play command handlers
// that wire a connection into the shared source.Registry and its
// bridge fabric.
package session

import (
	"bufio"
	"math"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/docterling/rtmp-bridge-server/internal/rtmp/chunk"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/handshake"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/router"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
	"github.com/docterling/rtmp-bridge-server/internal/source"
)

// pingTimeout bounds every individual socket read during the
// handshake and chunk loop; a peer that goes silent longer than this
// is treated as dead.
const pingTimeout = 30 * time.Second

// bitrateIntervalMS is how often the rolling bit-rate estimate is
// recomputed.
const bitrateIntervalMS = 1000

// Session is one accepted RTMP TCP connection, from handshake through
// teardown.
type Session struct {
	server *Server
	conn   net.Conn
	id     uint64
	ip     string

	inChunkSize  uint32
	outChunkSize uint32

	ackWindowSize uint32
	inAckSize     uint32
	inLastAck     uint32

	objectEncoding uint32
	connectTime    int64

	writeMu sync.Mutex

	reader *chunk.Reader

	playStreamID    uint32
	publishStreamID uint32
	streamCount     uint32

	receiveAudio bool
	receiveVideo bool

	channel  string
	key      string
	streamID string

	isConnected  bool
	isPublishing bool
	isPlaying    bool
	isIdling     bool
	isPaused     bool

	gopPlayNo    bool
	gopPlayClear bool

	clock int64

	publishMu sync.Mutex

	// pubSrc and playSrc are tracked separately because one
	// connection can createStream twice and both publish and play
	// under the same channel/key at once; sharing a single field
	// would let one role's teardown clobber the other's.
	pubSrc   *source.Source
	playSrc  *source.Source
	consumer *source.Consumer

	bitRate         uint64
	bitRateBytes    uint64
	bitRateLastTick int64

	closeOnce sync.Once
}

func newSession(server *Server, id uint64, ip string, conn net.Conn) *Session {
	return &Session{
		server:       server,
		conn:         conn,
		id:           id,
		ip:           ip,
		inChunkSize:  chunk.DefaultChunkSize,
		outChunkSize: server.OutChunkSize,
		receiveAudio: true,
		receiveVideo: true,
	}
}

// Serve performs the handshake and runs the chunk read loop until the
// connection closes or a protocol violation occurs.
func (s *Session) Serve() {
	defer s.onClose()

	br := bufio.NewReader(s.conn)

	if err := s.setDeadline(); err != nil {
		return
	}
	version, err := br.ReadByte()
	if err != nil || version != handshake.Version {
		rtmplog.DebugSession(s.id, s.ip, "invalid or missing handshake version byte")
		return
	}

	clientSig := make([]byte, 1536)
	if err := s.setDeadline(); err != nil {
		return
	}
	if _, err := readFull(br, clientSig); err != nil {
		rtmplog.DebugSession(s.id, s.ip, "invalid C1 received: "+err.Error())
		return
	}

	s0s1s2, _ := handshake.BuildResponse(clientSig)
	if err := s.setDeadline(); err != nil {
		return
	}
	if _, err := s.conn.Write(s0s1s2); err != nil {
		rtmplog.DebugSession(s.id, s.ip, "could not send handshake response: "+err.Error())
		return
	}

	c2 := make([]byte, 1536)
	if err := s.setDeadline(); err != nil {
		return
	}
	if _, err := readFull(br, c2); err != nil {
		rtmplog.DebugSession(s.id, s.ip, "invalid C2 received: "+err.Error())
		return
	}

	s.reader = chunk.NewReader(br)
	s.reader.RefreshDeadline = s.setDeadline

	for {
		msg, complete, n, err := s.reader.ReadOne()
		if err != nil {
			return
		}
		s.accountIncoming(n)
		if !complete {
			continue
		}
		if !s.handleMessage(msg) {
			return
		}
	}
}

func (s *Session) setDeadline() error {
	return s.conn.SetReadDeadline(time.Now().Add(pingTimeout))
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// accountIncoming updates the acknowledgement-window and bit-rate
// counters for n freshly-read bytes, sending an ACK once the
// negotiated ack window is crossed.
func (s *Session) accountIncoming(n uint32) {
	s.inAckSize += n
	if s.inAckSize >= 0xf0000000 {
		s.inAckSize = 0
		s.inLastAck = 0
	}
	if s.ackWindowSize > 0 && s.inAckSize-s.inLastAck >= s.ackWindowSize {
		s.inLastAck = s.inAckSize
		s.sendAck(s.inAckSize)
	}

	now := time.Now().UnixMilli()
	s.bitRateBytes += uint64(n)
	diff := now - s.bitRateLastTick
	if diff >= bitrateIntervalMS {
		s.bitRate = uint64(math.Round(float64(s.bitRateBytes) * 8 / float64(diff)))
		s.bitRateBytes = 0
		s.bitRateLastTick = now
	}
}

// handleMessage dispatches one fully-reassembled chunk.Message through
// the router and into the matching handler, returning false if the
// connection must be closed.
func (s *Session) handleMessage(msg *chunk.Message) bool {
	ev, err := router.Dispatch(msg)
	if err != nil {
		rtmplog.DebugSession(s.id, s.ip, "protocol violation: "+err.Error())
		return false
	}

	switch ev.Kind {
	case router.KindSetChunkSize:
		s.inChunkSize = ev.ChunkSize
		s.reader.InChunkSize = ev.ChunkSize
	case router.KindWindowAckSize:
		// The peer's advertised window does not change our own
		// inbound accounting; it only matters if we ever bothered
		// acting as an RTMP client, which this server never does.
	case router.KindSetPeerBandwidth:
		// No outbound throttling is implemented; informational only.
	case router.KindUserControl:
		// No user-control event from the peer is acted on; this
		// server sends no ping requests of its own.
	case router.KindCommand:
		return s.handleCommand(ev.Command, msg.Header.StreamID)
	case router.KindData:
		return s.handleData(ev.Data)
	case router.KindMedia:
		if ev.Media.IsAudio() {
			return s.handleAudio(ev.Media)
		}
		return s.handleVideo(ev.Media)
	case router.KindDropped:
		// intentionally ignored
	}

	return true
}

func (s *Session) streamPath() string {
	return "/" + s.channel + "/" + s.key
}

// Kill forcibly disconnects this session, used by the control-plane
// coordinator or the Redis kill-switch listener (see internal/control,
// internal/hooks) to tear down a specific publisher from outside its
// own read loop.
func (s *Session) Kill() {
	_ = s.conn.Close()
}

// onClose releases whatever this session was holding (play
// subscription, publish ownership) once the TCP connection ends.
func (s *Session) onClose() {
	s.closeOnce.Do(func() {
		if s.playStreamID > 0 {
			s.deleteStream(s.playStreamID)
		}
		if s.publishStreamID > 0 {
			s.deleteStream(s.publishStreamID)
		}
		s.isConnected = false
		_ = s.conn.Close()
	})
}

func (s *Session) deleteStream(streamID uint32) {
	if streamID == s.playStreamID {
		rtmplog.DebugSession(s.id, s.ip, "close play stream: "+strconv.Itoa(int(streamID)))
		if s.playSrc != nil && s.consumer != nil {
			s.playSrc.Unsubscribe(s.consumer)
			s.consumer = nil
		}
		s.playSrc = nil
		s.playStreamID = 0
		s.isPlaying = false
		s.isIdling = false
	}

	if streamID == s.publishStreamID {
		rtmplog.DebugSession(s.id, s.ip, "close publish stream: "+strconv.Itoa(int(streamID)))
		if s.isPublishing {
			s.endPublish()
		}
		s.publishStreamID = 0
	}
}
