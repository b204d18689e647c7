package session

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/netdata/go.d.plugin/pkg/iprange"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
	"github.com/docterling/rtmp-bridge-server/internal/source"
)

// PublishAuthorizer decides whether a publish attempt is accepted,
// returning an upstream-assigned stream id on success. A deployment
// wires either the websocket coordinator (internal/control) or the
// HTTP callback hook (internal/hooks) in here; a nil Authorizer on
// Server accepts every publish unconditionally.
type PublishAuthorizer interface {
	RequestPublish(channel, key, ip string) (accepted bool, streamID string)
	ReleasePublish(channel, key, streamID string)
}

// BridgeFactory builds the composite bridge.Bridge attached to a
// freshly published source, letting the caller wire WebRTC/RTSP/SRT
// targets without this package importing internal/bridge directly.
type BridgeFactory func(channel, key string) source.Bridge

// Server holds the settings and shared state for every Session
// accepted on one listener: the stream registry, chunk-size/GOP-cache
// policy, per-IP concurrency limits, and the optional publish
// authorizer and bridge factory hooks.
type Server struct {
	Registry *source.Registry

	OutChunkSize      uint32
	StreamIDMaxLength int

	MaxIPConcurrentConnections uint32
	ConcurrentLimitWhitelist   []iprange.Range

	PlayWhitelist []iprange.Range

	Authorizer PublishAuthorizer
	NewBridge  BridgeFactory

	nextID  uint64
	connsMu sync.Mutex
	conns   map[string]uint32

	pubMu      sync.Mutex
	publishers map[string]*Session
}

// NewServer returns a Server with defaults matching config.Config's
// zero-value fallbacks; callers set the Registry and policy fields
// from a loaded config before calling Accept.
func NewServer(registry *source.Registry) *Server {
	return &Server{
		Registry:          registry,
		OutChunkSize:      chunkSizeDefault,
		StreamIDMaxLength: 256,
		conns:             make(map[string]uint32),
		publishers:        make(map[string]*Session),
	}
}

// registerPublisher records s as the current publisher of channel, so
// a coordinator (internal/control) or Redis kill-switch
// (internal/hooks) can later force it offline by channel name.
func (srv *Server) registerPublisher(channel string, s *Session) {
	srv.pubMu.Lock()
	srv.publishers[channel] = s
	srv.pubMu.Unlock()
}

func (srv *Server) unregisterPublisher(channel string, s *Session) {
	srv.pubMu.Lock()
	if srv.publishers[channel] == s {
		delete(srv.publishers, channel)
	}
	srv.pubMu.Unlock()
}

// KillPublisher forcibly disconnects the current publisher of
// channel, if streamID is empty or matches its upstream-assigned
// stream id (mirroring the teacher's STREAM-KILL / Redis
// close-stream semantics, where an empty or "*" id kills
// unconditionally).
func (srv *Server) KillPublisher(channel, streamID string) bool {
	srv.pubMu.Lock()
	s := srv.publishers[channel]
	srv.pubMu.Unlock()

	if s == nil {
		return false
	}
	if streamID != "" && streamID != "*" && s.streamID != streamID {
		return false
	}
	s.Kill()
	return true
}

// KillAllPublishers disconnects every currently publishing session,
// used when a coordinator connection is reestablished and the
// coordinator's view of live streams must be reset to match.
func (srv *Server) KillAllPublishers() {
	srv.pubMu.Lock()
	sessions := make([]*Session, 0, len(srv.publishers))
	for _, s := range srv.publishers {
		sessions = append(sessions, s)
	}
	srv.pubMu.Unlock()

	for _, s := range sessions {
		s.Kill()
	}
}

const chunkSizeDefault = 128

// Accept runs the accept loop on ln until it returns an error (e.g.
// the listener is closed), spawning one goroutine per connection.
func (srv *Server) Accept(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go srv.handleConn(conn)
	}
}

func (srv *Server) handleConn(conn net.Conn) {
	ip := remoteIP(conn)

	if !srv.admit(ip) {
		rtmplog.Info("rejected connection from " + ip + ": too many concurrent connections")
		_ = conn.Close()
		return
	}
	defer srv.release(ip)

	id := atomic.AddUint64(&srv.nextID, 1)
	rtmplog.Request(id, ip, "connected")

	s := newSession(srv, id, ip, conn)
	s.Serve()

	rtmplog.Request(id, ip, "disconnected")
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// admit enforces MaxIPConcurrentConnections per source IP, exempting
// any address covered by ConcurrentLimitWhitelist the same way the
// teacher's CONCURRENT_LIMIT_WHITELIST env var does.
func (srv *Server) admit(ip string) bool {
	if srv.MaxIPConcurrentConnections == 0 {
		return true
	}
	if whitelisted(ip, srv.ConcurrentLimitWhitelist) {
		return true
	}

	srv.connsMu.Lock()
	defer srv.connsMu.Unlock()
	if srv.conns[ip] >= srv.MaxIPConcurrentConnections {
		return false
	}
	srv.conns[ip]++
	return true
}

func (srv *Server) release(ip string) {
	srv.connsMu.Lock()
	defer srv.connsMu.Unlock()
	if srv.conns[ip] > 0 {
		srv.conns[ip]--
		if srv.conns[ip] == 0 {
			delete(srv.conns, ip)
		}
	}
}

func whitelisted(ip string, ranges []iprange.Range) bool {
	if len(ranges) == 0 {
		return false
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, r := range ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// canPlay reports whether ip is allowed to play, honoring
// PlayWhitelist the way the teacher's RTMP_PLAY_WHITELIST env var
// does (an empty whitelist allows everyone).
func (srv *Server) canPlay(ip string) bool {
	if len(srv.PlayWhitelist) == 0 {
		return true
	}
	return whitelisted(ip, srv.PlayWhitelist)
}

// validateStreamKey bounds a channel or stream key to a conservative
// alphanumeric-plus-punctuation charset and a maximum length; the
// teacher's own validator for this was not present in the snapshot
// this repo was built from, so this is a from-scratch equivalent
// rather than a port.
func validateStreamKey(key string, maxLength int) bool {
	if key == "" {
		return false
	}
	if maxLength > 0 && len(key) > maxLength {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// sourceKey builds the protocol-qualified registry key for an
// RTMP-published channel/stream-key pair.
func sourceKey(channel, key string) string {
	return "rtmp:/" + channel + "/" + key
}

func splitStreamPath(raw string) string {
	return strings.SplitN(raw, "?", 2)[0]
}

func parsePlayParams(raw string) (noCache, clearCache bool) {
	parts := strings.SplitN(raw, "?", 2)
	if len(parts) < 2 {
		return false, false
	}
	for _, kv := range strings.Split(parts[1], "&") {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			continue
		}
		if pair[0] == "cache" {
			switch pair[1] {
			case "no":
				noCache = true
			case "clear":
				clearCache = true
			}
		}
	}
	return noCache, clearCache
}

