// Package control implements the websocket coordinator client:
// a deployment can run several rtmp-bridge-server instances behind a
// shared coordinator that arbitrates publish keys and can kill a
// stream from outside the instance that accepted it.
// Connection.RequestPublish and Connection.ReleasePublish satisfy
// session.PublishAuthorizer so a Server can be wired directly to a
// Connection.
package control

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

const (
	heartbeatInterval = 20 * time.Second
	reconnectDelay     = 10 * time.Second
	requestTimeout     = 20 * time.Second
	readDeadline       = 60 * time.Second
)

// Killer is the subset of session.Server a Connection needs to act on
// a STREAM-KILL push from the coordinator, or to reset every live
// publisher after a reconnect (the coordinator's view of "what is
// live" is authoritative and a reconnect means it lost track of us).
type Killer interface {
	KillPublisher(channel, streamID string) bool
	KillAllPublishers()
}

type pendingRequest struct {
	waiter chan publishResponse
}

type publishResponse struct {
	accepted bool
	streamID string
}

// Connection is one coordinator websocket connection, reconnecting
// automatically and routing PUBLISH-ACCEPT/PUBLISH-DENY/STREAM-KILL
// pushes back into the local session.Server.
type Connection struct {
	baseURL string
	secret  string
	killer  Killer

	externalIP   string
	externalPort string
	externalSSL  bool

	mu         sync.Mutex
	conn       *websocket.Conn
	nextReqID  uint64
	requests   map[string]*pendingRequest
	enabled    bool
}

// Options configures a Connection; BaseURL == "" disables the
// coordinator entirely (every publish is accepted locally), matching
// the teacher's CONTROL_BASE_URL-absent "stand-alone mode".
type Options struct {
	BaseURL      string
	Secret       string
	ExternalIP   string
	ExternalPort string
	ExternalSSL  bool
}

// New builds a Connection and, if BaseURL is set, starts connecting
// and heartbeating in the background.
func New(opts Options, killer Killer) *Connection {
	c := &Connection{
		baseURL:      opts.BaseURL,
		secret:       opts.Secret,
		killer:       killer,
		externalIP:   opts.ExternalIP,
		externalPort: opts.ExternalPort,
		externalSSL:  opts.ExternalSSL,
		requests:     make(map[string]*pendingRequest),
	}

	if opts.BaseURL == "" {
		rtmplog.Warning("control base URL not provided, running in stand-alone mode")
		return c
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		rtmplog.Error(err)
		rtmplog.Warning("control base URL invalid, running in stand-alone mode")
		return c
	}
	path, _ := url.Parse("/ws/control/rtmp")
	c.baseURL = base.ResolveReference(path).String()
	c.enabled = true

	go c.connect()
	go c.heartbeatLoop()

	return c
}

// Enabled reports whether this Connection is actually dialing a
// coordinator (false in stand-alone mode).
func (c *Connection) Enabled() bool {
	return c.enabled
}

func (c *Connection) authToken() string {
	if c.secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "rtmp-control"})
	signed, err := token.SignedString([]byte(c.secret))
	if err != nil {
		rtmplog.Error(err)
		return ""
	}
	return signed
}

func (c *Connection) connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}

	rtmplog.Info("[control] connecting to " + c.baseURL)

	headers := http.Header{}
	if tok := c.authToken(); tok != "" {
		headers.Set("x-control-auth-token", tok)
	}
	if c.externalIP != "" {
		headers.Set("x-external-ip", c.externalIP)
	}
	if c.externalPort != "" {
		headers.Set("x-custom-port", c.externalPort)
	}
	if c.externalSSL {
		headers.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.baseURL, headers)
	if err != nil {
		c.mu.Unlock()
		rtmplog.Warning("[control] connection error: " + err.Error())
		go c.reconnect()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	// A coordinator only sees us as freshly connected because it
	// lost track of the prior connection; every publisher it still
	// believes is live on this instance must be reset.
	c.killer.KillAllPublishers()

	go c.readLoop(conn)
}

func (c *Connection) reconnect() {
	time.Sleep(reconnectDelay)
	c.connect()
}

func (c *Connection) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	rtmplog.Info("[control] disconnected: " + err.Error())
	go c.connect()
}

func (c *Connection) send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	_ = c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))
	return true
}

func (c *Connection) nextRequestID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextReqID
	c.nextReqID++
	return id
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			_ = conn.Close()
			c.onDisconnect(err)
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(raw))
		c.dispatch(&msg)
	}
}

func (c *Connection) dispatch(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		rtmplog.Warning("[control] remote error " + msg.GetParam("Error-Code") + ": " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolve(msg.GetParam("Request-Id"), publishResponse{accepted: true, streamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolve(msg.GetParam("Request-Id"), publishResponse{accepted: false})
	case "STREAM-KILL":
		c.killer.KillPublisher(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
	}
}

func (c *Connection) resolve(requestID string, res publishResponse) {
	c.mu.Lock()
	req := c.requests[requestID]
	c.mu.Unlock()
	if req == nil {
		return
	}
	req.waiter <- res
}

func (c *Connection) heartbeatLoop() {
	for {
		time.Sleep(heartbeatInterval)
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key may start
// publishing, blocking until a PUBLISH-ACCEPT/DENY arrives or
// requestTimeout elapses. In stand-alone mode it accepts immediately.
func (c *Connection) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	reqID := fmt.Sprint(c.nextRequestID())
	req := &pendingRequest{waiter: make(chan publishResponse)}

	c.mu.Lock()
	c.requests[reqID] = req
	c.mu.Unlock()

	ok := c.send(messages.RPCMessage{Method: "PUBLISH-REQUEST", Params: map[string]string{
		"Request-ID":     reqID,
		"Stream-Channel": channel,
		"Stream-Key":     key,
		"User-IP":        userIP,
	}})

	if !ok {
		c.mu.Lock()
		delete(c.requests, reqID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(requestTimeout, func() {
		req.waiter <- publishResponse{accepted: false}
	})
	res := <-req.waiter
	timer.Stop()

	c.mu.Lock()
	delete(c.requests, reqID)
	c.mu.Unlock()

	return res.accepted, res.streamID
}

// ReleasePublish notifies the coordinator that channel/streamID has
// stopped publishing. A no-op in stand-alone mode.
func (c *Connection) ReleasePublish(channel, key, streamID string) {
	if !c.enabled {
		return
	}
	c.send(messages.RPCMessage{Method: "PUBLISH-END", Params: map[string]string{
		"Stream-Channel": channel,
		"Stream-ID":      streamID,
	}})
}
