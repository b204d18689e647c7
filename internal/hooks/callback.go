// Package hooks implements the two out-of-process integration points
// a deployment can use instead of (or alongside) the websocket
// coordinator in internal/control: an HTTP start/stop callback that
// authorizes publishes via a signed JWT round-trip, and a Redis
// pub/sub listener that can force a publisher offline (a kill
// switch).
package hooks

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

const jwtExpirationSeconds = 120

// CallbackOptions configures Callback. URL == "" disables it (every
// RequestPublish call then accepts unconditionally), matching the
// teacher's CALLBACK_URL-absent behavior.
type CallbackOptions struct {
	URL     string
	Secret  string
	Subject string

	Host string
	Port int
}

// Callback is an HTTP start/stop publish hook: RequestPublish POSTs a
// signed "start" event and reads back an upstream-assigned stream id
// from the response header; ReleasePublish POSTs the matching "stop"
// event. It satisfies session.PublishAuthorizer.
type Callback struct {
	opts   CallbackOptions
	client *http.Client
}

// NewCallback builds a Callback from opts.
func NewCallback(opts CallbackOptions) *Callback {
	if opts.Subject == "" {
		opts.Subject = "rtmp_event"
	}
	return &Callback{opts: opts, client: &http.Client{Timeout: 15 * time.Second}}
}

// Enabled reports whether a callback URL was configured.
func (c *Callback) Enabled() bool {
	return c.opts.URL != ""
}

func (c *Callback) sign(claims jwt.MapClaims) (string, error) {
	claims["sub"] = c.opts.Subject
	claims["exp"] = time.Now().Unix() + jwtExpirationSeconds
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(c.opts.Secret))
}

func (c *Callback) post(event string, claims jwt.MapClaims) (*http.Response, error) {
	claims["event"] = event
	signed, err := c.sign(claims)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("rtmp-event", signed)

	return c.client.Do(req)
}

// RequestPublish POSTs a "start" event and returns the upstream
// stream id from the "stream-id" response header. A non-200 response
// or request error denies the publish.
func (c *Callback) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if !c.Enabled() {
		return true, ""
	}

	rtmplog.Info("[callback] POST " + c.opts.URL + " event=start channel=" + channel)

	res, err := c.post("start", jwt.MapClaims{
		"channel":   channel,
		"key":       key,
		"client_ip": userIP,
		"rtmp_host": c.opts.Host,
		"rtmp_port": c.opts.Port,
	})
	if err != nil {
		rtmplog.Error(err)
		return false, ""
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		rtmplog.Warning("[callback] start rejected with status " + fmt.Sprint(res.StatusCode))
		return false, ""
	}

	return true, res.Header.Get("stream-id")
}

// ReleasePublish POSTs the matching "stop" event. The response is
// logged but never changes session teardown, mirroring the teacher's
// fire-and-forget SendStopCallback.
func (c *Callback) ReleasePublish(channel, key, streamID string) {
	if !c.Enabled() {
		return
	}

	rtmplog.Info("[callback] POST " + c.opts.URL + " event=stop channel=" + channel)

	res, err := c.post("stop", jwt.MapClaims{
		"channel":   channel,
		"key":       key,
		"stream_id": streamID,
	})
	if err != nil {
		rtmplog.Error(err)
		return
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		rtmplog.Warning("[callback] stop request ended with status " + fmt.Sprint(res.StatusCode))
	}
}
