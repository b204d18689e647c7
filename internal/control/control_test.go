package control

import (
	"testing"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/stretchr/testify/require"
)

func rpcMessage(method string, params map[string]string) *messages.RPCMessage {
	return &messages.RPCMessage{Method: method, Params: params}
}

type fakeKiller struct {
	killedChannel  string
	killedStreamID string
	killAllCalls   int
}

func (f *fakeKiller) KillPublisher(channel, streamID string) bool {
	f.killedChannel = channel
	f.killedStreamID = streamID
	return true
}

func (f *fakeKiller) KillAllPublishers() {
	f.killAllCalls++
}

func TestStandAloneModeAcceptsImmediately(t *testing.T) {
	c := New(Options{}, &fakeKiller{})
	require.False(t, c.Enabled())

	accepted, streamID := c.RequestPublish("live", "key", "1.2.3.4")
	require.True(t, accepted)
	require.Empty(t, streamID)
}

func TestStandAloneReleaseIsNoop(t *testing.T) {
	c := New(Options{}, &fakeKiller{})
	c.ReleasePublish("live", "key", "stream-1") // must not panic or block
}

func TestDispatchStreamKill(t *testing.T) {
	killer := &fakeKiller{}
	c := &Connection{killer: killer, enabled: true, requests: make(map[string]*pendingRequest)}

	msg := rpcMessage("STREAM-KILL", map[string]string{"Stream-Channel": "live", "Stream-Id": "abc"})
	c.dispatch(msg)

	require.Equal(t, "live", killer.killedChannel)
	require.Equal(t, "abc", killer.killedStreamID)
}

func TestDispatchPublishAcceptResolvesWaiter(t *testing.T) {
	c := &Connection{killer: &fakeKiller{}, enabled: true, requests: make(map[string]*pendingRequest)}

	req := &pendingRequest{waiter: make(chan publishResponse, 1)}
	c.requests["7"] = req

	msg := rpcMessage("PUBLISH-ACCEPT", map[string]string{"Request-Id": "7", "Stream-Id": "s1"})
	c.dispatch(msg)

	res := <-req.waiter
	require.True(t, res.accepted)
	require.Equal(t, "s1", res.streamID)
}

func TestDispatchPublishDenyResolvesWaiter(t *testing.T) {
	c := &Connection{killer: &fakeKiller{}, enabled: true, requests: make(map[string]*pendingRequest)}

	req := &pendingRequest{waiter: make(chan publishResponse, 1)}
	c.requests["9"] = req

	msg := rpcMessage("PUBLISH-DENY", map[string]string{"Request-Id": "9"})
	c.dispatch(msg)

	res := <-req.waiter
	require.False(t, res.accepted)
}
