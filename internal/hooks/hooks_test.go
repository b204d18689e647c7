package hooks

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackDisabledAcceptsImmediately(t *testing.T) {
	c := NewCallback(CallbackOptions{})
	require.False(t, c.Enabled())

	accepted, streamID := c.RequestPublish("live", "key", "1.2.3.4")
	require.True(t, accepted)
	require.Empty(t, streamID)
}

func TestCallbackRequestPublishAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("rtmp-event"))
		w.Header().Set("stream-id", "upstream-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCallback(CallbackOptions{URL: srv.URL, Secret: "shh"})
	accepted, streamID := c.RequestPublish("live", "key", "1.2.3.4")

	require.True(t, accepted)
	require.Equal(t, "upstream-123", streamID)
}

func TestCallbackRequestPublishRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewCallback(CallbackOptions{URL: srv.URL, Secret: "shh"})
	accepted, _ := c.RequestPublish("live", "key", "1.2.3.4")

	require.False(t, accepted)
}

func TestCallbackReleasePublishIsFireAndForget(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCallback(CallbackOptions{URL: srv.URL, Secret: "shh"})
	c.ReleasePublish("live", "key", "stream-1")

	require.True(t, called)
}

type fakeKiller struct {
	channel  string
	streamID string
}

func (f *fakeKiller) KillPublisher(channel, streamID string) bool {
	f.channel = channel
	f.streamID = streamID
	return true
}

func TestDispatchRedisKillSession(t *testing.T) {
	k := &fakeKiller{}
	dispatchRedisCommand(k, "kill-session>live")

	require.Equal(t, "live", k.channel)
	require.Empty(t, k.streamID)
}

func TestDispatchRedisCloseStream(t *testing.T) {
	k := &fakeKiller{}
	dispatchRedisCommand(k, "close-stream>live|stream-42")

	require.Equal(t, "live", k.channel)
	require.Equal(t, "stream-42", k.streamID)
}

func TestDispatchRedisInvalidCommandIsIgnored(t *testing.T) {
	k := &fakeKiller{}
	dispatchRedisCommand(k, "not-a-valid-command")

	require.Empty(t, k.channel)
}
