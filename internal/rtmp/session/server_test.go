package session

import (
	"testing"

	"github.com/netdata/go.d.plugin/pkg/iprange"
	"github.com/stretchr/testify/require"
)

func TestValidateStreamKey(t *testing.T) {
	require.True(t, validateStreamKey("live-stream_1.test", 64))
	require.False(t, validateStreamKey("", 64))
	require.False(t, validateStreamKey("has a space", 64))
	require.False(t, validateStreamKey("semi;colon", 64))
	require.False(t, validateStreamKey("toolong", 3))
}

func TestSplitStreamPath(t *testing.T) {
	require.Equal(t, "mykey", splitStreamPath("mykey?cache=no"))
	require.Equal(t, "mykey", splitStreamPath("mykey"))
}

func TestParsePlayParams(t *testing.T) {
	noCache, clear := parsePlayParams("mykey?cache=no")
	require.True(t, noCache)
	require.False(t, clear)

	noCache, clear = parsePlayParams("mykey?foo=bar&cache=clear")
	require.False(t, noCache)
	require.True(t, clear)

	noCache, clear = parsePlayParams("mykey")
	require.False(t, noCache)
	require.False(t, clear)
}

func TestSourceKey(t *testing.T) {
	require.Equal(t, "rtmp:/live/foo", sourceKey("live", "foo"))
}

func TestWhitelisted(t *testing.T) {
	r, err := iprange.ParseRange("10.0.0.0/8")
	require.NoError(t, err)

	require.True(t, whitelisted("10.1.2.3", []iprange.Range{r}))
	require.False(t, whitelisted("192.168.1.1", []iprange.Range{r}))
	require.False(t, whitelisted("10.1.2.3", nil))
}

func TestServerAdmitRespectsPerIPLimit(t *testing.T) {
	srv := NewServer(nil)
	srv.MaxIPConcurrentConnections = 2

	require.True(t, srv.admit("1.2.3.4"))
	require.True(t, srv.admit("1.2.3.4"))
	require.False(t, srv.admit("1.2.3.4"))

	srv.release("1.2.3.4")
	require.True(t, srv.admit("1.2.3.4"))
}

func TestServerAdmitExemptsWhitelist(t *testing.T) {
	r, err := iprange.ParseRange("1.2.3.4/32")
	require.NoError(t, err)

	srv := NewServer(nil)
	srv.MaxIPConcurrentConnections = 1
	srv.ConcurrentLimitWhitelist = []iprange.Range{r}

	require.True(t, srv.admit("1.2.3.4"))
	require.True(t, srv.admit("1.2.3.4"))
	require.True(t, srv.admit("1.2.3.4"))
}
