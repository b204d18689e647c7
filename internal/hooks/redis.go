package hooks

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
)

const redisReconnectDelay = 10 * time.Second

// RedisOptions configures RunRedisListener. Enabled == false is a
// no-op, matching the teacher's REDIS_USE-absent behavior.
type RedisOptions struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	Channel  string
	TLS      bool
}

// RunRedisListener subscribes to opts.Channel and dispatches
// kill-session/close-stream commands into killer, blocking forever
// (the caller should run it in its own goroutine). A receive error
// just waits redisReconnectDelay and retries, the channel subscription
// survives across retries since go-redis resubscribes transparently
// on the next ReceiveMessage.
func RunRedisListener(opts RedisOptions, killer Killer) {
	if !opts.Enabled {
		return
	}

	redisOpts := &redis.Options{
		Addr:     opts.Host + ":" + opts.Port,
		Password: opts.Password,
	}
	if opts.TLS {
		redisOpts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(redisOpts)
	ctx := context.Background()
	sub := client.Subscribe(ctx, opts.Channel)

	rtmplog.Info("[redis] listening for commands on channel '" + opts.Channel + "'")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			rtmplog.Warning("[redis] receive error: " + err.Error())
			time.Sleep(redisReconnectDelay)
			continue
		}
		dispatchRedisCommand(killer, msg.Payload)
	}
}

// Killer is the subset of session.Server a kill-switch (the Redis
// listener here, or internal/control's STREAM-KILL handler) needs to
// force a publisher offline by channel name.
type Killer interface {
	KillPublisher(channel, streamID string) bool
}

// dispatchRedisCommand parses the "name>arg1|arg2" wire format the
// teacher's Redis publisher emits and applies it to killer.
func dispatchRedisCommand(killer Killer, cmd string) {
	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		rtmplog.Warning("[redis] invalid command: " + cmd)
		return
	}

	name := parts[0]
	args := strings.Split(parts[1], "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			rtmplog.Warning("[redis] invalid kill-session command: " + cmd)
			return
		}
		killer.KillPublisher(args[0], "")
	case "close-stream":
		if len(args) < 2 {
			rtmplog.Warning("[redis] invalid close-stream command: " + cmd)
			return
		}
		killer.KillPublisher(args[0], args[1])
	default:
		rtmplog.Warning("[redis] unknown command: " + name)
	}
}
