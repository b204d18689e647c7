// Command rtmpserver is the composition root: it loads configuration,
// wires the publish authorizer (coordinator or HTTP callback),
// constructs the source registry and session server, and runs the
// plain and TLS RTMP listeners plus the Redis kill-switch listener.
package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"

	"github.com/docterling/rtmp-bridge-server/internal/bridge"
	"github.com/docterling/rtmp-bridge-server/internal/config"
	"github.com/docterling/rtmp-bridge-server/internal/control"
	"github.com/docterling/rtmp-bridge-server/internal/hooks"
	"github.com/docterling/rtmp-bridge-server/internal/rtmp/session"
	"github.com/docterling/rtmp-bridge-server/internal/rtmplog"
	"github.com/docterling/rtmp-bridge-server/internal/source"
	"github.com/docterling/rtmp-bridge-server/internal/tlscert"
)

const (
	gopCacheCleanupDelay = 30 * time.Second
	tlsReloadInterval    = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		rtmplog.Error(err)
		os.Exit(1)
	}
	registry := source.NewRegistry(int(cfg.GOPCacheSizeBytes), gopCacheCleanupDelay)

	srv := session.NewServer(registry)
	srv.OutChunkSize = uint32(cfg.RTMPChunkSize)
	srv.MaxIPConcurrentConnections = cfg.MaxIPConcurrentConnections
	srv.ConcurrentLimitWhitelist = cfg.ConcurrentLimitWhitelist
	srv.PlayWhitelist = parsePlayWhitelist(cfg)
	srv.NewBridge = func(channel, key string) source.Bridge {
		return bridge.New()
	}

	srv.Authorizer = buildAuthorizer(cfg, srv)

	if cfg.RedisEnabled {
		go hooks.RunRedisListener(hooks.RedisOptions{
			Enabled:  cfg.RedisEnabled,
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			Channel:  cfg.RedisChannel,
			TLS:      cfg.RedisTLS,
		}, srv)
	}

	errCh := make(chan error, 2)

	go runPlainListener(cfg, srv, errCh)

	if cfg.SSLCert != "" && cfg.SSLKey != "" {
		go runTLSListener(cfg, srv, errCh)
	}

	if err := <-errCh; err != nil {
		rtmplog.Error(err)
		os.Exit(1)
	}
}

// buildAuthorizer prefers the websocket coordinator when
// CONTROL_BASE_URL is set, falling back to the HTTP callback hook, and
// finally to an unauthenticated (every publish accepted) mode when
// neither is configured.
func buildAuthorizer(cfg *config.Config, killer control.Killer) session.PublishAuthorizer {
	if cfg.ControlBaseURL != "" {
		return control.New(control.Options{
			BaseURL:      cfg.ControlBaseURL,
			Secret:       cfg.ControlSecret,
			ExternalIP:   cfg.ExternalIP,
			ExternalPort: cfg.ExternalPort,
			ExternalSSL:  cfg.ExternalSSL,
		}, killer)
	}
	if cfg.CallbackURL != "" {
		port := cfg.RTMPPort
		return hooks.NewCallback(hooks.CallbackOptions{
			URL:     cfg.CallbackURL,
			Secret:  cfg.JWTSecret,
			Subject: cfg.JWTSubject,
			Host:    cfg.BindAddress,
			Port:    port,
		})
	}
	return nil
}

// parsePlayWhitelist parses the comma-separated RTMP_PLAY_WHITELIST
// CIDR/range list, the same format config.Load accepts for
// CONCURRENT_LIMIT_WHITELIST. An empty whitelist allows every viewer.
func parsePlayWhitelist(cfg *config.Config) []iprange.Range {
	if cfg.PlayWhitelist == "" {
		return nil
	}
	parts := strings.Split(cfg.PlayWhitelist, ",")
	out := make([]iprange.Range, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := iprange.ParseRange(p)
		if err != nil {
			rtmplog.Warning("invalid RTMP_PLAY_WHITELIST entry: " + p)
			continue
		}
		out = append(out, r)
	}
	return out
}

func runPlainListener(cfg *config.Config, srv *session.Server, errCh chan<- error) {
	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.RTMPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		errCh <- err
		return
	}
	rtmplog.Info("rtmp listening on " + addr)
	errCh <- srv.Accept(ln)
}

func runTLSListener(cfg *config.Config, srv *session.Server, errCh chan<- error) {
	loader, err := tlscert.New(cfg.SSLCert, cfg.SSLKey, tlsReloadInterval)
	if err != nil {
		errCh <- err
		return
	}
	go loader.RunReloadLoop(nil)

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.SSLPort)
	ln, err := tls.Listen("tcp", addr, &tls.Config{GetCertificate: loader.GetCertificate})
	if err != nil {
		errCh <- err
		return
	}
	rtmplog.Info("rtmps listening on " + addr)
	errCh <- srv.Accept(ln)
}
