// Package config centralizes the environment-derived settings that
// the teacher repo reads ad-hoc with os.Getenv at a dozen call sites
// (server bind address, GOP cache size, control-plane URL, Redis,
// SSL). Loaded once at process start.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// Config is the full set of settings read from the environment (and
// optionally a .env file) at startup.
type Config struct {
	BindAddress string
	RTMPPort    int
	SSLPort     int
	SSLCert     string
	SSLKey      string

	MaxIPConcurrentConnections uint32
	ConcurrentLimitWhitelist   []iprange.Range
	GOPCacheSizeBytes          int64
	RTMPChunkSize              int

	ControlBaseURL string
	ControlSecret  string
	ExternalIP     string
	ExternalPort   string
	ExternalSSL    bool

	CallbackURL    string
	JWTSecret      string
	JWTSubject     string

	PlayWhitelist string

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool

	LogDebug    bool
	LogRequests bool
}

// Load reads .env (if present, ignoring a missing file) and then
// builds a Config from the environment, applying the same defaults
// as the original per-call-site os.Getenv reads.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		BindAddress:                "",
		RTMPPort:                   1935,
		SSLPort:                    443,
		MaxIPConcurrentConnections: 4,
		GOPCacheSizeBytes:          256 * 1024 * 1024,
		RTMPChunkSize:              128,
		RedisHost:                  "127.0.0.1",
		RedisPort:                  "6379",
		RedisChannel:               "rtmp-server",
		LogRequests:                true,
	}

	c.BindAddress = os.Getenv("BIND_ADDRESS")

	if v := os.Getenv("RTMP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.RTMPPort = p
		}
	}
	if v := os.Getenv("SSL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.SSLPort = p
		}
	}
	c.SSLCert = os.Getenv("SSL_CERT")
	c.SSLKey = os.Getenv("SSL_KEY")

	if v := os.Getenv("MAX_IP_CONCURRENT_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxIPConcurrentConnections = uint32(n)
		}
	}
	if v := os.Getenv("GOP_CACHE_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GOPCacheSizeBytes = int64(n) * 1024 * 1024
		}
	}
	if v := os.Getenv("RTMP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RTMPChunkSize = n
		}
	}

	if v := os.Getenv("CONCURRENT_LIMIT_WHITELIST"); v != "" {
		ranges, err := parseIPRangeList(v)
		if err == nil {
			c.ConcurrentLimitWhitelist = ranges
		}
	}

	c.ControlBaseURL = os.Getenv("CONTROL_BASE_URL")
	c.ControlSecret = os.Getenv("CONTROL_SECRET")
	c.ExternalIP = os.Getenv("EXTERNAL_IP")
	c.ExternalPort = os.Getenv("EXTERNAL_PORT")
	c.ExternalSSL = os.Getenv("EXTERNAL_SSL") == "YES"

	c.CallbackURL = os.Getenv("CALLBACK_URL")
	c.JWTSecret = os.Getenv("JWT_SECRET")
	c.JWTSubject = os.Getenv("CUSTOM_JWT_SUBJECT")

	c.PlayWhitelist = os.Getenv("RTMP_PLAY_WHITELIST")

	c.RedisEnabled = os.Getenv("REDIS_USE") == "YES"
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		c.RedisPort = v
	}
	c.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		c.RedisChannel = v
	}
	c.RedisTLS = os.Getenv("REDIS_TLS") == "YES"

	c.LogDebug = os.Getenv("LOG_DEBUG") == "YES"
	c.LogRequests = os.Getenv("LOG_REQUESTS") != "NO"

	return c, nil
}

// parseIPRangeList parses a comma-separated list of CIDR/range
// entries, the same format the teacher accepts for
// CONCURRENT_LIMIT_WHITELIST.
func parseIPRangeList(raw string) ([]iprange.Range, error) {
	parts := strings.Split(raw, ",")
	out := make([]iprange.Range, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := iprange.ParseRange(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
