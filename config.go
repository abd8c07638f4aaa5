package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskhub/realtime"
)

const (
	backendMemory   = "memory"
	backendTables   = "tables"
	backendPostgres = "postgres"
)

type config struct {
	ListenAddr string
	Debug      bool
	LogLevel   string
	LogFormat  string

	Backend         string
	StorageConn     string
	TasksTable      string
	ProjectsTable   string
	UsersTable      string
	DatabaseURL     string
	RedisConn       string
	QueryCacheTTL   time.Duration
	DeduperTTL      time.Duration
	EventsQueue     string
	SinkWorkers     int
	SinkBuffer      int
	Auth0Domain     string
	Auth0Audience   string
	LocalAuthMode   string
	LocalAuthSecret string
	JWKSCacheTTL    time.Duration
	StreamBuffer    int
	KeepAlive       time.Duration
	PprofEnabled    bool
}

// envReader reads typed settings and remembers the first malformed one.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (r *envReader) envString(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// envInt reads a positive integer.
func (r *envReader) envInt(key string, def int) int {
	v := r.envString(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	if n <= 0 {
		r.fail(key, errors.New("must be greater than zero"))
		return def
	}
	return n
}

// envDur reads a positive duration.
func (r *envReader) envDur(key string, def time.Duration) time.Duration {
	v := r.envString(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	if d <= 0 {
		r.fail(key, errors.New("must be greater than zero"))
		return def
	}
	return d
}

func (r *envReader) envBool(key string, def bool) bool {
	v := r.envString(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

func loadConfig(lookup func(string) (string, bool)) (config, error) {
	r := &envReader{lookup: lookup}
	cfg := config{
		ListenAddr:      r.envString("LISTEN_ADDR", ""),
		Debug:           r.envBool("DEBUG", false),
		LogLevel:        r.envString("LOG_LEVEL", "info"),
		LogFormat:       r.envString("LOG_FORMAT", "text"),
		Backend:         strings.ToLower(r.envString("STORAGE_BACKEND", backendMemory)),
		StorageConn:     r.envString("STORAGE_CONNECTION_STRING", ""),
		TasksTable:      r.envString("TASKS_TABLE", "Tasks"),
		ProjectsTable:   r.envString("PROJECTS_TABLE", "Projects"),
		UsersTable:      r.envString("USERS_TABLE", "Users"),
		DatabaseURL:     r.envString("DATABASE_URL", ""),
		RedisConn:       r.envString("REDIS_CONNECTION_STRING", ""),
		QueryCacheTTL:   r.envDur("QUERY_CACHE_TTL", 30*time.Second),
		DeduperTTL:      r.envDur("DEDUPER_TTL", 24*time.Hour),
		EventsQueue:     r.envString("EVENTS_QUEUE", ""),
		SinkWorkers:     r.envInt("EVENT_SINK_WORKERS", 4),
		SinkBuffer:      r.envInt("EVENT_SINK_BUFFER", 256),
		Auth0Domain:     r.envString("AUTH0_DOMAIN", ""),
		Auth0Audience:   r.envString("AUTH0_AUDIENCE", ""),
		LocalAuthMode:   r.envString("LOCAL_AUTH_MODE", ""),
		LocalAuthSecret: r.envString("LOCAL_AUTH_SHARED_SECRET", ""),
		JWKSCacheTTL:    r.envDur("JWKS_CACHE_TTL", 15*time.Minute),
		StreamBuffer:    r.envInt("STREAM_BUFFER", 64),
		KeepAlive:       r.envDur("STREAM_KEEPALIVE", 25*time.Second),
		PprofEnabled:    r.envBool("PPROF_ENABLED", false),
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":" + r.envString("PORT", "8080")
	}
	if r.err != nil {
		return config{}, r.err
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch cfg.Backend {
	case backendMemory:
	case backendTables:
		if cfg.StorageConn == "" {
			return config{}, errors.New("STORAGE_CONNECTION_STRING is required for the tables backend")
		}
	case backendPostgres:
		if cfg.DatabaseURL == "" {
			return config{}, errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return config{}, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Backend)
	}
	if cfg.EventsQueue != "" && cfg.StorageConn == "" {
		return config{}, errors.New("STORAGE_CONNECTION_STRING is required when EVENTS_QUEUE is set")
	}
	if cfg.LocalAuthMode == "" && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		return config{}, errors.New("missing Auth0 config")
	}
	return cfg, nil
}

func newLogger(cfg config) *log.Logger {
	logger := log.New()
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return logger
}

// parseRedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" form.
func parseRedisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" {
		return nil, errors.New("missing redis address")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

// sinkConfig sizes the event mirror. The router submits from the request
// path, so the handoff never waits for a free slot.
func (c config) sinkConfig() realtime.SinkConfig {
	return realtime.SinkConfig{Workers: c.SinkWorkers, Buffer: c.SinkBuffer}
}
