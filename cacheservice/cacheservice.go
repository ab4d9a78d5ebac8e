// Package cacheservice is the namespaced TTL cache the Adapter consults
// before hitting upstream. It degrades to a silent no-op when Redis is
// absent or unreachable, per the spec's graceful-degradation contract.
package cacheservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nlarkins/mexc-sniper/config"
	"github.com/nlarkins/mexc-sniper/redisclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Type selects a cache entry's TTL class.
type Type string

const (
	TypeSymbols    Type = "symbols"
	TypeCalendar   Type = "calendar"
	TypeAccount    Type = "account"
	TypeServerTime Type = "server_time"
	TypeDefault    Type = "default"
)

const maxConnectionAttempts = 3

// Service is a namespaced, JSON-valued TTL cache over Redis.
type Service struct {
	logger zerolog.Logger
	cfg    *config.Config
	ttls   map[Type]time.Duration

	mu              sync.Mutex
	client          *redisclient.Client
	connectAttempts int
	noop            bool
}

// New constructs the cache service. The Redis connection is attempted
// lazily on first use, not here.
func New(cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "cache").Logger(),
		cfg:    cfg,
		ttls: map[Type]time.Duration{
			TypeSymbols:    time.Duration(cfg.CacheTTLSymbols) * time.Second,
			TypeCalendar:   time.Duration(cfg.CacheTTLCalendar) * time.Second,
			TypeAccount:    time.Duration(cfg.CacheTTLAccount) * time.Second,
			TypeServerTime: time.Duration(cfg.CacheTTLServerTime) * time.Second,
			TypeDefault:    5 * time.Second,
		},
	}
}

func (s *Service) makeKey(namespace, key string) string {
	return fmt.Sprintf("mexc:%s:%s", namespace, key)
}

// ensureConnection attempts to connect at most maxConnectionAttempts times
// in aggregate, then latches into no-op mode. Start re-arms it.
func (s *Service) ensureConnection(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return true
	}
	if s.noop {
		return false
	}
	if s.cfg.RedisURL == "" {
		s.noop = true
		return false
	}
	if s.connectAttempts >= maxConnectionAttempts {
		s.noop = true
		return false
	}

	s.connectAttempts++
	client, err := redisclient.New(s.cfg)
	if err != nil {
		s.logger.Warn().Err(err).Int("attempt", s.connectAttempts).Msg("cache connect failed")
		if s.connectAttempts >= maxConnectionAttempts {
			s.noop = true
		}
		return false
	}
	if err := client.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Int("attempt", s.connectAttempts).Msg("cache ping failed")
		if s.connectAttempts >= maxConnectionAttempts {
			s.noop = true
		}
		return false
	}
	s.client = client
	return true
}

// Start explicitly (re-)arms the connection attempt counter, allowing a
// previously-latched no-op service to try again.
func (s *Service) Start(ctx context.Context) bool {
	s.mu.Lock()
	s.noop = false
	s.connectAttempts = 0
	s.mu.Unlock()
	return s.ensureConnection(ctx)
}

// Get looks up namespace/key and unmarshals the JSON value into dest.
// Returns hit=false on miss or on any cache fault — faults never surface
// as errors.
func (s *Service) Get(ctx context.Context, namespace, key string, dest interface{}) (hit bool) {
	if !s.ensureConnection(ctx) {
		return false
	}
	raw, err := s.client.Raw().Get(ctx, s.makeKey(namespace, key)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Debug().Err(err).Msg("cache get failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		s.logger.Debug().Err(err).Msg("cache value decode failed")
		return false
	}
	return true
}

// Set stores value under namespace/key with the TTL for cacheType, unless
// an explicit ttl override is given (> 0).
func (s *Service) Set(ctx context.Context, namespace, key string, value interface{}, cacheType Type, ttlOverride time.Duration) bool {
	if !s.ensureConnection(ctx) {
		return false
	}
	ttl := s.ttls[cacheType]
	if ttl == 0 {
		ttl = s.ttls[TypeDefault]
	}
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Debug().Err(err).Msg("cache value encode failed")
		return false
	}
	if err := s.client.Raw().Set(ctx, s.makeKey(namespace, key), data, ttl).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("cache set failed")
		return false
	}
	return true
}

func (s *Service) Delete(ctx context.Context, namespace, key string) bool {
	if !s.ensureConnection(ctx) {
		return false
	}
	n, err := s.client.Raw().Del(ctx, s.makeKey(namespace, key)).Result()
	if err != nil {
		s.logger.Debug().Err(err).Msg("cache delete failed")
		return false
	}
	return n > 0
}

func (s *Service) Exists(ctx context.Context, namespace, key string) bool {
	if !s.ensureConnection(ctx) {
		return false
	}
	n, err := s.client.Raw().Exists(ctx, s.makeKey(namespace, key)).Result()
	if err != nil {
		s.logger.Debug().Err(err).Msg("cache exists failed")
		return false
	}
	return n > 0
}

// Clear deletes every key under namespace matching pattern ("*" for all),
// returning the number of keys removed.
func (s *Service) Clear(ctx context.Context, namespace, pattern string) int {
	if !s.ensureConnection(ctx) {
		return 0
	}
	if pattern == "" {
		pattern = "*"
	}
	matchPattern := s.makeKey(namespace, pattern)
	iter := s.client.Raw().Scan(ctx, 0, matchPattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil || len(keys) == 0 {
		return 0
	}
	n, err := s.client.Raw().Del(ctx, keys...).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Available reports whether the cache is currently connected (not latched
// into no-op mode).
func (s *Service) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && !s.noop
}

// Close releases the underlying connection, if any.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// CacheStats reports availability plus backend telemetry pulled from
// Redis's INFO command when the cache is live.
type CacheStats struct {
	Available        bool  `json:"available"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	ConnectedClients int64 `json:"connected_clients"`
	UsedMemoryBytes  int64 `json:"used_memory_bytes"`
	UptimeSeconds    int64 `json:"uptime_seconds"`
}

// Stats returns availability plus backend telemetry when live, degrading
// to a zero-value, unavailable CacheStats when no connection can be had
// (no Redis configured, connection latched into no-op). If the connection
// is up but the INFO call fails, it reports Available with zero telemetry.
func (s *Service) Stats(ctx context.Context) CacheStats {
	if !s.ensureConnection(ctx) {
		return CacheStats{}
	}
	info, err := s.client.Raw().Info(ctx, "stats", "clients", "memory", "server").Result()
	if err != nil {
		s.logger.Debug().Err(err).Msg("cache info failed")
		return CacheStats{Available: true}
	}
	stats := CacheStats{Available: true}
	for _, line := range strings.Split(info, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch k {
		case "keyspace_hits":
			stats.Hits = parseInfoInt(v)
		case "keyspace_misses":
			stats.Misses = parseInfoInt(v)
		case "connected_clients":
			stats.ConnectedClients = parseInfoInt(v)
		case "used_memory":
			stats.UsedMemoryBytes = parseInfoInt(v)
		case "uptime_in_seconds":
			stats.UptimeSeconds = parseInfoInt(v)
		}
	}
	return stats
}

func parseInfoInt(v string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// TypeOf maps a free-form class name to a Type, defaulting to TypeDefault.
func TypeOf(name string) Type {
	switch Type(strings.ToLower(name)) {
	case TypeSymbols, TypeCalendar, TypeAccount, TypeServerTime:
		return Type(strings.ToLower(name))
	default:
		return TypeDefault
	}
}
