package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"

	"eino_counsel/internal/storage"
	"eino_counsel/pkg"
	"eino_counsel/src/logger"

	"github.com/rs/zerolog"
)

const (
	// DefaultTTL is how long a LOW_RISK response stays servable
	DefaultTTL = time.Hour
	// DefaultOpTimeout bounds a single backend round trip
	DefaultOpTimeout = 500 * time.Millisecond

	keyPrefix = "resp:"
)

// ResponseCache stores final responses of LOW_RISK turns. Any other tier is
// never written or read. Backend failures behave like a miss.
type ResponseCache struct {
	kv        storage.KV
	ttl       time.Duration
	opTimeout time.Duration
	log       zerolog.Logger
}

// New creates a response cache over kv
func New(kv storage.KV, ttl, opTimeout time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &ResponseCache{
		kv:        kv,
		ttl:       ttl,
		opTimeout: opTimeout,
		log:       logger.Component("response_cache"),
	}
}

// Fingerprint hashes the exact message and context used for generation.
// Each part is length-prefixed so ("ab", "c") and ("a", "bc") differ.
func Fingerprint(message, memoryContext string) string {
	h := sha256.New()
	var size [8]byte
	for _, part := range []string{message, memoryContext} {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Eligible reports whether a tier may use the cache at all
func Eligible(tier pkg.RiskTier) bool {
	return tier == pkg.LowRisk
}

// Get returns the cached response for fingerprint. It reports a miss for
// ineligible tiers, absent keys and backend errors.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string, tier pkg.RiskTier) (string, bool) {
	if !Eligible(tier) || fingerprint == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.kv.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.Warn().Err(err).Msg("cache read failed, treating as miss")
		}
		return "", false
	}
	return val, true
}

// Put stores response under fingerprint when tier is eligible. Failures are
// logged and dropped.
func (c *ResponseCache) Put(ctx context.Context, fingerprint, response string, tier pkg.RiskTier) {
	if !Eligible(tier) || fingerprint == "" || response == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.kv.SetEX(ctx, keyPrefix+fingerprint, response, c.ttl); err != nil {
		c.log.Warn().Err(err).Msg("cache write failed")
	}
}
