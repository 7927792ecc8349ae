package nodes

import (
	"context"

	"eino_counsel/internal/core"
	"eino_counsel/pkg"
)

// ResponseCache stores generated replies keyed by fingerprint. Both methods
// ignore tiers other than LOW_RISK.
type ResponseCache interface {
	Get(ctx context.Context, fingerprint string, tier pkg.RiskTier) (string, bool)
	Put(ctx context.Context, fingerprint, response string, tier pkg.RiskTier)
}

// CacheLookupNode short-circuits generation on a LOW_RISK cache hit
type CacheLookupNode struct {
	cache ResponseCache
}

// NewCacheLookupNode creates a cache lookup node
func NewCacheLookupNode(cache ResponseCache) *CacheLookupNode {
	return &CacheLookupNode{cache: cache}
}

// Execute returns the cached reply unchanged on a hit
func (n *CacheLookupNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	if state.Tier != pkg.LowRisk || state.Fingerprint == "" {
		return core.Continue(), nil
	}
	if cached, ok := n.cache.Get(ctx, state.Fingerprint, state.Tier); ok {
		return core.Finish(core.OutcomeCacheHit, cached), nil
	}
	return core.Continue(), nil
}

// GetName returns the node name
func (n *CacheLookupNode) GetName() string {
	return "cache_lookup"
}

// GetType returns the node type
func (n *CacheLookupNode) GetType() core.NodeType {
	return core.NodeTypeCache
}

// CacheWriteNode stores the final LOW_RISK reply
type CacheWriteNode struct {
	cache ResponseCache
}

// NewCacheWriteNode creates a cache write node
func NewCacheWriteNode(cache ResponseCache) *CacheWriteNode {
	return &CacheWriteNode{cache: cache}
}

// Execute writes the post-processed draft
func (n *CacheWriteNode) Execute(ctx context.Context, state *core.TurnState) (core.NodeOutput, error) {
	if state.Tier == pkg.LowRisk && state.Fingerprint != "" && state.Draft != "" {
		n.cache.Put(ctx, state.Fingerprint, state.Draft, state.Tier)
	}
	return core.Continue(), nil
}

// GetName returns the node name
func (n *CacheWriteNode) GetName() string {
	return "cache_write"
}

// GetType returns the node type
func (n *CacheWriteNode) GetType() core.NodeType {
	return core.NodeTypeCache
}
