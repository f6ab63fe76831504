package capability

import (
	"context"

	"github.com/hupe1980/coachmesh/core"
	"github.com/hupe1980/coachmesh/internal/util"
)

// CachedCaller wraps a Caller with the per-conversation tool cache. Results
// are cached on every successful call and served back until the context's
// data version bumps. A key-serialization failure is treated as a plain cache
// miss; a caching problem never fails the call.
type CachedCaller struct {
	inner Caller
	conv  *core.ConversationContext
}

// WithCache binds a Caller to a conversation's tool cache.
func WithCache(conv *core.ConversationContext, inner Caller) *CachedCaller {
	return &CachedCaller{inner: inner, conv: conv}
}

// Call implements Caller, consulting the tool cache before hitting the
// underlying source.
func (c *CachedCaller) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	key, keyErr := util.CallKey(name, args)
	if keyErr == nil {
		if cached, ok := c.conv.CachedTool(key); ok {
			c.conv.Tracef("cache hit %s", name)
			return cached, nil
		}
	}

	result, err := c.inner.Call(ctx, name, args)
	if err != nil {
		return "", err
	}

	if keyErr == nil {
		c.conv.StoreTool(key, result)
	}

	return result, nil
}
