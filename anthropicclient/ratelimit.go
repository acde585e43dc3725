package anthropicclient

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/flowtree/agentkit/content"
)

// RateLimiter enforces a tokens-per-minute budget on outbound chat requests.
// Grounded on goadesign-goa-ai/features/model/middleware/ratelimit.go's
// AdaptiveRateLimiter, simplified to a fixed budget: this module has no
// cluster-coordination requirement (goa.design/pulse/rmap) and no
// provider-signalled backoff to adapt to, since anthropic-sdk-go surfaces
// rate-limit errors as plain errors rather than a typed model.ErrRateLimited
// the way the teacher's generic model.Client boundary does.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter budgeted at tokensPerMinute, defaulting
// to a conservative 60000 when tokensPerMinute is not positive (same default
// the teacher's newAdaptiveRateLimiter falls back to).
func NewRateLimiter(tokensPerMinute int) *RateLimiter {
	if tokensPerMinute <= 0 {
		tokensPerMinute = 60000
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60.0), tokensPerMinute),
	}
}

// wait blocks until req's estimated token cost is available in the budget,
// or ctx is done.
func (r *RateLimiter) wait(ctx context.Context, req Request) error {
	return r.limiter.WaitN(ctx, estimateTokens(req))
}

// estimateTokens is a cheap heuristic over request text: characters divided
// by three plus a fixed overhead buffer, mirroring the teacher's
// estimateTokens in the same ratelimit.go.
func estimateTokens(req Request) int {
	chars := 0
	for _, p := range req.System {
		chars += len(p.Text)
	}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			switch b.Type {
			case content.BlockText:
				chars += len(b.Text)
			case content.BlockToolResult:
				if b.ToolResult != nil {
					chars += len(b.ToolResult.Text)
				}
			}
		}
	}
	if chars <= 0 {
		return 500
	}
	tokens := chars / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
