package platform

import (
	"context"
	"fmt"
	"time"

	"replyflow/internal/model"
)

// Adapter is the capability contract one platform integration must
// satisfy. Implementations hold no per-account state between calls; all
// resumption state travels through the opaque cursor the caller persists.
type Adapter interface {
	Platform() model.Platform

	// FetchNewComments returns comments newer than the cursor, oldest
	// first within the call, plus the cursor to persist for the next
	// call. An empty cursor means "start from now-ish history".
	FetchNewComments(ctx context.Context, account *model.Account, cursor string) ([]model.RawComment, string, error)

	// PostReply publishes text as a reply to the given platform comment.
	// Fails with model.ErrRateLimited, model.ErrAuthFailed or
	// model.ErrTransientNetwork.
	PostReply(ctx context.Context, account *model.Account, platformCommentID, text string) (*Receipt, error)

	// RateLimitStatus is advisory; Remaining < 0 means the platform does
	// not expose its budget and the caller should just try.
	RateLimitStatus(ctx context.Context, account *model.Account) (*RateLimit, error)
}

// Receipt is the delivery confirmation for a posted reply.
type Receipt struct {
	PlatformReplyID string
	PostedAt        time.Time
}

// RateLimit is the advisory posting budget for an account.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

// CredentialsResolver turns an account's opaque credentials_ref into a
// bearer token. The core never inspects the reference itself.
type CredentialsResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Registry selects the adapter for an account's platform.
type Registry struct {
	adapters map[model.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// For returns the adapter for the given platform.
func (r *Registry) For(p model.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPlatform, p)
	}
	return a, nil
}
