// Package identity implements the Identity Resolver (spec.md §4.3): verifying bearer tokens against the external
// authentication authority and caching the result for a short TTL so every HTTP request and socket frame does not
// re-verify against the authority.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jakemakesstuff/go-tlru"
	"github.com/remus-chat/remus-node/internal/protocol"
)

// ErrAuthorityUnavailable is returned when the call to the external authority fails transport-wise, distinct from a
// token simply being invalid (which resolves to a nil user, no error).
var ErrAuthorityUnavailable = errors.New("identity: authority unavailable")

const (
	// cacheTTL is the verified-token cache lifetime (spec.md §4.3).
	cacheTTL = 5 * time.Second

	// sweepInterval is how often expired cache entries are purged (spec.md §4.3).
	sweepInterval = 60 * time.Second

	// cacheMaxItems bounds memory use; the TLRU evicts the least-recently-used entry past this count regardless of
	// TTL, matching the cache's dual role as an LRU and a TTL cache.
	cacheMaxItems = 10000

	// cacheMaxBytes is unused as a hard limit (items are small, fixed-size User records) but is required by the
	// TLRU constructor; a generous ceiling avoids ever tripping it in practice.
	cacheMaxBytes = 8 << 20
)

// verifyResponse is the shape returned by the authority's verify endpoint.
type verifyResponse struct {
	User *protocol.User `json:"user"`
}

// HTTPDoer is satisfied by *http.Client, narrowed for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver verifies bearer tokens against the external authority and caches results.
type Resolver struct {
	baseURL string
	client  HTTPDoer
	timeout time.Duration

	cache    *tlru.Cache
	cacheMu  sync.Mutex
	expiries map[string]time.Time
}

// New creates a Resolver targeting the authority's verify endpoint at baseURL, with the given per-call timeout
// (spec.md §5: "1.5-5 second abort depending on base URL class").
func New(baseURL string, client HTTPDoer, timeout time.Duration) *Resolver {
	return &Resolver{
		baseURL:  baseURL,
		client:   client,
		timeout:  timeout,
		cache:    tlru.NewCache(cacheMaxItems, cacheMaxBytes, cacheTTL),
		expiries: make(map[string]time.Time),
	}
}

// StartSweeper runs a background goroutine that periodically removes expired cache entries until ctx is cancelled.
// The TLRU already expires entries lazily on access; this sweep exists so a dormant cache entry (a user who never
// touches the node again before its TTL) does not hold memory indefinitely. Expiry times are tracked alongside the
// cache so the sweep only touches keys whose TTL has actually lapsed.
func (r *Resolver) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				r.cacheMu.Lock()
				for token, expires := range r.expiries {
					if now.After(expires) {
						r.cache.Delete(token)
						delete(r.expiries, token)
					}
				}
				r.cacheMu.Unlock()
			}
		}
	}()
}

// Resolve verifies token against the authority, returning the resolved user. A nil user with a nil error means the
// token did not verify (spec.md §4.3: "Always returns null on any verification failure"). ErrAuthorityUnavailable is
// returned separately when the transport call itself failed.
func (r *Resolver) Resolve(ctx context.Context, token string) (*protocol.User, error) {
	if token == "" {
		return nil, nil
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache.Get(token); ok {
		r.cacheMu.Unlock()
		if cached == nil {
			return nil, nil
		}
		user := cached.(protocol.User)
		return &user, nil
	}
	r.cacheMu.Unlock()

	user, err := r.verify(ctx, token)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	if user != nil {
		r.cache.Set(token, *user)
	} else {
		r.cache.Set(token, nil)
	}
	r.expiries[token] = time.Now().Add(cacheTTL)
	r.cacheMu.Unlock()

	return user, nil
}

func (r *Resolver) verify(ctx context.Context, token string) (*protocol.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/auth/verify", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Any non-200 from the authority (401, 403, ...) means the token did not verify, not that the authority is
		// unreachable.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil
	}
	return body.User, nil
}
