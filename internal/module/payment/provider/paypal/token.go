package paypal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/orderforge/payments/internal/shared/metrics"
)

// tokenExpiryMargin is how long before expiry a cached token stops
// being served. PayPal tokens live hours, so a small margin is enough
// to keep an about-to-expire token out of an in-flight request.
const tokenExpiryMargin = time.Second

// exchangeFunc obtains a fresh access token for the credentials.
type exchangeFunc func(ctx context.Context, creds Credentials) (*oauth2.Token, error)

// TokenCache caches OAuth access tokens per client ID and environment.
// Sandbox and live tokens for the same client ID never mix.
type TokenCache struct {
	mu       sync.Mutex
	tokens   map[string]*oauth2.Token
	exchange exchangeFunc
	now      func() time.Time
	metrics  *metrics.Metrics
}

// NewTokenCache creates a token cache. m may be nil.
func NewTokenCache(m *metrics.Metrics) *TokenCache {
	return &TokenCache{
		tokens:   make(map[string]*oauth2.Token),
		exchange: exchangeClientCredentials,
		now:      time.Now,
		metrics:  m,
	}
}

// Token returns a valid access token for the credentials, exchanging
// client credentials with the gateway only when no cached token with
// sufficient remaining lifetime exists. The lock is not held across
// the exchange, so a slow refresh never blocks other credential keys;
// concurrent refreshes of the same key each exchange, last write wins.
func (tc *TokenCache) Token(ctx context.Context, creds Credentials) (string, error) {
	key := creds.cacheKey()

	tc.mu.Lock()
	if tok, ok := tc.tokens[key]; ok {
		if tok.Expiry.After(tc.now().Add(tokenExpiryMargin)) {
			tc.mu.Unlock()
			if tc.metrics != nil {
				tc.metrics.TokenCacheHitsTotal.Inc()
			}
			return tok.AccessToken, nil
		}
		delete(tc.tokens, key)
	}
	tc.mu.Unlock()

	if tc.metrics != nil {
		tc.metrics.TokenCacheMissesTotal.Inc()
	}
	tok, err := tc.exchange(ctx, creds)
	if err != nil {
		return "", fmt.Errorf("exchange client credentials: %w", err)
	}

	tc.mu.Lock()
	tc.tokens[key] = tok
	tc.mu.Unlock()
	return tok.AccessToken, nil
}

// Invalidate drops the cached token for the credentials, forcing the
// next Token call to exchange again.
func (tc *TokenCache) Invalidate(creds Credentials) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	delete(tc.tokens, creds.cacheKey())
}

func exchangeClientCredentials(ctx context.Context, creds Credentials) (*oauth2.Token, error) {
	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.APIBase() + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return cfg.Token(ctx)
}
