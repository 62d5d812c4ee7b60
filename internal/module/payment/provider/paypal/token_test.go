package paypal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestTokenCache(exchange exchangeFunc, now func() time.Time) *TokenCache {
	tc := NewTokenCache(nil)
	tc.exchange = exchange
	if now != nil {
		tc.now = now
	}
	return tc
}

func TestTokenCache_Token(t *testing.T) {
	ctx := context.Background()
	creds := Credentials{ClientID: "client-a", ClientSecret: "secret", Mode: ModeSandbox}

	t.Run("serves cached token without exchanging", func(t *testing.T) {
		exchanges := 0
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			exchanges++
			return &oauth2.Token{
				AccessToken: "tok-1",
				Expiry:      time.Now().Add(time.Hour),
			}, nil
		}, nil)

		for i := 0; i < 5; i++ {
			tok, err := tc.Token(ctx, creds)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}
		assert.Equal(t, 1, exchanges)
	})

	t.Run("refreshes inside the expiry margin", func(t *testing.T) {
		now := time.Now()
		exchanges := 0
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			exchanges++
			// The second token expires well within the margin.
			return &oauth2.Token{
				AccessToken: "tok",
				Expiry:      now.Add(500 * time.Millisecond),
			}, nil
		}, func() time.Time { return now })

		_, err := tc.Token(ctx, creds)
		require.NoError(t, err)
		_, err = tc.Token(ctx, creds)
		require.NoError(t, err)
		assert.Equal(t, 2, exchanges)
	})

	t.Run("keys by client id and environment", func(t *testing.T) {
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken: c.ClientID + "/" + string(c.Mode),
				Expiry:      time.Now().Add(time.Hour),
			}, nil
		}, nil)

		sandbox, err := tc.Token(ctx, creds)
		require.NoError(t, err)
		live, err := tc.Token(ctx, Credentials{ClientID: "client-a", Mode: ModeLive})
		require.NoError(t, err)
		other, err := tc.Token(ctx, Credentials{ClientID: "client-b", Mode: ModeSandbox})
		require.NoError(t, err)

		assert.Equal(t, "client-a/sandbox", sandbox)
		assert.Equal(t, "client-a/live", live)
		assert.Equal(t, "client-b/sandbox", other)
	})

	t.Run("exchange failure surfaces and nothing is cached", func(t *testing.T) {
		calls := 0
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			calls++
			return nil, errors.New("invalid_client")
		}, nil)

		_, err := tc.Token(ctx, creds)
		assert.Error(t, err)
		_, err = tc.Token(ctx, creds)
		assert.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("slow refresh does not block other credential keys", func(t *testing.T) {
		slowEntered := make(chan struct{})
		release := make(chan struct{})
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			if c.ClientID == "slow" {
				close(slowEntered)
				<-release
			}
			return &oauth2.Token{
				AccessToken: c.ClientID,
				Expiry:      time.Now().Add(time.Hour),
			}, nil
		}, nil)

		slowErr := make(chan error, 1)
		go func() {
			_, err := tc.Token(ctx, Credentials{ClientID: "slow", Mode: ModeSandbox})
			slowErr <- err
		}()
		<-slowEntered

		done := make(chan struct{})
		go func() {
			defer close(done)
			tok, err := tc.Token(ctx, Credentials{ClientID: "fast", Mode: ModeSandbox})
			assert.NoError(t, err)
			assert.Equal(t, "fast", tok)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("refresh for an unrelated key was blocked by an in-flight exchange")
		}

		close(release)
		require.NoError(t, <-slowErr)
	})

	t.Run("invalidate forces a fresh exchange", func(t *testing.T) {
		exchanges := 0
		tc := newTestTokenCache(func(ctx context.Context, c Credentials) (*oauth2.Token, error) {
			exchanges++
			return &oauth2.Token{
				AccessToken: "tok",
				Expiry:      time.Now().Add(time.Hour),
			}, nil
		}, nil)

		_, err := tc.Token(ctx, creds)
		require.NoError(t, err)
		tc.Invalidate(creds)
		_, err = tc.Token(ctx, creds)
		require.NoError(t, err)
		assert.Equal(t, 2, exchanges)
	})
}
