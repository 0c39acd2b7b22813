package platforms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","refresh_token":"rt-1","expires_in":3600,"open_id":"open-42"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestConnector(t *testing.T, tokenURL string) (*Connector, *MemoryAccountStore) {
	t.Helper()
	store := NewMemoryAccountStore()
	c := NewConnector(map[models.Platform]OAuthApp{
		models.PlatformTikTok:  {ClientID: "client", ClientSecret: "secret"},
		models.PlatformTwitter: {ClientID: ""},
	}, "https://api.example.com/", store)
	c.SetEndpoint(models.PlatformTikTok, oauth2.Endpoint{
		AuthURL:   "https://auth.example.com/authorize",
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	})
	c.WithResolvers(NewTikTok(c, DefaultEndpoints(), fastRetry()))
	return c, store
}

func TestConnector_ConnectFlow(t *testing.T) {
	server := newTokenServer(t)
	c, store := newTestConnector(t, server.URL)
	ctx := context.Background()
	userID := uuid.New()

	assert.True(t, c.Configured(models.PlatformTikTok))
	assert.False(t, c.Configured(models.PlatformTwitter))

	authURL, err := c.AuthURL(ctx, userID, models.PlatformTikTok)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "https://api.example.com/api/v1/accounts/tiktok/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	state := q.Get("state")
	require.NotEmpty(t, state)

	acct, err := c.Complete(ctx, models.PlatformTikTok, state, "the-code")
	require.NoError(t, err)
	assert.Equal(t, userID, acct.UserID)
	assert.Equal(t, "open-42", acct.AccountID)
	assert.Equal(t, "at-1", acct.Token.AccessToken)

	stored, err := store.GetAccount(ctx, userID, models.PlatformTikTok)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.Token.RefreshToken)

	// state nonces are single use
	_, err = c.Complete(ctx, models.PlatformTikTok, state, "the-code")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestConnector_RejectsStateForOtherPlatform(t *testing.T) {
	server := newTokenServer(t)
	c, store := newTestConnector(t, server.URL)
	ctx := context.Background()

	require.NoError(t, store.PutState(ctx, "nonce", PendingAuth{UserID: uuid.New(), Platform: models.PlatformInstagram}, time.Minute))
	_, err := c.Complete(ctx, models.PlatformTikTok, "nonce", "the-code")
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestConnector_NotConfigured(t *testing.T) {
	c, _ := newTestConnector(t, "http://unused")
	_, err := c.AuthURL(context.Background(), uuid.New(), models.PlatformTwitter)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestConnector_AccountsAndDisconnect(t *testing.T) {
	c, store := newTestConnector(t, "http://unused")
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, store.SaveAccount(ctx, &Account{
		UserID:      userID,
		Platform:    models.PlatformTikTok,
		Username:    "creator",
		Token:       &oauth2.Token{AccessToken: "x"},
		ConnectedAt: time.Now(),
	}))

	rows, err := c.Accounts(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, len(models.AllPlatforms))
	for _, row := range rows {
		if row.Platform == models.PlatformTikTok {
			assert.True(t, row.Connected)
			assert.True(t, row.Configured)
			assert.Equal(t, "creator", row.Username)
		} else {
			assert.False(t, row.Connected)
		}
	}

	removed, err := c.Disconnect(ctx, userID, models.PlatformTikTok)
	require.NoError(t, err)
	assert.True(t, removed)

	_, _, err = c.Client(ctx, userID, models.PlatformTikTok)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnector_ClientSendsBearerToken(t *testing.T) {
	c, store := newTestConnector(t, "http://unused")
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, store.SaveAccount(ctx, &Account{
		UserID:   userID,
		Platform: models.PlatformTikTok,
		Token:    &oauth2.Token{AccessToken: "live-token", Expiry: time.Now().Add(time.Hour)},
	}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer live-token", r.Header.Get("Authorization"))
	}))
	defer server.Close()

	client, acct, err := c.Client(ctx, userID, models.PlatformTikTok)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformTikTok, acct.Platform)
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
}

func TestMemoryAccountStore_StateExpires(t *testing.T) {
	store := NewMemoryAccountStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.PutState(ctx, "n", PendingAuth{Platform: models.PlatformTikTok}, stateTTL))
	now = now.Add(stateTTL + time.Second)
	_, err := store.TakeState(ctx, "n")
	assert.True(t, errors.Is(err, ErrInvalidState))
}
