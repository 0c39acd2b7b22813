package platforms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

const stateTTL = 10 * time.Minute

type OAuthApp struct {
	ClientID     string
	ClientSecret string
}

// AccountResolver looks up the platform-side identity behind a fresh token.
type AccountResolver interface {
	Platform() models.Platform
	ResolveAccount(ctx context.Context, client *http.Client, tok *oauth2.Token) (id, username string, err error)
}

var oauthEndpoints = map[models.Platform]oauth2.Endpoint{
	models.PlatformYouTubeShorts: google.Endpoint,
	models.PlatformFacebook:      facebook.Endpoint,
	models.PlatformInstagram:     facebook.Endpoint,
	models.PlatformTikTok: {
		AuthURL:   "https://www.tiktok.com/v2/auth/authorize/",
		TokenURL:  "https://open.tiktokapis.com/v2/oauth/token/",
		AuthStyle: oauth2.AuthStyleInParams,
	},
	models.PlatformTwitter: {
		AuthURL:  "https://twitter.com/i/oauth2/authorize",
		TokenURL: "https://api.twitter.com/2/oauth2/token",
	},
}

var oauthScopes = map[models.Platform][]string{
	models.PlatformYouTubeShorts: {
		"https://www.googleapis.com/auth/youtube.upload",
		"https://www.googleapis.com/auth/youtube.readonly",
	},
	models.PlatformFacebook:  {"pages_show_list", "pages_manage_posts", "pages_read_engagement"},
	models.PlatformInstagram: {"instagram_basic", "instagram_content_publish", "pages_show_list"},
	models.PlatformTikTok:    {"user.info.basic", "video.publish"},
	models.PlatformTwitter:   {"tweet.read", "tweet.write", "users.read", "offline.access"},
}

// Connector runs the OAuth connect flow and hands out authenticated clients.
type Connector struct {
	configs   map[models.Platform]*oauth2.Config
	store     AccountStore
	resolvers map[models.Platform]AccountResolver
	now       func() time.Time
	log       *logrus.Entry
}

func NewConnector(apps map[models.Platform]OAuthApp, redirectBaseURL string, store AccountStore) *Connector {
	base := strings.TrimRight(redirectBaseURL, "/")
	configs := make(map[models.Platform]*oauth2.Config)
	for platform, app := range apps {
		if app.ClientID == "" {
			continue
		}
		configs[platform] = &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			Endpoint:     oauthEndpoints[platform],
			Scopes:       oauthScopes[platform],
			RedirectURL:  fmt.Sprintf("%s/api/v1/accounts/%s/callback", base, platform),
		}
	}
	return &Connector{
		configs:   configs,
		store:     store,
		resolvers: make(map[models.Platform]AccountResolver),
		now:       time.Now,
		log:       logger.For("platforms"),
	}
}

func (c *Connector) WithResolvers(rs ...AccountResolver) *Connector {
	for _, r := range rs {
		c.resolvers[r.Platform()] = r
	}
	return c
}

// SetEndpoint overrides the OAuth endpoint of a configured platform.
func (c *Connector) SetEndpoint(platform models.Platform, ep oauth2.Endpoint) {
	if cfg, ok := c.configs[platform]; ok {
		cfg.Endpoint = ep
	}
}

func (c *Connector) Configured(platform models.Platform) bool {
	_, ok := c.configs[platform]
	return ok
}

// AuthURL starts a connect flow and returns the consent page URL.
func (c *Connector) AuthURL(ctx context.Context, userID uuid.UUID, platform models.Platform) (string, error) {
	cfg, ok := c.configs[platform]
	if !ok {
		return "", ErrNotConfigured
	}
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	if err := c.store.PutState(ctx, nonce, PendingAuth{UserID: userID, Platform: platform, Verifier: verifier}, stateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return cfg.AuthCodeURL(nonce, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), nil
}

// Complete exchanges the callback code and stores the account.
func (c *Connector) Complete(ctx context.Context, platform models.Platform, state, code string) (*Account, error) {
	cfg, ok := c.configs[platform]
	if !ok {
		return nil, ErrNotConfigured
	}
	pending, err := c.store.TakeState(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending.Platform != platform {
		return nil, ErrInvalidState
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	acct := &Account{
		UserID:      pending.UserID,
		Platform:    platform,
		Token:       tok,
		ConnectedAt: c.now().UTC(),
	}
	if r, ok := c.resolvers[platform]; ok {
		id, name, err := r.ResolveAccount(ctx, cfg.Client(ctx, tok), tok)
		if err != nil {
			return nil, fmt.Errorf("resolve %s account: %w", platform, err)
		}
		acct.AccountID, acct.Username = id, name
	}
	if err := c.store.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}

	c.log.WithFields(logrus.Fields{"user_id": acct.UserID, "platform": platform}).Info("platform account connected")
	return acct, nil
}

func (c *Connector) Disconnect(ctx context.Context, userID uuid.UUID, platform models.Platform) (bool, error) {
	return c.store.DeleteAccount(ctx, userID, platform)
}

// Accounts reports the connection state of every platform for a user.
func (c *Connector) Accounts(ctx context.Context, userID uuid.UUID) ([]models.PlatformAccount, error) {
	out := make([]models.PlatformAccount, 0, len(models.AllPlatforms))
	for _, platform := range models.AllPlatforms {
		row := models.PlatformAccount{Platform: platform, Configured: c.Configured(platform)}
		acct, err := c.store.GetAccount(ctx, userID, platform)
		switch {
		case errors.Is(err, ErrNotConnected):
		case err != nil:
			return nil, err
		default:
			connectedAt := acct.ConnectedAt
			row.Connected = true
			row.AccountID = acct.AccountID
			row.Username = acct.Username
			row.ConnectedAt = &connectedAt
		}
		out = append(out, row)
	}
	return out, nil
}

// Client returns an HTTP client that authenticates as the user's account.
// Refreshed tokens are written back to the store.
func (c *Connector) Client(ctx context.Context, userID uuid.UUID, platform models.Platform) (*http.Client, *Account, error) {
	acct, err := c.store.GetAccount(ctx, userID, platform)
	if err != nil {
		return nil, nil, err
	}
	if acct.Token == nil {
		return nil, nil, ErrNotConnected
	}

	var src oauth2.TokenSource = oauth2.StaticTokenSource(acct.Token)
	if cfg, ok := c.configs[platform]; ok {
		src = cfg.TokenSource(ctx, acct.Token)
	}
	saving := &savingTokenSource{
		src:   src,
		store: c.store,
		acct:  acct,
		last:  acct.Token.AccessToken,
		log:   c.log,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(acct.Token, saving)), acct, nil
}

type savingTokenSource struct {
	mu    sync.Mutex
	src   oauth2.TokenSource
	store AccountStore
	acct  *Account
	last  string
	log   *logrus.Entry
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		updated := *s.acct
		updated.Token = tok
		if err := s.store.SaveAccount(context.Background(), &updated); err != nil {
			s.log.WithError(err).WithField("platform", s.acct.Platform).Warn("failed to persist refreshed token")
		}
	}
	return tok, nil
}
