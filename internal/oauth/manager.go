package oauth

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/restflow/internal/errdef"
	"github.com/unkn0wn-root/restflow/internal/request"
)

const (
	ClientAuthHeader = "header"
	ClientAuthBody   = "body"
)

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// ClientAuth is header, body or empty for auto-detection.
	ClientAuth string
	Extra      map[string]string
}

// ConfigFromAuth lifts the client-credentials fields out of an oauth2 auth variant.
func ConfigFromAuth(a request.OAuth2Auth, clientAuth string) Config {
	return Config{
		TokenURL:     strings.TrimSpace(a.TokenURL),
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Scopes:       a.Scopes,
		ClientAuth:   clientAuth,
	}
}

type Token struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Manager fetches client-credentials tokens and caches them per token
// endpoint, client and scope set. Concurrent fetches for one key share a
// single round trip.
type Manager struct {
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]Token
	group singleflight.Group
}

const expirySlack = 30 * time.Second

func NewManager(hc *http.Client, logger *zap.Logger) *Manager {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		httpClient: hc,
		logger:     logger,
		now:        time.Now,
		cache:      make(map[string]Token),
	}
}

func (m *Manager) Token(ctx context.Context, cfg Config) (Token, error) {
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return Token{}, errdef.New(errdef.CodeHTTP, "oauth2 token url is required")
	}

	key := cacheKey(cfg)
	if token, ok := m.cached(key); ok {
		return token, nil
	}

	v, err, shared := m.group.Do(key, func() (any, error) {
		if token, ok := m.cached(key); ok {
			return token, nil
		}
		token, err := m.fetch(ctx, cfg)
		if err != nil {
			return Token{}, err
		}
		m.mu.Lock()
		m.cache[key] = token
		m.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return Token{}, err
	}
	if shared {
		m.logger.Debug("oauth token fetch shared", zap.String("token_url", cfg.TokenURL))
	}
	return v.(Token), nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
func (m *Manager) Invalidate(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, cacheKey(cfg))
}

// Authorize fills in the access token of an oauth2 definition that carries
// only client credentials. Other auth types and static tokens pass through.
func (m *Manager) Authorize(ctx context.Context, def *request.Definition, clientAuth string) error {
	a, ok := def.Auth.Variant().(request.OAuth2Auth)
	if !ok || a.AccessToken != "" || a.TokenURL == "" {
		return nil
	}
	token, err := m.Token(ctx, ConfigFromAuth(a, clientAuth))
	if err != nil {
		return err
	}
	params := make(map[string]string, len(def.Auth.Params)+1)
	for k, v := range def.Auth.Params {
		params[k] = v
	}
	params["accessToken"] = token.AccessToken
	def.Auth.Params = params
	return nil
}

func (m *Manager) cached(key string) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.cache[key]
	if !ok || !token.validAt(m.now()) {
		return Token{}, false
	}
	return token, true
}

func (m *Manager) fetch(ctx context.Context, cfg Config) (Token, error) {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    authStyle(cfg.ClientAuth),
	}
	if len(cfg.Extra) > 0 {
		cc.EndpointParams = url.Values{}
		for k, v := range cfg.Extra {
			if k != "" && v != "" {
				cc.EndpointParams.Set(k, v)
			}
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := cc.Token(ctx)
	if err != nil {
		return Token{}, errdef.Wrap(errdef.CodeHTTP, err, "fetch oauth2 token from %s", cfg.TokenURL)
	}
	m.logger.Debug("oauth token fetched",
		zap.String("token_url", cfg.TokenURL),
		zap.Time("expiry", tok.Expiry),
	)
	return Token{AccessToken: tok.AccessToken, TokenType: tok.Type(), Expiry: tok.Expiry}, nil
}

func authStyle(mode string) oauth2.AuthStyle {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ClientAuthHeader, "basic":
		return oauth2.AuthStyleInHeader
	case ClientAuthBody, "params":
		return oauth2.AuthStyleInParams
	default:
		return oauth2.AuthStyleAutoDetect
	}
}

func cacheKey(cfg Config) string {
	scopes := append([]string(nil), cfg.Scopes...)
	sort.Strings(scopes)
	parts := []string{
		strings.TrimSpace(cfg.TokenURL),
		strings.TrimSpace(cfg.ClientID),
		strings.Join(scopes, " "),
		strings.ToLower(strings.TrimSpace(cfg.ClientAuth)),
	}
	if len(cfg.Extra) > 0 {
		keys := make([]string, 0, len(cfg.Extra))
		for k := range cfg.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+cfg.Extra[k])
		}
	}
	return strings.Join(parts, "|")
}

// Tokens expiring within the slack window count as expired.
func (t Token) validAt(now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(expirySlack).Before(t.Expiry)
}
