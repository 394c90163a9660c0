package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrProfile is returned when the code exchange or profile fetch fails, or
// the provider does not disclose a verified email.
var ErrProfile = errors.New("federation: profile unavailable")

// Profile is the provider-independent view of a third-party account.
type Profile struct {
	Provider string
	Subject  string
	Email    string
}

// Provider exchanges an authorization code for a standardized profile.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Profile(ctx context.Context, code string) (Profile, error)
}

// Credentials are the OAuth client settings registered with a provider.
type Credentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Configured reports whether the client id and secret are set.
func (c Credentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Option customizes a provider, mostly for tests and proxies.
type Option func(*oauthProvider)

// WithHTTPClient routes token and API calls through client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *oauthProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithEndpoint overrides the OAuth authorize and token URLs.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(p *oauthProvider) {
		p.oauth.Endpoint = ep
	}
}

// WithAPIBase overrides the profile API base URL.
func WithAPIBase(base string) Option {
	return func(p *oauthProvider) {
		p.apiBase = strings.TrimRight(base, "/")
	}
}

type fetchFunc func(ctx context.Context, p *oauthProvider, client *http.Client) (Profile, error)

// oauthProvider is the shared authorization-code implementation; each
// variant only supplies endpoints and a profile fetcher.
type oauthProvider struct {
	name    string
	oauth   *oauth2.Config
	client  *http.Client
	apiBase string
	fetch   fetchFunc
}

func newOAuthProvider(name string, creds Credentials, ep oauth2.Endpoint, scopes []string, apiBase string, fetch fetchFunc, opts []Option) *oauthProvider {
	p := &oauthProvider{
		name: name,
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       scopes,
			Endpoint:     ep,
		},
		client:  &http.Client{Timeout: 10 * time.Second},
		apiBase: apiBase,
		fetch:   fetch,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *oauthProvider) Name() string {
	return p.name
}

func (p *oauthProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *oauthProvider) Profile(ctx context.Context, code string) (Profile, error) {
	if strings.TrimSpace(code) == "" {
		return Profile{}, fmt.Errorf("%w: empty authorization code", ErrProfile)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %s code exchange: %v", ErrProfile, p.name, err)
	}

	profile, err := p.fetch(ctx, p, p.oauth.Client(ctx, tok))
	if err != nil {
		if errors.Is(err, ErrProfile) {
			return Profile{}, err
		}
		return Profile{}, fmt.Errorf("%w: %s: %v", ErrProfile, p.name, err)
	}

	profile.Provider = p.name
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.Subject == "" {
		return Profile{}, fmt.Errorf("%w: %s returned no subject", ErrProfile, p.name)
	}
	if profile.Email == "" {
		return Profile{}, fmt.Errorf("%w: %s account has no verified email", ErrProfile, p.name)
	}
	return profile, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// Registry is the fixed set of providers built at startup.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry indexes providers by Name. Later duplicates win.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			r.providers[p.Name()] = p
		}
	}
	return r
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Config carries credentials for each supported provider. Providers with
// empty credentials are not registered.
type Config struct {
	Google   Credentials `envPrefix:"GOOGLE_"`
	GitHub   Credentials `envPrefix:"GITHUB_"`
	Facebook Credentials `envPrefix:"FACEBOOK_"`
}

// FromConfig builds a registry of the configured providers.
func FromConfig(cfg Config, opts ...Option) *Registry {
	var ps []Provider
	if cfg.Google.Configured() {
		ps = append(ps, NewGoogle(cfg.Google, opts...))
	}
	if cfg.GitHub.Configured() {
		ps = append(ps, NewGitHub(cfg.GitHub, opts...))
	}
	if cfg.Facebook.Configured() {
		ps = append(ps, NewFacebook(cfg.Facebook, opts...))
	}
	return NewRegistry(ps...)
}
