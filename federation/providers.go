package federation

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleAPI   = "https://www.googleapis.com"
	githubAPI   = "https://api.github.com"
	facebookAPI = "https://graph.facebook.com"
)

var facebookEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.facebook.com/v12.0/dialog/oauth",
	TokenURL: "https://graph.facebook.com/v12.0/oauth/access_token",
}

// NewGoogle returns the Google provider. Accounts whose email Google has not
// verified are rejected.
func NewGoogle(creds Credentials, opts ...Option) Provider {
	return newOAuthProvider("google", creds, endpoints.Google, []string{"openid", "email"}, googleAPI, fetchGoogle, opts)
}

func fetchGoogle(ctx context.Context, p *oauthProvider, client *http.Client) (Profile, error) {
	var info struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
	}
	if err := getJSON(ctx, client, p.apiBase+"/oauth2/v2/userinfo", &info); err != nil {
		return Profile{}, err
	}
	out := Profile{Subject: info.ID}
	if info.VerifiedEmail {
		out.Email = info.Email
	}
	return out, nil
}

// NewGitHub returns the GitHub provider. The primary verified address is
// preferred, then any verified address.
func NewGitHub(creds Credentials, opts ...Option) Provider {
	return newOAuthProvider("github", creds, endpoints.GitHub, []string{"read:user", "user:email"}, githubAPI, fetchGitHub, opts)
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchGitHub(ctx context.Context, p *oauthProvider, client *http.Client) (Profile, error) {
	var user struct {
		ID int64 `json:"id"`
	}
	if err := getJSON(ctx, client, p.apiBase+"/user", &user); err != nil {
		return Profile{}, err
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, p.apiBase+"/user/emails", &emails); err != nil {
		return Profile{}, err
	}

	out := Profile{Email: pickGitHubEmail(emails)}
	if user.ID != 0 {
		out.Subject = strconv.FormatInt(user.ID, 10)
	}
	return out, nil
}

func pickGitHubEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

// NewFacebook returns the Facebook provider. The email field must be
// requested explicitly and may be absent.
func NewFacebook(creds Credentials, opts ...Option) Provider {
	return newOAuthProvider("facebook", creds, facebookEndpoint, []string{"email"}, facebookAPI, fetchFacebook, opts)
}

func fetchFacebook(ctx context.Context, p *oauthProvider, client *http.Client) (Profile, error) {
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	q := url.Values{"fields": {"id,email"}}
	if err := getJSON(ctx, client, p.apiBase+"/me?"+q.Encode(), &me); err != nil {
		return Profile{}, err
	}
	return Profile{Subject: me.ID, Email: me.Email}, nil
}
