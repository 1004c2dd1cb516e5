package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sokdak/sokdak/traces"
)

// OAuthOptions configures SignInWithOAuth.
type OAuthOptions struct {
	// Provider is the identity provider, e.g. "google" or "kakao".
	Provider string
	// RedirectTo is the deep link to return to. It defaults to the client's redirect URL.
	RedirectTo string
	// Scopes is a space separated list of provider scopes. When empty the server requests the
	// provider's defaults.
	Scopes string
	// QueryParams are passed on to the provider's authorization endpoint.
	QueryParams map[string]string
}

// SignInWithOAuth starts a PKCE sign in and returns the URL to open in a browser. The code
// verifier is stored so that the code delivered to the redirect URL can be exchanged with
// ExchangeCodeForSession.
func (c *Client) SignInWithOAuth(ctx context.Context, opts OAuthOptions) (string, error) {
	ctx, span := c.tracer.Start(ctx, "auth.SignInWithOAuth")
	defer span.End()

	if opts.Provider == "" {
		return "", traces.RecordError(ctx, errors.New("provider is required"))
	}
	redirectTo := opts.RedirectTo
	if redirectTo == "" {
		redirectTo = c.redirectURL
	}

	verifier := oauth2.GenerateVerifier()
	if err := c.storage.SaveVerifier(verifier); err != nil {
		return "", traces.RecordError(ctx, err)
	}

	q := url.Values{}
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	q.Set("provider", strings.ToLower(opts.Provider))
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	if opts.Scopes != "" {
		q.Set("scopes", opts.Scopes)
	}
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")
	return fmt.Sprintf("%s%s?%s", c.baseURL, authorizePath, q.Encode()), nil
}
