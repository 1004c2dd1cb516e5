// Package redirect turns the URLs the OS hands back to the app after a social login (deep links,
// browser-session callbacks) into the auth artifact they carry.
package redirect

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Recognized query parameters.
const (
	ParamAccessToken      = "access_token"
	ParamRefreshToken     = "refresh_token"
	ParamCode             = "code"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
)

// Kind identifies which form of auth artifact a redirect carried.
type Kind int

const (
	KindTokenPair Kind = iota + 1
	KindCode
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindTokenPair:
		return "token_pair"
	case KindCode:
		return "code"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Payload is the auth artifact parsed from a redirect URL. Exactly one group of fields is set,
// according to Kind.
type Payload struct {
	Kind Kind

	// KindTokenPair
	AccessToken  string
	RefreshToken string

	// KindCode
	Code string

	// KindError
	Message string
}

// String never prints the secrets themselves, so payloads are safe to log.
func (p Payload) String() string {
	switch p.Kind {
	case KindTokenPair:
		return fmt.Sprintf("token_pair(access=%d bytes, refresh=%d bytes)", len(p.AccessToken), len(p.RefreshToken))
	case KindCode:
		return fmt.Sprintf("code(%d bytes)", len(p.Code))
	case KindError:
		return fmt.Sprintf("error(%q)", p.Message)
	default:
		return "none"
	}
}

// Key is a stable fingerprint of the redeemable artifact. Two redirects carrying the same code or
// the same token pair have the same key.
func (p Payload) Key() string {
	h := sha256.New()
	switch p.Kind {
	case KindTokenPair:
		fmt.Fprintf(h, "tokens\x00%s\x00%s", p.AccessToken, p.RefreshToken)
	case KindCode:
		fmt.Fprintf(h, "code\x00%s", p.Code)
	default:
		fmt.Fprintf(h, "error\x00%s", p.Message)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Parse extracts the auth payload from rawURL. Providers put the parameters either in the query
// or in the fragment, so the first '#' is treated like '?'. The second return value is false when
// the URL carries nothing we recognize. Malformed parameters are skipped.
//
// Errors take precedence over tokens, and tokens over a code.
func Parse(rawURL string) (Payload, bool) {
	if rawURL == "" {
		return Payload{}, false
	}
	normalized := strings.Replace(rawURL, "#", "?", 1)
	_, query, found := strings.Cut(normalized, "?")
	if !found {
		return Payload{}, false
	}
	// anything after a second '?' is not part of the query
	query, _, _ = strings.Cut(query, "?")
	if query == "" {
		return Payload{}, false
	}

	// ParseQuery skips the pairs it cannot decode and keeps the rest
	params, err := url.ParseQuery(query)
	if err != nil {
		slog.Debug("Redirect URL has malformed parameters", "error", err)
	}

	if msg := firstNonEmpty(params.Get(ParamError), params.Get(ParamErrorDescription)); msg != "" {
		return Payload{Kind: KindError, Message: msg}, true
	}
	access, refresh := params.Get(ParamAccessToken), params.Get(ParamRefreshToken)
	if access != "" && refresh != "" {
		return Payload{Kind: KindTokenPair, AccessToken: access, RefreshToken: refresh}, true
	}
	if code := params.Get(ParamCode); code != "" {
		return Payload{Kind: KindCode, Code: code}, true
	}
	return Payload{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
