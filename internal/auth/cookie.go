// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session_token"

// SessionCookiePolicy describes the attributes of the session cookie.
// It is resolved once at startup.
type SessionCookiePolicy struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookiePolicy returns the policy for a deployment. Development
// deployments get a plain HttpOnly cookie; everything else adds
// Secure and SameSite=None so the cookie survives cross-site requests.
func DefaultCookiePolicy(development bool) SessionCookiePolicy {
	p := SessionCookiePolicy{
		Name:     SessionCookieName,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
	if development {
		p.Secure = false
		p.SameSite = http.SameSiteDefaultMode
	}
	return p
}

func (p SessionCookiePolicy) name() string {
	if p.Name == "" {
		return SessionCookieName
	}
	return p.Name
}

func (p SessionCookiePolicy) path() string {
	if p.Path == "" {
		return "/"
	}
	return p.Path
}

// Issue builds the cookie handing grant's token to the client. maxAge is the
// session TTL; it is sent as whole seconds.
func (p SessionCookiePolicy) Issue(grant *SessionGrant, maxAge time.Duration) *http.Cookie {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		// MaxAge 0 means "no Max-Age attribute" to net/http.
		return p.Clear()
	}
	return &http.Cookie{
		Name:     p.name(),
		Value:    grant.Token,
		Path:     p.path(),
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	}
}

// Clear builds a cookie instructing the client to drop the session cookie
// (Max-Age=0).
func (p SessionCookiePolicy) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     p.name(),
		Value:    "",
		Path:     p.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	}
}

// ExtractSessionToken finds the session token in a Cookie header value.
// Any string containing a "session_token=<token>" pair is accepted; pairs are
// separated by ';'. Returns an error wrapping ErrMissingToken if there is no
// non-empty token.
func ExtractSessionToken(cookieHeader string) (string, error) {
	return extractCookieValue(cookieHeader, SessionCookieName)
}

// TokenFromRequest extracts the session token named by the policy from all
// Cookie headers of r.
func (p SessionCookiePolicy) TokenFromRequest(r *http.Request) (string, error) {
	for _, header := range r.Header.Values("Cookie") {
		if token, err := extractCookieValue(header, p.name()); err == nil {
			return token, nil
		}
	}
	return "", missingToken("session cookie not found")
}

func extractCookieValue(header, name string) (string, error) {
	prefix := name + "="
	for _, pair := range strings.Split(header, ";") {
		value, ok := strings.CutPrefix(strings.TrimSpace(pair), prefix)
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if value == "" {
			return "", missingToken("session cookie is empty")
		}
		return value, nil
	}
	return "", missingToken("session cookie not found")
}

func missingToken(msg string) error {
	return oops.Code("AUTH_MISSING_TOKEN").Wrapf(ErrMissingToken, "%s", msg)
}
