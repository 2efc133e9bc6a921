// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package auth

import (
	"net/mail"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/net/idna"
)

// Email length limits from RFC 5321.
const (
	MaxEmailLength      = 254
	MaxEmailLocalLength = 64
)

// EmailValidator normalizes and validates a raw email address.
type EmailValidator func(raw string) (string, error)

// domainProfile maps domains the way a resolver would (lower case, punycode)
// and rejects anything that is not a valid host name.
var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.VerifyDNSLength(true),
	idna.StrictDomainName(true),
)

func invalidEmail(raw, reason string) error {
	return oops.Code("AUTH_INVALID_EMAIL").
		With("email", raw).
		With("reason", reason).
		Wrap(&InvalidEmailError{Reason: reason})
}

// NormalizeEmail validates raw and returns its canonical form.
//
// Surrounding whitespace is trimmed and the domain is converted to its
// lower-case ASCII form. The local part is kept as typed; case-insensitive
// uniqueness of whole addresses is the account store's job.
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", invalidEmail(raw, "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return "", invalidEmail(raw, "email is too long")
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", invalidEmail(raw, "email must contain @")
	}
	local, domain := email[:at], email[at+1:]
	if local == "" {
		return "", invalidEmail(raw, "local part cannot be empty")
	}
	if len(local) > MaxEmailLocalLength {
		return "", invalidEmail(raw, "local part is too long")
	}
	if domain == "" {
		return "", invalidEmail(raw, "domain cannot be empty")
	}

	// Only bare addr-spec input is accepted. ParseAddress strips display
	// names and comments and unquotes quoted local parts, so comparing its
	// Address with the input rejects all three. It also rejects a trailing
	// dot on the domain.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return "", invalidEmail(raw, "email is not a valid address")
	}

	asciiDomain, err := domainProfile.ToASCII(domain)
	if err != nil {
		return "", invalidEmail(raw, "domain is not valid")
	}
	if !strings.Contains(asciiDomain, ".") {
		return "", invalidEmail(raw, "domain must contain a dot")
	}

	normalized := local + "@" + asciiDomain
	if len(normalized) > MaxEmailLength {
		return "", invalidEmail(raw, "email is too long")
	}
	return normalized, nil
}
