// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/pkg/errutil"
)

// Client-visible messages.
const (
	msgInternal         = "internal server error"
	msgPartialSignup    = "account created but the session could not be saved; please sign in"
	msgEmptyPassword    = "password cannot be empty"
	msgEmailTaken       = "account already exists"
	msgAccountNotFound  = "account not found"
	msgIncorrectPasswd  = "incorrect password"
	msgMissingToken     = "missing session token"
	msgInvalidOrExpired = "invalid or expired session token"
)

// classify maps a service error to an HTTP status and client message.
// Infrastructure details never reach the message.
func classify(err error) (int, string) {
	var invalidEmail *auth.InvalidEmailError
	switch {
	case errors.As(err, &invalidEmail):
		return http.StatusBadRequest, invalidEmail.Error()
	case errors.Is(err, auth.ErrInvalidEmail):
		return http.StatusBadRequest, "invalid email"
	case errors.Is(err, auth.ErrEmptyPassword):
		return http.StatusBadRequest, msgEmptyPassword
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, msgEmailTaken
	case errors.Is(err, auth.ErrAccountNotFound):
		return http.StatusNotFound, msgAccountNotFound
	case errors.Is(err, auth.ErrIncorrectPassword):
		return http.StatusUnauthorized, msgIncorrectPasswd
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized, msgMissingToken
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		return http.StatusUnauthorized, msgInvalidOrExpired
	case errors.Is(err, auth.ErrSessionNotPersisted):
		return http.StatusInternalServerError, msgPartialSignup
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func (h *Handler) logFailure(r *http.Request, operation string, status int, err error) {
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(ctx, h.logger, "auth request failed", err,
			"operation", operation,
			"status", status,
		)
		return
	}
	h.logger.DebugContext(ctx, "auth request rejected",
		"operation", operation,
		"status", status,
		"code", errutil.Code(err),
	)
}
