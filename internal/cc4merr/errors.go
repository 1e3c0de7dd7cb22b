// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package cc4merr defines the error-kind taxonomy shared across the relay
// and agent cores so that callers can branch on failure class without
// string matching.
package cc4merr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure the way §7 of the design requires: each kind
// maps to exactly one HTTP status on the relay side.
type Kind string

const (
	Shape     Kind = "shape"
	Auth      Kind = "auth"
	Version   Kind = "version"
	State     Kind = "state"
	Quota     Kind = "quota"
	NotFound  Kind = "not_found"
	Conflict  Kind = "conflict"
	Transport Kind = "transport"
	Crypto    Kind = "crypto"
)

// Error wraps an underlying cause with a Kind so relay handlers and the
// envelope pipeline can decide what to do (drop, queue, retry) without
// inspecting message text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, if any *Error is in its chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a Kind to the status code the relay returns for it.
// This is the single table §7 calls for ("each handler maps to exactly
// one HTTP status").
func HTTPStatus(kind Kind) int {
	switch kind {
	case Shape:
		return http.StatusBadRequest
	case Auth:
		return http.StatusForbidden
	case Version:
		return http.StatusBadRequest
	case State:
		return http.StatusConflict
	case Quota:
		return http.StatusTooManyRequests
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Transport:
		return http.StatusBadGateway
	case Crypto:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
