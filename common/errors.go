// Copyright 2026 The rtgateway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies failures handled by the gateway
type ErrorKind int

// Gateway error kinds
const (
	KindAuthTokenMissing ErrorKind = iota
	KindAuthTokenInvalid
	KindRateLimitExceeded
	KindDownstreamError
	KindMalformedFrame
	KindConnectionLost
	KindBadRequest
	KindNotFound
)

// Machine readable error codes
const (
	CodeAuthTokenMissing  = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid  = "AUTH_TOKEN_INVALID"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeDownstreamError   = "DOWNSTREAM_ERROR"
	CodeDownstreamTimeout = "DOWNSTREAM_TIMEOUT"
	CodeMalformedFrame    = "MALFORMED_FRAME"
	CodeConnectionLost    = "CONNECTION_LOST"
	CodeBadRequest        = "BAD_REQUEST"
	CodeNotFound          = "NOT_FOUND"
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthTokenMissing:
		return "AuthTokenMissing"
	case KindAuthTokenInvalid:
		return "AuthTokenInvalid"
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindDownstreamError:
		return "DownstreamError"
	case KindMalformedFrame:
		return "MalformedFrame"
	case KindConnectionLost:
		return "ConnectionLost"
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// GatewayError a classified gateway failure
type GatewayError struct {
	Kind ErrorKind
	// Status is the HTTP status to respond with, when surfaced over HTTP
	Status int
	// Code is the machine readable error code
	Code string
	// Message is the human readable message
	Message string
	// ResetAt is only set for RateLimitExceeded
	ResetAt *time.Time
	// Cause is the underlying error, if any
	Cause error
}

// Error implements error
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %s", e.Kind, e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
}

// Unwrap support errors.Is / errors.As on the cause
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsClientError whether the failure was caused by the caller
func (e *GatewayError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AsGatewayError extract a GatewayError from an error chain
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// ErrAuthTokenMissing no bearer credential on a protected route
func ErrAuthTokenMissing(cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindAuthTokenMissing,
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthTokenMissing,
		Message: "Access token required",
		Cause:   cause,
	}
}

// ErrAuthTokenInvalid bearer credential failed verification
func ErrAuthTokenInvalid(cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindAuthTokenInvalid,
		Status:  http.StatusUnauthorized,
		Code:    CodeAuthTokenInvalid,
		Message: "Invalid or expired token",
		Cause:   cause,
	}
}

// ErrRateLimitExceeded request denied by admission control
func ErrRateLimitExceeded(resetAt time.Time) *GatewayError {
	return &GatewayError{
		Kind:    KindRateLimitExceeded,
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimitExceeded,
		Message: "Rate limit exceeded",
		ResetAt: &resetAt,
	}
}

// ErrDownstream backend call failed
func ErrDownstream(status int, code, message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindDownstreamError,
		Status:  status,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrMalformedFrame control frame could not be parsed
func ErrMalformedFrame(message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindMalformedFrame,
		Status:  http.StatusBadRequest,
		Code:    CodeMalformedFrame,
		Message: message,
		Cause:   cause,
	}
}

// ErrConnectionLost delivery to a connection failed
func ErrConnectionLost(connectionID string, cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindConnectionLost,
		Status:  http.StatusInternalServerError,
		Code:    CodeConnectionLost,
		Message: fmt.Sprintf("connection %s lost", connectionID),
		Cause:   cause,
	}
}

// ErrBadRequest malformed HTTP input
func ErrBadRequest(message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:    KindBadRequest,
		Status:  http.StatusBadRequest,
		Code:    CodeBadRequest,
		Message: message,
		Cause:   cause,
	}
}

// ErrNotFound no route or resource matched
func ErrNotFound(message string) *GatewayError {
	return &GatewayError{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: message,
	}
}
