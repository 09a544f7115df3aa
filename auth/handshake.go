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

package auth

import (
	"net/http"
	"strings"

	"github.com/alwitt/rtgateway/common"
)

// HandshakeDecision outcome of a websocket handshake check
type HandshakeDecision struct {
	Accept   bool
	Identity Identity
	// Code machine readable reason, set on reject
	Code string
	// Reason human readable reason, set on reject
	Reason string
}

// HandshakeVerifier decides whether a websocket handshake may proceed
type HandshakeVerifier interface {
	Verify(r *http.Request) HandshakeDecision
}

// AccessTokenQueryParam query parameter browsers can pass the token in,
// since they can not set headers on a websocket handshake
const AccessTokenQueryParam = "access_token"

// tokenHandshakeVerifier requires a valid bearer token on the handshake
type tokenHandshakeVerifier struct {
	verifier TokenVerifier
}

// NewTokenHandshakeVerifier define a HandshakeVerifier requiring a valid token
func NewTokenHandshakeVerifier(verifier TokenVerifier) HandshakeVerifier {
	return &tokenHandshakeVerifier{verifier: verifier}
}

// Verify check the handshake credential
func (v *tokenHandshakeVerifier) Verify(r *http.Request) HandshakeDecision {
	token, present := BearerToken(r.Header.Get("Authorization"))
	if !present {
		token = r.URL.Query().Get(AccessTokenQueryParam)
	}
	if token == "" {
		return HandshakeDecision{Code: common.CodeAuthTokenMissing, Reason: "Access token required"}
	}
	identity, err := v.verifier.Verify(token)
	if err != nil {
		return HandshakeDecision{Code: common.CodeAuthTokenInvalid, Reason: "Invalid or expired token"}
	}
	return HandshakeDecision{Accept: true, Identity: identity}
}

// openHandshakeVerifier accepts every handshake
type openHandshakeVerifier struct{}

// NewOpenHandshakeVerifier define a HandshakeVerifier that accepts every handshake
func NewOpenHandshakeVerifier() HandshakeVerifier {
	return openHandshakeVerifier{}
}

// Verify always accepts
func (openHandshakeVerifier) Verify(*http.Request) HandshakeDecision {
	return HandshakeDecision{Accept: true}
}

// BearerToken extract the token from an Authorization header value
//
// present is false when the header is empty or not a Bearer credential.
func BearerToken(header string) (token string, present bool) {
	scheme, value, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// AuthenticateRequest verify the bearer credential of an HTTP request
//
// A missing or non Bearer Authorization header is AuthTokenMissing; any
// verification failure is AuthTokenInvalid.
func AuthenticateRequest(verifier TokenVerifier, r *http.Request) (Identity, error) {
	token, present := BearerToken(r.Header.Get("Authorization"))
	if !present {
		return Identity{}, common.ErrAuthTokenMissing(ErrNoCredential)
	}
	identity, err := verifier.Verify(token)
	if err != nil {
		return Identity{}, common.ErrAuthTokenInvalid(err)
	}
	return identity, nil
}
