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

// Package auth verifies bearer credentials for HTTP routes and websocket handshakes
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alwitt/rtgateway/common"
	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredential no bearer credential was presented
var ErrNoCredential = errors.New("no bearer credential")

// Identity the verified caller, attached to a single request context
type Identity struct {
	Subject   string
	Roles     []string
	Scopes    []string
	ExpiresAt time.Time
}

// GatewayClaims token claims understood by the gateway
type GatewayClaims struct {
	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

type identityKey struct{}

// WithIdentity attach an Identity to a context
func WithIdentity(ctxt context.Context, identity Identity) context.Context {
	return context.WithValue(ctxt, identityKey{}, identity)
}

// IdentityFromContext read the Identity attached to a context
func IdentityFromContext(ctxt context.Context) (Identity, bool) {
	identity, ok := ctxt.Value(identityKey{}).(Identity)
	return identity, ok
}

// TokenVerifier checks bearer tokens
type TokenVerifier interface {
	// Verify verify a raw token, returning the caller identity
	Verify(token string) (Identity, error)
}

// jwtVerifier implements TokenVerifier with golang-jwt
type jwtVerifier struct {
	algorithm string
	key       interface{}
	parser    *jwt.Parser
}

// GetTokenVerifier define a TokenVerifier from the auth config
func GetTokenVerifier(cfg common.AuthConfig) (TokenVerifier, error) {
	var key interface{}
	switch cfg.Algorithm {
	case jwt.SigningMethodHS256.Alg():
		if len(cfg.SecretKey) < 16 {
			return nil, fmt.Errorf("HS256 secret key must be at least 16 bytes")
		}
		key = []byte(cfg.SecretKey)
	case jwt.SigningMethodRS256.Alg():
		if cfg.PublicKeyFile == "" {
			return nil, fmt.Errorf("RS256 requires a public key file")
		}
		pemData, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read public key: %w", err)
		}
		pub, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
		if err != nil {
			return nil, fmt.Errorf("unable to parse public key: %w", err)
		}
		key = pub
	default:
		return nil, fmt.Errorf("unsupported algorithm %s", cfg.Algorithm)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{cfg.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(common.SecondsToDuration(cfg.Leeway)),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	return &jwtVerifier{
		algorithm: cfg.Algorithm,
		key:       key,
		parser:    jwt.NewParser(options...),
	}, nil
}

// Verify verify a raw token
func (v *jwtVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoCredential
	}
	claims := &GatewayClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("token is not valid")
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	identity := Identity{Subject: claims.Subject, Roles: claims.Roles, Scopes: claims.Scopes}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// TokenParam parameters of a token to issue
type TokenParam struct {
	Subject  string
	Roles    []string
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// IssueHS256Token sign a new HS256 token
func IssueHS256Token(secret []byte, param TokenParam, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("secret is required")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, buildClaims(param, now)).SignedString(secret)
}

// IssueRS256Token sign a new RS256 token
func IssueRS256Token(key *rsa.PrivateKey, param TokenParam, now time.Time) (string, error) {
	if key == nil {
		return "", fmt.Errorf("private key is required")
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, buildClaims(param, now)).SignedString(key)
}

func buildClaims(param TokenParam, now time.Time) GatewayClaims {
	claims := GatewayClaims{
		Roles:  param.Roles,
		Scopes: param.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   param.Subject,
			Issuer:    param.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(param.TTL)),
		},
	}
	if param.Audience != "" {
		claims.Audience = jwt.ClaimStrings{param.Audience}
	}
	return claims
}
