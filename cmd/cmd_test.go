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

package cmd

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/common"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

func TestMintToken(t *testing.T) {
	assert := assert.New(t)

	config := common.AuthConfig{
		Algorithm: "HS256", SecretKey: "cmd-unit-test-secret-value", Issuer: "rtgateway", Leeway: 1,
	}
	verifier, err := auth.GetTokenVerifier(config)
	assert.Nil(err)

	// Case 0: minted token verifies
	{
		out := bytes.Buffer{}
		err := MintToken(TokenCLIArgs{
			Subject: "alice",
			TTL:     time.Minute,
			Roles:   *cli.NewStringSlice("admin"),
		}, config, &out)
		assert.Nil(err)
		identity, err := verifier.Verify(strings.TrimSpace(out.String()))
		assert.Nil(err)
		assert.Equal("alice", identity.Subject)
		assert.Equal([]string{"admin"}, identity.Roles)
	}

	// Case 1: subject required
	{
		out := bytes.Buffer{}
		assert.NotNil(MintToken(TokenCLIArgs{TTL: time.Minute}, config, &out))
	}

	// Case 2: RS256 needs a private key
	{
		out := bytes.Buffer{}
		rsConfig := config
		rsConfig.Algorithm = "RS256"
		assert.NotNil(MintToken(TokenCLIArgs{Subject: "alice", TTL: time.Minute}, rsConfig, &out))
	}

	// Case 3: RS256 token signed with the private key verifies against the public key
	{
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		assert.Nil(err)
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		assert.Nil(err)
		keyDir := t.TempDir()
		privateFile := filepath.Join(keyDir, "signing.pem")
		publicFile := filepath.Join(keyDir, "verify.pem")
		assert.Nil(os.WriteFile(privateFile, pem.EncodeToMemory(&pem.Block{
			Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
		}), 0o600))
		assert.Nil(os.WriteFile(publicFile, pem.EncodeToMemory(&pem.Block{
			Type: "PUBLIC KEY", Bytes: pubDER,
		}), 0o600))

		rsConfig := common.AuthConfig{
			Algorithm: "RS256", PublicKeyFile: publicFile, Audience: "rtgateway-api", Leeway: 1,
		}
		rsVerifier, err := auth.GetTokenVerifier(rsConfig)
		assert.Nil(err)

		out := bytes.Buffer{}
		assert.Nil(MintToken(TokenCLIArgs{
			Subject: "carol", TTL: time.Minute, PrivateKeyFile: privateFile,
		}, rsConfig, &out))
		identity, err := rsVerifier.Verify(strings.TrimSpace(out.String()))
		assert.Nil(err)
		assert.Equal("carol", identity.Subject)

		// Wrong key type for the configured algorithm
		assert.NotNil(MintToken(TokenCLIArgs{
			Subject: "carol", TTL: time.Minute, PrivateKeyFile: publicFile,
		}, rsConfig, &out))
	}
}

func TestDefineGatewayOptions(t *testing.T) {
	assert := assert.New(t)

	config := &common.GatewayServerConfig{
		WebSocket: common.WebSocketConfig{RequireAuth: true, SendQueueDepth: 8, MaxConnections: 5},
		Liveness:  common.LivenessConfig{IdleTimeout: 30, ProbeTimeout: 10},
		RateLimit: common.RateLimitConfig{
			Enabled:       true,
			SweepInterval: 60,
			Fallback: common.RateLimitCategoryConfig{
				Name: "general", PathPrefix: "/", Capacity: 100, Window: 900,
			},
		},
		Auth:    common.AuthConfig{Algorithm: "HS256", SecretKey: "cmd-unit-test-secret-value"},
		Backend: common.BackendConfig{Mode: "memory", SubjectPrefix: "ut", RequestTimeout: 5},
	}

	// Case 0: memory backend needs no NATS client
	service, err := defineBackend(config.Backend, "testing", nil)
	assert.Nil(err)

	// Case 1: NATS backend does
	{
		natsConfig := config.Backend
		natsConfig.Mode = "nats"
		_, err := defineBackend(natsConfig, "testing", nil)
		assert.NotNil(err)
	}

	// Case 2: options
	opts, err := defineGatewayOptions(config, "testing", service, nil)
	assert.Nil(err)
	assert.Equal(5, opts.MaxConnections)
	assert.Equal(time.Second*30, opts.IdleTimeout)
	assert.Equal(time.Second*10, opts.ProbeTimeout)
	assert.Equal(time.Second*5, opts.BackendTimeout)
	assert.NotNil(opts.Limiter)
	assert.NotNil(opts.Verifier)
	assert.False(opts.Handshake.Verify(httptestRequest()).Accept)

	// Case 3: open handshake and no limiter
	config.WebSocket.RequireAuth = false
	config.RateLimit.Enabled = false
	opts, err = defineGatewayOptions(config, "testing", service, nil)
	assert.Nil(err)
	assert.Nil(opts.Limiter)
	assert.True(opts.Handshake.Verify(httptestRequest()).Accept)

	// Case 4: unusable secret
	config.Auth.SecretKey = "short"
	_, err = defineGatewayOptions(config, "testing", service, nil)
	assert.NotNil(err)
}

func httptestRequest() *http.Request {
	return httptest.NewRequest("GET", "/ws", nil)
}
