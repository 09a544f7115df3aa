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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alwitt/rtgateway/auth"
	"github.com/alwitt/rtgateway/common"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v2"
)

// TokenCLIArgs arguments
type TokenCLIArgs struct {
	Subject string        `validate:"required"`
	TTL     time.Duration `validate:"gt=0"`
	Roles   cli.StringSlice
	Scopes  cli.StringSlice
	// PrivateKeyFile PEM encoded RSA private key, required for RS256
	PrivateKeyFile string `validate:"omitempty,file"`
}

// GetTokenCLIFlags retrieve the set of CMD flags for minting a token
func GetTokenCLIFlags(args *TokenCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "subject",
			Usage:       "Token subject",
			Aliases:     []string{"s"},
			Destination: &args.Subject,
			Required:    true,
		},
		&cli.DurationFlag{
			Name:        "ttl",
			Usage:       "Token lifetime",
			Value:       time.Hour,
			DefaultText: "1h",
			Destination: &args.TTL,
			Required:    false,
		},
		&cli.StringSliceFlag{
			Name:        "role",
			Usage:       "Role granted to the subject; may be repeated",
			Destination: &args.Roles,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "private-key-file",
			Usage:       "PEM encoded RSA private key, when the gateway verifies RS256 tokens",
			Aliases:     []string{"k"},
			EnvVars:     []string{"TOKEN_PRIVATE_KEY_FILE"},
			Destination: &args.PrivateKeyFile,
			Required:    false,
		},
		&cli.StringSliceFlag{
			Name:        "scope",
			Usage:       "Scope granted to the subject; may be repeated",
			Destination: &args.Scopes,
			Required:    false,
		},
	}
}

// MintToken sign a token the gateway accepts and write it to out
//
// The signing algorithm follows the gateway auth config.
func MintToken(params TokenCLIArgs, config common.AuthConfig, out io.Writer) error {
	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return err
	}
	tokenParam := auth.TokenParam{
		Subject:  params.Subject,
		Roles:    params.Roles.Value(),
		Scopes:   params.Scopes.Value(),
		Issuer:   config.Issuer,
		Audience: config.Audience,
		TTL:      params.TTL,
	}
	var token string
	var err error
	switch config.Algorithm {
	case "HS256":
		token, err = auth.IssueHS256Token([]byte(config.SecretKey), tokenParam, time.Now())
	case "RS256":
		if params.PrivateKeyFile == "" {
			return fmt.Errorf("RS256 tokens need a private key file")
		}
		pemData, readErr := os.ReadFile(params.PrivateKeyFile)
		if readErr != nil {
			return readErr
		}
		key, parseErr := jwt.ParseRSAPrivateKeyFromPEM(pemData)
		if parseErr != nil {
			return fmt.Errorf("unable to parse private key: %w", parseErr)
		}
		token, err = auth.IssueRS256Token(key, tokenParam, time.Now())
	default:
		return fmt.Errorf("unsupported algorithm %s", config.Algorithm)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
