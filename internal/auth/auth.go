// Package auth defines the identity-resolution boundary. Account provisioning
// and credential verification are external concerns; this package only maps a
// presented credential to an owner identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized indicates the credential did not resolve to any identity
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a bearer credential to an owner identity
type Authenticator interface {
	Resolve(ctx context.Context, credential string) (ownerID string, err error)
}

// StaticTokens is an Authenticator backed by a fixed token-to-owner map,
// loaded from configuration
type StaticTokens map[string]string

func (st StaticTokens) Resolve(_ context.Context, credential string) (string, error) {
	ownerID, ok := st[credential]
	if !ok {
		return "", ErrUnauthorized
	}
	return ownerID, nil
}

// ParseStaticTokens parses a "token:owner,token:owner" spec into a
// StaticTokens map
func ParseStaticTokens(spec string) (StaticTokens, error) {
	tokens := StaticTokens{}
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, owner, ok := strings.Cut(pair, ":")
		if !ok || token == "" || owner == "" {
			return nil, fmt.Errorf("malformed token pair %q, expected token:owner", pair)
		}
		tokens[token] = owner
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no token pairs in spec")
	}
	return tokens, nil
}
