// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/benbjohnson/clock"
)

// Lifetime reported for tokens that carry no exp claim.
const defaultBridgedTokenLifetime = 5 * time.Minute

// BridgeCredential exposes a CredentialBridge as an azcore.TokenCredential so Azure SDK based
// clients can ride on another client's session.
type BridgeCredential struct {
	bridge *CredentialBridge
	clock  clock.Clock
}

var _ azcore.TokenCredential = (*BridgeCredential)(nil)

// BridgeCredentialOptions configures a BridgeCredential.
type BridgeCredentialOptions struct {
	// Clock defaults to the system clock.
	Clock clock.Clock
}

func NewBridgeCredential(bridge *CredentialBridge, opts *BridgeCredentialOptions) (*BridgeCredential, error) {
	if bridge == nil {
		return nil, errors.New("auth.NewBridgeCredential: bridge must not be nil")
	}

	if opts == nil {
		opts = &BridgeCredentialOptions{}
	}

	c := opts.Clock
	if c == nil {
		c = clock.New()
	}

	return &BridgeCredential{
		bridge: bridge,
		clock:  c,
	}, nil
}

// GetToken implements azcore.TokenCredential. The first scope selects the resource,
// e.g. "https://org.crm.dynamics.com/.default".
func (c *BridgeCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if len(options.Scopes) == 0 {
		return azcore.AccessToken{}, errors.New("auth.BridgeCredential.GetToken: at least one scope is required")
	}

	resource := strings.TrimSuffix(options.Scopes[0], "/.default")
	token, err := c.bridge.GetToken(ctx, resource)
	if err != nil {
		return azcore.AccessToken{}, err
	}

	if token == "" {
		return azcore.AccessToken{}, fmt.Errorf("%s: %w", resource, ErrTokenDeclined)
	}

	expiresOn := c.clock.Now().Add(defaultBridgedTokenLifetime)
	if claims, err := GetClaimsFromAccessToken(token); err == nil && claims.ExpiresAt != nil {
		expiresOn = claims.ExpiresAt.Time
	}

	return azcore.AccessToken{
		Token:     token,
		ExpiresOn: expiresOn.UTC(),
	}, nil
}
