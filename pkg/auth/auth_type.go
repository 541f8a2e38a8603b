// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"fmt"
	"strings"
)

// AuthType is the authentication model a client session uses to talk to Dataverse.
type AuthType string

const (
	// Interactive or username based OAuth sign in.
	AuthTypeOAuth AuthType = "OAuth"
	// Application user with a client secret.
	AuthTypeClientSecret AuthType = "ClientSecret"
	// Application user with a certificate.
	AuthTypeCertificate AuthType = "Certificate"
	// Tokens are supplied by the host application through a callback.
	AuthTypeExternalTokenManagement AuthType = "ExternalTokenManagement"
	// On-premises Active Directory (domain credentials).
	AuthTypeAD AuthType = "AD"
	// On-premises internet facing deployment (claims / WS-Federation).
	AuthTypeIFD AuthType = "IFD"
	// Legacy WS-Trust sign in for online organizations.
	AuthTypeOffice365 AuthType = "Office365"
)

var knownAuthTypes = []AuthType{
	AuthTypeOAuth,
	AuthTypeClientSecret,
	AuthTypeCertificate,
	AuthTypeExternalTokenManagement,
	AuthTypeAD,
	AuthTypeIFD,
	AuthTypeOffice365,
}

// ParseAuthType parses the value of an AuthType connection string key. Matching is case-insensitive.
func ParseAuthType(value string) (AuthType, error) {
	value = strings.TrimSpace(value)
	for _, authType := range knownAuthTypes {
		if strings.EqualFold(value, string(authType)) {
			return authType, nil
		}
	}

	return "", fmt.Errorf("unknown authentication type '%s'", value)
}

// IsTokenBased is true when the session authenticates every request with an OAuth bearer token,
// which is the only kind of session whose credentials can be handed to another client.
func (a AuthType) IsTokenBased() bool {
	switch a {
	case AuthTypeOAuth, AuthTypeClientSecret, AuthTypeCertificate, AuthTypeExternalTokenManagement:
		return true
	default:
		return false
	}
}

func (a AuthType) String() string {
	return string(a)
}
