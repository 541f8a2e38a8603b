// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"reflect"
	"strings"
)

// AuthModeReporter is implemented by clients that can report how they authenticate.
type AuthModeReporter interface {
	AuthType() AuthType
}

// TokenSource is a live client session whose bearer token can be shared.
type TokenSource interface {
	AuthModeReporter

	// ConnectedOrgUri is the organization endpoint the session is connected to.
	ConnectedOrgUri() *url.URL

	// CurrentAccessToken returns the session's token as of now, refreshing it if needed.
	CurrentAccessToken(ctx context.Context) (string, error)
}

// AuthorityMatch selects how a requested URI is compared with the source session's authority.
type AuthorityMatch int

const (
	// AuthorityMatchExact requires the same host (case-insensitive) and port.
	AuthorityMatchExact AuthorityMatch = iota
	// AuthorityMatchContains accepts any requested host that contains the source host.
	// This is the legacy behavior; "org.crm.example.com" also matches "myorg.crm.example.com.evil.net".
	AuthorityMatchContains
)

// BridgeOptions configures a CredentialBridge.
type BridgeOptions struct {
	// Match defaults to AuthorityMatchExact.
	Match AuthorityMatch
}

// CredentialBridge lets a target client authenticate with the live session of a source client.
//
// The bridge never stores a token: every GetToken call asks the source session, so token refreshes
// on the source are visible to the target immediately. It is immutable and safe for concurrent use.
type CredentialBridge struct {
	source          TokenSource
	sourceAuthority string
	sourceHost      string
	match           AuthorityMatch
}

// NewCredentialBridge links target to the session of source.
// Both clients must be non-nil and use token based authentication.
func NewCredentialBridge(source TokenSource, target AuthModeReporter, opts *BridgeOptions) (*CredentialBridge, error) {
	if isNil(source) {
		return nil, fmt.Errorf("auth.NewCredentialBridge: source %w", ErrNilClient)
	}

	if isNil(target) {
		return nil, fmt.Errorf("auth.NewCredentialBridge: target %w", ErrNilClient)
	}

	if !source.AuthType().IsTokenBased() || !target.AuthType().IsTokenBased() {
		return nil, &IncompatibleAuthModelError{
			Source: source.AuthType(),
			Target: target.AuthType(),
		}
	}

	orgUri := source.ConnectedOrgUri()
	if orgUri == nil || orgUri.Host == "" {
		return nil, errors.New("auth.NewCredentialBridge: source is not connected to an organization")
	}

	if opts == nil {
		opts = &BridgeOptions{}
	}

	return &CredentialBridge{
		source:          source,
		sourceAuthority: authorityOf(orgUri),
		sourceHost:      strings.ToLower(orgUri.Hostname()),
		match:           opts.Match,
	}, nil
}

// SourceAuthority returns the normalized "host:port" of the source session.
func (b *CredentialBridge) SourceAuthority() string {
	return b.sourceAuthority
}

// GetToken returns the source session's current token when targetUri belongs to the source organization.
// For any other authority, or a URI that cannot be parsed, it returns "" and no error: the bridge
// declined, which callers must not treat as a failure.
func (b *CredentialBridge) GetToken(ctx context.Context, targetUri string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target, err := url.Parse(targetUri)
	if err != nil || target.Host == "" {
		log.Printf("credential bridge: ignoring token request for invalid uri '%s'", targetUri)
		return "", nil
	}

	if !b.matches(target) {
		log.Printf("credential bridge: '%s' does not match source authority '%s'", target.Host, b.sourceAuthority)
		return "", nil
	}

	token, err := b.source.CurrentAccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring token from source session: %w", err)
	}

	return token, nil
}

func (b *CredentialBridge) matches(target *url.URL) bool {
	switch b.match {
	case AuthorityMatchContains:
		return strings.Contains(strings.ToLower(target.Hostname()), b.sourceHost)
	default:
		return authorityOf(target) == b.sourceAuthority
	}
}

// authorityOf returns lower case "host:port", filling in the default port of the scheme.
func authorityOf(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		default:
			port = "443"
		}
	}

	return strings.ToLower(u.Hostname()) + ":" + port
}

func isNil(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}

	return false
}
