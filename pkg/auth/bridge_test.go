// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package auth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	orgUri   *url.URL
	authType AuthType
	token    string
	err      error
	calls    int
}

func newFakeSession(t *testing.T, orgUri string, authType AuthType, token string) *fakeSession {
	u, err := url.Parse(orgUri)
	require.NoError(t, err)

	return &fakeSession{orgUri: u, authType: authType, token: token}
}

func (s *fakeSession) AuthType() AuthType {
	return s.authType
}

func (s *fakeSession) ConnectedOrgUri() *url.URL {
	return s.orgUri
}

func (s *fakeSession) CurrentAccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	return s.token, s.err
}

func (s *fakeSession) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

type fakeTarget struct {
	authType AuthType
}

func (t *fakeTarget) AuthType() AuthType {
	return t.authType
}

func TestNewCredentialBridge(t *testing.T) {
	target := &fakeTarget{authType: AuthTypeExternalTokenManagement}

	t.Run("NilSource", func(t *testing.T) {
		bridge, err := NewCredentialBridge(nil, target, nil)
		require.ErrorIs(t, err, ErrNilClient)
		require.Nil(t, bridge)
	})

	t.Run("TypedNilSource", func(t *testing.T) {
		var source *fakeSession
		_, err := NewCredentialBridge(source, target, nil)
		require.ErrorIs(t, err, ErrNilClient)
	})

	t.Run("NilTarget", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token")
		_, err := NewCredentialBridge(source, nil, nil)
		require.ErrorIs(t, err, ErrNilClient)
	})

	t.Run("IncompatibleAuthModels", func(t *testing.T) {
		tests := []struct {
			name   string
			source AuthType
			target AuthType
		}{
			{name: "LegacySource", source: AuthTypeAD, target: AuthTypeExternalTokenManagement},
			{name: "LegacyTarget", source: AuthTypeClientSecret, target: AuthTypeAD},
			{name: "Office365Source", source: AuthTypeOffice365, target: AuthTypeOAuth},
			{name: "IfdTarget", source: AuthTypeCertificate, target: AuthTypeIFD},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				source := newFakeSession(t, "https://org.crm.example.com", tt.source, "token")
				_, err := NewCredentialBridge(source, &fakeTarget{authType: tt.target}, nil)

				var incompatibleErr *IncompatibleAuthModelError
				require.ErrorAs(t, err, &incompatibleErr)
				require.Equal(t, tt.source, incompatibleErr.Source)
				require.Equal(t, tt.target, incompatibleErr.Target)
			})
		}
	})

	t.Run("NotConnected", func(t *testing.T) {
		source := &fakeSession{authType: AuthTypeOAuth}
		_, err := NewCredentialBridge(source, target, nil)
		require.Error(t, err)
	})

	t.Run("Success", func(t *testing.T) {
		source := newFakeSession(t, "https://Org.CRM.example.com/", AuthTypeOAuth, "token")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)
		require.Equal(t, "org.crm.example.com:443", bridge.SourceAuthority())
		require.Equal(t, 0, source.calls)
	})
}

func TestCredentialBridgeGetToken(t *testing.T) {
	target := &fakeTarget{authType: AuthTypeExternalTokenManagement}

	t.Run("MatchingAuthority", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token-1")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		token, err := bridge.GetToken(context.Background(), "https://org.crm.example.com/api")
		require.NoError(t, err)
		require.Equal(t, "token-1", token)

		token, err = bridge.GetToken(context.Background(), "https://other.example.com/api")
		require.NoError(t, err)
		require.Equal(t, "", token)
	})

	t.Run("TokenIsReadLive", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeClientSecret, "token-1")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		token, err := bridge.GetToken(context.Background(), "https://org.crm.example.com/api/data/v9.2/accounts")
		require.NoError(t, err)
		require.Equal(t, "token-1", token)

		source.setToken("token-2")

		token, err = bridge.GetToken(context.Background(), "https://org.crm.example.com/api/data/v9.2/accounts")
		require.NoError(t, err)
		require.Equal(t, "token-2", token)
		require.Equal(t, 2, source.calls)
	})

	t.Run("ExactMatch", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		tests := map[string]string{
			"https://org.crm.example.com":              "token",
			"https://ORG.crm.example.com/api":          "token",
			"https://org.crm.example.com:443/api":      "token",
			"https://org.crm.example.com:8443/api":     "",
			"https://myorg.crm.example.com/api":        "",
			"https://org.crm.example.com.evil.net/api": "",
			"not a uri":                                "",
			"/api/data/v9.2/accounts":                  "",
			"://missing-scheme":                        "",
		}

		for uri, expected := range tests {
			token, err := bridge.GetToken(context.Background(), uri)
			require.NoError(t, err, uri)
			require.Equal(t, expected, token, uri)
		}
	})

	t.Run("ContainsMatch", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token")
		bridge, err := NewCredentialBridge(source, target, &BridgeOptions{Match: AuthorityMatchContains})
		require.NoError(t, err)

		tests := map[string]string{
			"https://org.crm.example.com/api":      "token",
			"https://myorg.crm.example.com/api":    "token",
			"https://org.crm.example.com:8443/api": "token",
			"https://other.example.com/api":        "",
		}

		for uri, expected := range tests {
			token, err := bridge.GetToken(context.Background(), uri)
			require.NoError(t, err, uri)
			require.Equal(t, expected, token, uri)
		}
	})

	t.Run("SourceFailure", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "")
		source.err = errors.New("refresh token expired")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		_, err = bridge.GetToken(context.Background(), "https://org.crm.example.com/api")
		require.ErrorIs(t, err, source.err)
	})

	t.Run("Cancelled", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = bridge.GetToken(ctx, "https://org.crm.example.com/api")
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, source.calls)
	})

	t.Run("Concurrent", func(t *testing.T) {
		source := newFakeSession(t, "https://org.crm.example.com", AuthTypeOAuth, "token")
		bridge, err := NewCredentialBridge(source, target, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				token, err := bridge.GetToken(context.Background(), "https://org.crm.example.com/api")
				if err != nil || token != "token" {
					t.Errorf("unexpected token %q, err %v", token, err)
				}
			}()
		}
		wg.Wait()

		source.mu.Lock()
		defer source.mu.Unlock()
		require.Equal(t, 20, source.calls)
	})
}
