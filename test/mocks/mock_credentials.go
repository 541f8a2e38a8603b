package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// MockCredentials is an azcore.TokenCredential returning a token that tests can change at any time.
type MockCredentials struct {
	mu     sync.Mutex
	token  string
	err    error
	calls  int
	scopes [][]string
}

func NewMockCredentials(token string) *MockCredentials {
	return &MockCredentials{token: token}
}

func (c *MockCredentials) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	c.scopes = append(c.scopes, options.Scopes)

	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}

	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(time.Hour * 1),
	}, nil
}

// SetToken replaces the token returned by subsequent calls.
func (c *MockCredentials) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
}

// SetError makes subsequent calls fail with err.
func (c *MockCredentials) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = err
}

// Calls returns how many tokens were requested.
func (c *MockCredentials) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

// Scopes returns the scopes of every token request.
func (c *MockCredentials) Scopes() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]string{}, c.scopes...)
}
