// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package webapi contains a minimal Dataverse Web API client built directly on httputil.HttpClient.
// It is used by hosts that manage tokens themselves, or that still connect to on-premises organizations
// with domain credentials.
package webapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/azure/dataverse-client-go/pkg/auth"
	"github.com/azure/dataverse-client-go/pkg/dataverse"
	"github.com/azure/dataverse-client-go/pkg/dverrors"
	"github.com/azure/dataverse-client-go/pkg/httputil"
	"github.com/google/uuid"
)

// Ensure Client implements the narrow creation contract
var _ dataverse.EntityCreator = &Client{}

// TokenProvider returns the bearer token for a request sent to requestUri.
// An empty token sends the request without an Authorization header.
type TokenProvider func(ctx context.Context, requestUri string) (string, error)

type ClientOptions struct {
	// HttpClient defaults to the client stored in the context by httputil.WithHttpClient, or a default client.
	HttpClient httputil.HttpClient
	// ApiVersion defaults to dataverse.DefaultApiVersion.
	ApiVersion string
	// AuthType defaults to ExternalTokenManagement.
	AuthType auth.AuthType
	// TokenProvider is required for ExternalTokenManagement.
	TokenProvider TokenProvider
	// Domain credentials for AD connections.
	Domain   string
	Username string
	Password string
	// EntitySetNames maps table logical names to entity set names that differ from the default plural.
	EntitySetNames map[string]string
	// BridgeOptions configures the credential bridge created by NewClientFromSession.
	BridgeOptions *auth.BridgeOptions
}

// Client creates rows through the Dataverse Web API.
type Client struct {
	orgUri        *url.URL
	apiVersion    string
	authType      auth.AuthType
	tokenProvider TokenProvider
	basicAuth     string
	entitySets    map[string]string
	httpClient    httputil.HttpClient
}

// NewClient creates a client for the organization at orgUri.
func NewClient(orgUri string, options *ClientOptions) (*Client, error) {
	if options == nil {
		options = &ClientOptions{}
	}

	parsed, err := url.Parse(orgUri)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("organization uri '%s' is not an absolute url: %w", orgUri, dataverse.ErrInvalidArgument)
	}

	client := &Client{
		orgUri:        parsed,
		apiVersion:    options.ApiVersion,
		authType:      options.AuthType,
		tokenProvider: options.TokenProvider,
		entitySets:    map[string]string{},
		httpClient:    options.HttpClient,
	}

	if client.apiVersion == "" {
		client.apiVersion = dataverse.DefaultApiVersion
	}

	if client.authType == "" {
		client.authType = auth.AuthTypeExternalTokenManagement
	}

	for name, setName := range options.EntitySetNames {
		client.entitySets[strings.ToLower(name)] = setName
	}

	switch client.authType {
	case auth.AuthTypeExternalTokenManagement:
		if parsed.Scheme != "https" {
			return nil, fmt.Errorf("token based connections require https: %w", dataverse.ErrInvalidArgument)
		}

		if options.TokenProvider == nil {
			return nil, fmt.Errorf("external token management requires a token provider: %w",
				dataverse.ErrInvalidArgument)
		}
	case auth.AuthTypeAD:
		if options.Username == "" {
			return nil, fmt.Errorf("AD connections require a username: %w", dataverse.ErrInvalidArgument)
		}

		user := options.Username
		if options.Domain != "" {
			user = options.Domain + `\` + options.Username
		}
		client.basicAuth = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+options.Password))
	default:
		return nil, fmt.Errorf("authentication type '%s' is not supported by the Web API client: %w",
			client.authType, dataverse.ErrInvalidArgument)
	}

	return client, nil
}

// NewClientFromSession creates a client that authenticates with the live session of source.
// Each request asks source for its current token, so the two clients never hold diverging tokens.
func NewClientFromSession(source auth.TokenSource, options *ClientOptions) (*Client, error) {
	clientOptions := ClientOptions{}
	if options != nil {
		clientOptions = *options
	}

	if clientOptions.AuthType == "" {
		clientOptions.AuthType = auth.AuthTypeExternalTokenManagement
	}

	bridge, err := auth.NewCredentialBridge(source, authMode(clientOptions.AuthType), clientOptions.BridgeOptions)
	if err != nil {
		return nil, err
	}

	clientOptions.TokenProvider = bridge.GetToken
	return NewClient(source.ConnectedOrgUri().String(), &clientOptions)
}

// authMode reports the authentication model of a client that is not created yet.
type authMode auth.AuthType

func (m authMode) AuthType() auth.AuthType {
	return auth.AuthType(m)
}

func (c *Client) ConnectedOrgUri() *url.URL {
	orgUri := *c.orgUri
	return &orgUri
}

func (c *Client) AuthType() auth.AuthType {
	return c.authType
}

// CreateAndReturn creates a row and returns it as stored by the server.
func (c *Client) CreateAndReturn(ctx context.Context, entity *dataverse.Entity) (*dataverse.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if entity == nil || entity.LogicalName == "" {
		return nil, fmt.Errorf("entity with a logical name is required: %w", dataverse.ErrInvalidArgument)
	}

	body, err := json.Marshal(c.payload(entity))
	if err != nil {
		return nil, fmt.Errorf("encoding '%s' row: %w", entity.LogicalName, err)
	}

	requestUrl := c.apiUrl(c.entitySetName(entity.LogicalName))
	headers := map[string]string{
		"Prefer":                 `return=representation,odata.include-annotations="*"`,
		"OData-MaxVersion":       "4.0",
		"OData-Version":          "4.0",
		"x-ms-client-request-id": uuid.NewString(),
	}

	if err := c.authorize(ctx, requestUrl, headers); err != nil {
		return nil, err
	}

	res, err := c.client(ctx).Send(ctx, &httputil.HttpRequestMessage{
		Url:     requestUrl,
		Method:  http.MethodPost,
		Headers: headers,
		Body:    string(body),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, dverrors.FromTransportFault(err, nil)
	}

	if !res.IsSuccess() {
		statusErr := &StatusError{Method: http.MethodPost, Url: requestUrl, StatusCode: res.Status}
		return nil, dverrors.FromTransportFault(statusErr, res.Body)
	}

	created, err := dataverse.ParseEntity(entity.LogicalName, res.Body)
	if err != nil {
		return nil, dverrors.FromTransportFault(err, res.Body)
	}

	return created, nil
}

func (c *Client) authorize(ctx context.Context, requestUrl string, headers map[string]string) error {
	if c.basicAuth != "" {
		headers["Authorization"] = c.basicAuth
		return nil
	}

	token, err := c.tokenProvider(ctx, requestUrl)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return dverrors.FromTransportFault(fmt.Errorf("acquiring token: %w", err), nil)
	}

	if token == "" {
		log.Printf("webapi: no token for '%s', sending anonymous request", requestUrl)
		return nil
	}

	headers["Authorization"] = "Bearer " + token
	return nil
}

func (c *Client) client(ctx context.Context) httputil.HttpClient {
	if c.httpClient != nil {
		return c.httpClient
	}

	return httputil.GetHttpClient(ctx)
}

func (c *Client) apiUrl(path string) string {
	return fmt.Sprintf("%s/api/data/v%s/%s", strings.TrimSuffix(c.orgUri.String(), "/"), c.apiVersion, path)
}

func (c *Client) entitySetName(logicalName string) string {
	if setName, has := c.entitySets[strings.ToLower(logicalName)]; has {
		return setName
	}

	return dataverse.DefaultEntitySetName(logicalName)
}

// payload converts the attributes of entity to a request body. References become lookup bindings.
func (c *Client) payload(entity *dataverse.Entity) map[string]any {
	payload := make(map[string]any, len(entity.Attributes)+1)
	for name, value := range entity.Attributes {
		var ref *dataverse.EntityReference
		switch v := value.(type) {
		case dataverse.EntityReference:
			ref = &v
		case *dataverse.EntityReference:
			if v == nil {
				payload[name] = nil
				continue
			}
			ref = v
		default:
			payload[name] = value
			continue
		}

		payload[name+"@odata.bind"] = fmt.Sprintf("/%s(%s)", c.entitySetName(ref.LogicalName), ref.Id)
	}

	if entity.Id != uuid.Nil {
		payload[strings.ToLower(entity.LogicalName)+"id"] = entity.Id
	}

	return payload
}

// StatusError is the transport fault for a response with an unsuccessful status.
type StatusError struct {
	Method     string
	Url        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.Url, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}
