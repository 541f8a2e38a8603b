// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package dataverse is a client for the Dataverse Web API.
package dataverse

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/azure/dataverse-client-go/pkg/auth"
	"github.com/azure/dataverse-client-go/pkg/azsdk"
	"github.com/azure/dataverse-client-go/pkg/dverrors"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultApiVersion = "9.2"
	DefaultUserAgent  = "dataverse-client-go/" + moduleVersion

	tracerName = "github.com/azure/dataverse-client-go/pkg/dataverse"
)

// ServiceClientOptions configures a ServiceClient.
type ServiceClientOptions struct {
	// ClientOptions configures the HTTP pipeline. When nil, options with the default user agent
	// and correlation header policies are used.
	ClientOptions *azcore.ClientOptions
	// ApiVersion defaults to DefaultApiVersion.
	ApiVersion string
	// AuthType is the authentication model of the credential. Defaults to auth.AuthTypeOAuth.
	AuthType auth.AuthType
	// EntitySetNames maps table logical names to entity set names that do not follow
	// the default pluralization.
	EntitySetNames map[string]string
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// ServiceClient calls the Dataverse Web API of a single organization.
// It is safe for concurrent use.
type ServiceClient struct {
	orgUri     *url.URL
	baseUrl    string
	authType   auth.AuthType
	credential azcore.TokenCredential
	pipeline   runtime.Pipeline
	entitySets map[string]string
	tracer     trace.Tracer
}

var (
	_ OrganizationServiceAsync = (*ServiceClient)(nil)
	_ EntityCreator            = (*ServiceClient)(nil)
	_ auth.TokenSource         = (*ServiceClient)(nil)
)

// NewServiceClient creates a client for the organization at orgUri, e.g. "https://org.crm.dynamics.com".
func NewServiceClient(
	orgUri string,
	credential azcore.TokenCredential,
	options *ServiceClientOptions,
) (*ServiceClient, error) {
	if credential == nil {
		return nil, fmt.Errorf("credential is required: %w", ErrInvalidArgument)
	}

	parsed, err := url.Parse(orgUri)
	if err != nil {
		return nil, fmt.Errorf("parsing organization uri: %w: %w", err, ErrInvalidArgument)
	}

	if !strings.EqualFold(parsed.Scheme, "https") || parsed.Host == "" {
		return nil, fmt.Errorf("organization uri '%s' must be an absolute https uri: %w", orgUri, ErrInvalidArgument)
	}

	if options == nil {
		options = &ServiceClientOptions{}
	}

	authType := options.AuthType
	if authType == "" {
		authType = auth.AuthTypeOAuth
	}

	if !authType.IsTokenBased() {
		return nil, fmt.Errorf(
			"authentication type '%s' is not supported by the Web API client: %w",
			authType,
			ErrInvalidArgument,
		)
	}

	apiVersion := options.ApiVersion
	if apiVersion == "" {
		apiVersion = DefaultApiVersion
	}

	clientOptions := options.ClientOptions
	if clientOptions == nil {
		clientOptions = azsdk.NewClientOptionsBuilder().
			SetUserAgent(DefaultUserAgent).
			SetCorrelation(true).
			BuildCoreClientOptions()
	}

	tracerProvider := options.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	entitySets := map[string]string{}
	for logicalName, setName := range options.EntitySetNames {
		entitySets[strings.ToLower(logicalName)] = setName
	}

	orgRoot := &url.URL{Scheme: "https", Host: strings.ToLower(parsed.Host)}

	return &ServiceClient{
		orgUri:     orgRoot,
		baseUrl:    fmt.Sprintf("%s/api/data/v%s", orgRoot.String(), apiVersion),
		authType:   authType,
		credential: credential,
		pipeline:   NewPipeline(credential, orgRoot, clientOptions),
		entitySets: entitySets,
		tracer:     tracerProvider.Tracer(tracerName),
	}, nil
}

// ConnectedOrgUri returns the root uri of the organization.
func (c *ServiceClient) ConnectedOrgUri() *url.URL {
	orgUri := *c.orgUri
	return &orgUri
}

func (c *ServiceClient) AuthType() auth.AuthType {
	return c.authType
}

// CurrentAccessToken returns the token the client sends with its next request.
// The credential decides when the token is refreshed.
func (c *ServiceClient) CurrentAccessToken(ctx context.Context) (string, error) {
	token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{Scope(c.orgUri)},
	})
	if err != nil {
		return "", err
	}

	return token.Token, nil
}

// EntitySetName returns the Web API collection name of a table.
func (c *ServiceClient) EntitySetName(logicalName string) string {
	if setName, has := c.entitySets[strings.ToLower(logicalName)]; has {
		return setName
	}

	return DefaultEntitySetName(logicalName)
}

func (c *ServiceClient) Create(ctx context.Context, entity *Entity) (id uuid.UUID, err error) {
	ctx, span := c.startSpan(ctx, "Create", entityAttributes(entity)...)
	defer func() { endSpan(span, err) }()

	if err := validateEntity(entity, false); err != nil {
		return uuid.Nil, err
	}

	res, err := c.send(ctx, http.MethodPost, c.EntitySetName(entity.LogicalName), nil, nil, c.entityPayload(entity),
		http.StatusNoContent, http.StatusCreated, http.StatusOK)
	if err != nil {
		return uuid.Nil, err
	}
	defer runtime.Drain(res)

	if entityUrl := res.Header.Get(entityIdHeader); entityUrl != "" {
		id, err := parseEntityId(entityUrl)
		if err != nil {
			return uuid.Nil, dverrors.FromTransportFault(err, nil)
		}
		return id, nil
	}

	if entity.Id != uuid.Nil {
		return entity.Id, nil
	}

	return uuid.Nil, dverrors.FromTransportFault(
		fmt.Errorf("response for new '%s' row has no %s header", entity.LogicalName, entityIdHeader), nil)
}

func (c *ServiceClient) CreateAndReturn(ctx context.Context, entity *Entity) (created *Entity, err error) {
	ctx, span := c.startSpan(ctx, "CreateAndReturn", entityAttributes(entity)...)
	defer func() { endSpan(span, err) }()

	if err := validateEntity(entity, false); err != nil {
		return nil, err
	}

	headers := map[string]string{"Prefer": "return=representation," + includeAnnotationsAll}
	res, err := c.send(ctx, http.MethodPost, c.EntitySetName(entity.LogicalName), nil, headers, c.entityPayload(entity),
		http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	body, err := readJSON(res)
	if err != nil {
		return nil, err
	}

	return entityFromJSON(entity.LogicalName, body), nil
}

func (c *ServiceClient) Retrieve(
	ctx context.Context,
	entityName string,
	id uuid.UUID,
	columns ColumnSet,
) (entity *Entity, err error) {
	ctx, span := c.startSpan(ctx, "Retrieve", attribute.String("dataverse.entity", entityName))
	defer func() { endSpan(span, err) }()

	if err := validateReference(entityName, id); err != nil {
		return nil, err
	}

	query := url.Values{}
	if sel := columns.selectClause(); sel != "" {
		query.Set("$select", sel)
	}

	headers := map[string]string{"Prefer": includeAnnotationsAll}
	res, err := c.send(ctx, http.MethodGet, c.entityPath(entityName, id), query, headers, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	body, err := readJSON(res)
	if err != nil {
		return nil, err
	}

	entity = entityFromJSON(entityName, body)
	entity.Id = id

	return entity, nil
}

// Update changes the columns set on entity. The row must exist; Update never creates it.
func (c *ServiceClient) Update(ctx context.Context, entity *Entity) (err error) {
	ctx, span := c.startSpan(ctx, "Update", entityAttributes(entity)...)
	defer func() { endSpan(span, err) }()

	if err := validateEntity(entity, true); err != nil {
		return err
	}

	headers := map[string]string{"If-Match": "*"}
	res, err := c.send(ctx, http.MethodPatch, c.entityPath(entity.LogicalName, entity.Id), nil, headers,
		c.entityPayload(entity), http.StatusNoContent, http.StatusOK)
	if err != nil {
		return err
	}

	runtime.Drain(res)
	return nil
}

func (c *ServiceClient) Delete(ctx context.Context, entityName string, id uuid.UUID) (err error) {
	ctx, span := c.startSpan(ctx, "Delete", attribute.String("dataverse.entity", entityName))
	defer func() { endSpan(span, err) }()

	if err := validateReference(entityName, id); err != nil {
		return err
	}

	res, err := c.send(ctx, http.MethodDelete, c.entityPath(entityName, id), nil, nil, nil,
		http.StatusNoContent, http.StatusOK)
	if err != nil {
		return err
	}

	runtime.Drain(res)
	return nil
}

func (c *ServiceClient) Associate(
	ctx context.Context,
	entityName string,
	id uuid.UUID,
	relationship Relationship,
	related []EntityReference,
) (err error) {
	ctx, span := c.startSpan(ctx, "Associate",
		attribute.String("dataverse.entity", entityName),
		attribute.String("dataverse.relationship", relationship.SchemaName),
	)
	defer func() { endSpan(span, err) }()

	if err := validateRelationship(entityName, id, relationship, related); err != nil {
		return err
	}

	path := fmt.Sprintf("%s/%s/$ref", c.entityPath(entityName, id), relationship.SchemaName)
	for _, ref := range related {
		payload := map[string]any{
			odataIdProperty: c.baseUrl + "/" + c.entityPath(ref.LogicalName, ref.Id),
		}

		res, err := c.send(ctx, http.MethodPost, path, nil, nil, payload, http.StatusNoContent, http.StatusOK)
		if err != nil {
			return err
		}
		runtime.Drain(res)
	}

	return nil
}

func (c *ServiceClient) Disassociate(
	ctx context.Context,
	entityName string,
	id uuid.UUID,
	relationship Relationship,
	related []EntityReference,
) (err error) {
	ctx, span := c.startSpan(ctx, "Disassociate",
		attribute.String("dataverse.entity", entityName),
		attribute.String("dataverse.relationship", relationship.SchemaName),
	)
	defer func() { endSpan(span, err) }()

	if err := validateRelationship(entityName, id, relationship, related); err != nil {
		return err
	}

	for _, ref := range related {
		path := fmt.Sprintf("%s/%s(%s)/$ref", c.entityPath(entityName, id), relationship.SchemaName, ref.Id)

		res, err := c.send(ctx, http.MethodDelete, path, nil, nil, nil, http.StatusNoContent, http.StatusOK)
		if err != nil {
			return err
		}
		runtime.Drain(res)
	}

	return nil
}

// Execute sends a function or action. A reply without content yields the default response of the request kind.
func (c *ServiceClient) Execute(
	ctx context.Context,
	request *OrganizationRequest,
) (response *OrganizationResponse, err error) {
	if request == nil {
		return nil, fmt.Errorf("request is required: %w", ErrInvalidArgument)
	}

	ctx, span := c.startSpan(ctx, "Execute", attribute.String("dataverse.request.kind", request.Kind.String()))
	defer func() { endSpan(span, err) }()

	info, has := requestKinds[request.Kind]
	if !has {
		return nil, fmt.Errorf("unknown request kind %s: %w", request.Kind, ErrInvalidArgument)
	}

	name, err := info.messageName(request)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("dataverse.request.name", name))

	var res *http.Response
	if info.method == http.MethodGet {
		path, query, pathErr := functionPath(name, request.Parameters)
		if pathErr != nil {
			return nil, pathErr
		}

		res, err = c.send(ctx, http.MethodGet, path, query, nil, nil, http.StatusOK, http.StatusNoContent)
	} else {
		parameters := request.Parameters
		if parameters == nil {
			parameters = map[string]any{}
		}

		res, err = c.send(ctx, http.MethodPost, name, nil, nil, c.parameterPayload(parameters),
			http.StatusOK, http.StatusNoContent)
	}
	if err != nil {
		return nil, err
	}

	response = info.newDefaultResponse(name)
	if res.StatusCode == http.StatusNoContent {
		runtime.Drain(res)
		return response, nil
	}

	body, err := readJSON(res)
	if err != nil {
		return nil, err
	}

	maps.Copy(response.Results, resultsFromJSON(body))
	return response, nil
}

// WhoAmI returns the ids of the calling user, its business unit and organization.
func (c *ServiceClient) WhoAmI(ctx context.Context) (*WhoAmIResponse, error) {
	response, err := c.Execute(ctx, &OrganizationRequest{Kind: RequestKindWhoAmI})
	if err != nil {
		return nil, err
	}

	whoAmI := &WhoAmIResponse{}
	targets := map[string]*uuid.UUID{
		"UserId":         &whoAmI.UserId,
		"BusinessUnitId": &whoAmI.BusinessUnitId,
		"OrganizationId": &whoAmI.OrganizationId,
	}

	for name, target := range targets {
		value, _ := response.Results[name].(string)
		if value == "" {
			continue
		}

		id, err := uuid.Parse(value)
		if err != nil {
			return nil, dverrors.FromTransportFault(fmt.Errorf("parsing %s: %w", name, err), nil)
		}
		*target = id
	}

	return whoAmI, nil
}

// RetrieveVersion returns the version of the organization, e.g. "9.2.24074.196".
func (c *ServiceClient) RetrieveVersion(ctx context.Context) (string, error) {
	response, err := c.Execute(ctx, &OrganizationRequest{Kind: RequestKindRetrieveVersion})
	if err != nil {
		return "", err
	}

	version, _ := response.Results["Version"].(string)
	return version, nil
}

func (c *ServiceClient) RetrieveMultiple(ctx context.Context, query QueryBase) (collection *EntityCollection, err error) {
	if query == nil {
		return nil, fmt.Errorf("query is required: %w", ErrInvalidArgument)
	}

	ctx, span := c.startSpan(ctx, "RetrieveMultiple")
	defer func() { endSpan(span, err) }()

	request, err := query.odataQuery()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("dataverse.entity", request.entityName))

	prefer := includeAnnotationsAll
	if request.pageSize > 0 {
		prefer = fmt.Sprintf("%s,odata.maxpagesize=%d", prefer, request.pageSize)
	}

	res, err := c.send(ctx, http.MethodGet, c.EntitySetName(request.entityName), request.options,
		map[string]string{"Prefer": prefer}, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	return readCollection(request.entityName, res)
}

// RetrieveNextPage follows the NextLink of a collection returned by RetrieveMultiple.
func (c *ServiceClient) RetrieveNextPage(
	ctx context.Context,
	previous *EntityCollection,
) (collection *EntityCollection, err error) {
	if previous == nil || previous.NextLink == "" {
		return nil, fmt.Errorf("collection has no next page: %w", ErrInvalidArgument)
	}

	ctx, span := c.startSpan(ctx, "RetrieveNextPage", attribute.String("dataverse.entity", previous.EntityName))
	defer func() { endSpan(span, err) }()

	path, found := strings.CutPrefix(previous.NextLink, c.baseUrl+"/")
	if !found {
		return nil, fmt.Errorf(
			"next link '%s' does not belong to this organization: %w",
			previous.NextLink,
			ErrInvalidArgument,
		)
	}

	res, err := c.send(ctx, http.MethodGet, path, nil, map[string]string{"Prefer": includeAnnotationsAll}, nil,
		http.StatusOK)
	if err != nil {
		return nil, err
	}

	return readCollection(previous.EntityName, res)
}

// send issues a request relative to the Web API root. Unexpected status codes and transport
// failures are returned as *dverrors.ConnectionError; cancellation is returned as ctx.Err().
func (c *ServiceClient) send(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	headers map[string]string,
	body any,
	statusCodes ...int,
) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := runtime.NewRequest(ctx, method, c.baseUrl+"/"+path)
	if err != nil {
		return nil, fmt.Errorf("failed creating request: %w", err)
	}

	raw := req.Raw()
	if len(query) > 0 {
		values := raw.URL.Query()
		maps.Copy(values, query)
		raw.URL.RawQuery = values.Encode()
	}

	for key, value := range headers {
		raw.Header.Set(key, value)
	}

	if body != nil {
		if err := runtime.MarshalAsJSON(req, body); err != nil {
			return nil, fmt.Errorf("failed serializing request body: %w", err)
		}
	}

	res, err := c.pipeline.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, dverrors.FromError(err)
	}

	if !runtime.HasStatusCode(res, statusCodes...) {
		return nil, dverrors.FromResponse(res)
	}

	return res, nil
}

func (c *ServiceClient) entityPath(logicalName string, id uuid.UUID) string {
	return fmt.Sprintf("%s(%s)", c.EntitySetName(logicalName), id)
}

// entityPayload converts the attributes of entity to a Web API body. References become lookup bindings.
func (c *ServiceClient) entityPayload(entity *Entity) map[string]any {
	payload := make(map[string]any, len(entity.Attributes)+1)
	for name, value := range entity.Attributes {
		switch ref := value.(type) {
		case EntityReference:
			payload[name+odataBindSuffix] = "/" + c.entityPath(ref.LogicalName, ref.Id)
		case *EntityReference:
			if ref == nil {
				payload[name] = nil
			} else {
				payload[name+odataBindSuffix] = "/" + c.entityPath(ref.LogicalName, ref.Id)
			}
		default:
			payload[name] = value
		}
	}

	if entity.Id != uuid.Nil {
		payload[strings.ToLower(entity.LogicalName)+"id"] = entity.Id
	}

	return payload
}

// parameterPayload converts action parameters. References become entity objects keyed by their primary key.
func (c *ServiceClient) parameterPayload(parameters map[string]any) map[string]any {
	payload := make(map[string]any, len(parameters))
	for name, value := range parameters {
		ref, ok := value.(EntityReference)
		if !ok {
			payload[name] = value
			continue
		}

		entityRef := map[string]any{"@odata.type": "Microsoft.Dynamics.CRM." + ref.LogicalName}
		entityRef[strings.ToLower(ref.LogicalName)+"id"] = ref.Id
		payload[name] = entityRef
	}

	return payload
}

// functionPath builds "Name(p1=@p1,...)" with parameter aliases passed in the query string.
func functionPath(name string, parameters map[string]any) (string, url.Values, error) {
	if len(parameters) == 0 {
		return name + "()", nil, nil
	}

	query := url.Values{}
	aliases := make([]string, 0, len(parameters))
	for _, key := range slices.Sorted(maps.Keys(parameters)) {
		literal, err := formatLiteral(parameters[key])
		if err != nil {
			return "", nil, fmt.Errorf("parameter '%s': %w", key, err)
		}

		aliases = append(aliases, fmt.Sprintf("%s=@%s", key, key))
		query.Set("@"+key, literal)
	}

	return fmt.Sprintf("%s(%s)", name, strings.Join(aliases, ",")), query, nil
}

func readJSON(res *http.Response) (gjson.Result, error) {
	body, err := runtime.Payload(res)
	if err != nil {
		return gjson.Result{}, dverrors.FromTransportFault(fmt.Errorf("reading response: %w", err), nil)
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, dverrors.FromTransportFault(errors.New("response body is not valid JSON"), body)
	}

	return gjson.ParseBytes(body), nil
}

func readCollection(entityName string, res *http.Response) (*EntityCollection, error) {
	body, err := readJSON(res)
	if err != nil {
		return nil, err
	}

	collection := &EntityCollection{
		EntityName:       entityName,
		Entities:         []*Entity{},
		NextLink:         body.Get(gjsonKey(odataNextLinkProperty)).String(),
		PagingCookie:     body.Get(gjsonKey(pagingCookieProperty)).String(),
		TotalRecordCount: -1,
	}

	if count := body.Get(gjsonKey(odataCountProperty)); count.Exists() {
		collection.TotalRecordCount = int(count.Int())
	}

	collection.MoreRecords = collection.NextLink != "" || body.Get(gjsonKey(moreRecordsProperty)).Bool()

	body.Get("value").ForEach(func(_, row gjson.Result) bool {
		collection.Entities = append(collection.Entities, entityFromJSON(entityName, row))
		return true
	})

	return collection, nil
}

// gjsonKey escapes the path characters used in OData annotation names.
func gjsonKey(name string) string {
	return strings.ReplaceAll(name, ".", `\.`)
}

func (c *ServiceClient) startSpan(
	ctx context.Context,
	operation string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("dataverse.org", c.orgUri.Host))
	return c.tracer.Start(ctx, "dataverse."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

func entityAttributes(entity *Entity) []attribute.KeyValue {
	if entity == nil {
		return nil
	}

	return []attribute.KeyValue{attribute.String("dataverse.entity", entity.LogicalName)}
}

func validateEntity(entity *Entity, requireId bool) error {
	if entity == nil {
		return fmt.Errorf("entity is required: %w", ErrInvalidArgument)
	}

	if entity.LogicalName == "" {
		return fmt.Errorf("entity logical name is required: %w", ErrInvalidArgument)
	}

	if requireId && entity.Id == uuid.Nil {
		return fmt.Errorf("'%s' entity id is required: %w", entity.LogicalName, ErrInvalidArgument)
	}

	return nil
}

func validateReference(entityName string, id uuid.UUID) error {
	if entityName == "" {
		return fmt.Errorf("entity name is required: %w", ErrInvalidArgument)
	}

	if id == uuid.Nil {
		return fmt.Errorf("'%s' id is required: %w", entityName, ErrInvalidArgument)
	}

	return nil
}

func validateRelationship(
	entityName string,
	id uuid.UUID,
	relationship Relationship,
	related []EntityReference,
) error {
	if err := validateReference(entityName, id); err != nil {
		return err
	}

	if relationship.SchemaName == "" {
		return fmt.Errorf("relationship schema name is required: %w", ErrInvalidArgument)
	}

	for _, ref := range related {
		if err := validateReference(ref.LogicalName, ref.Id); err != nil {
			return fmt.Errorf("related entity: %w", err)
		}
	}

	return nil
}
