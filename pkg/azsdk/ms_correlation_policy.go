package azsdk

import (
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"go.opentelemetry.io/otel/trace"
)

// See https://github.com/Azure/azure-resource-manager-rpc/blob/master/v1.0/common-api-details.md#client-request-headers
const cMsCorrelationIdHeader = "x-ms-correlation-request-id"

// Request id assigned by Dataverse, echoed back on every response.
const cMsServiceRequestIdHeader = "x-ms-service-request-id"

// msCorrelationPolicy sets the correlation ID header from the trace active on the request context.
type msCorrelationPolicy struct {
	header string
}

// NewMsCorrelationPolicy creates a policy that sets Microsoft correlation ID headers on HTTP requests.
//
// Correlation IDs are taken from the trace context of each request. Requests without a trace are sent unchanged.
func NewMsCorrelationPolicy() policy.Policy {
	return &msCorrelationPolicy{
		header: cMsCorrelationIdHeader,
	}
}

func (p *msCorrelationPolicy) Do(req *policy.Request) (*http.Response, error) {
	rawRequest := req.Raw()
	spanCtx := trace.SpanContextFromContext(rawRequest.Context())
	if spanCtx.HasTraceID() {
		rawRequest.Header.Set(p.header, spanCtx.TraceID().String())
	}

	return req.Next()
}
