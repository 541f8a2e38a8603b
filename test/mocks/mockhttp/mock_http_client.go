package mockhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/azure/dataverse-client-go/pkg/httputil"
)

// MockHttpClient matches requests against registered expressions. It can be used as an azcore
// policy.Transporter and as an httputil.HttpClient.
type MockHttpClient struct {
	mu          sync.Mutex
	expressions []*HttpExpression
	requests    []*http.Request
}

type HttpExpression struct {
	http        *MockHttpClient
	predicateFn RequestPredicate
	responseFn  RespondFn
	error       error
}

type RequestPredicate func(request *http.Request) bool
type RespondFn func(request *http.Request) (*http.Response, error)

func NewMockHttpClient() *MockHttpClient {
	return &MockHttpClient{
		expressions: []*HttpExpression{},
	}
}

// Do implements policy.Transporter.
func (c *MockHttpClient) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)

	var match *HttpExpression
	for _, expr := range c.expressions {
		if expr.predicateFn(req) {
			match = expr
			break
		}
	}
	c.mu.Unlock()

	if match == nil {
		panic(fmt.Sprintf("No mock found for request: '%s %s'", req.Method, req.URL))
	}

	if match.error != nil {
		return nil, match.error
	}

	res, err := match.responseFn(req)
	if res != nil && res.Request == nil {
		res.Request = req
	}

	return res, err
}

// Send implements httputil.HttpClient.
func (c *MockHttpClient) Send(
	ctx context.Context,
	req *httputil.HttpRequestMessage,
) (*httputil.HttpResponseMessage, error) {
	rawRequest, err := http.NewRequestWithContext(ctx, req.Method, req.Url, strings.NewReader(req.Body))
	if err != nil {
		return nil, err
	}

	for k, v := range req.Headers {
		rawRequest.Header.Set(k, v)
	}

	res, err := c.Do(rawRequest)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	for k := range res.Header {
		headers[k] = res.Header.Get(k)
	}

	return &httputil.HttpResponseMessage{
		Headers: headers,
		Status:  res.StatusCode,
		Body:    body,
	}, nil
}

func (c *MockHttpClient) When(predicate RequestPredicate) *HttpExpression {
	expr := HttpExpression{
		http:        c,
		predicateFn: predicate,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expressions = append(c.expressions, &expr)
	return &expr
}

// Requests returns the requests received so far.
func (c *MockHttpClient) Requests() []*http.Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*http.Request{}, c.requests...)
}

func (c *MockHttpClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expressions = []*HttpExpression{}
	c.requests = nil
}

// Respond replies with the specified status, headers and body.
func (e *HttpExpression) Respond(status int, headers map[string]string, body string) *MockHttpClient {
	e.responseFn = func(request *http.Request) (*http.Response, error) {
		return NewResponse(request, status, headers, body), nil
	}
	return e.http
}

func (e *HttpExpression) RespondFn(responseFn RespondFn) *MockHttpClient {
	e.responseFn = responseFn
	return e.http
}

func (e *HttpExpression) SetError(err error) *MockHttpClient {
	e.error = err
	return e.http
}

// NewResponse builds an *http.Response for the request.
func NewResponse(request *http.Request, status int, headers map[string]string, body string) *http.Response {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}

	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    request,
	}
}

// ReadBody returns the request body as a string, leaving the request readable.
func ReadBody(request *http.Request) string {
	if request.Body == nil {
		return ""
	}

	body, err := io.ReadAll(request.Body)
	if err != nil {
		panic(err)
	}

	request.Body = io.NopCloser(bytes.NewReader(body))
	return string(body)
}
