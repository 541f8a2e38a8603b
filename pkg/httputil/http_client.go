// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

type HttpRequestMessage struct {
	Url     string
	Method  string
	Headers map[string]string
	Body    string
}

type HttpResponseMessage struct {
	Headers map[string]string
	Status  int
	Body    []byte
}

// IsSuccess is true for 2xx responses.
func (r *HttpResponseMessage) IsSuccess() bool {
	return r.Status >= 200 && r.Status < 300
}

type HttpClient interface {
	Send(ctx context.Context, req *HttpRequestMessage) (*HttpResponseMessage, error)
}

type httpClient struct {
	client *http.Client
}

func (hu *httpClient) Send(ctx context.Context, req *HttpRequestMessage) (*HttpResponseMessage, error) {
	requestBytes := []byte(req.Body)
	requestReader := bytes.NewReader(requestBytes)

	request, err := http.NewRequestWithContext(ctx, req.Method, req.Url, requestReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	request.Header.Add("Content-Type", "application/json")
	request.Header.Add("Accept", "application/json")

	for k, v := range req.Headers {
		request.Header.Set(k, v)
	}

	response, err := hu.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("executing http request: %w", err)
	}

	defer response.Body.Close()
	responseBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	headers := make(map[string]string, len(response.Header))
	for k := range response.Header {
		headers[k] = response.Header.Get(k)
	}

	responseMessage := &HttpResponseMessage{
		Headers: headers,
		Status:  response.StatusCode,
		Body:    responseBytes,
	}

	return responseMessage, nil
}

// NewHttpClient creates a HttpClient backed by the specified client, or http.DefaultClient when nil.
func NewHttpClient(client *http.Client) HttpClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &httpClient{client: client}
}

type contextKey string

const (
	httpClientContextKey contextKey = "httpclient"
)

// GetHttpClient attempts to retrieve a HttpClient instance from the specified context.
// Will return the client if found or create a new instance
func GetHttpClient(ctx context.Context) HttpClient {
	value := ctx.Value(httpClientContextKey)
	client, ok := value.(HttpClient)

	if !ok {
		return NewHttpClient(nil)
	}

	return client
}

func WithHttpClient(ctx context.Context, httpClient HttpClient) context.Context {
	return context.WithValue(ctx, httpClientContextKey, httpClient)
}
