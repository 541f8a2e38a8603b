// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package dverrors

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	// NoServerReportMessage is the message used when the server returned no usable error body.
	NoServerReportMessage = "Server Error, no error report generated from server"

	// UnknownErrorCode is the numeric code of an error without a parseable server code.
	UnknownErrorCode int32 = -1

	ServerApiSource = "Dataverse Server API"
	ClientSource    = "Dataverse Client"
)

// ConnectionError is the single error shape returned for failed Dataverse operations.
// Values are immutable once constructed.
type ConnectionError struct {
	message      string
	code         int32
	helpLink     string
	details      map[string]string
	source       string
	serverReport bool
	cause        error
}

// NewConnectionError builds a ConnectionError from already decomposed fields.
// A nil details map is treated as empty.
func NewConnectionError(
	message string,
	code int32,
	helpLink string,
	details map[string]string,
	cause error,
) *ConnectionError {
	return &ConnectionError{
		message:  message,
		code:     code,
		helpLink: helpLink,
		details:  cloneDetails(details),
		source:   ClientSource,
		cause:    cause,
	}
}

// FromTransportFault converts a failed transport call and the response body it produced.
// When the body carries a Dataverse error object the server's code, message, help link and details
// are used; otherwise the result is the generic "no error report" error. fault is always kept as the cause.
// Returns nil when fault is nil.
func FromTransportFault(fault error, body []byte) *ConnectionError {
	if fault == nil {
		return nil
	}

	descriptor, ok := ParseErrorPayload(body)
	if !ok {
		return &ConnectionError{
			message: NoServerReportMessage,
			code:    UnknownErrorCode,
			details: map[string]string{},
			source:  ClientSource,
			cause:   fault,
		}
	}

	return &ConnectionError{
		message:      descriptor.Message,
		code:         ParseErrorCode(descriptor.Code),
		helpLink:     descriptor.HelpLink,
		details:      cloneDetails(descriptor.Details),
		source:       ServerApiSource,
		serverReport: true,
		cause:        fault,
	}
}

// FromResponse converts an unsuccessful HTTP response. The cause is the *azcore.ResponseError
// for the response so status code and request details stay reachable through errors.As.
func FromResponse(resp *http.Response) *ConnectionError {
	if resp == nil {
		return nil
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		log.Printf("dverrors: reading error response body: %v", err)
		body = nil
	}

	return FromTransportFault(runtime.NewResponseError(resp), body)
}

// FromError normalizes any error returned by a transport. Errors that already are a ConnectionError
// are returned as is; an *azcore.ResponseError contributes its response body.
func FromError(err error) *ConnectionError {
	if err == nil {
		return nil
	}

	if connErr, ok := IsConnectionError(err); ok {
		return connErr
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.RawResponse != nil {
		body, readErr := runtime.Payload(respErr.RawResponse)
		if readErr != nil {
			log.Printf("dverrors: reading error response body: %v", readErr)
		}

		return FromTransportFault(err, body)
	}

	return FromTransportFault(err, nil)
}

// IsConnectionError reports whether err wraps a ConnectionError.
func IsConnectionError(err error) (*ConnectionError, bool) {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr, true
	}

	return nil, false
}

// ParseErrorCode interprets a Dataverse error code as a 32-bit two's complement hex value,
// e.g. "80040216" is -2147220970. An optional 0x prefix is accepted. Blank codes, non hex
// input and values wider than 32 bits yield UnknownErrorCode.
func ParseErrorCode(code string) int32 {
	code = strings.TrimSpace(code)
	if len(code) > 2 && (code[:2] == "0x" || code[:2] == "0X") {
		code = code[2:]
	}

	if code == "" {
		return UnknownErrorCode
	}

	value, err := strconv.ParseUint(code, 16, 32)
	if err != nil {
		return UnknownErrorCode
	}

	return int32(uint32(value))
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.code == UnknownErrorCode {
		return e.message
	}

	return fmt.Sprintf("%s (0x%08X)", e.message, uint32(e.code))
}

// Unwrap returns the transport failure that produced this error.
func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// Message returns the user facing message.
func (e *ConnectionError) Message() string {
	return e.message
}

// Code returns the numeric error code, or -1 when unknown.
func (e *ConnectionError) Code() int32 {
	return e.code
}

func (e *ConnectionError) HelpLink() string {
	return e.helpLink
}

// Details returns a copy of the server supplied error details.
func (e *ConnectionError) Details() map[string]string {
	return cloneDetails(e.details)
}

// Source identifies the subsystem the error originated from.
func (e *ConnectionError) Source() string {
	return e.source
}

// HasServerReport is true when the fields came from an error body sent by the server.
func (e *ConnectionError) HasServerReport() bool {
	return e.serverReport
}

// StatusCode returns the HTTP status of the failed response, or 0 when none was received.
func (e *ConnectionError) StatusCode() int {
	var respErr *azcore.ResponseError
	if errors.As(e.cause, &respErr) {
		return respErr.StatusCode
	}

	var statusErr httpStatusError
	if errors.As(e.cause, &statusErr) {
		return statusErr.HTTPStatusCode()
	}

	return 0
}

// httpStatusError is implemented by transport errors, other than azcore's, that carry an HTTP status.
type httpStatusError interface {
	error
	HTTPStatusCode() int
}

func cloneDetails(details map[string]string) map[string]string {
	if details == nil {
		return map[string]string{}
	}

	return maps.Clone(details)
}
