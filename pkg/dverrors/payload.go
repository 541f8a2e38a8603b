// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

// Package dverrors normalizes the error bodies returned by the Dataverse Web API into a single error type.
package dverrors

import (
	"log"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	// Annotation prefix used by Dataverse for structured error details.
	ErrorDetailsPrefix = "@Microsoft.PowerApps.CDS.ErrorDetails."

	// Annotation carrying the documentation link for an error.
	HelpLinkProperty = "@Microsoft.PowerApps.CDS.HelpLink"
)

// ErrorDescriptor is the structured form of a Dataverse error body:
//
//	{
//	  "error": {
//	    "code": "80040216",
//	    "message": "Invalid argument\n<diagnostic lines>",
//	    "@Microsoft.PowerApps.CDS.HelpLink": "https://...",
//	    "@Microsoft.PowerApps.CDS.ErrorDetails.RequestId": "..."
//	  }
//	}
type ErrorDescriptor struct {
	// Code is the server supplied code, verbatim. Usually hex digits.
	Code string
	// Message is the first line of the server message, trimmed.
	Message string
	// HelpLink is empty when the server sent none.
	HelpLink string
	// Details holds the ErrorDetails annotations keyed by name with the prefix removed.
	Details map[string]string

	raw gjson.Result
}

// ParseErrorPayload extracts an ErrorDescriptor from a response body.
// ok is false when the body is empty, is not valid JSON, or has no top-level "error" object.
// An "error" object with a null or missing code still produces a descriptor.
func ParseErrorPayload(body []byte) (descriptor *ErrorDescriptor, ok bool) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, false
	}

	if !gjson.ValidBytes(body) {
		log.Printf("dverrors: response body is not valid json, ignoring (%d bytes)", len(body))
		return nil, false
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		log.Printf("dverrors: response body is not a json object, ignoring")
		return nil, false
	}

	errorObj := root.Get("error")
	if !errorObj.IsObject() {
		log.Printf("dverrors: response body has no error object, ignoring")
		return nil, false
	}

	descriptor = &ErrorDescriptor{
		Details: map[string]string{},
		raw:     errorObj,
	}

	// Keys are iterated instead of queried by path because the annotation names contain dots.
	errorObj.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "code":
			descriptor.Code = scalarString(value)
		case "message":
			descriptor.Message = firstLine(scalarString(value))
		case HelpLinkProperty:
			descriptor.HelpLink = scalarString(value)
		}
		return true
	})

	collectDetails("error", errorObj, descriptor.Details)

	return descriptor, true
}

// collectDetails walks every property below node and records the ones whose path mentions the details prefix.
func collectDetails(path string, node gjson.Result, details map[string]string) {
	index := 0
	node.ForEach(func(key, value gjson.Result) bool {
		childPath := path
		if node.IsArray() {
			// gjson passes no key for array items.
			childPath += "[" + strconv.Itoa(index) + "]"
			index++
		} else {
			childPath += "." + key.String()

			if strings.Contains(childPath, ErrorDetailsPrefix) {
				details[strings.ReplaceAll(key.String(), ErrorDetailsPrefix, "")] = scalarString(value)
			}
		}

		if value.IsObject() || value.IsArray() {
			collectDetails(childPath, value, details)
		}

		return true
	})
}

// scalarString returns the string form of a scalar json value and "" for null, objects and arrays.
func scalarString(value gjson.Result) string {
	switch value.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return value.String()
	default:
		return ""
	}
}

func firstLine(message string) string {
	if i := strings.IndexAny(message, "\r\n"); i >= 0 {
		message = message[:i]
	}

	return strings.TrimSpace(message)
}
