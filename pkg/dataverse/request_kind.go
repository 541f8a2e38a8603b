package dataverse

import (
	"fmt"
	"net/http"
)

// RequestKind selects how an OrganizationRequest is sent and what an empty reply means.
type RequestKind int

const (
	// RequestKindAction is a custom or built-in action, sent as POST.
	RequestKindAction RequestKind = iota
	// RequestKindFunction is a custom or built-in function, sent as GET.
	RequestKindFunction
	RequestKindWhoAmI
	RequestKindRetrieveVersion
)

// requestKindInfo describes a RequestKind.
type requestKindInfo struct {
	method string
	// name is the fixed message name; empty when the caller names the message.
	name string
	// newDefaultResponse builds the response used when the server replies without content.
	newDefaultResponse func(name string) *OrganizationResponse
}

var requestKinds = map[RequestKind]requestKindInfo{
	RequestKindAction: {
		method:             http.MethodPost,
		newDefaultResponse: emptyResponse(RequestKindAction),
	},
	RequestKindFunction: {
		method:             http.MethodGet,
		newDefaultResponse: emptyResponse(RequestKindFunction),
	},
	RequestKindWhoAmI: {
		method: http.MethodGet,
		name:   "WhoAmI",
		newDefaultResponse: func(name string) *OrganizationResponse {
			return &OrganizationResponse{
				Kind: RequestKindWhoAmI,
				Name: name,
				Results: map[string]any{
					"UserId":         "",
					"BusinessUnitId": "",
					"OrganizationId": "",
				},
			}
		},
	},
	RequestKindRetrieveVersion: {
		method: http.MethodGet,
		name:   "RetrieveVersion",
		newDefaultResponse: func(name string) *OrganizationResponse {
			return &OrganizationResponse{
				Kind:    RequestKindRetrieveVersion,
				Name:    name,
				Results: map[string]any{"Version": ""},
			}
		},
	},
}

func emptyResponse(kind RequestKind) func(name string) *OrganizationResponse {
	return func(name string) *OrganizationResponse {
		return &OrganizationResponse{
			Kind:    kind,
			Name:    name,
			Results: map[string]any{},
		}
	}
}

// messageName returns the name of the message sent for request.
func (info requestKindInfo) messageName(request *OrganizationRequest) (string, error) {
	if info.name != "" {
		return info.name, nil
	}

	if request.Name == "" {
		return "", fmt.Errorf("request name is required: %w", ErrInvalidArgument)
	}

	return request.Name, nil
}

func (k RequestKind) String() string {
	switch k {
	case RequestKindAction:
		return "Action"
	case RequestKindFunction:
		return "Function"
	case RequestKindWhoAmI:
		return "WhoAmI"
	case RequestKindRetrieveVersion:
		return "RetrieveVersion"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}
