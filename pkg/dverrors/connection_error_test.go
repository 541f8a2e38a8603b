// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package dverrors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/require"
)

func newErrorResponse(t *testing.T, status int, body string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, "https://org.crm.example.com/api/data/v9.2/accounts", nil)
	require.NoError(t, err)

	return &http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Request:    req,
	}
}

func TestFromTransportFault(t *testing.T) {
	fault := errors.New("400 Bad Request")

	t.Run("ServerReport", func(t *testing.T) {
		body := `{"error":{"code":"80040216","message":"Invalid argument\nstack...",` +
			`"@Microsoft.PowerApps.CDS.HelpLink":"https://aka.ms/x",` +
			`"@Microsoft.PowerApps.CDS.ErrorDetails.RequestId":"abc-123"}}`

		connErr := FromTransportFault(fault, []byte(body))
		require.NotNil(t, connErr)
		require.Equal(t, "Invalid argument", connErr.Message())
		require.Equal(t, int32(-2147220970), connErr.Code())
		require.Equal(t, "https://aka.ms/x", connErr.HelpLink())
		require.Equal(t, map[string]string{"RequestId": "abc-123"}, connErr.Details())
		require.Equal(t, ServerApiSource, connErr.Source())
		require.True(t, connErr.HasServerReport())
		require.ErrorIs(t, connErr, fault)
	})

	t.Run("EmptyBody", func(t *testing.T) {
		connErr := FromTransportFault(fault, nil)
		require.NotNil(t, connErr)
		require.Equal(t, NoServerReportMessage, connErr.Message())
		require.Equal(t, UnknownErrorCode, connErr.Code())
		require.Empty(t, connErr.HelpLink())
		require.NotNil(t, connErr.Details())
		require.Empty(t, connErr.Details())
		require.False(t, connErr.HasServerReport())
		require.Same(t, fault, connErr.Unwrap())
		require.Equal(t, NoServerReportMessage, connErr.Error())
	})

	t.Run("MalformedBody", func(t *testing.T) {
		connErr := FromTransportFault(fault, []byte(`{"error":`))
		require.Equal(t, NoServerReportMessage, connErr.Message())
		require.Equal(t, UnknownErrorCode, connErr.Code())
		require.Empty(t, connErr.Details())
	})

	t.Run("BlankCode", func(t *testing.T) {
		connErr := FromTransportFault(fault, []byte(`{"error":{"code":"  ","message":"no code"}}`))
		require.Equal(t, "no code", connErr.Message())
		require.Equal(t, UnknownErrorCode, connErr.Code())
		require.True(t, connErr.HasServerReport())
	})

	t.Run("NilFault", func(t *testing.T) {
		require.Nil(t, FromTransportFault(nil, []byte(`{"error":{"code":"1"}}`)))
	})
}

func TestFromResponse(t *testing.T) {
	t.Run("ServerReport", func(t *testing.T) {
		resp := newErrorResponse(t, http.StatusNotFound,
			`{"error":{"code":"0x80040217","message":"account With Id = 1 Does Not Exist"}}`)

		connErr := FromResponse(resp)
		require.Equal(t, "account With Id = 1 Does Not Exist", connErr.Message())
		require.Equal(t, int32(-2147220969), connErr.Code())
		require.Equal(t, http.StatusNotFound, connErr.StatusCode())

		var respErr *azcore.ResponseError
		require.ErrorAs(t, connErr, &respErr)
		require.Equal(t, http.StatusNotFound, respErr.StatusCode)
	})

	t.Run("NoBody", func(t *testing.T) {
		resp := newErrorResponse(t, http.StatusBadGateway, "")

		connErr := FromResponse(resp)
		require.Equal(t, NoServerReportMessage, connErr.Message())
		require.Equal(t, UnknownErrorCode, connErr.Code())
		require.Equal(t, http.StatusBadGateway, connErr.StatusCode())
	})

	t.Run("NilResponse", func(t *testing.T) {
		require.Nil(t, FromResponse(nil))
	})
}

func TestFromError(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		require.Nil(t, FromError(nil))
	})

	t.Run("AlreadyNormalized", func(t *testing.T) {
		original := NewConnectionError("m", 5, "", nil, nil)
		wrapped := fmt.Errorf("creating account: %w", original)

		require.Same(t, original, FromError(wrapped))
	})

	t.Run("ResponseError", func(t *testing.T) {
		resp := newErrorResponse(t, http.StatusBadRequest, `{"error":{"code":"8004431A","message":"bad"}}`)
		respErr := &azcore.ResponseError{StatusCode: resp.StatusCode, RawResponse: resp}

		connErr := FromError(respErr)
		require.Equal(t, "bad", connErr.Message())
		require.Equal(t, ParseErrorCode("8004431A"), connErr.Code())
		require.Same(t, respErr, connErr.Unwrap())
	})

	t.Run("PlainTransportError", func(t *testing.T) {
		dialErr := errors.New("dial tcp: connection refused")

		connErr := FromError(dialErr)
		require.Equal(t, NoServerReportMessage, connErr.Message())
		require.Equal(t, 0, connErr.StatusCode())
		require.ErrorIs(t, connErr, dialErr)
	})
}

func TestNewConnectionError(t *testing.T) {
	t.Run("NilDetails", func(t *testing.T) {
		connErr := NewConnectionError("message", 42, "https://help", nil, nil)
		require.NotNil(t, connErr.Details())
		require.Empty(t, connErr.Details())
		require.Nil(t, connErr.Unwrap())
		require.Equal(t, ClientSource, connErr.Source())
	})

	t.Run("DetailsAreCopied", func(t *testing.T) {
		details := map[string]string{"RequestId": "1"}
		connErr := NewConnectionError("message", 42, "", details, nil)

		details["RequestId"] = "changed"
		require.Equal(t, "1", connErr.Details()["RequestId"])

		returned := connErr.Details()
		returned["RequestId"] = "changed"
		require.Equal(t, "1", connErr.Details()["RequestId"])
	})

	t.Run("ErrorString", func(t *testing.T) {
		connErr := NewConnectionError("Invalid argument", ParseErrorCode("80040216"), "", nil, nil)
		require.Equal(t, "Invalid argument (0x80040216)", connErr.Error())
	})
}

func TestParseErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected int32
	}{
		{name: "Small", code: "1A", expected: 26},
		{name: "Lowercase", code: "ff", expected: 255},
		{name: "HighBitWraps", code: "80040216", expected: -2147220970},
		{name: "MaxUnsigned", code: "FFFFFFFF", expected: -1},
		{name: "Prefixed", code: "0x80040216", expected: -2147220970},
		{name: "UpperPrefix", code: "0X10", expected: 16},
		{name: "Padded", code: "  0010  ", expected: 16},
		{name: "Empty", code: "", expected: UnknownErrorCode},
		{name: "Blank", code: "   ", expected: UnknownErrorCode},
		{name: "PrefixOnly", code: "0x", expected: UnknownErrorCode},
		{name: "NotHex", code: "zz", expected: UnknownErrorCode},
		{name: "Negative", code: "-1", expected: UnknownErrorCode},
		{name: "TooWide", code: "123456789", expected: UnknownErrorCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ParseErrorCode(tt.code))
		})
	}
}
