package dataverse

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFormatLiteral(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{name: "Nil", value: nil, expected: "null"},
		{name: "String", value: "Contoso", expected: "'Contoso'"},
		{name: "Quote", value: "O'Neil", expected: "'O''Neil'"},
		{name: "Uuid", value: id, expected: "00000000-0000-0000-0000-000000000001"},
		{name: "Bool", value: true, expected: "true"},
		{name: "Int", value: 42, expected: "42"},
		{name: "Int64", value: int64(-7), expected: "-7"},
		{name: "Float", value: 1.5, expected: "1.5"},
		{name: "Number", value: json.Number("10"), expected: "10"},
		{name: "Time", value: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), expected: "2024-01-02T03:04:05Z"},
		{name: "Reference", value: EntityReference{LogicalName: "account", Id: id}, expected: id.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual, err := formatLiteral(tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.expected, actual)
		})
	}

	_, err := formatLiteral(struct{}{})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFetchEntityName(t *testing.T) {
	name, err := fetchEntityName(`<fetch><entity name="account"><link-entity name="contact"/></entity></fetch>`)
	require.NoError(t, err)
	require.Equal(t, "account", name)

	_, err = fetchEntityName(`<fetch><entity></entity></fetch>`)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = fetchEntityName(`<fetch><entity name="account"`)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseEntityId(t *testing.T) {
	id, err := parseEntityId("https://org.crm.example.com/api/data/v9.2/accounts(00000000-0000-0000-0000-00000000000a)")
	require.NoError(t, err)
	require.Equal(t, uuid.MustParse("00000000-0000-0000-0000-00000000000a"), id)

	_, err = parseEntityId("https://org.crm.example.com/api/data/v9.2/accounts")
	require.Error(t, err)
}

func TestJsonValue(t *testing.T) {
	value := jsonValue(gjson.Parse(`{"a":[1,"two",true,null],"b":{"c":false}}`))
	require.Equal(t, map[string]any{
		"a": []any{json.Number("1"), "two", true, nil},
		"b": map[string]any{"c": false},
	}, value)
}

func TestRequestKinds(t *testing.T) {
	for kind, info := range requestKinds {
		t.Run(kind.String(), func(t *testing.T) {
			response := info.newDefaultResponse("name")
			require.Equal(t, kind, response.Kind)
			require.Equal(t, "name", response.Name)
			require.NotNil(t, response.Results)
		})
	}

	name, err := requestKinds[RequestKindWhoAmI].messageName(&OrganizationRequest{Name: "ignored"})
	require.NoError(t, err)
	require.Equal(t, "WhoAmI", name)

	require.Equal(t, "RequestKind(42)", RequestKind(42).String())
}

func TestDefaultEntitySetName(t *testing.T) {
	tests := map[string]string{
		"account":     "accounts",
		"Contact":     "contacts",
		"opportunity": "opportunities",
		"survey":      "surveys",
		"address":     "addresses",
		"tax":         "taxes",
		"batch":       "batches",
	}

	for name, expected := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, expected, DefaultEntitySetName(name))
		})
	}
}

func TestParseEntity(t *testing.T) {
	entity, err := ParseEntity("contact", []byte(`{"contactid":"00000000-0000-0000-0000-00000000000c","fullname":"Jane"}`))
	require.NoError(t, err)
	require.Equal(t, uuid.MustParse("00000000-0000-0000-0000-00000000000c"), entity.Id)
	require.Equal(t, "Jane", entity.GetString("fullname"))

	_, err = ParseEntity("contact", []byte("not json"))
	require.Error(t, err)
}
