// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package dataverse

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const (
	odataEtagProperty     = "@odata.etag"
	odataCountProperty    = "@odata.count"
	odataNextLinkProperty = "@odata.nextLink"
	odataIdProperty       = "@odata.id"
	odataBindSuffix       = "@odata.bind"

	formattedValueSuffix  = "@OData.Community.Display.V1.FormattedValue"
	pagingCookieProperty  = "@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"
	moreRecordsProperty   = "@Microsoft.Dynamics.CRM.morerecords"
	entityIdHeader        = "OData-EntityId"
	includeAnnotationsAll = `odata.include-annotations="*"`
)

// formatLiteral renders a value as an OData URL literal.
func formatLiteral(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "null", nil
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case uuid.UUID:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case EntityReference:
		return v.Id.String(), nil
	default:
		return "", fmt.Errorf("unsupported literal type %T: %w", value, ErrInvalidArgument)
	}
}

// fetchEntityName returns the name attribute of the top level <entity> element of a FetchXML query.
func fetchEntityName(fetchXml string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(fetchXml))
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing fetch xml: %w: %w", err, ErrInvalidArgument)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "entity" {
			continue
		}

		for _, attr := range start.Attr {
			if attr.Name.Local == "name" && attr.Value != "" {
				return attr.Value, nil
			}
		}
		break
	}

	return "", fmt.Errorf("fetch xml has no entity name: %w", ErrInvalidArgument)
}

// DefaultEntitySetName returns the entity set name the Web API uses for a table unless its metadata
// names the set explicitly, e.g. "account" -> "accounts", "opportunity" -> "opportunities".
func DefaultEntitySetName(logicalName string) string {
	name := strings.ToLower(logicalName)
	switch {
	case strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(name, "s"),
		strings.HasSuffix(name, "x"),
		strings.HasSuffix(name, "z"),
		strings.HasSuffix(name, "ch"),
		strings.HasSuffix(name, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}

// parseEntityId reads the id from an OData-EntityId value such as
// "https://org.crm.dynamics.com/api/data/v9.2/accounts(00000000-0000-0000-0000-000000000001)".
func parseEntityId(entityUrl string) (uuid.UUID, error) {
	start := strings.LastIndex(entityUrl, "(")
	end := strings.LastIndex(entityUrl, ")")
	if start < 0 || end < start {
		return uuid.Nil, fmt.Errorf("no entity id in '%s'", entityUrl)
	}

	return uuid.Parse(entityUrl[start+1 : end])
}

// jsonValue converts a JSON value. Numbers are kept as json.Number so 64-bit values survive.
func jsonValue(value gjson.Result) any {
	switch value.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return json.Number(value.Raw)
	case gjson.String:
		return value.String()
	}

	if value.IsArray() {
		items := []any{}
		value.ForEach(func(_, item gjson.Result) bool {
			items = append(items, jsonValue(item))
			return true
		})
		return items
	}

	object := map[string]any{}
	value.ForEach(func(key, item gjson.Result) bool {
		object[key.String()] = jsonValue(item)
		return true
	})
	return object
}

// entityFromJSON reads a row. Attribute annotations other than formatted values are dropped.
func entityFromJSON(logicalName string, row gjson.Result) *Entity {
	entity := NewEntity(logicalName)

	row.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		switch {
		case name == odataEtagProperty:
			entity.ETag = value.String()
		case strings.HasSuffix(name, formattedValueSuffix):
			entity.FormattedValues[strings.TrimSuffix(name, formattedValueSuffix)] = value.String()
		case strings.Contains(name, "@"):
			// other annotations
		default:
			entity.Attributes[name] = jsonValue(value)
		}
		return true
	})

	if id, err := uuid.Parse(entity.GetString(logicalName + "id")); err == nil {
		entity.Id = id
	}

	return entity
}

// ParseEntity reads a single row returned by the Web API.
func ParseEntity(logicalName string, body []byte) (*Entity, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response for '%s' row is not valid JSON", logicalName)
	}

	return entityFromJSON(logicalName, gjson.ParseBytes(body)), nil
}

// resultsFromJSON reads the output parameters of a function or action.
func resultsFromJSON(body gjson.Result) map[string]any {
	results := map[string]any{}
	body.ForEach(func(key, value gjson.Result) bool {
		if name := key.String(); !strings.HasPrefix(name, "@odata.") {
			results[name] = jsonValue(value)
		}
		return true
	})

	return results
}
