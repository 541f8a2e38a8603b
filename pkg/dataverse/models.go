// Copyright (c) Microsoft Corporation. All rights reserved.
// Licensed under the MIT License.

package dataverse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/azure/dataverse-client-go/pkg/convert"
	"github.com/google/uuid"
)

// Entity is a single Dataverse table row.
type Entity struct {
	// LogicalName is the table logical name, e.g. "account".
	LogicalName string
	// Id is uuid.Nil for rows that have not been created.
	Id uuid.UUID
	// Attributes holds column values keyed by logical name. EntityReference values
	// are sent as lookup bindings.
	Attributes map[string]any
	// FormattedValues holds the display text the server returned for option sets, lookups, money, etc.
	FormattedValues map[string]string
	// ETag is the row version reported by the server.
	ETag string
}

func NewEntity(logicalName string) *Entity {
	return &Entity{
		LogicalName:     logicalName,
		Attributes:      map[string]any{},
		FormattedValues: map[string]string{},
	}
}

// Get returns the value of an attribute.
func (e *Entity) Get(name string) (any, bool) {
	value, has := e.Attributes[name]
	return value, has
}

// GetString returns the value of a string attribute, or "" when missing or not a string.
func (e *Entity) GetString(name string) string {
	return convert.ToStringWithDefault(e.Attributes[name], "")
}

func (e *Entity) Set(name string, value any) {
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}

	e.Attributes[name] = value
}

func (e *Entity) ToEntityReference() EntityReference {
	return EntityReference{
		LogicalName: e.LogicalName,
		Id:          e.Id,
	}
}

// EntityReference identifies a row of a table.
type EntityReference struct {
	LogicalName string
	Id          uuid.UUID
	Name        string
}

// ColumnSet selects the columns returned by a query. The zero value selects all columns.
type ColumnSet struct {
	AllColumns bool
	Columns    []string
}

func NewColumnSet(columns ...string) ColumnSet {
	return ColumnSet{Columns: columns}
}

func AllColumns() ColumnSet {
	return ColumnSet{AllColumns: true}
}

func (c ColumnSet) selectClause() string {
	if c.AllColumns || len(c.Columns) == 0 {
		return ""
	}

	return strings.Join(c.Columns, ",")
}

// Relationship names the navigation property used to associate rows.
type Relationship struct {
	SchemaName string
}

// EntityCollection is one page of rows returned by RetrieveMultiple.
type EntityCollection struct {
	EntityName string
	Entities   []*Entity
	// MoreRecords is true when another page can be requested with NextLink or PagingCookie.
	MoreRecords bool
	NextLink    string
	// PagingCookie is only returned for FetchXML queries.
	PagingCookie string
	// TotalRecordCount is -1 unless the query asked for a count.
	TotalRecordCount int
}

// QueryBase is a query accepted by RetrieveMultiple: a QueryExpression or a FetchExpression.
type QueryBase interface {
	odataQuery() (*queryRequest, error)
}

// queryRequest is a query translated to Web API terms.
type queryRequest struct {
	entityName string
	options    url.Values
	pageSize   int
}

// ConditionOperator compares an attribute with zero or more values.
type ConditionOperator int

const (
	ConditionOperatorEqual ConditionOperator = iota
	ConditionOperatorNotEqual
	ConditionOperatorGreaterThan
	ConditionOperatorGreaterEqual
	ConditionOperatorLessThan
	ConditionOperatorLessEqual
	ConditionOperatorNull
	ConditionOperatorNotNull
	ConditionOperatorBeginsWith
	ConditionOperatorContains
)

type ConditionExpression struct {
	Attribute string
	Operator  ConditionOperator
	Values    []any
}

type OrderExpression struct {
	Attribute  string
	Descending bool
}

// QueryExpression is a structured query over a single table. Conditions are combined with "and".
type QueryExpression struct {
	EntityName string
	ColumnSet  ColumnSet
	Conditions []ConditionExpression
	Orders     []OrderExpression
	// TopCount limits the number of rows. Zero means no limit.
	TopCount int
	// PageSize sets the preferred page size. Zero uses the server default.
	PageSize               int
	ReturnTotalRecordCount bool
}

func (q QueryExpression) odataQuery() (*queryRequest, error) {
	if q.EntityName == "" {
		return nil, fmt.Errorf("query entity name is required: %w", ErrInvalidArgument)
	}

	query := url.Values{}
	if sel := q.ColumnSet.selectClause(); sel != "" {
		query.Set("$select", sel)
	}

	if len(q.Conditions) > 0 {
		clauses := make([]string, 0, len(q.Conditions))
		for _, condition := range q.Conditions {
			clause, err := condition.filterClause()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
		query.Set("$filter", strings.Join(clauses, " and "))
	}

	if len(q.Orders) > 0 {
		orders := make([]string, 0, len(q.Orders))
		for _, order := range q.Orders {
			if order.Descending {
				orders = append(orders, order.Attribute+" desc")
			} else {
				orders = append(orders, order.Attribute+" asc")
			}
		}
		query.Set("$orderby", strings.Join(orders, ","))
	}

	if q.TopCount > 0 {
		query.Set("$top", fmt.Sprint(q.TopCount))
	}

	if q.ReturnTotalRecordCount {
		query.Set("$count", "true")
	}

	return &queryRequest{
		entityName: q.EntityName,
		options:    query,
		pageSize:   q.PageSize,
	}, nil
}

func (c ConditionExpression) filterClause() (string, error) {
	if c.Attribute == "" {
		return "", fmt.Errorf("condition attribute is required: %w", ErrInvalidArgument)
	}

	switch c.Operator {
	case ConditionOperatorNull:
		return c.Attribute + " eq null", nil
	case ConditionOperatorNotNull:
		return c.Attribute + " ne null", nil
	}

	if len(c.Values) != 1 {
		return "", fmt.Errorf("condition on '%s' requires exactly one value: %w", c.Attribute, ErrInvalidArgument)
	}

	value, err := formatLiteral(c.Values[0])
	if err != nil {
		return "", err
	}

	switch c.Operator {
	case ConditionOperatorEqual:
		return c.Attribute + " eq " + value, nil
	case ConditionOperatorNotEqual:
		return c.Attribute + " ne " + value, nil
	case ConditionOperatorGreaterThan:
		return c.Attribute + " gt " + value, nil
	case ConditionOperatorGreaterEqual:
		return c.Attribute + " ge " + value, nil
	case ConditionOperatorLessThan:
		return c.Attribute + " lt " + value, nil
	case ConditionOperatorLessEqual:
		return c.Attribute + " le " + value, nil
	case ConditionOperatorBeginsWith:
		return fmt.Sprintf("startswith(%s,%s)", c.Attribute, value), nil
	case ConditionOperatorContains:
		return fmt.Sprintf("contains(%s,%s)", c.Attribute, value), nil
	default:
		return "", fmt.Errorf("unsupported condition operator %d: %w", c.Operator, ErrInvalidArgument)
	}
}

// FetchExpression is a FetchXML query. The queried table is read from the <entity> element.
type FetchExpression struct {
	Query string
}

func (f FetchExpression) odataQuery() (*queryRequest, error) {
	entityName, err := fetchEntityName(f.Query)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("fetchXml", f.Query)

	return &queryRequest{
		entityName: entityName,
		options:    query,
	}, nil
}

// OrganizationRequest is a message executed with Execute.
type OrganizationRequest struct {
	Kind RequestKind
	// Name of the function or action. Ignored for kinds with a fixed message name.
	Name       string
	Parameters map[string]any
}

// OrganizationResponse holds the output parameters of an executed message.
type OrganizationResponse struct {
	Kind    RequestKind
	Name    string
	Results map[string]any
}

// WhoAmIResponse identifies the calling user.
type WhoAmIResponse struct {
	UserId         uuid.UUID
	BusinessUnitId uuid.UUID
	OrganizationId uuid.UUID
}
