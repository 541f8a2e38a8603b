package dataverse

import (
	"context"

	"github.com/google/uuid"
)

// OrganizationServiceAsync is the full set of Dataverse data operations.
//
// Every operation honours ctx: a cancelled call returns ctx.Err(). Any other failure is
// returned as a *dverrors.ConnectionError.
type OrganizationServiceAsync interface {
	EntityCreator

	// Create creates a row and returns its id.
	Create(ctx context.Context, entity *Entity) (uuid.UUID, error)
	// Retrieve returns the row with the requested columns.
	Retrieve(ctx context.Context, entityName string, id uuid.UUID, columns ColumnSet) (*Entity, error)
	Update(ctx context.Context, entity *Entity) error
	Delete(ctx context.Context, entityName string, id uuid.UUID) error
	// Associate links a row to each of the related rows through relationship.
	Associate(
		ctx context.Context,
		entityName string,
		id uuid.UUID,
		relationship Relationship,
		related []EntityReference,
	) error
	// Disassociate removes the links created by Associate.
	Disassociate(
		ctx context.Context,
		entityName string,
		id uuid.UUID,
		relationship Relationship,
		related []EntityReference,
	) error
	Execute(ctx context.Context, request *OrganizationRequest) (*OrganizationResponse, error)
	RetrieveMultiple(ctx context.Context, query QueryBase) (*EntityCollection, error)
}

// EntityCreator is the narrow contract implemented by clients that can only create rows.
type EntityCreator interface {
	// CreateAndReturn creates a row and returns it as stored by the server.
	CreateAndReturn(ctx context.Context, entity *Entity) (*Entity, error)
}
