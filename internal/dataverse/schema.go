package dataverse

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func entityDefinition(logicalName string) string {
	return "EntityDefinitions(LogicalName=" + quote(logicalName) + ")"
}

// EntitySetName returns the Web API collection name of a table,
// e.g. po_sprint becomes po_sprints.
func (c *Client) EntitySetName(ctx context.Context, logicalName string) (string, error) {
	var result struct {
		EntitySetName string `json:"EntitySetName"`
	}
	if err := c.get(ctx, entityDefinition(logicalName)+"?$select=EntitySetName", &result); err != nil {
		return "", fmt.Errorf("failed to get entity set name of %s: %w", logicalName, err)
	}
	if result.EntitySetName == "" {
		return "", fmt.Errorf("table %s has no entity set name", logicalName)
	}
	return result.EntitySetName, nil
}

// CreateGlobalOptionSet creates a global choice and returns its MetadataId.
func (c *Client) CreateGlobalOptionSet(ctx context.Context, body Payload) (string, error) {
	id, err := c.create(ctx, "GlobalOptionSetDefinitions", body)
	if err != nil {
		return "", fmt.Errorf("failed to create global option set: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("failed to create global option set: response carried no %s", HeaderEntityID)
	}
	return id, nil
}

// DeleteGlobalOptionSet deletes a global choice by name.
func (c *Client) DeleteGlobalOptionSet(ctx context.Context, name string) error {
	path := "GlobalOptionSetDefinitions(Name=" + quote(strings.ToLower(name)) + ")"
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete global option set %s: %w", name, err)
	}
	return nil
}

// CreateTable creates a table from an EntityMetadata body and returns its
// MetadataId, if the service reports one.
func (c *Client) CreateTable(ctx context.Context, body Payload) (string, error) {
	id, err := c.create(ctx, "EntityDefinitions", body)
	if err != nil {
		return "", fmt.Errorf("failed to create table: %w", err)
	}
	return id, nil
}

// DeleteTable deletes a table and all of its data.
func (c *Client) DeleteTable(ctx context.Context, logicalName string) error {
	if err := c.delete(ctx, entityDefinition(logicalName)); err != nil {
		return fmt.Errorf("failed to delete table %s: %w", logicalName, err)
	}
	return nil
}

// CreateAttribute adds a column to an existing table.
func (c *Client) CreateAttribute(ctx context.Context, tableLogicalName string, body Payload) (string, error) {
	id, err := c.create(ctx, entityDefinition(tableLogicalName)+"/Attributes", body)
	if err != nil {
		return "", fmt.Errorf("failed to create column on %s: %w", tableLogicalName, err)
	}
	return id, nil
}

// UpdateTableLabels sets a table's display and plural display names.
func (c *Client) UpdateTableLabels(ctx context.Context, logicalName, display, plural string) error {
	if err := c.patch(ctx, entityDefinition(logicalName), TableLabels(display, plural)); err != nil {
		return fmt.Errorf("failed to set labels of %s: %w", logicalName, err)
	}
	return nil
}

// UpdateAttributeLabel sets a column's display name.
func (c *Client) UpdateAttributeLabel(ctx context.Context, tableLogicalName, columnLogicalName, display string) error {
	path := entityDefinition(tableLogicalName) + "/Attributes(LogicalName=" + quote(columnLogicalName) + ")"
	if err := c.patch(ctx, path, ColumnLabel(display)); err != nil {
		return fmt.Errorf("failed to set label of %s.%s: %w", tableLogicalName, columnLogicalName, err)
	}
	return nil
}

// CreateRelationship creates a 1:N or N:N relationship.
func (c *Client) CreateRelationship(ctx context.Context, body Payload) (string, error) {
	id, err := c.create(ctx, "RelationshipDefinitions", body)
	if err != nil {
		return "", fmt.Errorf("failed to create relationship %v: %w", body["SchemaName"], err)
	}
	return id, nil
}

// WhoAmIResult identifies the calling user.
type WhoAmIResult struct {
	UserID         string `json:"UserId"`
	BusinessUnitID string `json:"BusinessUnitId"`
	OrganizationID string `json:"OrganizationId"`
}

// WhoAmI returns the calling user and their business unit.
func (c *Client) WhoAmI(ctx context.Context) (WhoAmIResult, error) {
	var result WhoAmIResult
	if err := c.get(ctx, "WhoAmI", &result); err != nil {
		return WhoAmIResult{}, fmt.Errorf("failed to call WhoAmI: %w", err)
	}
	if result.UserID == "" {
		return WhoAmIResult{}, fmt.Errorf("WhoAmI returned no user id")
	}
	return result, nil
}

// queryPath joins a collection and OData query options.
func queryPath(collection string, q url.Values) string {
	if len(q) == 0 {
		return collection
	}
	// url.Values.Encode escapes "$"; Dataverse accepts both forms.
	return collection + "?" + q.Encode()
}
