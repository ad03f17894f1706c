package dataverse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Bind returns an @odata.bind reference to a record.
func Bind(entitySet, id string) string {
	return "/" + entitySet + "(" + id + ")"
}

// BindKey returns the payload key that sets the lookup column with the given
// schema name, e.g. po_SprintId@odata.bind.
func BindKey(lookupSchemaName string) string {
	return lookupSchemaName + "@odata.bind"
}

// CreateRecord creates a record and returns its id. The id is taken from the
// OData-EntityId header, or from the returned representation when the header
// is missing.
func (c *Client) CreateRecord(ctx context.Context, entitySet string, data Payload) (string, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   entitySet,
		body:   data,
		prefer: "return=representation",
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create %s record: %w", entitySet, err)
	}

	if id := EntityIDFromHeader(resp.header.Get(HeaderEntityID)); id != "" {
		return id, nil
	}
	if len(resp.body) > 0 {
		var rep map[string]any
		if err := json.Unmarshal(resp.body, &rep); err == nil {
			if id, ok := rep[primaryKeyFromEntitySet(entitySet)].(string); ok && id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("failed to create %s record: no id in response", entitySet)
}

// DeleteRecord deletes one record.
func (c *Client) DeleteRecord(ctx context.Context, entitySet, id string) error {
	if err := c.delete(ctx, entitySet+"("+id+")"); err != nil {
		return fmt.Errorf("failed to delete %s(%s): %w", entitySet, id, err)
	}
	return nil
}

// ListRecordIDs returns the ids of every record in entitySet, following
// @odata.nextLink until the last page.
func (c *Client) ListRecordIDs(ctx context.Context, entitySet, primaryKey string) ([]string, error) {
	var ids []string
	next := queryPath(entitySet, url.Values{"$select": {primaryKey}})
	for next != "" {
		var page struct {
			Value    []map[string]any `json:"value"`
			NextLink string           `json:"@odata.nextLink"`
		}
		if err := c.get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", entitySet, err)
		}
		for _, rec := range page.Value {
			id, ok := rec[primaryKey].(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("failed to list %s: record without %s", entitySet, primaryKey)
			}
			ids = append(ids, id)
		}
		next = page.NextLink
	}
	return ids, nil
}

// Associate links two records through an N:N relationship.
func (c *Client) Associate(ctx context.Context, entitySet1, id1, relationship, entitySet2, id2 string) error {
	body := Payload{"@odata.id": c.APIURL(entitySet2 + "(" + id2 + ")")}
	path := entitySet1 + "(" + id1 + ")/" + relationship + "/$ref"
	if _, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body}, nil); err != nil {
		return fmt.Errorf("failed to associate %s(%s) via %s: %w", entitySet1, id1, relationship, err)
	}
	return nil
}
