package dataverse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Privilege is a security privilege such as prvReadpo_objective.
type Privilege struct {
	ID   string `json:"privilegeid"`
	Name string `json:"name"`
}

// Role is a security role.
type Role struct {
	ID   string `json:"roleid"`
	Name string `json:"name"`
}

// RolePrivilege is one entry of an AddPrivilegesRole request.
type RolePrivilege struct {
	PrivilegeID    string `json:"PrivilegeId"`
	PrivilegeName  string `json:"PrivilegeName"`
	Depth          string `json:"Depth"`
	BusinessUnitID string `json:"BusinessUnitId"`
}

// ListPrivileges returns the privileges with the given names. Names with no
// matching privilege are absent from the result.
func (c *Client) ListPrivileges(ctx context.Context, names []string) ([]Privilege, error) {
	if len(names) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(names))
	for i, n := range names {
		clauses[i] = "name eq " + quote(n)
	}
	q := url.Values{
		"$select": {"privilegeid,name"},
		"$filter": {strings.Join(clauses, " or ")},
	}
	var result struct {
		Value []Privilege `json:"value"`
	}
	if err := c.get(ctx, queryPath("privileges", q), &result); err != nil {
		return nil, fmt.Errorf("failed to list privileges: %w", err)
	}
	return result.Value, nil
}

// FindRole returns the role named name in a business unit, or nil if there
// is none.
func (c *Client) FindRole(ctx context.Context, name, businessUnitID string) (*Role, error) {
	q := url.Values{
		"$select": {"roleid,name"},
		"$filter": {"name eq " + quote(name) + " and _businessunitid_value eq " + quote(businessUnitID)},
	}
	var result struct {
		Value []Role `json:"value"`
	}
	if err := c.get(ctx, queryPath("roles", q), &result); err != nil {
		return nil, fmt.Errorf("failed to look up role %s: %w", name, err)
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return &result.Value[0], nil
}

// CreateRole creates an empty role in a business unit and returns its id.
func (c *Client) CreateRole(ctx context.Context, name, businessUnitID string) (string, error) {
	id, err := c.create(ctx, "roles", RoleMetadata(name, businessUnitID))
	if err != nil {
		return "", fmt.Errorf("failed to create role %s: %w", name, err)
	}
	if id == "" {
		return "", fmt.Errorf("failed to create role %s: response carried no %s", name, HeaderEntityID)
	}
	return id, nil
}

// RoleMetadata is the body that creates a role.
func RoleMetadata(name, businessUnitID string) Payload {
	return Payload{
		"name":                      name,
		"businessunitid@odata.bind": Bind("businessunits", businessUnitID),
	}
}

// AddPrivilegesRole grants privileges to a role in one call. An empty list is
// a no-op.
func (c *Client) AddPrivilegesRole(ctx context.Context, roleID string, privileges []RolePrivilege) error {
	if len(privileges) == 0 {
		return nil
	}
	path := "roles(" + roleID + ")/Microsoft.Dynamics.CRM.AddPrivilegesRole"
	body := map[string]any{"Privileges": privileges}
	if _, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body}, nil); err != nil {
		return fmt.Errorf("failed to add privileges to role %s: %w", roleID, err)
	}
	return nil
}

// DeleteRole deletes a role.
func (c *Client) DeleteRole(ctx context.Context, roleID string) error {
	if err := c.delete(ctx, "roles("+roleID+")"); err != nil {
		return fmt.Errorf("failed to delete role %s: %w", roleID, err)
	}
	return nil
}
