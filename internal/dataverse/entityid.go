package dataverse

import (
	"strings"

	"github.com/google/uuid"
)

// HeaderEntityID carries the URL of a created entity.
const HeaderEntityID = "OData-EntityId"

// EntityIDFromHeader extracts the GUID from an OData-EntityId value such as
// https://org.crm.dynamics.com/api/data/v9.2/po_sprints(00000000-0000-0000-0000-000000000001).
// It returns "" when v holds no well-formed GUID.
func EntityIDFromHeader(v string) string {
	v = strings.TrimRight(strings.TrimSpace(v), ")")
	i := strings.LastIndex(v, "(")
	if i < 0 {
		return ""
	}
	id, err := uuid.Parse(v[i+1:])
	if err != nil {
		return ""
	}
	return id.String()
}

// primaryKeyFromEntitySet derives the primary id attribute from an entity set
// name: po_sprints becomes po_sprintid, po_activities becomes po_activityid.
func primaryKeyFromEntitySet(set string) string {
	singular := strings.TrimRight(set, "s")
	if strings.HasSuffix(singular, "ie") {
		singular = strings.TrimSuffix(singular, "ie") + "y"
	}
	return singular + "id"
}
