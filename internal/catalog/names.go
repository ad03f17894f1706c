package catalog

import "strings"

// SystemUser is the built-in user table. Relationships may point at it.
const SystemUser = "systemuser"

// IsSystemTable reports whether name is a built-in Dataverse table rather
// than one this catalog creates.
func IsSystemTable(name string) bool {
	return name == SystemUser
}

// Names applies the publisher prefix to catalog names.
type Names struct {
	Prefix string
}

// Schema returns the schema name, e.g. "po_KeyResult".
func (n Names) Schema(name string) string {
	if IsSystemTable(name) {
		return name
	}
	return n.Prefix + "_" + name
}

// Logical returns the logical name, e.g. "po_keyresult".
func (n Names) Logical(name string) string {
	return strings.ToLower(n.Schema(name))
}

// PrimaryKey returns the primary id attribute of a table, e.g. "po_keyresultid".
func (n Names) PrimaryKey(table string) string {
	return n.Logical(table) + "id"
}
