package catalog

// Roles holds the security role definitions.
//
// Privileges maps a table's unprefixed logical name to verb to access level
// ("User", "BU", "ParentChild", "Org", "None" or "-" for no grant).
type Roles struct {
	Verbs  []string          `yaml:"verbs"`
	Tables []string          `yaml:"tables"`
	Depths map[string]string `yaml:"depths"`
	Roles  []Role            `yaml:"roles"`
}

// Role is one security role.
type Role struct {
	Name       string                       `yaml:"name"`
	Privileges map[string]map[string]string `yaml:"privileges"`
}

// NoAccess marks a verb that is deliberately not granted.
const NoAccess = "-"

// Grant is a resolved privilege grant, before the privilege id is known.
type Grant struct {
	Table string
	Verb  string
	Depth string
}

// Grants lists the grants of role in table order, then verb order. Access
// levels of NoAccess are left out.
func (r *Roles) Grants(role Role) []Grant {
	var out []Grant
	for _, table := range r.Tables {
		verbs, ok := role.Privileges[table]
		if !ok {
			continue
		}
		for _, verb := range r.Verbs {
			level, ok := verbs[verb]
			if !ok || level == NoAccess {
				continue
			}
			out = append(out, Grant{Table: table, Verb: verb, Depth: r.Depths[level]})
		}
	}
	return out
}

// PrivilegeName returns the privilege name for verb on a logical table name,
// e.g. "prvAppendTopo_objective".
func PrivilegeName(verb, logicalTable string) string {
	return "prv" + verb + logicalTable
}
