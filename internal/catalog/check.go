package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Check verifies references across and within the catalog files. It
// assumes each file already passed CUE validation.
func (c *Catalog) Check() error {
	if err := c.Schema.check(); err != nil {
		return &Error{File: "schema.yaml", Message: err.Error()}
	}
	if err := c.Roles.check(c.Schema); err != nil {
		return &Error{File: "roles.yaml", Message: err.Error()}
	}
	if err := c.Seed.check(c.Schema); err != nil {
		return &Error{File: "seed.yaml", Message: err.Error()}
	}
	return nil
}

func (s *Schema) check() error {
	choices := make(map[string]bool)
	for _, ch := range s.Choices {
		if choices[ch.Name] {
			return fmt.Errorf("duplicate choice %s", ch.Name)
		}
		choices[ch.Name] = true
		values := make(map[int]bool)
		labels := make(map[string]bool)
		for _, o := range ch.Options {
			if values[o.Value] || labels[o.Label] {
				return fmt.Errorf("choice %s: duplicate option %q (%d)", ch.Name, o.Label, o.Value)
			}
			values[o.Value] = true
			labels[o.Label] = true
		}
	}

	tables := make(map[string]bool)
	for _, t := range s.Tables {
		if tables[t.Name] {
			return fmt.Errorf("duplicate table %s", t.Name)
		}
		tables[t.Name] = true

		cols := map[string]bool{t.Primary.Name: true}
		add := func(name string) error {
			if cols[name] {
				return fmt.Errorf("table %s: duplicate column %s", t.Name, name)
			}
			cols[name] = true
			return nil
		}
		for _, col := range t.Columns {
			if err := add(col.Name); err != nil {
				return err
			}
		}
		for _, col := range t.Choices {
			if err := add(col.Name); err != nil {
				return err
			}
			if !choices[col.Choice] {
				return fmt.Errorf("table %s: column %s references unknown choice %s", t.Name, col.Name, col.Choice)
			}
		}
		for _, m := range t.Memos {
			if err := add(m.Name); err != nil {
				return err
			}
		}
	}

	known := func(name string) bool { return tables[name] || IsSystemTable(name) }
	rels := make(map[string]bool)
	for _, r := range s.OneToMany {
		if rels[r.Name] {
			return fmt.Errorf("duplicate relationship %s", r.Name)
		}
		rels[r.Name] = true
		if !known(r.Parent) {
			return fmt.Errorf("relationship %s: unknown parent table %s", r.Name, r.Parent)
		}
		if !tables[r.Child] {
			return fmt.Errorf("relationship %s: unknown child table %s", r.Name, r.Child)
		}
	}
	for _, r := range s.ManyToMany {
		if rels[r.Name] {
			return fmt.Errorf("duplicate relationship %s", r.Name)
		}
		rels[r.Name] = true
		if !known(r.Entity1) || !known(r.Entity2) {
			return fmt.Errorf("relationship %s: unknown table %s or %s", r.Name, r.Entity1, r.Entity2)
		}
	}

	return checkOrder("rollback_order", s.RollbackOrder, s.Tables)
}

// checkOrder requires order to name every table exactly once.
func checkOrder(field string, order []string, tables []Table) error {
	if len(order) != len(tables) {
		return fmt.Errorf("%s lists %d tables, catalog has %d", field, len(order), len(tables))
	}
	seen := make(map[string]bool)
	for _, name := range order {
		found := false
		for _, t := range tables {
			if t.Name == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: unknown table %s", field, name)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate table %s", field, name)
		}
		seen[name] = true
	}
	return nil
}

func (r *Roles) check(s *Schema) error {
	tables := make(map[string]bool)
	for _, t := range s.Tables {
		tables[strings.ToLower(t.Name)] = true
	}
	for _, t := range r.Tables {
		if !tables[t] {
			return fmt.Errorf("tables: unknown table %s", t)
		}
	}
	listed := make(map[string]bool)
	for _, t := range r.Tables {
		listed[t] = true
	}
	verbs := make(map[string]bool)
	for _, v := range r.Verbs {
		verbs[v] = true
	}

	names := make(map[string]bool)
	for _, role := range r.Roles {
		if names[role.Name] {
			return fmt.Errorf("duplicate role %q", role.Name)
		}
		names[role.Name] = true
		for table, grants := range role.Privileges {
			if !listed[table] {
				return fmt.Errorf("role %q: table %s is not in tables", role.Name, table)
			}
			for verb, level := range grants {
				if !verbs[verb] {
					return fmt.Errorf("role %q: unknown verb %s on %s", role.Name, verb, table)
				}
				if level == NoAccess {
					continue
				}
				if _, ok := r.Depths[level]; !ok {
					return fmt.Errorf("role %q: access level %s has no depth", role.Name, level)
				}
			}
		}
	}
	return nil
}

// refs tracks which local IDs have been defined, per collection, in file
// order. A reference is valid only to a record defined earlier.
type refs struct {
	all  map[string]string
	coll map[string]map[string]bool
}

func newRefs() *refs {
	return &refs{all: make(map[string]string), coll: make(map[string]map[string]bool)}
}

func (r *refs) define(collection, id string) error {
	if prev, ok := r.all[id]; ok {
		return fmt.Errorf("%s: id %q already used in %s", collection, id, prev)
	}
	r.all[id] = collection
	if r.coll[collection] == nil {
		r.coll[collection] = make(map[string]bool)
	}
	r.coll[collection][id] = true
	return nil
}

func (r *refs) require(from, field, collection, id string) error {
	if !r.coll[collection][id] {
		return fmt.Errorf("%s.%s: %q is not an earlier %s record", from, field, id, collection)
	}
	return nil
}

func (s *Seed) check(schema *Schema) error {
	r := newRefs()
	label := func(from, table, column, value string) error {
		if _, err := schema.ColumnValue(table, column, value); err != nil {
			return fmt.Errorf("%s: %w", from, err)
		}
		return nil
	}

	for _, x := range s.Sprints {
		if err := label(x.ID, "Sprint", "Status", x.Status); err != nil {
			return err
		}
		if x.EndDate < x.StartDate {
			return fmt.Errorf("%s: end_date before start_date", x.ID)
		}
		if err := r.define("sprints", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.OrgUnits {
		if err := label(x.ID, "OrganizationalUnit", "Level", x.Level); err != nil {
			return err
		}
		if x.Parent != "" {
			if err := r.require(x.ID, "parent", "org_units", x.Parent); err != nil {
				return err
			}
		}
		if err := r.define("org_units", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.Objectives {
		if err := label(x.ID, "Objective", "Status", x.Status); err != nil {
			return err
		}
		if err := r.require(x.ID, "org_unit", "org_units", x.OrgUnit); err != nil {
			return err
		}
		if err := r.require(x.ID, "sprint", "sprints", x.Sprint); err != nil {
			return err
		}
		if x.Parent != "" {
			if err := r.require(x.ID, "parent", "objectives", x.Parent); err != nil {
				return err
			}
		}
		if err := r.define("objectives", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.KeyResults {
		if err := label(x.ID, "KeyResult", "Status", x.Status); err != nil {
			return err
		}
		if err := r.require(x.ID, "objective", "objectives", x.Objective); err != nil {
			return err
		}
		if x.LinkedChildObjective != "" {
			if err := r.require(x.ID, "linked_child_objective", "objectives", x.LinkedChildObjective); err != nil {
				return err
			}
		}
		if err := r.define("key_results", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.Metrics {
		if err := label(x.ID, "Metric", "Scale", x.Scale); err != nil {
			return err
		}
		if err := label(x.ID, "Metric", "Direction", x.Direction); err != nil {
			return err
		}
		if err := r.require(x.ID, "key_result", "key_results", x.KeyResult); err != nil {
			return err
		}
		if err := r.define("metrics", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.MetricUpdates {
		if err := r.require(x.ID, "metric", "metrics", x.Metric); err != nil {
			return err
		}
		if err := r.require(x.ID, "sprint", "sprints", x.Sprint); err != nil {
			return err
		}
		if err := r.define("metric_updates", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.Tasks {
		if err := label(x.ID, "Task", "Status", x.Status); err != nil {
			return err
		}
		if err := r.require(x.ID, "key_result", "key_results", x.KeyResult); err != nil {
			return err
		}
		if err := r.define("tasks", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.Programs {
		if err := r.define("programs", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.ActivityUpdates {
		if err := label(x.ID, "ActivityUpdate", "Type", x.Type); err != nil {
			return err
		}
		if err := r.require(x.ID, "program", "programs", x.Program); err != nil {
			return err
		}
		if err := r.define("activity_updates", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.Rituals {
		if err := label(x.ID, "Ritual", "Type", x.Type); err != nil {
			return err
		}
		if err := label(x.ID, "Ritual", "Status", x.Status); err != nil {
			return err
		}
		if err := r.require(x.ID, "sprint", "sprints", x.Sprint); err != nil {
			return err
		}
		if err := r.define("rituals", x.ID); err != nil {
			return err
		}
	}
	for _, x := range s.SavedFilters {
		if !json.Valid([]byte(x.CriteriaJSON)) {
			return fmt.Errorf("%s: criteria_json is not valid JSON", x.ID)
		}
		if err := r.define("saved_filters", x.ID); err != nil {
			return err
		}
	}

	for i, l := range s.ProgramObjectives {
		from := fmt.Sprintf("program_objectives[%d]", i)
		if err := r.require(from, "program", "programs", l.Program); err != nil {
			return err
		}
		if err := r.require(from, "objective", "objectives", l.Objective); err != nil {
			return err
		}
	}
	for i, id := range s.ProgramLeads {
		if err := r.require(fmt.Sprintf("program_leads[%d]", i), "program", "programs", id); err != nil {
			return err
		}
	}
	for i, id := range s.KeyResultTeam {
		if err := r.require(fmt.Sprintf("key_result_team[%d]", i), "key_result", "key_results", id); err != nil {
			return err
		}
	}
	for i, id := range s.UserOrgUnits {
		if err := r.require(fmt.Sprintf("user_org_units[%d]", i), "org_unit", "org_units", id); err != nil {
			return err
		}
	}

	return checkOrder("clear_order", s.ClearOrder, schema.Tables)
}
