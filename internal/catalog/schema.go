package catalog

import "fmt"

// Schema is the data model created by the schema flow.
type Schema struct {
	Choices       []Choice     `yaml:"choices"`
	Tables        []Table      `yaml:"tables"`
	OneToMany     []OneToMany  `yaml:"one_to_many"`
	ManyToMany    []ManyToMany `yaml:"many_to_many"`
	RollbackOrder []string     `yaml:"rollback_order"`
}

// Choice is a global option set.
type Choice struct {
	Name    string   `yaml:"name"`
	Display string   `yaml:"display"`
	Options []Option `yaml:"options"`
}

// Option is one value of a choice.
type Option struct {
	Label string `yaml:"label"`
	Value int    `yaml:"value"`
}

// Column types supported for simple columns.
const (
	TypeString   = "string"
	TypeInt      = "int"
	TypeDecimal  = "decimal"
	TypeDateTime = "datetime"
	TypeBool     = "bool"
)

// Table is a custom table. Phase is the creation phase (1-5).
type Table struct {
	Name    string         `yaml:"name"`
	Display string         `yaml:"display"`
	Plural  string         `yaml:"plural"`
	Phase   int            `yaml:"phase"`
	Primary Column         `yaml:"primary"`
	Columns []Column       `yaml:"columns"`
	Choices []ChoiceColumn `yaml:"choices"`
	Memos   []Memo         `yaml:"memos"`
}

// Column is a simple typed column. The primary column has no Type; it is
// always a string.
type Column struct {
	Name    string `yaml:"name"`
	Display string `yaml:"display"`
	Type    string `yaml:"type"`
}

// ChoiceColumn is a picklist column bound to a global choice.
type ChoiceColumn struct {
	Name     string `yaml:"name"`
	Display  string `yaml:"display"`
	Choice   string `yaml:"choice"`
	Required bool   `yaml:"required"`
}

// Memo is a multi-line text column.
type Memo struct {
	Name      string `yaml:"name"`
	Display   string `yaml:"display"`
	MaxLength int    `yaml:"max_length"`
}

// OneToMany is a 1:N relationship. Creating it also creates the Lookup
// column on Child.
type OneToMany struct {
	Name    string `yaml:"name"`
	Parent  string `yaml:"parent"`
	Child   string `yaml:"child"`
	Display string `yaml:"display"`
	Lookup  string `yaml:"lookup"`
	Cascade string `yaml:"cascade"`
}

// ManyToMany is an N:N relationship with an intersect table of the same name.
type ManyToMany struct {
	Name     string `yaml:"name"`
	Entity1  string `yaml:"entity1"`
	Display1 string `yaml:"display1"`
	Entity2  string `yaml:"entity2"`
	Display2 string `yaml:"display2"`
}

// Table returns the table with the given name.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Choice returns the choice with the given name.
func (s *Schema) Choice(name string) (Choice, bool) {
	for _, c := range s.Choices {
		if c.Name == name {
			return c, true
		}
	}
	return Choice{}, false
}

// TablesInPhase returns the tables created in phase, in catalog order.
func (s *Schema) TablesInPhase(phase int) []Table {
	var out []Table
	for _, t := range s.Tables {
		if t.Phase == phase {
			out = append(out, t)
		}
	}
	return out
}

// ChoiceFor returns the choice bound to column on table.
func (s *Schema) ChoiceFor(table, column string) (string, error) {
	t, ok := s.Table(table)
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	for _, c := range t.Choices {
		if c.Name == column {
			return c.Choice, nil
		}
	}
	return "", fmt.Errorf("table %s has no choice column %q", table, column)
}

// ChoiceValue resolves an option label to its value.
func (s *Schema) ChoiceValue(choice, label string) (int, error) {
	c, ok := s.Choice(choice)
	if !ok {
		return 0, fmt.Errorf("unknown choice %q", choice)
	}
	for _, o := range c.Options {
		if o.Label == label {
			return o.Value, nil
		}
	}
	return 0, fmt.Errorf("choice %s has no option %q", choice, label)
}

// ColumnValue resolves the label of a choice column on table.
func (s *Schema) ColumnValue(table, column, label string) (int, error) {
	choice, err := s.ChoiceFor(table, column)
	if err != nil {
		return 0, err
	}
	return s.ChoiceValue(choice, label)
}
