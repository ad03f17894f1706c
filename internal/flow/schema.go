package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/provision"
)

const (
	choicePause       = 500 * time.Millisecond
	relationshipPause = time.Second
)

var tablePhases = []struct {
	id          string
	title       string
	description string
}{
	{"1", "Foundation tables", "Tables without foreign keys"},
	{"2", "Core OKR tables", "Objective and key result tables; choices and lookups are added later"},
	{"3", "Detail tables", "Tables that depend on key results"},
	{"4", "Programs and process", "Program, activity update and ritual tables"},
	{"5", "User features", "Saved filter table"},
}

func choiceKey(name string) string { return "choice:" + name }

// SchemaPhases builds the schema flow: global choices, tables in five
// dependency phases, choice columns, display names, memo columns, then 1:N
// and N:N relationships.
func SchemaPhases(env Env) ([]provision.Phase, error) {
	phases := []provision.Phase{choicePhase(env)}
	for i, tp := range tablePhases {
		p, err := tablePhase(env, i+1, tp.id, tp.title, tp.description)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	phases = append(phases,
		choiceColumnPhase(env),
		labelPhase(env),
		memoPhase(env),
		oneToManyPhase(env),
		manyToManyPhase(env),
	)
	return phases, nil
}

func choicePhase(env Env) provision.Phase {
	p := provision.Phase{ID: "0", Title: "Global choices", Description: "Option sets shared by choice columns"}
	for _, ch := range env.Catalog.Schema.Choices {
		options := make([]dataverse.OptionValue, len(ch.Options))
		for i, o := range ch.Options {
			options[i] = dataverse.OptionValue{Label: o.Label, Value: o.Value}
		}
		name := env.Names.Schema(ch.Name)
		body := dataverse.OptionSetMetadata(name, ch.Display, options)
		p.Steps = append(p.Steps, provision.Step{
			Kind:    KindChoice,
			Key:     choiceKey(ch.Name),
			Label:   "Choice " + name,
			Payload: body,
			Pause:   choicePause,
			Do: func(ctx context.Context) (string, error) {
				return env.Client.CreateGlobalOptionSet(ctx, body)
			},
		})
	}
	return p
}

func tablePhase(env Env, phase int, id, title, description string) (provision.Phase, error) {
	p := provision.Phase{ID: id, Title: title, Description: description}
	for _, t := range env.Catalog.Schema.TablesInPhase(phase) {
		spec := dataverse.TableSpec{
			SchemaName:        env.Names.Schema(t.Name),
			PrimarySchemaName: env.Names.Schema(t.Primary.Name),
		}
		for _, col := range t.Columns {
			spec.Columns = append(spec.Columns, dataverse.ColumnSpec{
				SchemaName: env.Names.Schema(col.Name),
				Type:       col.Type,
			})
		}
		body, err := dataverse.EntityMetadata(spec)
		if err != nil {
			return provision.Phase{}, fmt.Errorf("table %s: %w", t.Name, err)
		}
		p.Steps = append(p.Steps, provision.Step{
			Kind:    KindTable,
			Key:     "table:" + t.Name,
			Label:   "Table " + spec.SchemaName,
			Payload: body,
			Do: func(ctx context.Context) (string, error) {
				return env.Client.CreateTable(ctx, body)
			},
		})
	}
	return p, nil
}

// choiceColumnPhase binds picklist columns to the option sets created in
// phase 0. The payload hashed for resume is the authored column, since the
// option set id is only known at run time.
func choiceColumnPhase(env Env) provision.Phase {
	p := provision.Phase{ID: "5b", Title: "Choice columns", Description: "Picklist columns bound to global choices"}
	for _, t := range env.Catalog.Schema.Tables {
		table := env.Names.Logical(t.Name)
		for _, cc := range t.Choices {
			schemaName := env.Names.Schema(cc.Name)
			p.Steps = append(p.Steps, provision.Step{
				Kind:  KindColumn,
				Key:   "column:" + t.Name + "." + cc.Name,
				Label: fmt.Sprintf("Choice column %s.%s", table, schemaName),
				Payload: map[string]any{
					"table":    t.Name,
					"column":   cc.Name,
					"display":  cc.Display,
					"choice":   cc.Choice,
					"required": cc.Required,
				},
				Pause: choicePause,
				Do: func(ctx context.Context) (string, error) {
					optionSetID, err := env.IDs.Get(choiceKey(cc.Choice))
					if err != nil {
						return "", err
					}
					body := dataverse.PicklistMetadata(schemaName, cc.Display, optionSetID, cc.Required)
					return env.Client.CreateAttribute(ctx, table, body)
				},
			})
		}
	}
	return p
}

func labelPhase(env Env) provision.Phase {
	p := provision.Phase{ID: "6", Title: "Display names", Description: "Table and column labels"}
	for _, t := range env.Catalog.Schema.Tables {
		table := env.Names.Logical(t.Name)
		p.Steps = append(p.Steps, provision.Step{
			Kind:    KindLabel,
			Key:     "label:" + t.Name,
			Label:   fmt.Sprintf("Label %s = %s", table, t.Display),
			Payload: dataverse.TableLabels(t.Display, t.Plural),
			Do: func(ctx context.Context) (string, error) {
				return "", env.Client.UpdateTableLabels(ctx, table, t.Display, t.Plural)
			},
		})
	}
	for _, t := range env.Catalog.Schema.Tables {
		table := env.Names.Logical(t.Name)
		for _, col := range append([]catalog.Column{t.Primary}, t.Columns...) {
			column := env.Names.Logical(col.Name)
			p.Steps = append(p.Steps, provision.Step{
				Kind:    KindLabel,
				Key:     "label:" + t.Name + "." + col.Name,
				Label:   fmt.Sprintf("Label %s.%s = %s", table, column, col.Display),
				Payload: dataverse.ColumnLabel(col.Display),
				Do: func(ctx context.Context) (string, error) {
					return "", env.Client.UpdateAttributeLabel(ctx, table, column, col.Display)
				},
			})
		}
	}
	return p
}

func memoPhase(env Env) provision.Phase {
	p := provision.Phase{ID: "7", Title: "Memo columns", Description: "Multi-line text columns"}
	for _, t := range env.Catalog.Schema.Tables {
		table := env.Names.Logical(t.Name)
		for _, m := range t.Memos {
			body := dataverse.MemoMetadata(env.Names.Schema(m.Name), m.Display, m.MaxLength)
			p.Steps = append(p.Steps, provision.Step{
				Kind:    KindMemo,
				Key:     "memo:" + t.Name + "." + m.Name,
				Label:   fmt.Sprintf("Memo column %s.%s", table, env.Names.Schema(m.Name)),
				Payload: body,
				Do: func(ctx context.Context) (string, error) {
					return env.Client.CreateAttribute(ctx, table, body)
				},
			})
		}
	}
	return p
}

func oneToManyPhase(env Env) provision.Phase {
	n := env.Names
	p := provision.Phase{ID: "8", Title: "1:N relationships", Description: "One-to-many relationships with lookup columns"}
	for _, r := range env.Catalog.Schema.OneToMany {
		body := dataverse.OneToManyMetadata(dataverse.OneToManySpec{
			SchemaName:          n.Schema(r.Name),
			ReferencedEntity:    n.Logical(r.Parent),
			ReferencedAttribute: n.PrimaryKey(r.Parent),
			ReferencingEntity:   n.Logical(r.Child),
			LookupSchemaName:    n.Schema(r.Lookup),
			LookupDisplay:       r.Display,
			CascadeDelete:       r.Cascade,
		})
		p.Steps = append(p.Steps, provision.Step{
			Kind:    KindRelationship,
			Key:     "relationship:" + r.Name,
			Label:   fmt.Sprintf("1:N %s (%s -> %s)", n.Schema(r.Name), n.Logical(r.Parent), n.Logical(r.Child)),
			Payload: body,
			Pause:   relationshipPause,
			Do: func(ctx context.Context) (string, error) {
				return env.Client.CreateRelationship(ctx, body)
			},
		})
	}
	return p
}

func manyToManyPhase(env Env) provision.Phase {
	n := env.Names
	p := provision.Phase{ID: "9", Title: "N:N relationships", Description: "Many-to-many relationships with intersect tables"}
	for _, r := range env.Catalog.Schema.ManyToMany {
		body := dataverse.ManyToManyMetadata(dataverse.ManyToManySpec{
			SchemaName: n.Schema(r.Name),
			Entity1:    n.Logical(r.Entity1),
			Display1:   r.Display1,
			Entity2:    n.Logical(r.Entity2),
			Display2:   r.Display2,
		})
		p.Steps = append(p.Steps, provision.Step{
			Kind:    KindRelationship,
			Key:     "relationship:" + r.Name,
			Label:   fmt.Sprintf("N:N %s (%s <-> %s)", n.Schema(r.Name), n.Logical(r.Entity1), n.Logical(r.Entity2)),
			Payload: body,
			Pause:   relationshipPause,
			Do: func(ctx context.Context) (string, error) {
				return env.Client.CreateRelationship(ctx, body)
			},
		})
	}
	return p
}

// SchemaRollbackPhases deletes the tables in rollback order, then the global
// choices. Every step is best-effort.
func SchemaRollbackPhases(env Env) []provision.Phase {
	tables := provision.Phase{ID: "R1", Title: "Delete tables", Description: "Children before parents"}
	for _, name := range env.Catalog.Schema.RollbackOrder {
		logical := env.Names.Logical(name)
		tables.Steps = append(tables.Steps, provision.Step{
			Kind:       KindDelete,
			Label:      "Delete table " + env.Names.Schema(name),
			BestEffort: true,
			Do: func(ctx context.Context) (string, error) {
				return "", env.Client.DeleteTable(ctx, logical)
			},
		})
	}

	choices := provision.Phase{ID: "R2", Title: "Delete global choices", Description: "After the tables that use them"}
	for _, ch := range env.Catalog.Schema.Choices {
		name := env.Names.Schema(ch.Name)
		choices.Steps = append(choices.Steps, provision.Step{
			Kind:       KindDelete,
			Label:      "Delete choice " + name,
			BestEffort: true,
			Do: func(ctx context.Context) (string, error) {
				return "", env.Client.DeleteGlobalOptionSet(ctx, name)
			},
		})
	}
	return []provision.Phase{tables, choices}
}
