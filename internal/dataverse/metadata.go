package dataverse

import (
	"fmt"
	"strings"
)

// LanguageCode is the LCID of every label this package writes (English).
const LanguageCode = 1033

// Payload is a JSON request body.
type Payload map[string]any

// Column types accepted by AttributeMetadata.
const (
	ColumnString   = "string"
	ColumnInt      = "int"
	ColumnDecimal  = "decimal"
	ColumnDateTime = "datetime"
	ColumnBool     = "bool"
)

const (
	odataLabel          = "Microsoft.Dynamics.CRM.Label"
	odataLocalizedLabel = "Microsoft.Dynamics.CRM.LocalizedLabel"
)

func localizedLabel(text string) Payload {
	return Payload{
		"@odata.type":  odataLocalizedLabel,
		"Label":        text,
		"LanguageCode": LanguageCode,
	}
}

// Label is a single-language label.
func Label(text string) Payload {
	return Payload{
		"@odata.type":     odataLabel,
		"LocalizedLabels": []any{localizedLabel(text)},
	}
}

// UserLabel is Label with UserLocalizedLabel set, as relationship metadata
// expects.
func UserLabel(text string) Payload {
	l := Label(text)
	l["UserLocalizedLabel"] = localizedLabel(text)
	return l
}

func requiredLevel(value string) Payload {
	return Payload{
		"Value":                      value,
		"CanBeChanged":               true,
		"ManagedPropertyLogicalName": "canmodifyrequirementlevelsettings",
	}
}

// OptionValue is one option of a choice.
type OptionValue struct {
	Label string
	Value int
}

// OptionSetMetadata is the body that creates a global choice. Dataverse
// requires the name in lower case.
func OptionSetMetadata(name, display string, options []OptionValue) Payload {
	opts := make([]any, 0, len(options))
	for _, o := range options {
		opts = append(opts, Payload{
			"Value": o.Value,
			"Label": Label(o.Label),
		})
	}
	return Payload{
		"@odata.type":   "Microsoft.Dynamics.CRM.OptionSetMetadata",
		"IsGlobal":      true,
		"Name":          strings.ToLower(name),
		"DisplayName":   Label(display),
		"OptionSetType": "Picklist",
		"Options":       opts,
	}
}

// ColumnSpec describes a simple column created with its table.
type ColumnSpec struct {
	SchemaName string
	Type       string
}

// TableSpec describes a new user-owned table. Labels default to the schema
// names; they are replaced once every table exists.
type TableSpec struct {
	SchemaName        string
	PrimarySchemaName string
	Columns           []ColumnSpec
}

// EntityMetadata is the body that creates a table with its primary name
// column and simple columns.
func EntityMetadata(spec TableSpec) (Payload, error) {
	primary := stringAttribute(spec.PrimarySchemaName)
	primary["IsPrimaryName"] = true

	attrs := []any{primary}
	for _, col := range spec.Columns {
		a, err := AttributeMetadata(col)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", spec.SchemaName, err)
		}
		attrs = append(attrs, a)
	}

	return Payload{
		"@odata.type":           "Microsoft.Dynamics.CRM.EntityMetadata",
		"SchemaName":            spec.SchemaName,
		"DisplayName":           Label(spec.SchemaName),
		"DisplayCollectionName": Label(spec.SchemaName + "s"),
		"Description":           Label("Custom table " + spec.SchemaName),
		"OwnershipType":         "UserOwned",
		"HasActivities":         false,
		"HasNotes":              false,
		"IsActivity":            false,
		"Attributes":            attrs,
	}, nil
}

// AttributeMetadata is the body that creates a simple column.
func AttributeMetadata(col ColumnSpec) (Payload, error) {
	switch col.Type {
	case ColumnString:
		return stringAttribute(col.SchemaName), nil
	case ColumnInt:
		a := baseAttribute("Microsoft.Dynamics.CRM.IntegerAttributeMetadata", col.SchemaName)
		a["Format"] = "None"
		a["MinValue"] = -2147483648
		a["MaxValue"] = 2147483647
		return a, nil
	case ColumnDecimal:
		a := baseAttribute("Microsoft.Dynamics.CRM.DecimalAttributeMetadata", col.SchemaName)
		a["Precision"] = 2
		a["MinValue"] = -100000000000
		a["MaxValue"] = 100000000000
		return a, nil
	case ColumnDateTime:
		a := baseAttribute("Microsoft.Dynamics.CRM.DateTimeAttributeMetadata", col.SchemaName)
		a["Format"] = "DateAndTime"
		a["DateTimeBehavior"] = Payload{"Value": "UserLocal"}
		return a, nil
	case ColumnBool:
		a := baseAttribute("Microsoft.Dynamics.CRM.BooleanAttributeMetadata", col.SchemaName)
		a["DefaultValue"] = false
		a["OptionSet"] = Payload{
			"@odata.type": "Microsoft.Dynamics.CRM.BooleanOptionSetMetadata",
			"TrueOption":  Payload{"Value": 1, "Label": Label("True")},
			"FalseOption": Payload{"Value": 0, "Label": Label("False")},
		}
		return a, nil
	default:
		return nil, fmt.Errorf("column %s: unsupported type %q", col.SchemaName, col.Type)
	}
}

func baseAttribute(odataType, schemaName string) Payload {
	return Payload{
		"@odata.type":   odataType,
		"SchemaName":    schemaName,
		"DisplayName":   Label(schemaName),
		"RequiredLevel": requiredLevel("None"),
	}
}

func stringAttribute(schemaName string) Payload {
	a := baseAttribute("Microsoft.Dynamics.CRM.StringAttributeMetadata", schemaName)
	a["MaxLength"] = 100
	a["FormatName"] = Payload{"Value": "Text"}
	return a
}

// PicklistMetadata is the body that creates a choice column bound to the
// global option set with id optionSetID.
func PicklistMetadata(schemaName, display, optionSetID string, required bool) Payload {
	level := "None"
	if required {
		level = "ApplicationRequired"
	}
	return Payload{
		"@odata.type":                "Microsoft.Dynamics.CRM.PicklistAttributeMetadata",
		"SchemaName":                 schemaName,
		"DisplayName":                Label(display),
		"RequiredLevel":              requiredLevel(level),
		"GlobalOptionSet@odata.bind": "/GlobalOptionSetDefinitions(" + optionSetID + ")",
	}
}

// MemoMetadata is the body that creates a multi-line text column.
func MemoMetadata(schemaName, display string, maxLength int) Payload {
	return Payload{
		"@odata.type":   "Microsoft.Dynamics.CRM.MemoAttributeMetadata",
		"SchemaName":    schemaName,
		"DisplayName":   Label(display),
		"RequiredLevel": requiredLevel("None"),
		"Format":        "TextArea",
		"MaxLength":     maxLength,
	}
}

// TableLabels is the PATCH body that sets a table's display names.
func TableLabels(display, plural string) Payload {
	return Payload{
		"DisplayName":           Label(display),
		"DisplayCollectionName": Label(plural),
	}
}

// ColumnLabel is the PATCH body that sets a column's display name.
func ColumnLabel(display string) Payload {
	return Payload{"DisplayName": Label(display)}
}

// OneToManySpec describes a 1:N relationship and its lookup column.
// ReferencedAttribute is the primary key of ReferencedEntity. CascadeDelete
// is one of Cascade, RemoveLink or Restrict.
type OneToManySpec struct {
	SchemaName          string
	ReferencedEntity    string
	ReferencedAttribute string
	ReferencingEntity   string
	LookupSchemaName    string
	LookupDisplay       string
	CascadeDelete       string
}

// OneToManyMetadata is the body that creates a 1:N relationship.
func OneToManyMetadata(spec OneToManySpec) Payload {
	cascade := spec.CascadeDelete
	if cascade == "" {
		cascade = "Restrict"
	}
	return Payload{
		"@odata.type": "Microsoft.Dynamics.CRM.OneToManyRelationshipMetadata",
		"SchemaName":  spec.SchemaName,
		"AssociatedMenuConfiguration": Payload{
			"Behavior": "UseCollectionName",
			"Group":    "Details",
			"Label":    UserLabel(spec.LookupDisplay),
			"Order":    10000,
		},
		"CascadeConfiguration": Payload{
			"Assign":   "NoCascade",
			"Delete":   cascade,
			"Merge":    "NoCascade",
			"Reparent": "NoCascade",
			"Share":    "NoCascade",
			"Unshare":  "NoCascade",
		},
		"ReferencedAttribute": spec.ReferencedAttribute,
		"ReferencedEntity":    spec.ReferencedEntity,
		"ReferencingEntity":   spec.ReferencingEntity,
		"Lookup": Payload{
			"@odata.type":       "Microsoft.Dynamics.CRM.LookupAttributeMetadata",
			"AttributeType":     "Lookup",
			"AttributeTypeName": Payload{"Value": "LookupType"},
			"Description":       UserLabel("Lookup to " + spec.LookupDisplay),
			"DisplayName":       UserLabel(spec.LookupDisplay),
			"RequiredLevel":     requiredLevel("None"),
			"SchemaName":        spec.LookupSchemaName,
		},
	}
}

// ManyToManySpec describes an N:N relationship. The intersect table takes the
// relationship's schema name.
type ManyToManySpec struct {
	SchemaName string
	Entity1    string
	Display1   string
	Entity2    string
	Display2   string
}

// ManyToManyMetadata is the body that creates an N:N relationship.
func ManyToManyMetadata(spec ManyToManySpec) Payload {
	menu := func(display string) Payload {
		return Payload{
			"Behavior": "UseLabel",
			"Group":    "Details",
			"Label":    UserLabel(display),
			"Order":    10000,
		}
	}
	return Payload{
		"@odata.type":                        "Microsoft.Dynamics.CRM.ManyToManyRelationshipMetadata",
		"SchemaName":                         spec.SchemaName,
		"Entity1AssociatedMenuConfiguration": menu(spec.Display1),
		"Entity1LogicalName":                 spec.Entity1,
		"Entity2AssociatedMenuConfiguration": menu(spec.Display2),
		"Entity2LogicalName":                 spec.Entity2,
		"IntersectEntityName":                spec.SchemaName,
	}
}
