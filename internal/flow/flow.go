package flow

import (
	"fmt"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/provision"
)

// Flow names a provisioning flow.
type Flow string

const (
	Schema Flow = "schema"
	Roles  Flow = "roles"
	Seed   Flow = "seed"
)

// All lists the flows in the order they must be run.
var All = []Flow{Schema, Roles, Seed}

// Ledger kinds.
const (
	KindChoice       = "choice"
	KindTable        = "table"
	KindColumn       = "column"
	KindLabel        = "label"
	KindMemo         = "memo"
	KindRelationship = "relationship"
	KindRole         = "role"
	KindGrants       = "grants"
	KindRecord       = "record"
	KindAssociation  = "association"

	// KindDiscovery steps read remote state and are never recorded.
	KindDiscovery = "discovery"
	// KindDelete steps belong to destructive runs and are never recorded.
	KindDelete = "delete"
)

// Parse returns the flow with the given name.
func Parse(name string) (Flow, error) {
	for _, f := range All {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown flow %q (want schema, roles or seed)", name)
}

// Kinds returns the ledger kinds the flow records. A destructive run
// forgets them afterwards.
func (f Flow) Kinds() []string {
	switch f {
	case Schema:
		return []string{KindChoice, KindTable, KindColumn, KindLabel, KindMemo, KindRelationship}
	case Roles:
		return []string{KindRole, KindGrants}
	case Seed:
		return []string{KindRecord, KindAssociation}
	}
	return nil
}

// ForgetKinds returns the ledger kinds a destructive run of f invalidates.
// Deleting the tables also removes their records, associations and table
// privileges, so a schema rollback forgets the seed kinds and the grants.
// Roles outlive the tables and are left for the roles flow.
func (f Flow) ForgetKinds() []string {
	switch f {
	case Schema:
		return append(Schema.Kinds(), KindGrants, KindRecord, KindAssociation)
	case Roles, Seed:
		return f.Kinds()
	}
	return nil
}

// DestructiveName is the operator-facing name of the destructive mode.
func (f Flow) DestructiveName() string {
	if f == Seed {
		return "clear"
	}
	return "rollback"
}

// Env is what the phase builders need. Client may be nil when phases are
// only listed, never run.
type Env struct {
	Client  *dataverse.Client
	Catalog *catalog.Catalog
	Names   catalog.Names
	IDs     *provision.IDMap

	// Deleted, if set, is called with the GUID of every record a clear
	// deletes.
	Deleted func(guid string)
}

// Phases builds the forward phases of f, or its rollback/clear phases when
// destructive is set.
func Phases(f Flow, destructive bool, env Env) ([]provision.Phase, error) {
	if env.Catalog == nil {
		return nil, fmt.Errorf("flow %s: nil catalog", f)
	}
	if env.IDs == nil {
		env.IDs = provision.NewIDMap()
	}
	switch f {
	case Schema:
		if destructive {
			return SchemaRollbackPhases(env), nil
		}
		return SchemaPhases(env)
	case Roles:
		if destructive {
			return RolesRollbackPhases(env), nil
		}
		return RolesPhases(env), nil
	case Seed:
		if destructive {
			return SeedClearPhases(env), nil
		}
		return SeedPhases(env)
	}
	return nil, fmt.Errorf("unknown flow %q", f)
}
