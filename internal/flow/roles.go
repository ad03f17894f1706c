package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/provision"
)

const (
	privilegePause  = 100 * time.Millisecond
	rolePause       = 300 * time.Millisecond
	roleDeletePause = 200 * time.Millisecond
)

// roleState is filled by the discovery steps and read by the role steps.
type roleState struct {
	businessUnit string
	privileges   map[string]dataverse.Privilege // by privilege name
	existing     map[string]bool                // roles found before creation
}

func roleKey(name string) string { return "role:" + name }

func whoAmIStep(env Env, label string, bind func(dataverse.WhoAmIResult)) provision.Step {
	return provision.Step{
		Kind:  KindDiscovery,
		Label: label,
		Do: func(ctx context.Context) (string, error) {
			who, err := env.Client.WhoAmI(ctx)
			if err != nil {
				return "", err
			}
			bind(who)
			return "", nil
		},
	}
}

// RolesPhases builds the roles flow: business unit and privilege discovery,
// then one phase creating each role that does not exist yet and granting
// its privileges.
func RolesPhases(env Env) []provision.Phase {
	st := &roleState{
		privileges: make(map[string]dataverse.Privilege),
		existing:   make(map[string]bool),
	}
	roles := env.Catalog.Roles

	discovery := provision.Phase{ID: "0", Title: "Discovery", Description: "Business unit and table privileges"}
	discovery.Steps = append(discovery.Steps, whoAmIStep(env, "Resolve business unit", func(who dataverse.WhoAmIResult) {
		st.businessUnit = who.BusinessUnitID
	}))
	for _, table := range roles.Tables {
		logical := env.Names.Logical(table)
		names := make([]string, len(roles.Verbs))
		for i, verb := range roles.Verbs {
			names[i] = catalog.PrivilegeName(verb, logical)
		}
		discovery.Steps = append(discovery.Steps, provision.Step{
			Kind:  KindDiscovery,
			Label: "Privileges for " + logical,
			Pause: privilegePause,
			Do: func(ctx context.Context) (string, error) {
				privs, err := env.Client.ListPrivileges(ctx, names)
				if err != nil {
					return "", err
				}
				for _, p := range privs {
					st.privileges[p.Name] = p
				}
				slog.Debug("privileges found", "table", logical, "count", len(privs))
				return "", nil
			},
		})
	}

	create := provision.Phase{ID: "1", Title: "Security roles", Description: "Create roles and grant privileges"}
	for _, role := range roles.Roles {
		grants := roles.Grants(role)
		create.Steps = append(create.Steps,
			provision.Step{
				Kind:    KindRole,
				Key:     roleKey(role.Name),
				Label:   "Role " + role.Name,
				Payload: map[string]any{"name": role.Name},
				Do: func(ctx context.Context) (string, error) {
					existing, err := env.Client.FindRole(ctx, role.Name, st.businessUnit)
					if err != nil {
						return "", err
					}
					if existing != nil {
						st.existing[role.Name] = true
						return existing.ID, provision.ErrAlreadyExists
					}
					return env.Client.CreateRole(ctx, role.Name, st.businessUnit)
				},
			},
			provision.Step{
				Kind:    KindGrants,
				Key:     "grants:" + role.Name,
				Label:   fmt.Sprintf("Privileges for %s (%d)", role.Name, len(grants)),
				Payload: grantsPayload(grants),
				Pause:   rolePause,
				Do: func(ctx context.Context) (string, error) {
					if st.existing[role.Name] {
						return "", provision.ErrAlreadyExists
					}
					roleID, err := env.IDs.Get(roleKey(role.Name))
					if err != nil {
						return "", err
					}
					privs := resolveGrants(env.Names, grants, st)
					return "", env.Client.AddPrivilegesRole(ctx, roleID, privs)
				},
			},
		)
	}
	return []provision.Phase{discovery, create}
}

// resolveGrants maps grants to discovered privileges. A grant whose
// privilege was not discovered is logged and left out.
func resolveGrants(names catalog.Names, grants []catalog.Grant, st *roleState) []dataverse.RolePrivilege {
	out := make([]dataverse.RolePrivilege, 0, len(grants))
	for _, g := range grants {
		name := catalog.PrivilegeName(g.Verb, names.Logical(g.Table))
		p, ok := st.privileges[name]
		if !ok {
			slog.Warn("privilege not found", "privilege", name)
			continue
		}
		out = append(out, dataverse.RolePrivilege{
			PrivilegeID:    p.ID,
			PrivilegeName:  p.Name,
			Depth:          g.Depth,
			BusinessUnitID: st.businessUnit,
		})
	}
	return out
}

func grantsPayload(grants []catalog.Grant) []map[string]string {
	out := make([]map[string]string, len(grants))
	for i, g := range grants {
		out[i] = map[string]string{"table": g.Table, "verb": g.Verb, "depth": g.Depth}
	}
	return out
}

// RolesRollbackPhases deletes every catalog role found by name in the
// caller's business unit.
func RolesRollbackPhases(env Env) []provision.Phase {
	var businessUnit string
	discovery := provision.Phase{ID: "0", Title: "Discovery", Description: "Business unit"}
	discovery.Steps = append(discovery.Steps, whoAmIStep(env, "Resolve business unit", func(who dataverse.WhoAmIResult) {
		businessUnit = who.BusinessUnitID
	}))

	del := provision.Phase{ID: "R1", Title: "Delete security roles"}
	for _, role := range env.Catalog.Roles.Roles {
		del.Steps = append(del.Steps, provision.Step{
			Kind:       KindDelete,
			Label:      "Delete role " + role.Name,
			Pause:      roleDeletePause,
			BestEffort: true,
			Do: func(ctx context.Context) (string, error) {
				existing, err := env.Client.FindRole(ctx, role.Name, businessUnit)
				if err != nil {
					return "", err
				}
				if existing == nil {
					return "", fmt.Errorf("role %s: %w", role.Name, provision.ErrAbsent)
				}
				return "", env.Client.DeleteRole(ctx, existing.ID)
			},
		})
	}
	return []provision.Phase{discovery, del}
}
