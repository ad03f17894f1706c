package flow

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/dataversetest"
	"github.com/roach88/powerone/internal/provision"
	"github.com/roach88/powerone/internal/testutil"
)

var names = catalog.Names{Prefix: "po"}

type fixture struct {
	srv *dataversetest.Server
	env Env
	cat *catalog.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := dataversetest.New(t)
	cat := catalog.MustLoad()
	client := dataverse.NewClient(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
	return &fixture{
		srv: srv,
		cat: cat,
		env: Env{Client: client, Catalog: cat, Names: names, IDs: provision.NewIDMap()},
	}
}

// addTables registers every catalog table on the fake server.
func (f *fixture) addTables() {
	for _, t := range f.cat.Schema.Tables {
		f.srv.AddTable(names.Logical(t.Name))
	}
}

func (f *fixture) run(t *testing.T, fl Flow, destructive bool) (provision.Summary, string, error) {
	t.Helper()
	phases, err := Phases(fl, destructive, f.env)
	require.NoError(t, err)

	var out bytes.Buffer
	var s testutil.Sleeper
	r := &provision.Runner{IDs: f.env.IDs, Retry: provision.DefaultRetry(), Sleep: s.Sleep, Out: &out}
	summary, err := r.Run(context.Background(), phases)
	return summary, out.String(), err
}

func phaseIDs(phases []provision.Phase) []string {
	ids := make([]string, len(phases))
	for i, p := range phases {
		ids[i] = p.ID
	}
	return ids
}

func stepCounts(phases []provision.Phase) map[string]int {
	out := make(map[string]int, len(phases))
	for _, p := range phases {
		out[p.ID] = len(p.Steps)
	}
	return out
}

func TestParse(t *testing.T) {
	f, err := Parse("roles")
	require.NoError(t, err)
	assert.Equal(t, Roles, f)

	_, err = Parse("users")
	assert.ErrorContains(t, err, `unknown flow "users"`)
}

func TestFlowKindsAndModes(t *testing.T) {
	assert.Equal(t, []string{KindRecord, KindAssociation}, Seed.Kinds())
	assert.Contains(t, Schema.Kinds(), KindRelationship)
	assert.Equal(t, "clear", Seed.DestructiveName())
	assert.Equal(t, "rollback", Roles.DestructiveName())
}

func TestForgetKinds(t *testing.T) {
	schema := Schema.ForgetKinds()
	for _, kind := range Schema.Kinds() {
		assert.Contains(t, schema, kind)
	}
	assert.Contains(t, schema, KindGrants, "table privileges go with the tables")
	assert.Contains(t, schema, KindRecord, "records go with the tables")
	assert.Contains(t, schema, KindAssociation)
	assert.NotContains(t, schema, KindRole, "roles outlive the tables")

	assert.Equal(t, Roles.Kinds(), Roles.ForgetKinds())
	assert.Equal(t, Seed.Kinds(), Seed.ForgetKinds())
	assert.Len(t, Schema.Kinds(), 6, "ForgetKinds does not alias Kinds")
}

func TestPhases_NilCatalog(t *testing.T) {
	_, err := Phases(Schema, false, Env{})
	assert.ErrorContains(t, err, "nil catalog")
}

func TestSchemaPhases_Shape(t *testing.T) {
	f := newFixture(t)
	phases, err := SchemaPhases(f.env)
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "5b", "6", "7", "8", "9"}, phaseIDs(phases))
	assert.Equal(t, map[string]int{
		"0": 10, "1": 2, "2": 2, "3": 3, "4": 3, "5": 1,
		"5b": 10, "6": 11 + 32, "7": 4, "8": 16, "9": 4,
	}, stepCounts(phases))

	for _, p := range phases {
		for _, s := range p.Steps {
			assert.NotEmpty(t, s.Key, "schema step %s must be resumable", s.Label)
		}
	}
}

func TestSchema_RunAgainstFake(t *testing.T) {
	f := newFixture(t)
	summary, out, err := f.run(t, Schema, false)
	require.NoError(t, err)

	executed, skipped, failed := summary.Totals()
	assert.Equal(t, 10+11+10+43+4+16+4, executed)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)

	assert.Len(t, f.srv.Tables(), 11)
	assert.Contains(t, f.srv.Tables(), "po_keyresult")
	assert.Len(t, f.srv.Choices(), 10)
	assert.Contains(t, f.srv.Choices(), "po_sprintstatus")
	assert.Contains(t, out, "=== Phase 5b: Choice columns ===")

	// Choice columns bind to the option sets created in phase 0.
	sprintStatus, err := f.env.IDs.Get(choiceKey("SprintStatus"))
	require.NoError(t, err)
	var bound bool
	for _, req := range f.srv.RequestsTo(http.MethodPost, "EntityDefinitions(LogicalName='po_sprint')/Attributes") {
		if req.Body["SchemaName"] == "po_Status" {
			assert.Equal(t, "/GlobalOptionSetDefinitions("+sprintStatus+")", req.Body["GlobalOptionSet@odata.bind"])
			bound = true
		}
	}
	assert.True(t, bound, "po_sprint.po_Status was not created")

	rels := f.srv.RequestsTo(http.MethodPost, "RelationshipDefinitions")
	require.Len(t, rels, 20)
	assert.Equal(t, "po_orgunit_1N_orgunit", rels[0].Body["SchemaName"])
	assert.Equal(t, "po_organizationalunitid", rels[0].Body["ReferencedAttribute"])
	assert.Equal(t, "po_user_orgunit", rels[19].Body["SchemaName"])
}

func TestSchema_ChoiceColumnNeedsOptionSet(t *testing.T) {
	f := newFixture(t)
	phases, err := SchemaPhases(f.env)
	require.NoError(t, err)

	// Skip phase 0: the option set ids are never bound.
	var s testutil.Sleeper
	r := &provision.Runner{IDs: f.env.IDs, Retry: provision.DefaultRetry(), Sleep: s.Sleep}
	_, err = r.Run(context.Background(), phases[1:])
	assert.ErrorIs(t, err, provision.ErrUnresolvedReference)
	assert.Empty(t, f.srv.RequestsTo(http.MethodPost, "EntityDefinitions(LogicalName='po_sprint')/Attributes"))
}

func TestSchema_Rollback(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, Schema, false)
	require.NoError(t, err)

	summary, _, err := f.run(t, Schema, true)
	require.NoError(t, err)
	executed, _, failed := summary.Totals()
	assert.Equal(t, 21, executed)
	assert.Zero(t, failed)
	assert.Empty(t, f.srv.Tables())
	assert.Empty(t, f.srv.Choices())

	deletes := f.srv.RequestsTo(http.MethodDelete, "EntityDefinitions")
	require.Len(t, deletes, 11)
	assert.Equal(t, "EntityDefinitions(LogicalName='po_activityupdate')", deletes[0].Path)
	assert.Equal(t, "EntityDefinitions(LogicalName='po_organizationalunit')", deletes[10].Path)
}

func TestSchema_RollbackOnEmptyEnvironmentContinues(t *testing.T) {
	f := newFixture(t)
	summary, out, err := f.run(t, Schema, true)
	require.NoError(t, err)

	executed, _, failed := summary.Totals()
	assert.Zero(t, executed)
	assert.Equal(t, 21, failed)
	assert.Contains(t, out, "Skip Delete table po_ActivityUpdate (may not exist)")
	assert.Contains(t, out, "Skip Delete choice po_SprintStatus (may not exist)")
}

func TestRoles_RunAgainstFake(t *testing.T) {
	f := newFixture(t)
	f.addTables()

	summary, _, err := f.run(t, Roles, false)
	require.NoError(t, err)
	executed, skipped, _ := summary.Totals()
	assert.Equal(t, 1+11+2*5, executed)
	assert.Zero(t, skipped)

	assert.Equal(t, []string{
		"PowerOne Admin", "PowerOne User", "PowerOne Objective Owner", "PowerOne KR Contributor", "PowerOne Viewer",
	}, f.srv.RoleNames())

	for _, role := range f.cat.Roles.Roles {
		privs := f.srv.RolePrivileges(role.Name)
		assert.Len(t, privs, len(f.cat.Roles.Grants(role)), role.Name)
		for _, p := range privs {
			assert.Equal(t, dataversetest.BusinessUnitID, p["BusinessUnitId"])
			assert.True(t, strings.HasPrefix(p["PrivilegeName"].(string), "prv"))
		}
	}

	admin := f.srv.RolePrivileges("PowerOne Admin")
	require.NotEmpty(t, admin)
	assert.Equal(t, "prvCreatepo_organizationalunit", admin[0]["PrivilegeName"])
	assert.Equal(t, "Global", admin[0]["Depth"])
}

func TestRoles_ExistingRoleIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.addTables()
	existing := f.srv.AddRole("PowerOne Viewer")

	summary, out, err := f.run(t, Roles, false)
	require.NoError(t, err)
	_, skipped, _ := summary.Totals()
	assert.Equal(t, 2, skipped)
	assert.Contains(t, out, "= Role PowerOne Viewer (already exists)")

	assert.Empty(t, f.srv.RolePrivileges("PowerOne Viewer"))
	assert.Len(t, f.srv.RoleNames(), 5)

	id, err := f.env.IDs.Get(roleKey("PowerOne Viewer"))
	require.NoError(t, err)
	assert.Equal(t, existing, id)
}

func TestRoles_MissingPrivilegesAreLeftOut(t *testing.T) {
	f := newFixture(t)
	for _, tbl := range f.cat.Schema.Tables {
		if tbl.Name != "SavedFilter" {
			f.srv.AddTable(names.Logical(tbl.Name))
		}
	}

	_, _, err := f.run(t, Roles, false)
	require.NoError(t, err)
	for _, p := range f.srv.RolePrivileges("PowerOne Admin") {
		assert.NotContains(t, p["PrivilegeName"], "po_savedfilter")
	}
}

func TestRoles_PrivilegeNamesMatchExactly(t *testing.T) {
	st := &roleState{
		businessUnit: "bu",
		privileges: map[string]dataverse.Privilege{
			"prvAppendTopo_objective": {ID: "p-appendto", Name: "prvAppendTopo_objective"},
		},
	}
	grants := []catalog.Grant{
		{Table: "objective", Verb: "Append", Depth: "Local"},
		{Table: "objective", Verb: "AppendTo", Depth: "Global"},
	}
	got := resolveGrants(names, grants, st)
	require.Len(t, got, 1)
	assert.Equal(t, "p-appendto", got[0].PrivilegeID)
	assert.Equal(t, "Global", got[0].Depth)
}

func TestRoles_Rollback(t *testing.T) {
	f := newFixture(t)
	f.srv.AddRole("PowerOne Admin")
	f.srv.AddRole("PowerOne Viewer")
	f.srv.AddRole("Unrelated")

	summary, out, err := f.run(t, Roles, true)
	require.NoError(t, err)
	executed, skipped, failed := summary.Totals()
	assert.Equal(t, 1+2, executed)
	assert.Equal(t, 3, skipped)
	assert.Zero(t, failed)
	assert.Contains(t, out, "= Delete role PowerOne User (not found)")
	assert.Equal(t, []string{"Unrelated"}, f.srv.RoleNames())
}

func TestSeedPhases_Shape(t *testing.T) {
	f := newFixture(t)
	phases, err := SeedPhases(f.env)
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13", "14", "15"}, phaseIDs(phases))
	counts := stepCounts(phases)
	assert.Equal(t, 11+1, counts["0"])
	assert.Equal(t, 42, counts["7"])
	assert.Equal(t, 18, counts["14"])

	records := 0
	for _, p := range phases[1:12] {
		records += len(p.Steps)
	}
	assert.Equal(t, f.cat.Seed.RecordCount(), records)
}

func TestSeed_RunAgainstFake(t *testing.T) {
	f := newFixture(t)
	f.addTables()

	summary, _, err := f.run(t, Seed, false)
	require.NoError(t, err)
	executed, _, failed := summary.Totals()
	assert.Equal(t, 12+f.cat.Seed.RecordCount()+f.cat.Seed.AssociationCount(), executed)
	assert.Zero(t, failed)

	sprints := f.srv.Records("po_sprints")
	require.Len(t, sprints, 3)
	assert.Equal(t, "Sprint 26.1", sprints[0]["po_name"])
	assert.Equal(t, "2026-01-01", sprints[0]["po_startdate"])
	assert.EqualValues(t, 100000001, sprints[0]["po_status"])

	units := f.srv.Records("po_organizationalunits")
	require.Len(t, units, 14)
	assert.NotContains(t, units[0], "po_ParentUnitId@odata.bind")
	groupID, err := f.env.IDs.Get("ou-group")
	require.NoError(t, err)
	assert.Equal(t, "/po_organizationalunits("+groupID+")", units[1]["po_ParentUnitId@odata.bind"])

	objectives := f.srv.Records("po_objectives")
	require.NotEmpty(t, objectives)
	assert.Equal(t, "/systemusers("+dataversetest.UserID+")", objectives[0]["po_OwnerId@odata.bind"])

	assert.Len(t, f.srv.Records("po_tasks"), 42)
	assert.Len(t, f.srv.Associations(), f.cat.Seed.AssociationCount())

	last := f.srv.Associations()[len(f.srv.Associations())-1]
	assert.Equal(t, "systemusers", last.EntitySet)
	assert.Equal(t, dataversetest.UserID, last.ID)
	assert.Equal(t, "po_user_orgunit", last.Relationship)
}

func TestSeed_MissingTableAborts(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, Seed, false)
	require.Error(t, err)
	assert.True(t, provision.IsRetryExhausted(err))
	assert.ErrorContains(t, err, "Entity set of po_sprint")
	assert.Empty(t, f.srv.RequestsTo(http.MethodPost, "po_"))
}

func TestSeed_Clear(t *testing.T) {
	f := newFixture(t)
	f.addTables()
	f.srv.PageSize = 2
	f.srv.AddRecords("po_sprints", 3)
	f.srv.AddRecords("po_tasks", 5)

	summary, out, err := f.run(t, Seed, true)
	require.NoError(t, err)
	executed, _, failed := summary.Totals()
	assert.Equal(t, 11+3+5, executed)
	assert.Zero(t, failed)
	assert.Empty(t, f.srv.Records("po_sprints"))
	assert.Empty(t, f.srv.Records("po_tasks"))
	assert.Contains(t, out, "=== Phase C4: Clear po_task ===")
}

func TestSeed_ClearReportsDeletedRecords(t *testing.T) {
	f := newFixture(t)
	f.addTables()
	want := f.srv.AddRecords("po_sprints", 2)

	var deleted []string
	f.env.Deleted = func(guid string) { deleted = append(deleted, guid) }

	_, _, err := f.run(t, Seed, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, deleted)
}

func TestSeed_ClearSkipsUnlistableTable(t *testing.T) {
	f := newFixture(t)
	f.addTables()
	f.srv.AddRecords("po_tasks", 2)
	f.srv.AddRecords("po_sprints", 1)
	f.srv.Fail(http.MethodGet, "po_tasks", http.StatusInternalServerError, 1)

	var deleted []string
	f.env.Deleted = func(guid string) { deleted = append(deleted, guid) }

	summary, out, err := f.run(t, Seed, true)
	require.NoError(t, err)
	executed, _, failed := summary.Totals()
	assert.Equal(t, 11+1, executed)
	assert.Equal(t, 1, failed, "an unlistable table is a failed step")
	assert.Contains(t, out, "- Skip List po_tasks")
	assert.Len(t, f.srv.Records("po_tasks"), 2)
	assert.Empty(t, f.srv.Records("po_sprints"))
	assert.Len(t, deleted, 1)
}

func TestSeed_ClearWithoutTables(t *testing.T) {
	f := newFixture(t)
	summary, _, err := f.run(t, Seed, true)
	require.NoError(t, err)
	_, _, failed := summary.Totals()
	assert.Equal(t, 11, failed)
}

func TestAllFlows_EndToEnd(t *testing.T) {
	f := newFixture(t)
	for _, fl := range All {
		_, _, err := f.run(t, fl, false)
		require.NoError(t, err, fl)
	}
	assert.Len(t, f.srv.RoleNames(), 5)
	assert.Len(t, f.srv.Records("po_keyresults"), 18)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abc", short("abc"))
	long := strings.Repeat("x", 70)
	assert.Equal(t, strings.Repeat("x", 60)+"...", short(long))
}
