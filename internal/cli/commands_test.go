package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/powerone/internal/dataversetest"
)

func TestPlanCommand_Text(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "plan", "schema")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Phase 0: Global choices")
	assert.Contains(t, res.stdout, "Phase 5b: Choice columns")
	assert.Contains(t, res.stdout, "Table po_Objective")
	assert.Empty(t, h.srv.Requests(), "plan is offline")
}

func TestPlanCommand_NeedsOnlyPrefix(t *testing.T) {
	h := setup(t)
	t.Setenv("POWERONE_ENV_URL", "")
	t.Setenv("POWERONE_ACCESS_TOKEN", "")
	t.Setenv("POWERONE_PREFIX", "acme")

	res := h.execute(t, "", "plan", "roles")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Privileges for acme_task")
}

func TestPlanCommand_JSON(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "--format", "json", "plan", "schema")
	require.NoError(t, res.err)

	var resp struct {
		Status string     `json:"status"`
		Data   PlanResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "apply", resp.Data.Mode)
	require.Len(t, resp.Data.Steps, 98)
	assert.Equal(t, "choice", resp.Data.Steps[0].Kind)
	assert.Equal(t, "0", resp.Data.Steps[0].Phase)
}

func TestPlanCommand_DynamicClearPhases(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "plan", "seed", "--destructive")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Phase C1:")
	assert.Contains(t, res.stdout, "  ~ ")
}

func TestPlanCommand_UnknownFlow(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "plan", "users")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.stdout, `unknown flow "users"`)
}

func TestLedgerCommand_Empty(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "ledger")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No runs recorded")
}

func TestLedgerCommand_RunsAndEntities(t *testing.T) {
	h := setup(t)
	require.NoError(t, h.execute(t, "", "schema").err)

	res := h.execute(t, "", "ledger")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "RUN")
	assert.Contains(t, res.stdout, "run-1")
	assert.Contains(t, res.stdout, "succeeded")

	res = h.execute(t, "", "--format", "json", "ledger", "--entities")
	require.NoError(t, res.err)

	var resp struct {
		Data LedgerResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, h.srv.URL+"|po", resp.Data.Scope)
	require.Len(t, resp.Data.Entities, 98)
	assert.Equal(t, "choice", resp.Data.Entities[0].Kind)
	assert.Equal(t, "run-1", resp.Data.Entities[0].RunID)
}

func TestLedgerCommand_EntitiesNeedEnvironment(t *testing.T) {
	h := setup(t)
	t.Setenv("POWERONE_ENV_URL", "")

	res := h.execute(t, "", "ledger", "--entities")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestLedgerCommand_LedgerFlagOverridesEnvironment(t *testing.T) {
	h := setup(t)
	require.NoError(t, h.execute(t, "", "schema").err)

	other := t.TempDir() + "/other.db"
	res := h.execute(t, "", "--ledger", other, "ledger")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No runs recorded")
}

func TestWhoAmICommand(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "whoami")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "User:          "+dataversetest.UserID)
	assert.Contains(t, res.stdout, "Business unit: "+dataversetest.BusinessUnitID)
	assert.NotContains(t, res.stdout, "Identity:", "opaque test token has no claims")
}

func TestWhoAmICommand_JSON(t *testing.T) {
	h := setup(t)

	res := h.execute(t, "", "--format", "json", "whoami")
	require.NoError(t, res.err)

	var resp struct {
		Data WhoAmIResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, dataversetest.OrganizationID, resp.Data.OrganizationID)
	assert.Equal(t, h.srv.URL, resp.Data.EnvURL)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name  string
		flag  string
		input string
		want  bool
	}{
		{"flag", "DELETE ALL", "", true},
		{"flag_mismatch", "delete all", "DELETE ALL\n", false},
		{"stdin", "", "DELETE ALL\n", true},
		{"stdin_crlf", "", "DELETE ALL\r\n", true},
		{"stdin_no_newline", "", "DELETE ALL", true},
		{"stdin_trailing_space", "", "DELETE ALL \n", false},
		{"stdin_empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			ok, err := confirm(tt.flag, strings.NewReader(tt.input), &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
