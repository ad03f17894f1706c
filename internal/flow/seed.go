package flow

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/provision"
)

const (
	recordPause = 300 * time.Millisecond
	fastPause   = 200 * time.Millisecond
	deletePause = 100 * time.Millisecond
)

const userSet = "systemusers"

// seedState is filled by the discovery steps.
type seedState struct {
	sets map[string]string // catalog table -> entity set
	user string
}

func (st *seedState) set(table string) (string, error) {
	if table == catalog.SystemUser {
		return userSet, nil
	}
	set, ok := st.sets[table]
	if !ok {
		return "", fmt.Errorf("entity set of %s was not discovered", table)
	}
	return set, nil
}

func (st *seedState) target(ids *provision.IDMap, table, id string) (string, string, error) {
	if table == catalog.SystemUser {
		return userSet, st.user, nil
	}
	set, err := st.set(table)
	if err != nil {
		return "", "", err
	}
	guid, err := ids.Get(id)
	if err != nil {
		return "", "", err
	}
	return set, guid, nil
}

func discoveryPhase(env Env, st *seedState, bestEffort bool) provision.Phase {
	p := provision.Phase{ID: "0", Title: "Discovery", Description: "Entity set names and current user"}
	for _, t := range env.Catalog.Schema.Tables {
		logical := env.Names.Logical(t.Name)
		p.Steps = append(p.Steps, provision.Step{
			Kind:       KindDiscovery,
			Label:      "Entity set of " + logical,
			BestEffort: bestEffort,
			Do: func(ctx context.Context) (string, error) {
				set, err := env.Client.EntitySetName(ctx, logical)
				if err != nil {
					return "", err
				}
				st.sets[t.Name] = set
				return "", nil
			},
		})
	}
	return p
}

// lookup is a reference column filled with @odata.bind.
type lookup struct {
	column string // lookup schema name without prefix, e.g. "SprintId"
	table  string // target table, or catalog.SystemUser
	id     string // local id of the target; unused for the system user
}

// record collects the body of one seed record.
type record struct {
	env     Env
	table   string
	key     string
	label   string
	source  any
	fields  dataverse.Payload
	lookups []lookup
	err     error
}

func newRecord(env Env, table, key, label string, source any) *record {
	return &record{
		env:    env,
		table:  table,
		key:    key,
		label:  label,
		source: source,
		fields: dataverse.Payload{},
	}
}

func (r *record) set(column string, v any) *record {
	r.fields[r.env.Names.Logical(column)] = v
	return r
}

// optional sets column only when v is not empty.
func (r *record) optional(column, v string) *record {
	if v == "" {
		return r
	}
	return r.set(column, v)
}

func (r *record) choice(column, label string) *record {
	v, err := r.env.Catalog.Schema.ColumnValue(r.table, column, label)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", r.key, err)
	}
	return r.set(column, v)
}

// ref binds column to an earlier record. An empty id leaves it unset.
func (r *record) ref(column, table, id string) *record {
	if id != "" {
		r.lookups = append(r.lookups, lookup{column: column, table: table, id: id})
	}
	return r
}

func (r *record) user(column string) *record {
	r.lookups = append(r.lookups, lookup{column: column, table: catalog.SystemUser})
	return r
}

// body resolves the lookups against ids and the discovered entity sets.
func (r *record) body(ids *provision.IDMap, st *seedState) (dataverse.Payload, error) {
	body := maps.Clone(r.fields)
	for _, l := range r.lookups {
		set, guid, err := st.target(ids, l.table, l.id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.column, err)
		}
		body[dataverse.BindKey(r.env.Names.Schema(l.column))] = dataverse.Bind(set, guid)
	}
	return body, nil
}

func (r *record) step(st *seedState, pause time.Duration) provision.Step {
	return provision.Step{
		Kind:    KindRecord,
		Key:     r.key,
		Label:   r.label,
		Payload: r.source,
		Pause:   pause,
		Do: func(ctx context.Context) (string, error) {
			set, err := st.set(r.table)
			if err != nil {
				return "", err
			}
			body, err := r.body(r.env.IDs, st)
			if err != nil {
				return "", err
			}
			return r.env.Client.CreateRecord(ctx, set, body)
		},
	}
}

// short trims long titles for progress output.
func short(s string) string {
	const limit = 60
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

type recordPhase struct {
	id      string
	title   string
	pause   time.Duration
	records []*record
}

func (p recordPhase) build(st *seedState) (provision.Phase, error) {
	phase := provision.Phase{ID: p.id, Title: p.title, Description: fmt.Sprintf("%d records", len(p.records))}
	for _, r := range p.records {
		if r.err != nil {
			return provision.Phase{}, r.err
		}
		phase.Steps = append(phase.Steps, r.step(st, p.pause))
	}
	return phase, nil
}

// SeedPhases builds the seed flow: discovery, eleven record phases in
// dependency order, then the four N:N association phases.
func SeedPhases(env Env) ([]provision.Phase, error) {
	st := &seedState{sets: make(map[string]string)}
	discovery := discoveryPhase(env, st, false)
	discovery.Steps = append(discovery.Steps, whoAmIStep(env, "Resolve current user", func(who dataverse.WhoAmIResult) {
		st.user = who.UserID
	}))

	phases := []provision.Phase{discovery}
	for _, rp := range recordPhases(env) {
		p, err := rp.build(st)
		if err != nil {
			return nil, err
		}
		phases = append(phases, p)
	}
	return append(phases, associationPhases(env, st)...), nil
}

func recordPhases(env Env) []recordPhase {
	s := env.Catalog.Seed
	var phases []recordPhase
	add := func(id, title string, pause time.Duration, records []*record) {
		phases = append(phases, recordPhase{id: id, title: title, pause: pause, records: records})
	}

	var rs []*record
	for _, x := range s.Sprints {
		rs = append(rs, newRecord(env, "Sprint", x.ID, "Sprint: "+x.Name, x).
			set("Name", x.Name).
			set("StartDate", x.StartDate).
			set("EndDate", x.EndDate).
			choice("Status", x.Status))
	}
	add("1", "Sprints", recordPause, rs)

	rs = nil
	for _, x := range s.OrgUnits {
		rs = append(rs, newRecord(env, "OrganizationalUnit", x.ID, fmt.Sprintf("OrgUnit: %s (level=%s)", x.Name, x.Level), x).
			set("Name", x.Name).
			choice("Level", x.Level).
			ref("ParentUnitId", "OrganizationalUnit", x.Parent))
	}
	add("2", "Organizational units", recordPause, rs)

	rs = nil
	for _, x := range s.Objectives {
		rs = append(rs, newRecord(env, "Objective", x.ID, "Objective: "+short(x.Title), x).
			set("Title", x.Title).
			set("Description", x.Description).
			set("Progress", x.Progress).
			choice("Status", x.Status).
			ref("OrganizationalUnitId", "OrganizationalUnit", x.OrgUnit).
			ref("SprintId", "Sprint", x.Sprint).
			user("OwnerId").
			ref("ParentObjectiveId", "Objective", x.Parent))
	}
	add("3", "Objectives", recordPause, rs)

	rs = nil
	for _, x := range s.KeyResults {
		rs = append(rs, newRecord(env, "KeyResult", x.ID, "KR: "+short(x.Title), x).
			set("Title", x.Title).
			set("Progress", x.Progress).
			choice("Status", x.Status).
			ref("ObjectiveId", "Objective", x.Objective).
			ref("LinkedChildObjectiveId", "Objective", x.LinkedChildObjective))
	}
	add("4", "Key results", recordPause, rs)

	rs = nil
	for _, x := range s.Metrics {
		rs = append(rs, newRecord(env, "Metric", x.ID, "Metric: "+x.Name, x).
			set("Name", x.Name).
			choice("Scale", x.Scale).
			choice("Direction", x.Direction).
			set("BaselineValue", x.Baseline).
			set("CurrentValue", x.Current).
			set("TargetValue", x.Target).
			set("Unit", x.Unit).
			ref("KeyResultId", "KeyResult", x.KeyResult))
	}
	add("5", "Metrics", recordPause, rs)

	rs = nil
	for _, x := range s.MetricUpdates {
		rs = append(rs, newRecord(env, "MetricUpdate", x.ID, "MetricUpdate: "+x.Name, x).
			set("Name", x.Name).
			set("Value", x.Value).
			set("RecordedAt", x.RecordedAt).
			ref("MetricId", "Metric", x.Metric).
			ref("SprintId", "Sprint", x.Sprint).
			user("UpdatedById"))
	}
	add("6", "Metric updates", recordPause, rs)

	rs = nil
	for _, x := range s.Tasks {
		rs = append(rs, newRecord(env, "Task", x.ID, "Task: "+short(x.Description), x).
			set("Description", x.Description).
			choice("Status", x.Status).
			ref("KeyResultId", "KeyResult", x.KeyResult).
			user("AssignedToId").
			optional("CompletedAt", x.CompletedAt))
	}
	add("7", "Tasks", fastPause, rs)

	rs = nil
	for _, x := range s.Programs {
		rs = append(rs, newRecord(env, "Program", x.ID, "Program: "+x.Name, x).
			set("Name", x.Name).
			set("Description", x.Description).
			set("OverallProgress", x.OverallProgress).
			set("EntitiesInvolved", x.EntitiesInvolved))
	}
	add("8", "Programs", recordPause, rs)

	rs = nil
	for _, x := range s.ActivityUpdates {
		rs = append(rs, newRecord(env, "ActivityUpdate", x.ID, "Activity: "+short(x.Description), x).
			set("Description", x.Description).
			choice("Type", x.Type).
			set("Timestamp", x.Timestamp).
			set("UserName", x.UserName).
			ref("ProgramId", "Program", x.Program))
	}
	add("9", "Activity updates", fastPause, rs)

	rs = nil
	for _, x := range s.Rituals {
		rs = append(rs, newRecord(env, "Ritual", x.ID, "Ritual: "+x.Title, x).
			set("Title", x.Title).
			choice("Type", x.Type).
			choice("Status", x.Status).
			set("DateTime", x.DateTime).
			set("Facilitator", x.Facilitator).
			set("ParticipantCount", x.ParticipantCount).
			set("Duration", x.Duration).
			set("Notes", x.Notes).
			ref("SprintId", "Sprint", x.Sprint))
	}
	add("10", "Rituals", recordPause, rs)

	rs = nil
	for _, x := range s.SavedFilters {
		rs = append(rs, newRecord(env, "SavedFilter", x.ID, "SavedFilter: "+x.Name, x).
			set("Name", x.Name).
			set("IsPreset", x.IsPreset).
			set("IsShared", x.IsShared).
			set("CriteriaJson", x.CriteriaJSON).
			user("CreatedById"))
	}
	add("11", "Saved filters", recordPause, rs)

	return phases
}

// link is one end of an N:N association.
type link struct {
	table string
	id    string
}

func associationStep(env Env, st *seedState, relationship string, from, to link, label string, pause time.Duration) provision.Step {
	rel := env.Names.Schema(relationship)
	key := "assoc:" + relationship + ":" + from.id + ":" + to.id
	return provision.Step{
		Kind:  KindAssociation,
		Key:   key,
		Label: label,
		Payload: map[string]string{
			"relationship": relationship,
			"from":         from.table + ":" + from.id,
			"to":           to.table + ":" + to.id,
		},
		Pause: pause,
		Do: func(ctx context.Context) (string, error) {
			set1, id1, err := st.target(env.IDs, from.table, from.id)
			if err != nil {
				return "", err
			}
			set2, id2, err := st.target(env.IDs, to.table, to.id)
			if err != nil {
				return "", err
			}
			return "", env.Client.Associate(ctx, set1, id1, rel, set2, id2)
		},
	}
}

func associationPhases(env Env, st *seedState) []provision.Phase {
	s := env.Catalog.Seed
	me := link{table: catalog.SystemUser, id: "me"}

	programObjective := provision.Phase{ID: "12", Title: "N:N program-objective"}
	for _, x := range s.ProgramObjectives {
		programObjective.Steps = append(programObjective.Steps, associationStep(env, st, "program_objective",
			link{"Program", x.Program}, link{"Objective", x.Objective},
			x.Program+" <-> "+x.Objective, recordPause))
	}

	programLead := provision.Phase{ID: "13", Title: "N:N program-lead"}
	for _, id := range s.ProgramLeads {
		programLead.Steps = append(programLead.Steps, associationStep(env, st, "program_lead",
			link{"Program", id}, me,
			id+" <-> current user", recordPause))
	}

	team := provision.Phase{ID: "14", Title: "N:N key result-team"}
	for _, id := range s.KeyResultTeam {
		team.Steps = append(team.Steps, associationStep(env, st, "keyresult_team",
			link{"KeyResult", id}, me,
			id+" <-> current user", fastPause))
	}

	userUnits := provision.Phase{ID: "15", Title: "N:N user-org unit"}
	for _, id := range s.UserOrgUnits {
		userUnits.Steps = append(userUnits.Steps, associationStep(env, st, "user_orgunit",
			me, link{"OrganizationalUnit", id},
			"current user <-> "+id, recordPause))
	}

	phases := []provision.Phase{programObjective, programLead, team, userUnits}
	for i := range phases {
		phases[i].Description = fmt.Sprintf("%d associations", len(phases[i].Steps))
	}
	return phases
}

// SeedClearPhases deletes every record of the catalog tables in clear
// order. Record ids are listed when each table's phase starts; a table that
// cannot be listed yields one failed step and its records are left alone.
func SeedClearPhases(env Env) []provision.Phase {
	st := &seedState{sets: make(map[string]string)}
	phases := []provision.Phase{discoveryPhase(env, st, true)}

	for i, table := range env.Catalog.Seed.ClearOrder {
		logical := env.Names.Logical(table)
		pk := env.Names.PrimaryKey(table)
		phases = append(phases, provision.Phase{
			ID:          fmt.Sprintf("C%d", i+1),
			Title:       "Clear " + logical,
			Description: "Delete every " + logical + " record",
			Expand: func(ctx context.Context) ([]provision.Step, error) {
				set, err := st.set(table)
				if err != nil {
					slog.Warn("skipping table", "table", logical, "error", err)
					return nil, nil
				}
				ids, err := env.Client.ListRecordIDs(ctx, set, pk)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					slog.Error("listing records failed", "table", logical, "error", err)
					return []provision.Step{{
						Kind:       KindDelete,
						Label:      "List " + set,
						BestEffort: true,
						Do: func(context.Context) (string, error) {
							return "", err
						},
					}}, nil
				}
				slog.Info("records to delete", "table", logical, "count", len(ids))
				steps := make([]provision.Step, len(ids))
				for j, id := range ids {
					steps[j] = provision.Step{
						Kind:       KindDelete,
						Label:      fmt.Sprintf("Delete %s(%s)", set, id),
						Pause:      deletePause,
						BestEffort: true,
						Do: func(ctx context.Context) (string, error) {
							if err := env.Client.DeleteRecord(ctx, set, id); err != nil {
								return "", err
							}
							if env.Deleted != nil {
								env.Deleted(id)
							}
							return "", nil
						},
					}
				}
				return steps, nil
			},
		})
	}
	return phases
}
