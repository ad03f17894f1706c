package catalog

// Seed is the sample data set. Every record has a local ID; reference fields
// hold local IDs of earlier records and are resolved to GUIDs at run time.
// Choice fields hold option labels.
type Seed struct {
	Sprints         []Sprint         `yaml:"sprints"`
	OrgUnits        []OrgUnit        `yaml:"org_units"`
	Objectives      []Objective      `yaml:"objectives"`
	KeyResults      []KeyResult      `yaml:"key_results"`
	Metrics         []Metric         `yaml:"metrics"`
	MetricUpdates   []MetricUpdate   `yaml:"metric_updates"`
	Tasks           []Task           `yaml:"tasks"`
	Programs        []Program        `yaml:"programs"`
	ActivityUpdates []ActivityUpdate `yaml:"activity_updates"`
	Rituals         []Ritual         `yaml:"rituals"`
	SavedFilters    []SavedFilter    `yaml:"saved_filters"`

	ProgramObjectives []ProgramObjective `yaml:"program_objectives"`
	ProgramLeads      []string           `yaml:"program_leads"`
	KeyResultTeam     []string           `yaml:"key_result_team"`
	UserOrgUnits      []string           `yaml:"user_org_units"`

	ClearOrder []string `yaml:"clear_order"`
}

// Sprint is a planning period. Status is a sprint status label.
type Sprint struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
	Status    string `yaml:"status"`
}

// OrgUnit is a node of the organization tree. Parent is empty for the root.
type OrgUnit struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Level  string `yaml:"level"`
	Parent string `yaml:"parent"`
}

// Objective is a goal owned by an org unit for a sprint. Parent links a
// cascaded objective to the one above it.
type Objective struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	OrgUnit     string `yaml:"org_unit"`
	Status      string `yaml:"status"`
	Sprint      string `yaml:"sprint"`
	Progress    int    `yaml:"progress"`
	Parent      string `yaml:"parent"`
}

// KeyResult measures an objective. LinkedChildObjective, when set, is the
// objective of a lower org unit that delivers it.
type KeyResult struct {
	ID                   string `yaml:"id"`
	Title                string `yaml:"title"`
	Objective            string `yaml:"objective"`
	Status               string `yaml:"status"`
	Progress             int    `yaml:"progress"`
	LinkedChildObjective string `yaml:"linked_child_objective"`
}

// Metric tracks a numeric value of a key result from baseline to target.
type Metric struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	KeyResult string  `yaml:"key_result"`
	Scale     string  `yaml:"scale"`
	Direction string  `yaml:"direction"`
	Baseline  float64 `yaml:"baseline"`
	Current   float64 `yaml:"current"`
	Target    float64 `yaml:"target"`
	Unit      string  `yaml:"unit"`
}

// MetricUpdate is one recorded value of a metric.
type MetricUpdate struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Metric     string  `yaml:"metric"`
	Value      float64 `yaml:"value"`
	RecordedAt string  `yaml:"recorded_at"`
	Sprint     string  `yaml:"sprint"`
}

// Task is a work item under a key result.
type Task struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	KeyResult   string `yaml:"key_result"`
	Status      string `yaml:"status"`
	CompletedAt string `yaml:"completed_at"`
}

// Program groups objectives across org units.
type Program struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Description      string `yaml:"description"`
	OverallProgress  int    `yaml:"overall_progress"`
	EntitiesInvolved string `yaml:"entities_involved"`
}

// ActivityUpdate is an entry in a program's activity feed.
type ActivityUpdate struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Program     string `yaml:"program"`
	Type        string `yaml:"type"`
	Timestamp   string `yaml:"timestamp"`
	UserName    string `yaml:"user_name"`
}

// Ritual is a scheduled team meeting within a sprint. Duration is in minutes.
type Ritual struct {
	ID               string `yaml:"id"`
	Title            string `yaml:"title"`
	Sprint           string `yaml:"sprint"`
	Type             string `yaml:"type"`
	Status           string `yaml:"status"`
	DateTime         string `yaml:"date_time"`
	Facilitator      string `yaml:"facilitator"`
	ParticipantCount int    `yaml:"participant_count"`
	Duration         int    `yaml:"duration"`
	Notes            string `yaml:"notes"`
}

// SavedFilter is a stored dashboard filter. CriteriaJSON is written as is.
type SavedFilter struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	IsPreset     bool   `yaml:"is_preset"`
	IsShared     bool   `yaml:"is_shared"`
	CriteriaJSON string `yaml:"criteria_json"`
}

// ProgramObjective links a program to an objective through the N:N
// relationship.
type ProgramObjective struct {
	Program   string `yaml:"program"`
	Objective string `yaml:"objective"`
}

// RecordCount returns the number of records across all tables.
func (s *Seed) RecordCount() int {
	return len(s.Sprints) + len(s.OrgUnits) + len(s.Objectives) + len(s.KeyResults) +
		len(s.Metrics) + len(s.MetricUpdates) + len(s.Tasks) + len(s.Programs) +
		len(s.ActivityUpdates) + len(s.Rituals) + len(s.SavedFilters)
}

// AssociationCount returns the number of N:N links.
func (s *Seed) AssociationCount() int {
	return len(s.ProgramObjectives) + len(s.ProgramLeads) + len(s.KeyResultTeam) + len(s.UserOrgUnits)
}
