package provision

import (
	"fmt"
	"io"
)

// PlanEntry describes one step without executing it.
type PlanEntry struct {
	Phase string `json:"phase"`
	Kind  string `json:"kind"`
	Key   string `json:"key,omitempty"`
	Label string `json:"label"`
}

// Plan lists the static steps of phases in execution order. Phases whose
// steps are only known at run time contribute a single placeholder entry.
func Plan(phases []Phase) []PlanEntry {
	var entries []PlanEntry
	for _, phase := range phases {
		if phase.Expand != nil {
			entries = append(entries, PlanEntry{
				Phase: phase.ID,
				Kind:  "dynamic",
				Label: phase.Description,
			})
			continue
		}
		for _, step := range phase.Steps {
			entries = append(entries, PlanEntry{
				Phase: phase.ID,
				Kind:  step.Kind,
				Key:   step.Key,
				Label: step.Label,
			})
		}
	}
	return entries
}

// WritePlan prints phases and their steps as text.
func WritePlan(w io.Writer, phases []Phase) {
	for _, phase := range phases {
		fmt.Fprintf(w, "Phase %s: %s\n", phase.ID, phase.Title)
		if phase.Expand != nil {
			fmt.Fprintf(w, "  ~ %s\n", phase.Description)
			continue
		}
		for _, step := range phase.Steps {
			fmt.Fprintf(w, "  %-12s %s\n", step.Kind, step.Label)
		}
	}
}
