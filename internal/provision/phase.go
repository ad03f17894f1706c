package provision

import (
	"context"
	"time"
)

// Phase is a group of steps run in order. Phases are run in the order the
// flow lists them; no ordering is computed.
type Phase struct {
	ID          string
	Title       string
	Description string

	// Steps is the static step list.
	Steps []Step

	// Expand, when set, produces the step list at run time. Destructive
	// flows use it to enumerate whatever currently exists remotely.
	Expand func(ctx context.Context) ([]Step, error)
}

// Step is a single remote request.
type Step struct {
	// Kind is the ledger kind ("choice", "table", "record", ...).
	Kind string

	// Key is the local id. A non-empty Key makes the step resumable and
	// binds the returned GUID in the IDMap.
	Key string

	// Label is printed in progress output and errors.
	Label string

	// Payload is the authored request body, hashed for resume. It must not
	// contain GUIDs resolved at run time.
	Payload any

	// Pause is waited (scaled by the runner's pace) after the step executes.
	Pause time.Duration

	// BestEffort steps run once; a failure is reported and counted but does
	// not abort the run.
	BestEffort bool

	// Do performs the request and returns the GUID it produced, if any.
	Do func(ctx context.Context) (string, error)
}
