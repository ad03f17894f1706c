// Package provision implements the dependency-ordered provisioning sequencer.
//
// A flow is a list of phases in an authored order. Each phase holds steps
// that run strictly one after another; a step issues one remote request and
// may yield a GUID. GUIDs are recorded in an IDMap under the step's local key
// so later phases can reference earlier objects, and in the ledger so a
// resumed run can skip work that already succeeded.
//
// Failures are retried a fixed number of times with exponential backoff.
// The sequencer does not classify errors: every failure except context
// cancellation takes the same retry path. When retries are exhausted the
// run aborts with a *StepError.
//
// Basic usage:
//
//	ids := provision.NewIDMap()
//	r := &provision.Runner{IDs: ids, Retry: provision.DefaultRetry(), Out: os.Stdout}
//	summary, err := r.Run(ctx, phases)
package provision
