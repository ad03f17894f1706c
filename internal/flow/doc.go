// Package flow turns the catalog into provisioning phases.
//
// There are three flows, run by the operator in this order:
//
//	schema  global choices, tables, columns, labels and relationships
//	roles   security roles and their privilege grants
//	seed    sample records and N:N associations
//
// Each flow also has a destructive counterpart (schema and roles rollback,
// seed clear) whose steps are best-effort: a failure is reported and the run
// moves on to the next object.
//
// Phases are built once, before the run starts. Steps that depend on earlier
// results (an option set id, the business unit, an entity set name) read
// them at execution time from the IDMap or from state captured by the
// flow's discovery steps.
package flow
