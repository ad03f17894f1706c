// Package store implements the provisioning ledger.
//
// The ledger is a SQLite database that remembers which remote objects a
// flow created (tables, choices, roles, seed records) together with the
// GUID the Web API returned and a canonical hash of the request payload.
// A resumed run consults it to skip steps that already succeeded.
package store
