// Package canonical implements RFC 8785 canonical JSON and the content
// hashes derived from it.
//
// The provisioning ledger stores a hash of every request payload it sends so
// that a resumed run can tell an already-applied step from one whose catalog
// definition changed since. Hashes must therefore be independent of map
// iteration order and of how the payload was built (typed struct or
// map[string]any).
package canonical
