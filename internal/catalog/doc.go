// Package catalog holds the static provisioning data: the Dataverse data
// model, the security roles and the sample records.
//
// The data lives in embedded YAML files under data/. Load decodes them,
// validates each file against the CUE definitions in catalog.cue and then
// checks the references between them, so a typo in a table or choice name
// fails before any request is sent.
//
// Names in the catalog never carry the publisher prefix. Names applies it.
package catalog
