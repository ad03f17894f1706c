// Package dataverse is a small client for the Microsoft Dataverse Web API.
//
// It covers the calls the provisioning flows make: table, column, choice and
// relationship metadata, record create/delete/list, N:N association and
// security roles. Every method performs exactly one logical request (listing
// follows paging links) and leaves retries to the caller.
//
// Request bodies for metadata are built with the *Metadata helpers so that
// they can be inspected, hashed and golden-tested without a server.
package dataverse
