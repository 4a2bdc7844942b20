// Package types defines the entity types, synchronization states,
// key/value store entries, and standard errors shared by the tabular
// storage system.
package types
