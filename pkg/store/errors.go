package store

import "errors"

// Error taxonomy. Association and field errors are recoverable by the
// caller; storage-inaccessible errors usually are not and are kept distinct
// from ordinary storage failures for that reason.
var (
	// ErrNoDatabase is returned by entity operations that need a database
	// association the entity does not have.
	ErrNoDatabase = errors.New("entity not associated with a database")

	// ErrNoID is returned by entity operations that need a persisted
	// identifier. Calling Add first recovers.
	ErrNoID = errors.New("entity has no identifier")

	// ErrNoSuchField is returned for indexed access to unknown fields and
	// for deleting computed or unknown fields.
	ErrNoSuchField = errors.New("no such field")

	// ErrStorageInaccessible wraps storage failures caused by the database
	// file being missing, unreadable or read-only.
	ErrStorageInaccessible = errors.New("database storage inaccessible")
)
