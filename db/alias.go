package db

import "github.com/versafe/versafe/db/iface"

// ReadOnlyDatabase exposes the read-only methods of the metadata store.
type ReadOnlyDatabase = iface.ReadOnlyDatabase

// NoHeadAccessDatabase exposes all store methods except lifecycle ones.
type NoHeadAccessDatabase = iface.NoHeadAccessDatabase

// Database defines the full metadata store interface.
type Database = iface.Database

// Sentinel errors shared by every store implementation.
var (
	ErrNotFound         = iface.ErrNotFound
	ErrAlreadyExists    = iface.ErrAlreadyExists
	ErrMissingReference = iface.ErrMissingReference
	ErrImmutableRecord  = iface.ErrImmutableRecord
)
