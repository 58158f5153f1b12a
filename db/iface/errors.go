package iface

import "github.com/pkg/errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found in db")

// ErrAlreadyExists is returned on a unique-constraint collision, such
// as a second signature for the same (document, signer) pair.
var ErrAlreadyExists = errors.New("record already exists in db")

// ErrMissingReference is returned when a record points at an entity
// that is not present, such as a signature for an unknown document.
var ErrMissingReference = errors.New("referenced record not found in db")

// ErrImmutableRecord is returned on an attempt to mutate a record the
// schema declares immutable, such as a confirmed ledger transaction.
var ErrImmutableRecord = errors.New("record is immutable")
