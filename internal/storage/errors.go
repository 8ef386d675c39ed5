package storage

import "errors"

// ErrNoSuchRecord reports an update targeting a GUID absent from both
// tables. Callers should use errors.Is(err, ErrNoSuchRecord).
var ErrNoSuchRecord = errors.New("no such record")

// ErrIDNotUnique reports a create whose GUID already occupies an
// identity slot in either table, tombstones included. Callers should
// use errors.Is(err, ErrIDNotUnique).
var ErrIDNotUnique = errors.New("id not unique")

// ErrDuplicate reports a record whose dedupe-field projection collides
// with another visible record. Callers should use
// errors.Is(err, ErrDuplicate).
var ErrDuplicate = errors.New("duplicate record")

// ErrCorrupt reports a violated integrity invariant (negative or
// overflowing change counter, undecodable stored state). It is fatal to
// the open handle; callers must close it. Callers should use
// errors.Is(err, ErrCorrupt).
var ErrCorrupt = errors.New("database corrupt")
