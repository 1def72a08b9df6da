package relay

import "errors"

// Failure taxonomy for the relay core. All failures are contained at the
// operation boundary: a failed send or friend request never terminates
// the connection session.
var (
	// ErrPrincipalNotFound: the receiver or sender id has no record; the
	// submission is aborted with no partial writes.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrInvalidStatus: a relationship transition to anything other than
	// accepted or unrelated.
	ErrInvalidStatus = errors.New("invalid relationship status")
	// ErrNotFound: a relationship operation on a pair with no edge.
	ErrNotFound = errors.New("no relationship edge")
	// ErrPartialRelationshipUpdate: the two directed rows of a
	// relationship were found inconsistent. Updates themselves are
	// batched, so this surfaces only when prior data is already damaged.
	ErrPartialRelationshipUpdate = errors.New("partial relationship update")
)
