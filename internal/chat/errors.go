package chat

import "errors"

var (
	// ErrNotFound indicates the conversation does not exist or is not owned by
	// the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("conversation not found")

	// ErrConflict indicates a turn-alternation race: another submission for the
	// same conversation interleaved, or a reply is still being generated. The
	// caller should retry once the in-flight turn completes.
	ErrConflict = errors.New("conversation turn conflict")

	// ErrInvalidInput indicates the submission was rejected before any write
	ErrInvalidInput = errors.New("invalid input")
)
