package chat

import "errors"

// MaxMessageLength is the longest accepted message text, in characters,
// after trimming surrounding whitespace.
const MaxMessageLength = 1000

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotAMember          = errors.New("not a member of the chat")
	ErrAlreadyMember       = errors.New("already a member of the chat")
	ErrAlreadyParticipated = errors.New("user already participates in the chat")
	// ErrConflict is returned when a membership change keeps losing races
	// with concurrent changes to the same chat.
	ErrConflict       = errors.New("chat changed concurrently, try again")
	ErrInvalidMessage = errors.New("message must be 1 to 1000 characters")
)
