package messaging

import "errors"

// Pipeline error taxonomy. The socket handler maps these to error events;
// the REST handlers map them to status codes.
var (
	// ErrForbidden: authenticated but not a participant of the target
	// conversation.
	ErrForbidden = errors.New("not a conversation participant")

	// ErrEmptyContent: message content empty after trimming.
	ErrEmptyContent = errors.New("empty content")

	// ErrInvalidTarget: neither a conversation id nor a recipient id was
	// supplied.
	ErrInvalidTarget = errors.New("missing conversation or recipient")

	// ErrNotFound: the conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrUnavailable: persistence kept failing after bounded retries. The
	// message was NOT delivered and the sender must be told so.
	ErrUnavailable = errors.New("persistence unavailable")
)
