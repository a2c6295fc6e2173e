package getpinfo

import "errors"

var (
	// ErrInvalidArgument rejects an oversized call payload at entry to
	// submit, before the slot is touched.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTryAgain rejects a submit while another request is outstanding.
	// User space retries with its own backoff.
	ErrTryAgain = errors.New("try again later")

	// ErrNoSpace rejects a submit when no response buffer can be
	// allocated.
	ErrNoSpace = errors.New("no space for response buffer")

	// ErrVerbExists rejects registering a verb twice.
	ErrVerbExists = errors.New("verb already registered")
)
