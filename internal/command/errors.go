package command

import "errors"

var (
	// ErrSuperseded marks a Command whose assigned log index was
	// overwritten by a later leader's term before it could commit.
	ErrSuperseded = errors.New("command: log entry superseded by a later term")

	// ErrCommandTimeout marks a Command whose caller-specified deadline
	// elapsed while still StateWaiting.
	ErrCommandTimeout = errors.New("command: timed out waiting for commit")
)
