package console

import "errors"

var (
	// ErrNotConnected is returned when a command is issued while no transport is live.
	ErrNotConnected = errors.New("console: not connected")
	// ErrConnectionLost resolves replies that were pending when their epoch ended.
	ErrConnectionLost = errors.New("console: connection lost")
	// ErrNoReply is returned when no output arrived before the reply timeout.
	ErrNoReply = errors.New("console: no reply")
	// ErrWriteTimeout is returned when a command could not be written in time.
	ErrWriteTimeout = errors.New("console: write timed out")
)

// ErrInvalidCommand is returned for commands containing line breaks, which
// would be read as several commands by the server.
var ErrInvalidCommand = errors.New("console: command contains a line break")
