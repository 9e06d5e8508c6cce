package engine

import "errors"

var (
	// ErrClosed means the context is closed and exposes no store
	// operations until reopened.
	ErrClosed = errors.New("engine: context is closed")

	// ErrBadPassphrase means Open was called with the wrong passphrase.
	ErrBadPassphrase = errors.New("engine: bad passphrase")

	// ErrConfigKey means SetConfig was called with an unknown key.
	ErrConfigKey = errors.New("engine: unknown config key")

	// ErrConfigValue means SetConfig was called with an invalid value.
	ErrConfigValue = errors.New("engine: invalid config value")

	// ErrIORunning means an I/O-affecting config key was mutated while
	// background I/O is running. Stop I/O first.
	ErrIORunning = errors.New("engine: stop io before changing this key")

	// ErrState means the operation is invalid for the entity's current
	// state.
	ErrState = errors.New("engine: invalid state for operation")

	// ErrBlocked means the target contact is blocked.
	ErrBlocked = errors.New("engine: contact is blocked")

	// ErrSpecialID means a reserved id was passed where a real entity is
	// required.
	ErrSpecialID = errors.New("engine: reserved id")
)
