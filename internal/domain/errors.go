package domain

import "errors"

var (
	// ErrUserNotFound signals a lookup miss in the user directory.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken signals a registration conflict on the unique email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUnknownProvider signals a provider name without a linked-account slot.
	ErrUnknownProvider = errors.New("unknown provider")
)
