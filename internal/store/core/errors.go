package core

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyConsumed = errors.New("already consumed")
	ErrUnavailable     = errors.New("store unavailable")
)
