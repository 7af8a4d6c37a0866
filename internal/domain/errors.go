package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidVolume     = errors.New("requested volume must be positive")
	ErrInsufficientDepth = errors.New("insufficient book depth")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrDuplicateRequest  = errors.New("duplicate in-flight request")
	ErrNotConnected      = errors.New("not connected")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrClosed            = errors.New("closed")
	ErrUnknownChannel    = errors.New("unknown channel")
)
