package model

import "errors"

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("validation failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrTransport      = errors.New("transport failure")
	ErrUnknownFrame   = errors.New("unknown frame")
)
