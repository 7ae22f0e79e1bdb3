package domain

import "errors"

var (
	ErrStreamNotFound    = errors.New("stream not found")
	ErrBroadcasterExists = errors.New("broadcaster already connected")
	ErrHostExists        = errors.New("signaling host already declared")
	ErrNotStreamOwner    = errors.New("requester does not own stream")
	ErrRelayFull         = errors.New("relay at connection capacity")
)
