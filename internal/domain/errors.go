package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNegativeSize = errors.New("negative size")
	ErrInvalidPrice = errors.New("invalid price")
	ErrUnknownSide  = errors.New("unknown side")
	ErrInvalidTick  = errors.New("invalid tick size")
	ErrWSDisconnect = errors.New("websocket disconnected")
)
