package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidQuote = errors.New("quote outside tradable range")
	ErrLockLost     = errors.New("leader lock lost")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrFeedClosed   = errors.New("feed client closed")
	ErrCacheMiss    = errors.New("cache miss")
)
