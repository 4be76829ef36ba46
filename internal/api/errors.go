package api

import "errors"

var (
	ErrNotFound    = errors.New("resource not found for this language/channel")
	ErrRateLimited = errors.New("rate limited by API")
	ErrAuthFailed  = errors.New("authentication failed")
)
