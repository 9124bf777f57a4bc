package postgres

import "errors"

var (
	ErrBuildQuery  = errors.New("postgres: failed to build query")
	ErrInsertEvent = errors.New("postgres: failed to insert send event")
)
