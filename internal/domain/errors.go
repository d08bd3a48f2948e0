package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrFormat       = errors.New("format error")
	ErrInvalidInput = errors.New("invalid input")
	ErrShortRead    = errors.New("short read")
	ErrLimitInvalid = errors.New("limit invalid")

	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
)
