package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrBackend = errors.New("backend error")
	ErrCache   = errors.New("cache error")
	ErrTimeout = errors.New("route deadline exceeded")
)

func wrapBackend(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBackend, err)
}
