package servers

import (
	"errors"
	"fmt"
)

var (
	ErrStart = errors.New("failed to start")
	ErrStop  = errors.New("failed to stop")
)

func ErrServerFailedToStart(name string, err error) error {
	return fmt.Errorf("%s %w: %w", name, ErrStart, err)
}

func ErrServerFailedToStop(name string, err error) error {
	return fmt.Errorf("%s %w: %w", name, ErrStop, err)
}
