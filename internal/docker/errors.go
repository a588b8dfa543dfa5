package docker

import (
	"errors"
	"fmt"

	"github.com/docker/docker/client"
)

// ErrNotFound indicates the requested Docker resource was not found.
var ErrNotFound = errors.New("docker: resource not found")

// wrap annotates err with op, translating daemon not-found responses to ErrNotFound.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotFound reports whether err denotes a missing container or service.
func IsNotFound(err error) bool {
	return isNotFound(err)
}
