package dataplane

import "errors"

var (
	// ErrLinkNotFound is returned when a network device does not exist.
	ErrLinkNotFound = errors.New("link not found")

	// ErrLinkTypeMismatch is returned when a device exists but is not of the expected kind.
	ErrLinkTypeMismatch = errors.New("link exists with different type")
)
