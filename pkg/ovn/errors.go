package ovn

import "errors"

var (
	// ErrPortNotFound is returned when the OVN VLAN tag for a network
	// cannot be resolved after exhausting all retries.
	ErrPortNotFound = errors.New("ovn port not found")

	// ErrNotConnected is returned when the southbound client is used
	// before Connect succeeded.
	ErrNotConnected = errors.New("southbound database not connected")

	// ErrDatapathNotFound is returned when a datapath row is absent from
	// the cache.
	ErrDatapathNotFound = errors.New("datapath not found")
)
