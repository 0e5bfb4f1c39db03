package frr

import "errors"

var (
	// ErrUnknownRouterID is returned when the BGP router id cannot be
	// determined from FRR.
	ErrUnknownRouterID = errors.New("unknown bgp router id")

	// ErrUnknownAS is returned when no BGP AS number is configured or
	// discoverable from the running FRR instance.
	ErrUnknownAS = errors.New("unknown bgp as number")
)
