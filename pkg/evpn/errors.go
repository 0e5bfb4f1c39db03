package evpn

import "errors"

var (
	// ErrVlanExhausted is returned when no bridge VLAN is free.
	ErrVlanExhausted = errors.New("bridge vlan range exhausted")

	// ErrResourceBuild is returned when ensure_infrastructure fails and
	// its partial resources were rolled back.
	ErrResourceBuild = errors.New("failed to build network infrastructure")

	// ErrUnknownNetwork is returned when an operation references a network
	// the driver does not track.
	ErrUnknownNetwork = errors.New("unknown network")
)
