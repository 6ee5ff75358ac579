package packet

import "errors"

// Error kinds from §7, used by callers to decide disposition (drop,
// counter increment, adjacency teardown, ...).
var (
	ErrMalformed      = errors.New("malformed eigrp packet")
	ErrAuthFailure    = errors.New("eigrp authentication failure")
	ErrNetworkMismatch = errors.New("eigrp source outside interface network")
	ErrKMismatch      = errors.New("eigrp K-value mismatch")
)
