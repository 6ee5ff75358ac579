package eigrp

import "errors"

var (
	errShortIPHeader  = errors.New("eigrp: short or invalid IPv4 header")
	errUnknownIface   = errors.New("eigrp: packet arrived on an unconfigured interface")
	errOutsideNetwork = errors.New("eigrp: source address outside interface network")
)
