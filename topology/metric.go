// Package topology implements the prefix-keyed topology table described in
// §4.D: composite-metric arithmetic, neighbor-entries per prefix, and
// successor/feasible-successor selection. It is grounded in the teacher's
// radix package (a trie keyed by net.IPNet) for the general shape of "a
// routing-table-like structure with Insert/Delete/Lookup", adapted to an
// exact-match map since DUAL needs per-(prefix,prefixlen) entries rather
// than longest-prefix-match.
package topology

// Infinity is the EIGRP metric value meaning "unreachable" (§3).
const Infinity uint32 = 0xFFFFFFFF

// KValues are the composite-metric weights K1..K5 (§3).
type KValues struct {
	K1, K2, K3, K4, K5 uint32
}

// RouteMetric is the set of per-hop fields a neighbor advertises for a
// prefix (§3: neighbor-entry's reported composite metric).
type RouteMetric struct {
	Delay       uint32 // scaled units (tens of microseconds), summed across hops
	Bandwidth   uint32 // kbit/sec, minimum across hops
	MTU         uint32
	HopCount    byte
	Reliability byte
	Load        byte
	Tag         byte
	Flags       byte
}

// saturatingAdd adds a and b, saturating at Infinity instead of
// overflowing (§4.D: "any arithmetic that would overflow saturates to
// infinity").
func saturatingAdd(a, b uint64) uint32 {
	sum := a + b
	if sum >= uint64(Infinity) {
		return Infinity
	}
	return uint32(sum)
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/a != b {
		return uint64(Infinity)
	}
	return product
}

// Composite computes the EIGRP composite metric (§4.D):
//
//	M = 256 * ( K1*BW + (K2*BW)/(256-load) + K3*delay ) * ( K5/(reliability+K4) if K5!=0 else 1 )
//
// where BW = 10_000_000 / bandwidth (kbit/s) and delay is already the
// summed per-hop delay in the units RouteMetric carries it in.
func Composite(k KValues, m RouteMetric) uint32 {
	if m.Bandwidth == 0 || m.Delay == Infinity || m.Bandwidth == Infinity {
		return Infinity
	}
	bwScaled := uint64(10_000_000) / uint64(m.Bandwidth)

	var inner uint64
	inner += saturatingMul(uint64(k.K1), bwScaled)
	// Load is a byte, so 256-load is always at least 1.
	denom := uint64(256 - uint32(m.Load))
	inner += saturatingMul(uint64(k.K2), bwScaled) / denom
	inner += saturatingMul(uint64(k.K3), uint64(m.Delay))

	total := saturatingMul(256, inner)
	if total >= uint64(Infinity) {
		return Infinity
	}

	if k.K5 != 0 {
		denom := uint64(m.Reliability) + uint64(k.K4)
		if denom == 0 {
			return Infinity
		}
		total = saturatingMul(total, uint64(k.K5)) / denom
	}
	if total >= uint64(Infinity) {
		return Infinity
	}
	return uint32(total)
}

// CombineLink folds an outgoing interface's bandwidth/delay into a
// neighbor's reported metric to produce the local distance (§4.D: "Local
// distance ... combining the entry's reported metric with the outgoing
// interface's bandwidth/delay, minimum-bandwidth, summed-delay rule").
func CombineLink(reported RouteMetric, linkBandwidth, linkDelay uint32) RouteMetric {
	out := reported
	if linkBandwidth < out.Bandwidth {
		out.Bandwidth = linkBandwidth
	}
	out.Delay = saturatingAdd(uint64(out.Delay), uint64(linkDelay))
	out.HopCount++
	return out
}
