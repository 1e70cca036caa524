package engine

const feeDenominator = 10000

// splitFee divides total between the platform and the counterparty share.
// The platform takes floor(total * bps / 10000); the remainder, including any
// rounding leftover, always goes to the counterparty. platform + remainder ==
// total for every input. The quotient and remainder of total are scaled
// separately so the split stays exact even when total * bps would not fit in
// an int64.
func splitFee(total int64, bps int64) (platform, remainder int64) {
	platform = total/feeDenominator*bps + total%feeDenominator*bps/feeDenominator
	remainder = total - platform
	return platform, remainder
}

// mulCheck multiplies with overflow detection. The engine never wraps:
// a cost computation that overflows int64 is rejected outright.
func mulCheck(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}
