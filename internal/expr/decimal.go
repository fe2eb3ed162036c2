package expr

import (
	"math/big"
	"strings"
)

func parseDecimal(s string) (*big.Rat, bool) {
	r, ok := new(big.Rat).SetString(s)
	return r, ok
}

// formatDecimal renders r as a plain decimal string (no scientific
// notation), matching the decimal-string convention of spec §3.
func formatDecimal(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	s := r.FloatString(20)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}
