// ABOUTME: Base unit <-> UI string amount conversion given a decimals count.
// ABOUTME: String arithmetic throughout; floats never touch money.

package chains

import (
	"fmt"
	"math/big"
	"strings"
)

// BaseToUI renders a base-unit amount (wei, lamports, token base units) as a
// decimal string, trimming trailing zeros.
func BaseToUI(amount *big.Int, decimals int) string {
	if decimals <= 0 {
		return amount.String()
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}

	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}

// UIToBase parses a decimal string into base units. Rejects negative amounts
// and more fractional digits than the asset carries.
func UIToBase(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", s)
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" {
		intPart = "0"
	}
	if strings.Contains(fracPart, ".") {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	combined := intPart + fracPart
	out, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return out, nil
}
