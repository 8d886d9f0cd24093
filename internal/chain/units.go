package chain

import (
	"errors"
	"math/big"
	"strings"
)

// EtherDecimals is the native currency's decimal precision: amounts move
// through the ledger as big.Int wei (1 ether = 10^18 wei).
const EtherDecimals = 18

var errMalformedAmount = errors.New("chain: malformed decimal amount")

// ParseEther converts a decimal string (e.g. "0.001") to its wei
// representation.
//
// Rules:
//   - Empty string parses to zero
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional digits beyond 18 places are truncated
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}

	if strings.HasPrefix(s, "-") {
		return nil, errMalformedAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, errMalformedAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, errMalformedAmount
	}
	if whole == "" {
		whole = "0"
	}

	for len(frac) < EtherDecimals {
		frac += "0"
	}
	frac = frac[:EtherDecimals]

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, errMalformedAmount
	}
	return result, nil
}

// FormatEther converts a wei amount to a human-readable decimal string with
// trailing zeros trimmed (e.g. 1500000000000000000 -> "1.5").
func FormatEther(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < EtherDecimals+1 {
		s = "0" + s
	}
	split := len(s) - EtherDecimals

	whole := s[:split]
	frac := strings.TrimRight(s[split:], "0")

	result := whole
	if frac != "" {
		result += "." + frac
	}
	if neg {
		result = "-" + result
	}
	return result
}
