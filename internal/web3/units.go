package web3

import (
	"fmt"
	"math/big"
	"strings"
)

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther converts a decimal ether amount such as "0.25" into wei.
// Amounts finer than one wei are rejected.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	r, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}
	r.Mul(r, new(big.Rat).SetInt(weiPerEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than 18 decimals", amount)
	}
	return new(big.Int).Set(r.Num()), nil
}

// ParseWei parses a decimal or 0x-prefixed integer amount of wei.
func ParseWei(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	v, ok := new(big.Int).SetString(amount, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", amount)
	}
	return v, nil
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, weiPerEther)
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// HexBig renders a big integer as 0x-prefixed hex.
func HexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
