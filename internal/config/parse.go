package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress converts a hex address; any letter case is accepted.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}

// ParseOptionalAddress is ParseAddress, except that an empty input yields the
// zero address, which callers treat as unconfigured.
func ParseOptionalAddress(input string) (common.Address, error) {
	if strings.TrimSpace(input) == "" {
		return common.Address{}, nil
	}
	return ParseAddress(input)
}

// ParseAddresses converts string addresses into common.Address, skipping
// blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// ParseOrderID parses a decimal order id.
func ParseOrderID(input string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(input), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid order id: %q", input)
	}
	return id, nil
}
