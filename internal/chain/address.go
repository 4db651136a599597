package chain

import (
	"regexp"
	"strings"
)

var (
	btcAddress  = regexp.MustCompile(`^(bc1|[13])[a-zA-HJ-NP-Z0-9]{25,39}$`)
	evmAddress  = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	tronAddress = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
	tonAddress  = regexp.MustCompile(`^(EQ|UQ)[a-zA-Z0-9_-]{46}$`)
)

// ValidateAddress does a format-only check of address on network.
// Unknown networks never validate.
func ValidateAddress(network, address string) bool {
	address = strings.TrimSpace(address)
	switch strings.ToUpper(network) {
	case "BTC", "LTC":
		return btcAddress.MatchString(address)
	case "ETH", "USDT_ERC20", "BNB":
		return evmAddress.MatchString(address)
	case "TRX", "USDT_TRC20":
		return tronAddress.MatchString(address)
	case "TON":
		return tonAddress.MatchString(address)
	}
	return false
}
