package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/cryptop2p/internal/models"
)

func parent(code string) *string { return &code }

// DefaultNetworks is the reference table the service ships with.
var DefaultNetworks = []models.Network{
	{Code: "BTC", Name: "Bitcoin", NativeSymbol: "BTC"},
	{Code: "ETH", Name: "Ethereum", NativeSymbol: "ETH"},
	{Code: "USDT_ERC20", Name: "Tether USD (ERC20)", NativeSymbol: "USDT", IsToken: true, ParentChain: parent("ETH")},
	{Code: "TRX", Name: "TRON", NativeSymbol: "TRX"},
	{Code: "USDT_TRC20", Name: "Tether USD (TRC20)", NativeSymbol: "USDT", IsToken: true, ParentChain: parent("TRX")},
	{Code: "LTC", Name: "Litecoin", NativeSymbol: "LTC"},
	{Code: "BNB", Name: "BNB Smart Chain", NativeSymbol: "BNB"},
	{Code: "TON", Name: "The Open Network", NativeSymbol: "TON"},
}

// SeedNetworks upserts DefaultNetworks into store. Running it again is safe.
func SeedNetworks(ctx context.Context, store NetworkStore) error {
	for i := range DefaultNetworks {
		n := DefaultNetworks[i]
		if err := store.UpsertNetwork(ctx, &n); err != nil {
			return fmt.Errorf("seed network %s: %w", n.Code, err)
		}
	}
	return nil
}
