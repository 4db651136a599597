package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xtrntr/cryptop2p/internal/models"
)

// Gateway relays already signed transactions to a chain provider and reports
// their normalized settlement status.
type Gateway interface {
	// Submit broadcasts signedTx and returns the provider's transaction hash.
	Submit(ctx context.Context, network, signedTx string) (string, error)
	// Status returns the normalized status of hash on network.
	Status(ctx context.Context, network, hash string) (models.TxStatus, error)
}

var chainByNetwork = map[string]string{
	"BTC":        "bitcoin",
	"LTC":        "litecoin",
	"ETH":        "ethereum",
	"USDT_ERC20": "ethereum",
	"BNB":        "bsc",
	"TRX":        "tron",
	"USDT_TRC20": "tron",
	"TON":        "ton",
}

// ChainFor maps a network code to the provider's chain identifier.
func ChainFor(network string) (string, error) {
	chain, ok := chainByNetwork[strings.ToUpper(network)]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedNetwork, network)
	}
	return chain, nil
}

// PlaceholderHash is the hash recorded for a transaction when no provider is
// configured. It depends only on signedTx.
func PlaceholderHash(signedTx string) string {
	sum := sha256.Sum256([]byte(signedTx))
	return hex.EncodeToString(sum[:])
}

// Fallback is the gateway used when no provider is configured. Every call
// reports models.ErrGatewayNotConfigured.
type Fallback struct{}

// Submit always reports that no provider is configured.
func (Fallback) Submit(context.Context, string, string) (string, error) {
	return "", models.ErrGatewayNotConfigured
}

// Status always reports that no provider is configured.
func (Fallback) Status(context.Context, string, string) (models.TxStatus, error) {
	return "", models.ErrGatewayNotConfigured
}

// New returns a live Tatum gateway when apiKey is set and Fallback otherwise.
func New(baseURL, apiKey string, opts ...Option) Gateway {
	if apiKey == "" {
		return Fallback{}
	}
	return NewTatum(baseURL, apiKey, opts...)
}
