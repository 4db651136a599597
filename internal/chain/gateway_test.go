package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/cryptop2p/internal/models"
)

func TestChainFor(t *testing.T) {
	tests := []struct {
		network string
		chain   string
	}{
		{"BTC", "bitcoin"},
		{"ltc", "litecoin"},
		{"ETH", "ethereum"},
		{"USDT_ERC20", "ethereum"},
		{"BNB", "bsc"},
		{"TRX", "tron"},
		{"USDT_TRC20", "tron"},
		{"TON", "ton"},
	}
	for _, tt := range tests {
		chain, err := ChainFor(tt.network)
		require.NoError(t, err)
		assert.Equal(t, tt.chain, chain)
	}

	_, err := ChainFor("DOGE")
	assert.ErrorIs(t, err, models.ErrUnsupportedNetwork)
}

func TestPlaceholderHash(t *testing.T) {
	h := PlaceholderHash("deadbeef")
	assert.Equal(t, "2baf1f40105d9501fe319a8ec463fdf4325a2a5df445adf3f572f626253678c9", h)
	assert.Equal(t, h, PlaceholderHash("deadbeef"))
	assert.NotEqual(t, h, PlaceholderHash("deadbeef00"))
}

func TestNew(t *testing.T) {
	assert.IsType(t, Fallback{}, New("https://api.tatum.io", ""))
	assert.IsType(t, &Tatum{}, New("https://api.tatum.io", "key"))

	_, err := Fallback{}.Submit(context.Background(), "BTC", "deadbeef")
	assert.ErrorIs(t, err, models.ErrGatewayNotConfigured)
	_, err = Fallback{}.Status(context.Background(), "BTC", "abc")
	assert.ErrorIs(t, err, models.ErrGatewayNotConfigured)
}

func TestTatum_Submit(t *testing.T) {
	tests := []struct {
		name        string
		network     string
		status      int
		response    string
		expectHash  string
		expectError error
	}{
		{"TxID", "BTC", http.StatusOK, `{"txId": "abc123"}`, "abc123", nil},
		{"TxHash", "ETH", http.StatusOK, `{"txHash": "0xdef"}`, "0xdef", nil},
		{"Hash", "TON", http.StatusOK, `{"hash": "ton-hash"}`, "ton-hash", nil},
		{"NoHash", "BTC", http.StatusOK, `{"failed": true}`, "", models.ErrGateway},
		{"Rejected", "BTC", http.StatusBadRequest, `{"message": "tx already in mempool"}`, "", models.ErrGateway},
		{"ServerError", "BTC", http.StatusInternalServerError, `oops`, "", models.ErrGateway},
		{"UnsupportedNetwork", "DOGE", http.StatusOK, `{"txId": "x"}`, "", models.ErrUnsupportedNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotKey string
			var gotBody map[string]string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotKey = r.Header.Get("x-api-key")
				json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			gw := NewTatum(srv.URL+"/", "secret")
			hash, err := gw.Submit(context.Background(), tt.network, "deadbeef")
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectHash, hash)
			assert.Equal(t, "secret", gotKey)
			assert.Equal(t, "deadbeef", gotBody["txData"])
			chain, _ := ChainFor(tt.network)
			assert.Equal(t, "/v3/"+chain+"/broadcast", gotPath)
		})
	}
}

func TestTatum_Status(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		expect   models.TxStatus
	}{
		{"Confirmed", http.StatusOK, `{"status": "success"}`, models.TxConfirmed},
		{"BoolStatusIsPending", http.StatusOK, `{"hash": "abc", "status": false}`, models.TxPending},
		{"Failed", http.StatusOK, `{"txStatus": "FAILED"}`, models.TxFailed},
		{"NotFound", http.StatusNotFound, `{"message": "not found"}`, models.TxPending},
		{"Forbidden", http.StatusForbidden, ``, models.TxPending},
		{"ServerError", http.StatusBadGateway, `bad gateway`, models.TxPending},
		{"NotJSON", http.StatusOK, `<html></html>`, models.TxPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			gw := NewTatum(srv.URL, "secret")
			status, err := gw.Status(context.Background(), "USDT_TRC20", "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.expect, status)
			assert.Equal(t, "/v3/tron/transaction/abc", gotPath)
		})
	}
}

func TestTatum_StatusEVMReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/ethereum/transaction/abc", r.URL.Path)
		w.Write([]byte(`{"hash": "abc", "status": false}`))
	}))
	defer srv.Close()

	status, err := NewTatum(srv.URL, "k").Status(context.Background(), "ETH", "abc")
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, status)
}

func TestWithHTTPClient(t *testing.T) {
	own := &http.Client{}
	gw := NewTatum("http://localhost", "k", WithTimeout(time.Second), WithHTTPClient(own))
	assert.Zero(t, own.Timeout)
	assert.Equal(t, time.Second, gw.client.Timeout)

	bounded := &http.Client{Timeout: 3 * time.Second}
	gw = NewTatum("http://localhost", "k", WithHTTPClient(bounded))
	assert.Equal(t, 3*time.Second, gw.client.Timeout)
}

func TestTatum_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gw := NewTatum(srv.URL, "secret", WithTimeout(50*time.Millisecond))

	_, err := gw.Submit(context.Background(), "BTC", "deadbeef")
	assert.ErrorIs(t, err, models.ErrGateway)

	_, err = gw.Status(context.Background(), "BTC", "abc")
	assert.ErrorIs(t, err, models.ErrGateway)
}

func TestTatum_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw := NewTatum(srv.URL, "secret")
	for i := 0; i < MaxNumOfFailingRequests+5; i++ {
		_, err := gw.Submit(context.Background(), "BTC", "deadbeef")
		assert.ErrorIs(t, err, models.ErrGateway)
	}
	assert.Equal(t, int32(MaxNumOfFailingRequests+1), calls.Load())
}
