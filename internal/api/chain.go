package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/cryptop2p/internal/chain"
	"github.com/xtrntr/cryptop2p/internal/txrelay"
)

type broadcastRequest struct {
	Network     string           `json:"network"`
	SignedTx    string           `json:"signed_tx"`
	ToAddress   *string          `json:"to_address"`
	FromAddress *string          `json:"from_address"`
	Amount      *decimal.Decimal `json:"amount"`
}

// BroadcastTx relays a client signed transaction. Authentication is
// optional; an authenticated caller is recorded as the sender.
func (h *Handler) BroadcastTx(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Network == "" || req.SignedTx == "" {
		writeError(w, http.StatusBadRequest, "network and signed_tx required")
		return
	}

	var userID *int64
	if id, ok := userFromContext(r.Context()); ok {
		userID = &id
	}

	ref, err := h.Relay.Broadcast(r.Context(), txrelay.BroadcastRequest{
		Network:     req.Network,
		SignedTx:    req.SignedTx,
		ToAddress:   req.ToAddress,
		FromAddress: req.FromAddress,
		Amount:      req.Amount,
		UserID:      userID,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// GetTxStatus reports the settlement status of a transaction
func (h *Handler) GetTxStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := h.Relay.GetStatus(r.Context(), chi.URLParam(r, "network"), chi.URLParam(r, "hash"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// ListNetworks returns the recognized networks
func (h *Handler) ListNetworks(w http.ResponseWriter, r *http.Request) {
	networks, err := h.Networks.ListNetworks(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, networks)
}

// GetRates returns cached price quotes, in USD unless ?vs= says otherwise
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.Rates.Get(r.Context(), r.URL.Query().Get("vs"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

type feeRequest struct {
	Network string          `json:"network"`
	Amount  decimal.Decimal `json:"amount"`
}

type feeResponse struct {
	Network string          `json:"network"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
}

// EstimateFee quotes the network fee for sending amount
func (h *Handler) EstimateFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if !decode(w, r, &req) {
		return
	}
	network := strings.ToUpper(strings.TrimSpace(req.Network))
	writeJSON(w, http.StatusOK, feeResponse{
		Network: network,
		Amount:  req.Amount,
		Fee:     chain.EstimateFee(network, req.Amount),
	})
}

type addressRequest struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

// ValidateAddress checks the address format for a network
func (h *Handler) ValidateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_valid": chain.ValidateAddress(req.Network, req.Address),
	})
}
