// Package httpapi serves the HTTP surface used by the web UI: short-code and
// address lookups and the signed destructive requests.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/cryptox"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/gorilla/mux"
)

// Directory is the identity lookup and removal surface.
type Directory interface {
	LookupByCode(ctx context.Context, code string) (*models.Identity, error)
	LookupByAddress(ctx context.Context, address string) (*models.Identity, error)
	DeleteAccount(ctx context.Context, address string) error
}

// Conversations removes stored messages.
type Conversations interface {
	DeleteConversation(ctx context.Context, requester, peer string) (int64, error)
}

// Handler holds the HTTP endpoints.
type Handler struct {
	directory     Directory
	conversations Conversations
	clock         clock.Clock
	window        time.Duration
	logger        logging.Logger
}

// NewHandler builds a Handler. window is the accepted skew for signed
// request timestamps.
func NewHandler(d Directory, c Conversations, clk clock.Clock, window time.Duration, l logging.Logger) *Handler {
	return &Handler{
		directory:     d,
		conversations: c,
		clock:         clk,
		window:        window,
		logger:        l.With("module", "http"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type codeLookupResponse struct {
	Address             string `json:"address"`
	EncryptionPublicKey string `json:"encryptionPublicKey"`
}

type keyLookupResponse struct {
	EncryptionPublicKey string `json:"encryptionPublicKey"`
}

type deleteSessionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type deleteAccountRequest struct {
	PublicKey string      `json:"publicKey"`
	Signature string      `json:"signature"`
	Timestamp json.Number `json:"timestamp"`
}

type deleteAccountResponse struct {
	Success        bool   `json:"success"`
	DeletedAddress string `json:"deletedAddress"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// LookupCode resolves a short code to an address and encryption key.
func (h *Handler) LookupCode(w http.ResponseWriter, r *http.Request) {
	id, err := h.directory.LookupByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.lookupFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codeLookupResponse{
		Address:             id.AddressHash,
		EncryptionPublicKey: id.EncryptionPublicKey,
	})
}

// LookupAddress returns the encryption key registered for an address.
func (h *Handler) LookupAddress(w http.ResponseWriter, r *http.Request) {
	id, err := h.directory.LookupByAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.lookupFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyLookupResponse{EncryptionPublicKey: id.EncryptionPublicKey})
}

func (h *Handler) lookupFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, common.ErrorNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	h.logger.Error(r.Context(), "lookup failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// Preflight answers CORS preflight requests.
func (h *Handler) Preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// checkTimestamp rejects a millisecond timestamp that does not parse or lies
// outside the replay window of now.
func (h *Handler) checkTimestamp(raw string) error {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrRequestExpired, err)
	}
	skew := h.clock.Now().Sub(time.UnixMilli(ts))
	if skew < 0 {
		skew = -skew
	}
	if skew > h.window {
		return fmt.Errorf("%w: skew %s", common.ErrRequestExpired, skew)
	}
	return nil
}

// DeleteSession removes the requester's conversation with peerAddress, or
// all of the requester's messages when peerAddress is absent.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(common.SignatureHeaderName)
	publicKey := r.Header.Get(common.IdentityPubHeaderName)
	timestamp := r.Header.Get(common.TimestampHeaderName)

	if signature == "" || publicKey == "" || timestamp == "" {
		writeError(w, http.StatusUnauthorized, "Missing auth headers")
		return
	}

	if err := h.checkTimestamp(timestamp); err != nil {
		h.logger.Warn(r.Context(), "session delete rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "Request expired")
		return
	}

	requester, err := cryptox.VerifySignedAction(publicKey, signature, common.DeleteSessionAction, timestamp)
	if err != nil {
		h.logger.Warn(r.Context(), "session delete rejected", "error", err)
		writeError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	peer := r.URL.Query().Get("peerAddress")
	if _, err := h.conversations.DeleteConversation(r.Context(), requester, peer); err != nil {
		h.logger.Error(r.Context(), "session delete failed", "address", logging.ShortAddress(requester), "error", err)
		writeError(w, http.StatusInternalServerError, "Database partial failure")
		return
	}

	writeJSON(w, http.StatusOK, deleteSessionResponse{Success: true, Message: "Conversation deleted"})
}

// DeleteAccount removes the directory entry of the signing identity.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	}
	if req.PublicKey == "" || req.Signature == "" || req.Timestamp == "" {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	}

	if err := h.checkTimestamp(req.Timestamp.String()); err != nil {
		h.logger.Warn(r.Context(), "account delete rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Request expired")
		return
	}

	address, err := cryptox.VerifySignedAction(req.PublicKey, req.Signature, common.DeleteAccountAction, req.Timestamp.String())
	if err != nil {
		h.logger.Warn(r.Context(), "account delete rejected", "error", err)
		writeError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	if err := h.directory.DeleteAccount(r.Context(), address); err != nil {
		h.logger.Error(r.Context(), "account delete failed", "address", logging.ShortAddress(address), "error", err)
		writeError(w, http.StatusInternalServerError, "Database deletion failed")
		return
	}

	writeJSON(w, http.StatusOK, deleteAccountResponse{Success: true, DeletedAddress: address})
}
