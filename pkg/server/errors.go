package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
	"github.com/Layr-Labs/merkle-mint-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-mint-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// errBadRequest marks request decoding and field validation failures
var errBadRequest = errors.New("bad request")

type statusRule struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins
var statusRules = []statusRule{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{auth.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{auth.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{auth.ErrInvalidOwner, http.StatusBadRequest, "invalid_owner"},
	{distributor.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{distributor.ErrClaimsExist, http.StatusConflict, "claims_exist"},
	{distributor.ErrURIAlreadySet, http.StatusConflict, "uri_already_set"},
	{distributor.ErrInvalidProof, http.StatusBadRequest, "invalid_proof"},
	{distributor.ErrInvalidRoot, http.StatusBadRequest, "invalid_root"},
	{distributor.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{distributor.ErrMaxTenMintsPerTxn, http.StatusBadRequest, "max_ten_mints_per_txn"},
	{distributor.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{distributor.ErrInvalidRecipient, http.StatusBadRequest, "invalid_recipient"},
	{distributor.ErrOverflow, http.StatusBadRequest, "overflow"},
	{merkle.ErrSnapshotMismatch, http.StatusBadRequest, "snapshot_mismatch"},
	{distributor.ErrMaxSupplyLimitReached, http.StatusUnprocessableEntity, "max_supply_limit_reached"},
	{ledger.ErrTransferExceedsAllowance, http.StatusUnprocessableEntity, "insufficient_allowance"},
	{ledger.ErrTransferExceedsBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{ledger.ErrTransferToZeroAddress, http.StatusUnprocessableEntity, "invalid_payee"},
}

// statusFor maps an error to an HTTP status and a stable machine-readable code
func statusFor(err error) (int, string) {
	for _, rule := range statusRules {
		if errors.Is(err, rule.target) {
			return rule.status, rule.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err with status, or with the mapped status when status is 0
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	mapped, code := statusFor(err)
	if status == 0 {
		status = mapped
	}
	if code == "internal_error" && status != http.StatusInternalServerError {
		code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	})
}
