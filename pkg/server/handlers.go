package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

var errSignerNotPayer = errors.New("request must be signed by the payer")

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to parse request: %v", errBadRequest, err)
	}
	return nil
}

func parseAccount(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, fmt.Errorf("%w: %s is required", errBadRequest, field)
	}
	addr, err := merkle.NormalizeAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", errBadRequest, field, err)
	}
	return addr, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	d := s.distributor
	info := types.DistributionInfo{
		Name:            d.Name(),
		Symbol:          d.Symbol(),
		TokenID:         uint64(d.TokenID()),
		MetadataPointer: d.MetadataPointer(),
		TotalSupply:     d.TotalSupply(),
		MaxSupply:       d.MaxSupply(),
		ClaimedCount:    d.ClaimedCount(),
		Price:           d.Price().Dec(),
		Wallet:          d.Wallet().Hex(),
		Owner:           d.Owner().Hex(),
		URI:             d.URI(d.TokenID()),
	}
	if root := d.Root(); root != (common.Hash{}) {
		info.Root = root.Hex()
	}
	if token := d.PaymentToken(); token != (common.Address{}) {
		info.PaymentToken = token.Hex()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleClaimLookup(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}

	root := s.distributor.Root()
	if root == (common.Hash{}) {
		s.writeError(w, r, http.StatusNotFound, errors.New("no root has been published"))
		return
	}
	snapshot, err := s.store.LoadSnapshot(root)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to load snapshot: %w", err))
		return
	}
	if snapshot == nil {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no snapshot stored for root %s", root.Hex()))
		return
	}
	claim := snapshot.ClaimFor(account)
	if claim == nil {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no allocation for %s", account.Hex()))
		return
	}

	writeJSON(w, http.StatusOK, types.ClaimLookupResponse{
		Account: account.Hex(),
		Root:    root.Hex(),
		Claim:   claim,
		Claimed: s.distributor.IsClaimed(claim.Index),
	})
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		s.writeError(w, r, 0, fmt.Errorf("%w: index must be an unsigned integer", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, types.ClaimStatusResponse{Index: index, Claimed: s.distributor.IsClaimed(index)})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	account, err := parseAccount("account", req.Account)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, 0, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	proof, err := types.ParseHashes(req.Proof)
	if err != nil {
		s.writeError(w, r, 0, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	if err := s.distributor.Claim(r.Context(), req.Index, amount, proof, account); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "claimed", account)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req types.MintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	payer, err := parseAccount("payer", req.Payer)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	if sr := signedFrom(r.Context()); sr == nil || sr.signer != payer {
		s.writeError(w, r, http.StatusForbidden, errSignerNotPayer)
		return
	}
	paymentAmount, err := types.ParseAmount(req.PaymentAmount)
	if err != nil {
		s.writeError(w, r, 0, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	if err := s.distributor.Mint(r.Context(), payer, paymentAmount, req.Quantity); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "minted", payer)
}

func (s *Server) handleSetRoot(w http.ResponseWriter, r *http.Request) {
	var req types.SetRootRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	root, err := types.ParseHash(req.Root)
	if err != nil {
		s.writeError(w, r, 0, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	if req.Snapshot != nil {
		if err := merkle.VerifySnapshot(req.Snapshot); err != nil {
			s.writeError(w, r, 0, err)
			return
		}
		snapshotRoot, _ := req.Snapshot.Root()
		if snapshotRoot != root {
			s.writeError(w, r, 0, fmt.Errorf("%w: snapshot root %s does not match %s",
				merkle.ErrSnapshotMismatch, snapshotRoot.Hex(), root.Hex()))
			return
		}
		if err := s.store.SaveSnapshot(req.Snapshot); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to store snapshot: %w", err))
			return
		}
	}

	if err := s.distributor.SetRoot(r.Context(), capabilityFrom(r.Context()), root, req.MetadataPointer); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "root_published", common.Address{})
}

func (s *Server) handleFreeMint(w http.ResponseWriter, r *http.Request) {
	var req types.FreeMintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	recipient, err := parseAccount("recipient", req.Recipient)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}

	if err := s.distributor.FreeMint(r.Context(), capabilityFrom(r.Context()), recipient, req.Quantity); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "minted", recipient)
}

func (s *Server) handleSetURI(w http.ResponseWriter, r *http.Request) {
	var req types.SetURIRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	if req.URI == "" {
		s.writeError(w, r, 0, fmt.Errorf("%w: uri is required", errBadRequest))
		return
	}

	if err := s.distributor.SetURI(r.Context(), capabilityFrom(r.Context()), req.URI); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "uri_set", common.Address{})
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req types.TransferOwnershipRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	newOwner, err := parseAccount("newOwner", req.NewOwner)
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}

	if err := s.distributor.TransferOwnership(r.Context(), capabilityFrom(r.Context()), newOwner); err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	s.writeOperation(w, r, "ownership_transferred", common.Address{})
}

// writeOperation acknowledges a mutation, with account's balance when account is set
func (s *Server) writeOperation(w http.ResponseWriter, r *http.Request, status string, account common.Address) {
	resp := types.OperationResponse{Status: status, TotalSupply: s.distributor.TotalSupply()}
	if account != (common.Address{}) {
		balance, err := s.distributor.BalanceOf(r.Context(), account)
		if err != nil {
			s.logger.Sugar().Warnw("Failed to read balance", "account", account.Hex(), "error", err)
		} else {
			resp.Balance = balance.Dec()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEvents streams distributor events as server-sent events until the client leaves
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(eventMessage(ev))
			if err != nil {
				s.logger.Sugar().Errorw("Failed to encode event", "event", ev.Name(), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name(), data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func eventMessage(ev events.Event) types.EventMessage {
	msg := types.EventMessage{Name: ev.Name()}
	switch e := ev.(type) {
	case events.Issued:
		msg.Data = map[string]interface{}{
			"tokenId":   uint64(e.TokenID),
			"amount":    e.Amount.Dec(),
			"recipient": e.Recipient.Hex(),
		}
	case events.FundsTransferred:
		msg.Data = map[string]string{
			"payer":  e.Payer.Hex(),
			"payee":  e.Payee.Hex(),
			"amount": e.Amount.Dec(),
		}
	case events.RootPublished:
		msg.Data = map[string]string{
			"root":            e.Root.Hex(),
			"metadataPointer": e.MetadataPointer,
		}
	}
	return msg
}
