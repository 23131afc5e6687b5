package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

const (
	requestIDHeader      = "X-Request-Id"
	signatureHeader      = types.SignatureHeader
	adminSignatureHeader = types.AdminSignatureHeader
)

var (
	errMissingSignature = errors.New("missing signature header")
	errStaleSignature   = errors.New("signed request is outside the accepted time window")
	errReplayed         = errors.New("signed request was already used")
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxSigned
	ctxCapability
)

// signedRequest is a verified request body and the address that signed it
type signedRequest struct {
	body   []byte
	signer common.Address
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Sugar().Debugw("HTTP request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}

// signedBody verifies an EIP-191 signature in header over the raw request body. The
// body must carry a fresh issuedAt and must not have been seen before.
func (s *Server) signedBody(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("failed to read request: %w", err))
				return
			}

			signer, err := s.verifySignature(r.Header.Get(header), body)
			if err != nil {
				s.writeError(w, r, http.StatusUnauthorized, err)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			ctx := context.WithValue(r.Context(), ctxSigned, &signedRequest{body: body, signer: signer})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) verifySignature(header string, body []byte) (common.Address, error) {
	if header == "" {
		return common.Address{}, errMissingSignature
	}
	sig, err := hexutil.Decode(strings.TrimSpace(header))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", auth.ErrInvalidSignature, err)
	}

	var stamp struct {
		IssuedAt int64 `json:"issuedAt"`
	}
	if err := json.Unmarshal(body, &stamp); err != nil {
		return common.Address{}, fmt.Errorf("failed to parse request: %w", err)
	}
	now := s.now()
	issuedAt := time.Unix(stamp.IssuedAt, 0)
	if stamp.IssuedAt <= 0 || now.Sub(issuedAt) > s.cfg.SignatureMaxAge || issuedAt.Sub(now) > s.cfg.SignatureMaxAge {
		return common.Address{}, errStaleSignature
	}

	signer, err := auth.RecoverSigner(body, sig)
	if err != nil {
		return common.Address{}, err
	}
	if !s.signatures.add(crypto.Keccak256Hash(signer.Bytes(), body), now) {
		return common.Address{}, errReplayed
	}
	return signer, nil
}

func signedFrom(ctx context.Context) *signedRequest {
	sr, _ := ctx.Value(ctxSigned).(*signedRequest)
	return sr
}

// requireAdmin turns the verified signer into an admin capability, or rejects the request
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := signedFrom(r.Context())
		if sr == nil {
			s.writeError(w, r, http.StatusUnauthorized, errMissingSignature)
			return
		}
		c, err := s.distributor.Grant(sr.signer)
		if err != nil {
			s.logger.Sugar().Warnw("Rejected admin request", "signer", sr.signer.Hex(), "path", r.URL.Path)
			s.writeError(w, r, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxCapability, c)))
	})
}

func capabilityFrom(ctx context.Context) auth.Capability {
	c, _ := ctx.Value(ctxCapability).(auth.Capability)
	return c
}

// replayCache remembers signed request digests until they can no longer pass the
// freshness check
type replayCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	seen   map[common.Hash]time.Time
	pruned time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{ttl: ttl, seen: make(map[common.Hash]time.Time)}
}

// add records digest and reports false if it was already present
func (c *replayCache) add(digest common.Hash, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.pruned) > c.ttl {
		// issuedAt may be up to ttl in the future, so keep entries for twice the window
		cutoff := now.Add(-2 * c.ttl)
		for d, at := range c.seen {
			if at.Before(cutoff) {
				delete(c.seen, d)
			}
		}
		c.pruned = now
	}

	if _, ok := c.seen[digest]; ok {
		return false
	}
	c.seen[digest] = now
	return true
}
