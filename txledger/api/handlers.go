package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cast"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/service"
	"github.com/pushchain/txledger/txledger/status"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpStatus maps an error kind to a response code
func httpStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, lerrors.ErrIntegrity):
		return http.StatusNotFound
	case errors.Is(err, lerrors.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, lerrors.ErrStateViolation):
		return http.StatusConflict
	case errors.Is(err, lerrors.ErrRejected):
		return http.StatusUnprocessableEntity
	case lerrors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return pkgerrors.Wrapf(service.ErrInvalidRequest, "malformed body: %v", err)
	}
	return nil
}

func parseAmount(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, pkgerrors.Wrapf(service.ErrInvalidRequest, "%s %q is not a decimal integer", field, v)
	}
	return n, nil
}

func submitted(sub *service.Submission) SubmitResponse {
	return SubmitResponse{TxHash: sub.TxHash, Nonce: sub.Nonce, TaskID: sub.ID()}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleQueryStatus handles GET /api/v1/tx/{hash}
func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	entry, err := s.ledger.QueryStatus(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: entry})
}

// handleStateLog handles GET /api/v1/tx/{hash}/log
func (s *Server) handleStateLog(w http.ResponseWriter, r *http.Request) {
	logs, err := s.ledger.StateLog(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	type entry struct {
		Status     string `json:"status"`
		StatusCode uint   `json:"status_code"`
		Date       string `json:"date"`
	}
	out := make([]entry, 0, len(logs))
	for _, l := range logs {
		out = append(out, entry{Status: l.Status.String(), StatusCode: uint(l.Status), Date: l.CreatedAt.UTC().Format(time.RFC3339)})
	}
	writeJSON(w, http.StatusOK, Response{Data: out})
}

// handleResend handles POST /api/v1/tx/{hash}/resend
func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var body ResendBody
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	var price *big.Int
	if body.GasPrice != "" {
		var err error
		if price, err = parseAmount("gas_price", body.GasPrice); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	sub, err := s.ledger.Resend(r.Context(), mux.Vars(r)["hash"], price, body.GasRatio, body.Force)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Data: submitted(sub)})
}

// handleSync handles POST /api/v1/tx/{hash}/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	st, err := s.ledger.SyncTx(r.Context(), hash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: SyncResponse{TxHash: hash, Status: st.String(), StatusCode: uint(st)}})
}

// handleTransfer handles POST /api/v1/transfer
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body TransferBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.ledger.SubmitTransfer(r.Context(), service.TransferRequest{
		From:   body.From,
		To:     body.To,
		Token:  body.Token,
		Amount: amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Data: submitted(sub)})
}

// handleApprove handles POST /api/v1/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body ApproveBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.ledger.SubmitApprove(r.Context(), service.ApproveRequest{
		From:    body.From,
		Token:   body.Token,
		Spender: body.Spender,
		Amount:  amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Data: submitted(sub)})
}

// handleTransferFrom handles POST /api/v1/transfer_from
func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var body TransferFromBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.ledger.SubmitTransferFrom(r.Context(), service.TransferFromRequest{
		Spender: body.Spender,
		From:    body.From,
		To:      body.To,
		Token:   body.Token,
		Amount:  amount,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Data: submitted(sub)})
}

// handleListForAddress handles
// GET /api/v1/address/{address}/txs?as_sender=&as_recipient=&status=&offset=&limit=
func (s *Server) handleListForAddress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := service.ListQuery{Address: mux.Vars(r)["address"]}

	var err error
	if v := q.Get("as_sender"); v != "" {
		if query.AsSender, err = cast.ToBoolE(v); err != nil {
			s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
			return
		}
	}
	if v := q.Get("as_recipient"); v != "" {
		if query.AsRecipient, err = cast.ToBoolE(v); err != nil {
			s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
			return
		}
	}
	if v := q.Get("status"); v != "" {
		code, err := cast.ToUintE(v)
		if err != nil {
			s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
			return
		}
		st := status.Status(code)
		query.Status = &st
	}
	if query.Offset, err = cast.ToIntE(q.Get("offset")); err != nil && q.Get("offset") != "" {
		s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
		return
	}
	if query.Limit, err = cast.ToIntE(q.Get("limit")); err != nil && q.Get("limit") != "" {
		s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
		return
	}

	entries, err := s.ledger.ListForAddress(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: entries})
}

// handleBalance handles GET /api/v1/address/{address}/balance?token=&pending=
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var pending bool
	if v := q.Get("pending"); v != "" {
		var err error
		if pending, err = cast.ToBoolE(v); err != nil {
			s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
			return
		}
	}
	b, err := s.ledger.Balance(r.Context(), mux.Vars(r)["address"], q.Get("token"), pending)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: BalanceResponse{
		Address:   b.Address,
		Token:     b.Token,
		Network:   b.Network.String(),
		Incoming:  b.Incoming.String(),
		Outgoing:  b.Outgoing.String(),
		Available: b.Available().String(),
	}})
}

// handleCheckNonce handles GET /api/v1/address/{address}/nonce
func (s *Server) handleCheckNonce(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.CheckNonce(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: NonceResponse{
		Address:       report.Address,
		Network:       report.Network,
		Highest:       report.Highest,
		Next:          report.Next,
		Gap:           report.Gap(),
		Blocking:      report.Blocking,
		BlockingNonce: report.BlockingNonce,
	}})
}

// handleFixNonce handles POST /api/v1/address/{address}/nonce/fix
func (s *Server) handleFixNonce(w http.ResponseWriter, r *http.Request) {
	var body FixNonceBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	shifted, err := s.ledger.FixNonce(r.Context(), mux.Vars(r)["address"], body.Nonce)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := FixNonceResponse{TxHashes: shifted.TxHashes}
	if resp.TxHashes == nil {
		resp.TxHashes = []string{}
	}
	if shifted.Future != nil {
		resp.TaskID = shifted.ID()
	}
	writeJSON(w, http.StatusAccepted, Response{Data: resp})
}

// handleRefillGas handles POST /api/v1/address/{address}/refill
func (s *Server) handleRefillGas(w http.ResponseWriter, r *http.Request) {
	hash, err := s.ledger.RefillGas(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Response{Data: RefillResponse{TxHash: hash}})
}

// handleGetLocks handles GET /api/v1/locks?address=
func (s *Server) handleGetLocks(w http.ResponseWriter, r *http.Request) {
	var address *string
	if v := r.URL.Query().Get("address"); v != "" {
		address = &v
	}
	locks, err := s.ledger.GetLocks(r.Context(), address)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]LockResponse, 0, len(locks))
	for _, l := range locks {
		f := lock.Flag(l.Flags)
		out = append(out, LockResponse{Address: l.Address, Flags: f, Names: f.String()})
	}
	writeJSON(w, http.StatusOK, Response{Data: out})
}

// handleLock handles POST /api/v1/locks
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var body LockBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	flags, err := lock.ParseFlags(body.Flags)
	if err != nil {
		s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
		return
	}
	got, err := s.ledger.Lock(r.Context(), body.Address, flags)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: LockResponse{Address: body.Address, Flags: got, Names: got.String()}})
}

// handleUnlock handles DELETE /api/v1/locks?address=&flags=
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flags, err := lock.ParseFlags(q.Get("flags"))
	if err != nil {
		s.fail(w, r, pkgerrors.Wrap(service.ErrInvalidRequest, err.Error()))
		return
	}
	address := q.Get("address")
	got, err := s.ledger.Unlock(r.Context(), address, flags)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: LockResponse{Address: address, Flags: got, Names: got.String()}})
}
