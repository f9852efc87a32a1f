package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tx/{hash}", s.handleQueryStatus).Methods(http.MethodGet)
	v1.HandleFunc("/tx/{hash}/log", s.handleStateLog).Methods(http.MethodGet)
	v1.HandleFunc("/tx/{hash}/resend", s.handleResend).Methods(http.MethodPost)
	v1.HandleFunc("/tx/{hash}/sync", s.handleSync).Methods(http.MethodPost)
	v1.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/approve", s.handleApprove).Methods(http.MethodPost)
	v1.HandleFunc("/transfer_from", s.handleTransferFrom).Methods(http.MethodPost)
	v1.HandleFunc("/address/{address}/txs", s.handleListForAddress).Methods(http.MethodGet)
	v1.HandleFunc("/address/{address}/balance", s.handleBalance).Methods(http.MethodGet)
	v1.HandleFunc("/address/{address}/nonce", s.handleCheckNonce).Methods(http.MethodGet)
	v1.HandleFunc("/address/{address}/nonce/fix", s.handleFixNonce).Methods(http.MethodPost)
	v1.HandleFunc("/address/{address}/refill", s.handleRefillGas).Methods(http.MethodPost)
	v1.HandleFunc("/locks", s.handleGetLocks).Methods(http.MethodGet)
	v1.HandleFunc("/locks", s.handleLock).Methods(http.MethodPost)
	v1.HandleFunc("/locks", s.handleUnlock).Methods(http.MethodDelete)

	return r
}
