package api

import "github.com/pushchain/txledger/txledger/lock"

// Response wraps successful payloads
type Response struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// TransferBody is the body of POST /api/v1/transfer. Amounts are decimal
// strings.
type TransferBody struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// ApproveBody is the body of POST /api/v1/approve
type ApproveBody struct {
	From    string `json:"from"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// TransferFromBody is the body of POST /api/v1/transfer_from. Spender is the
// custodial signer; From is the owner of the allowance.
type TransferFromBody struct {
	Spender string `json:"spender"`
	From    string `json:"from"`
	To      string `json:"to"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// ResendBody is the body of POST /api/v1/tx/{hash}/resend. GasPrice wins
// over GasRatio when both are set.
type ResendBody struct {
	GasPrice string  `json:"gas_price"`
	GasRatio float64 `json:"gas_ratio"`
	Force    bool    `json:"force"`
}

// SubmitResponse describes a transaction handed to the pipeline
type SubmitResponse struct {
	TxHash string `json:"tx_hash"`
	Nonce  uint64 `json:"nonce"`
	TaskID string `json:"task_id"`
}

// LockBody is the body of POST /api/v1/locks. Flags use the names of
// lock.ParseFlags, e.g. "SEND|QUEUE".
type LockBody struct {
	Address string `json:"address"`
	Flags   string `json:"flags"`
}

// LockResponse reports the flags left on an address
type LockResponse struct {
	Address string    `json:"address"`
	Flags   lock.Flag `json:"flags"`
	Names   string    `json:"names"`
}

// SyncResponse reports the status of a row after a network sync
type SyncResponse struct {
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
	StatusCode uint   `json:"status_code"`
}

// FixNonceBody is the body of POST /api/v1/address/{address}/nonce/fix
type FixNonceBody struct {
	Nonce uint64 `json:"nonce"`
}

// FixNonceResponse lists the replacements made by a nonce repair
type FixNonceResponse struct {
	TxHashes []string `json:"tx_hashes"`
	TaskID   string   `json:"task_id,omitempty"`
}

// NonceResponse compares the node, ledger and allocator nonces
type NonceResponse struct {
	Address       string  `json:"address"`
	Network       uint64  `json:"network"`
	Highest       *uint64 `json:"highest,omitempty"`
	Next          *uint64 `json:"next,omitempty"`
	Gap           bool    `json:"gap"`
	Blocking      string  `json:"blocking_tx,omitempty"`
	BlockingNonce *uint64 `json:"blocking_nonce,omitempty"`
}

// RefillResponse carries the hash of a queued refill
type RefillResponse struct {
	TxHash string `json:"tx_hash"`
}

// BalanceResponse reports a balance. Values are decimal strings.
type BalanceResponse struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	Network   string `json:"network"`
	Incoming  string `json:"incoming"`
	Outgoing  string `json:"outgoing"`
	Available string `json:"available"`
}
