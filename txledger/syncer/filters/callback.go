package filters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/task"
)

// TransferNotification is the body posted to the callback endpoint
type TransferNotification struct {
	TxHash   string `json:"tx_hash"`
	Block    uint64 `json:"block_number"`
	LogIndex uint   `json:"log_index"`
	Token    string `json:"token"`
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Success  bool   `json:"success"`
}

// CallbackFilter forwards ERC-20 transfers of watched tokens to a webhook
type CallbackFilter struct {
	url    string
	tokens map[ethcommon.Address]struct{}
	client *http.Client
	retry  *lerrors.RetryConfig
	pool   *task.Pool
	seen   *seen
	logger zerolog.Logger
}

// CallbackOption configures a CallbackFilter
type CallbackOption func(*CallbackFilter)

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) CallbackOption {
	return func(f *CallbackFilter) { f.client = c }
}

// WithRetry replaces the delivery retry policy
func WithRetry(cfg *lerrors.RetryConfig) CallbackOption {
	return func(f *CallbackFilter) { f.retry = cfg }
}

// NewCallbackFilter creates a CallbackFilter posting to url
func NewCallbackFilter(
	url string,
	tokens []ethcommon.Address,
	pool *task.Pool,
	cacheSize int,
	cacheTTL time.Duration,
	logger zerolog.Logger,
	opts ...CallbackOption,
) *CallbackFilter {
	f := &CallbackFilter{
		url:    url,
		tokens: make(map[ethcommon.Address]struct{}, len(tokens)),
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  lerrors.DefaultRetryConfig(),
		pool:   pool,
		seen:   newSeen(cacheSize, cacheTTL),
		logger: logger.With().Str("component", "callback_filter").Logger(),
	}
	for _, t := range tokens {
		f.tokens[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *CallbackFilter) Name() string { return NameCallback }

func (f *CallbackFilter) Apply(_ context.Context, tx *syncer.Tx) (*task.Future, error) {
	if tx.Receipt == nil {
		return nil, nil
	}
	var notes []TransferNotification
	for _, l := range tx.Receipt.Logs {
		if _, ok := f.tokens[l.Address]; !ok {
			continue
		}
		t, ok := evm.ParseTransferLog(l)
		if !ok {
			continue
		}
		if !f.seen.first(eventKey(tx.Tx.Hash().Hex(), l.Index)) {
			continue
		}
		notes = append(notes, TransferNotification{
			TxHash:   tx.Tx.Hash().Hex(),
			Block:    tx.Block.NumberU64(),
			LogIndex: l.Index,
			Token:    t.Token.Hex(),
			From:     t.From.Hex(),
			To:       t.To.Hex(),
			Value:    t.Value.String(),
			Success:  tx.Receipt.Status == 1,
		})
	}
	if len(notes) == 0 {
		return nil, nil
	}

	return f.pool.Submit("transfer_callback", func(ctx context.Context) (any, error) {
		for i, n := range notes {
			if err := lerrors.RetryWithConfig(ctx, func() error { return f.post(ctx, &n) }, f.retry); err != nil {
				for _, undelivered := range notes[i:] {
					f.seen.forget(eventKey(undelivered.TxHash, undelivered.LogIndex))
				}
				f.logger.Error().Err(err).Str("tx_hash", n.TxHash).Msg("transfer callback failed")
				return i, err
			}
		}
		return len(notes), nil
	}), nil
}

func (f *CallbackFilter) post(ctx context.Context, n *TransferNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return lerrors.NewNetworkError("", "callback post", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return lerrors.NewNetworkError("", fmt.Sprintf("callback returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	f.logger.Debug().Str("tx_hash", n.TxHash).Str("token", n.Token).Msg("transfer callback delivered")
	return nil
}
