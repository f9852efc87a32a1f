// Package core wires the ledger components into a running daemon.
package core

import (
	"context"
	"math/big"
	"path/filepath"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushchain/txledger/txledger/api"
	"github.com/pushchain/txledger/txledger/audit"
	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/chains/evm"
	"github.com/pushchain/txledger/txledger/config"
	"github.com/pushchain/txledger/txledger/constant"
	"github.com/pushchain/txledger/txledger/db"
	"github.com/pushchain/txledger/txledger/dispatcher"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/nonce"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/retrier"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/service"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/syncer/filters"
	"github.com/pushchain/txledger/txledger/task"
)

// Ledger owns every component of one custodial chain
type Ledger struct {
	cfg config.Config
	log zerolog.Logger
	db  *db.DB

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	chain        *common.Context
	queue        *queue.Queue
	locks        *lock.Locker
	reservations *nonce.Reservations
	pool         *task.Pool
	sender       *sender.Sender
	service      *service.Service

	cursors    *syncer.CursorStore
	filters    []syncer.Filter
	syncers    []*syncer.Syncer
	dispatcher *dispatcher.Dispatcher
	retrier    *retrier.Retrier
	api        *api.Server
}

// OpenDB opens the ledger store selected by cfg and migrates its schema
func OpenDB(cfg *config.Config) (*db.DB, error) {
	if cfg.DatabaseDriver == config.DatabaseDriverPostgres {
		return db.OpenPostgres(cfg.DatabaseDSN, true)
	}
	return db.OpenFileDB(filepath.Join(cfg.NodeHome, constant.DatabasesSubdir), constant.DatabaseFile, true)
}

// Dial connects to the chain RPC and loads the custodial keys from the
// environment
func Dial(cfg *config.Config, logger zerolog.Logger) (*common.Context, error) {
	client, err := evm.NewRPCClient(
		cfg.Chain.Name,
		cfg.Chain.RPCURLs,
		cfg.Chain.ChainID,
		time.Duration(cfg.Chain.RPCTimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to chain")
	}
	signer, err := evm.NewKeySignerFromEnv(constant.EnvSignerKeys)
	if err != nil {
		return nil, err
	}
	if !signer.HasKey(ethcommon.HexToAddress(cfg.Gas.GasProvider)) {
		return nil, errors.Errorf("no signer key for gas provider %s", cfg.Gas.GasProvider)
	}
	return common.NewContext(cfg.Chain.Name, cfg.Chain.ChainID, cfg.Gas.GasProvider, client, signer)
}

// New wires the components over an open store and chain context
func New(cfg config.Config, database *db.DB, chain *common.Context, logger zerolog.Logger) (*Ledger, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	l := &Ledger{
		cfg:      cfg,
		log:      logger.With().Str("component", "core").Logger(),
		db:       database,
		registry: registry,
		metrics:  m,
		chain:    chain,
	}

	l.queue = queue.New(database, cfg.TraceStateLog, logger)
	l.locks = lock.NewLocker(database, chain.Name, logger)
	l.reservations = nonce.NewReservations(nonce.NewAllocator(database, l.seedNonce, m, logger))
	l.pool = task.NewPool(cfg.WorkerPoolSize, logger)

	sendCfg := sender.Config{
		MinBalance:        config.WeiOrZero(cfg.Gas.MinBalanceWei),
		RefillAmount:      config.WeiOrZero(cfg.Gas.RefillAmountWei),
		MaxResendAttempts: cfg.Gas.MaxResendAttempts,
		ResendGasFactor:   cfg.Gas.ResendGasFactor,
	}
	if cfg.Gas.MaxGasPriceWei != "" {
		sendCfg.MaxGasPrice = config.WeiOrZero(cfg.Gas.MaxGasPriceWei)
	}
	builder := evm.NewTxBuilder(chain, cfg.Gas.GasLimit)
	l.sender = sender.New(chain, l.queue, l.reservations, l.locks, builder, l.pool, m, sendCfg, logger)
	l.service = service.New(chain, l.queue, l.sender, l.reservations, l.locks, logger)

	l.cursors = syncer.NewCursorStore(database, chain.Name)
	l.filters = l.buildFilters(logger)

	l.dispatcher = dispatcher.New(
		l.queue,
		l.sender,
		l.locks,
		time.Duration(cfg.Dispatch.IntervalSeconds)*time.Second,
		cfg.Dispatch.BatchSize,
		time.Duration(cfg.Dispatch.SendFailBackoffSeconds)*time.Second,
		logger,
	)
	l.retrier = retrier.New(
		l.queue,
		l.sender,
		time.Duration(cfg.Retry.IntervalSeconds)*time.Second,
		time.Duration(cfg.Retry.GracePeriodSeconds)*time.Second,
		cfg.Retry.BatchSize,
		logger,
	)
	l.api = api.NewServer(l.service, registry, logger, cfg.QueryServerPort)
	return l, nil
}

func (l *Ledger) buildFilters(logger zerolog.Logger) []syncer.Filter {
	f := l.cfg.Filters
	ttl := time.Duration(f.DedupeCacheTTLSeconds) * time.Second

	var account *filters.AccountFilter
	if f.AccountRegistry != "" {
		var gift *big.Int
		if f.AccountGiftWei != "" {
			gift = config.WeiOrZero(f.AccountGiftWei)
		}
		account = filters.NewAccountFilter(ethcommon.HexToAddress(f.AccountRegistry), gift, l.sender, l.pool, f.DedupeCacheSize, ttl, logger)
	}

	var callback *filters.CallbackFilter
	if f.CallbackURL != "" {
		tokens := make([]ethcommon.Address, 0, len(f.CallbackTokens))
		for _, t := range f.CallbackTokens {
			tokens = append(tokens, ethcommon.HexToAddress(t))
		}
		callback = filters.NewCallbackFilter(f.CallbackURL, tokens, l.pool, f.DedupeCacheSize, ttl, logger)
	}

	return filters.Default(
		filters.NewTxFilter(l.sender, logger),
		filters.NewGasFilter(l.chain, l.queue, l.sender, l.pool, logger),
		account,
		callback,
	)
}

// seedNonce starts the counter of a new address
func (l *Ledger) seedNonce(ctx context.Context, address string) (uint64, error) {
	if !l.cfg.Gas.SyncNonceFromNode {
		return l.cfg.Gas.DefaultNonceStart, nil
	}
	n, err := l.chain.Client.PendingNonceAt(ctx, ethcommon.HexToAddress(address))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read pending nonce of %s", address)
	}
	return n, nil
}

// Service exposes the ledger operations
func (l *Ledger) Service() *service.Service { return l.service }

// Registry is the prometheus registry served on /metrics
func (l *Ledger) Registry() *prometheus.Registry { return l.registry }

// RunAudit runs the offline auditor over database. A nil chain leaves every
// group that needs the node unresolved. Without OutputDir or Output the
// configured audit directory receives the module files.
func RunAudit(ctx context.Context, cfg *config.Config, database *db.DB, chain *common.Context, opts audit.Options, logger zerolog.Logger) (*audit.Report, error) {
	if opts.OutputDir == "" && opts.Output == nil {
		opts.OutputDir = cfg.AuditOutputDir
	}
	q := queue.New(database, cfg.TraceStateLog, logger)
	return audit.New(q, chain, nil, logger).Run(ctx, opts)
}

// Start launches the background loops and the query server, then blocks
// until ctx is cancelled
func (l *Ledger) Start(ctx context.Context) error {
	l.log.Info().Str("chain", l.chain.Name).Msg("🚀 Starting transaction ledger...")

	if err := l.start(ctx); err != nil {
		l.stop()
		return err
	}
	l.log.Info().Int("syncers", len(l.syncers)).Msg("✅ Initialization complete. Entering main loop...")

	<-ctx.Done()

	l.log.Info().Msg("🛑 Shutting down transaction ledger...")
	l.stop()
	return nil
}

func (l *Ledger) start(ctx context.Context) error {
	syncers, err := syncer.Bootstrap(ctx, l.chain, l.cursors, l.filters, syncer.BootstrapConfig{
		Interval:     time.Duration(l.cfg.Sync.PollIntervalSeconds) * time.Second,
		HistoryBatch: l.cfg.Sync.HistoryBatchSize,
		StartFrom:    l.cfg.Sync.StartFrom,
	}, l.metrics, l.log)
	if err != nil {
		return errors.Wrap(err, "failed to bootstrap syncers")
	}
	l.syncers = syncers

	// loops keep ctx; the group only collects startup errors
	var g errgroup.Group
	for _, s := range l.syncers {
		g.Go(func() error { return s.Start(ctx) })
	}
	g.Go(func() error { return l.dispatcher.Start(ctx) })
	g.Go(func() error { return l.retrier.Start(ctx) })
	g.Go(l.api.Start)
	return g.Wait()
}

func (l *Ledger) stop() {
	if err := l.api.Stop(); err != nil {
		l.log.Warn().Err(err).Msg("failed to stop query server")
	}
	for _, s := range l.syncers {
		s.Stop()
	}
	l.dispatcher.Stop()
	l.retrier.Stop()
	l.pool.Stop()
}
