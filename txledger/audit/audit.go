// Package audit reconciles the ledger with the network offline. Rows are
// grouped by (sender, nonce); each module inspects the groups and writes the
// hashes needing manual follow-up, one per line, to its own output.
package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Module names
const (
	ModuleReconcile = "reconcile"
	ModuleBlockage  = "blockage"
	ModuleError     = "error"
)

// Outcomes recorded in metrics and the report
const (
	OutcomeClean      = "clean"
	OutcomeConfirmed  = "confirmed"
	OutcomeCancelled  = "cancelled"
	OutcomeUnresolved = "unresolved"
	OutcomeBlocked    = "blocked"
	OutcomeErrored    = "errored"
)

var errDryRun = errors.New("dry run")

// Modules lists every module in run order
func Modules() []string {
	return []string{ModuleReconcile, ModuleBlockage, ModuleError}
}

// Options select and direct a run
type Options struct {
	Include []string
	Exclude []string
	// OutputDir receives one file per module; empty writes to Output
	OutputDir string
	// Output is used when OutputDir is empty; nil means stdout
	Output io.Writer
	// DryRun rolls every status rewrite back
	DryRun bool
}

// Report counts groups per outcome
type Report struct {
	Modules  []string
	Outcomes map[string]int
}

func (r *Report) add(outcome string) {
	r.Outcomes[outcome]++
}

// Group is every row sharing one (sender, nonce), in insertion order
type Group struct {
	Sender    string
	Nonce     uint64
	Rows      []store.Otx
	Aggregate status.Status
}

// Latest is the most recently inserted row
func (g *Group) Latest() *store.Otx {
	return &g.Rows[len(g.Rows)-1]
}

type module func(ctx context.Context, q *queue.Queue, groups []*Group, w io.Writer, r *Report) error

// Auditor runs audit modules over the ledger
type Auditor struct {
	queue   *queue.Queue
	chain   *common.Context
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an Auditor. A nil chain, or one without a client, disables
// network checks and leaves every flagged group unresolved.
func New(q *queue.Queue, chain *common.Context, m *metrics.Metrics, logger zerolog.Logger) *Auditor {
	return &Auditor{
		queue:   q,
		chain:   chain,
		metrics: m,
		logger:  logger.With().Str("component", "auditor").Logger(),
	}
}

// Select resolves include/exclude into the modules to run. With neither set
// every module runs.
func Select(include, exclude []string) ([]string, error) {
	known := make(map[string]bool)
	for _, m := range Modules() {
		known[m] = true
	}
	for _, m := range append(append([]string{}, include...), exclude...) {
		if !known[m] {
			return nil, errors.Errorf("unknown audit module %q", m)
		}
	}
	if len(include) == 0 && len(exclude) == 0 {
		return Modules(), nil
	}

	excluded := make(map[string]bool)
	for _, m := range exclude {
		excluded[m] = true
	}
	var runs []string
	if len(exclude) > 0 {
		for _, m := range Modules() {
			if !excluded[m] {
				runs = append(runs, m)
			}
		}
	}
	for _, m := range include {
		found := false
		for _, r := range runs {
			if r == m {
				found = true
				break
			}
		}
		if !found {
			runs = append(runs, m)
		}
	}
	return runs, nil
}

// Run executes the selected modules in one database transaction, which is
// rolled back on DryRun
func (a *Auditor) Run(ctx context.Context, opts Options) (*Report, error) {
	runs, err := Select(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}
	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create audit output directory")
		}
	}
	report := &Report{Modules: runs, Outcomes: make(map[string]int)}
	a.logger.Info().Strs("modules", runs).Bool("dry_run", opts.DryRun).Msg("starting audit")

	err = a.queue.Transaction(func(q *queue.Queue) error {
		for _, name := range runs {
			groups, err := loadGroups(ctx, q)
			if err != nil {
				return err
			}
			if err := a.runModule(ctx, q, name, groups, opts, report); err != nil {
				return errors.Wrapf(err, "audit module %s", name)
			}
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	if opts.DryRun {
		a.logger.Warn().Msg("dry run set, status rewrites rolled back")
	}
	a.logger.Info().Interface("outcomes", report.Outcomes).Msg("audit complete")
	return report, nil
}

func (a *Auditor) runModule(ctx context.Context, q *queue.Queue, name string, groups []*Group, opts Options, r *Report) error {
	var m module
	switch name {
	case ModuleReconcile:
		m = a.reconcile
	case ModuleBlockage:
		m = a.blockage
	case ModuleError:
		m = a.errored
	}

	w := opts.Output
	if w == nil {
		w = os.Stdout
	}
	if opts.OutputDir != "" {
		f, err := os.Create(filepath.Join(opts.OutputDir, name))
		if err != nil {
			return errors.Wrap(err, "failed to open module output")
		}
		defer f.Close()
		w = f
	}
	a.logger.Debug().Str("module", name).Int("groups", len(groups)).Msg("running audit module")
	return m(ctx, q, groups, w, r)
}

func loadGroups(ctx context.Context, q *queue.Queue) ([]*Group, error) {
	var rows []store.Otx
	if err := q.DB().WithContext(ctx).Order("sender ASC, nonce ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load ledger rows")
	}
	var groups []*Group
	var cur *Group
	for _, row := range rows {
		if cur == nil || cur.Sender != row.Sender || cur.Nonce != row.Nonce {
			cur = &Group{Sender: row.Sender, Nonce: row.Nonce}
			groups = append(groups, cur)
		}
		cur.Rows = append(cur.Rows, row)
		cur.Aggregate |= row.Status
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Nonce < groups[j].Nonce })
	return groups, nil
}
