// Package watcher follows submitted transactions on chain until they reach a
// terminal phase.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/OKaluzny/wallet-custody/internal/ledger"
	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

var (
	errCancelled = errors.New("watch cancelled")
	errShutdown  = errors.New("watcher shut down")
)

// StatusFetcher abstracts the chain status RPC.
type StatusFetcher interface {
	TransactionStatus(ctx context.Context, id string) (models.ChainStatus, error)
}

// Ledger is the part of the transaction ledger the watcher drives.
type Ledger interface {
	Get(id string) (models.TransactionRecord, bool)
	Update(ctx context.Context, id string, status models.ChainStatus) (bool, error)
	Processing() []models.TransactionRecord
}

// Config holds the polling budgets.
type Config struct {
	PollInterval time.Duration
	// MaxPolls and MaxWatch bound a single watch; zero means unbounded.
	MaxPolls int
	MaxWatch time.Duration
	// RPCTimeout bounds one status call.
	RPCTimeout time.Duration
	// RetryBudget is the number of consecutive failed polls tolerated
	// before the transaction is marked Error.
	RetryBudget    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   1 * time.Second,
		MaxPolls:       300,
		MaxWatch:       10 * time.Minute,
		RPCTimeout:     10 * time.Second,
		RetryBudget:    10,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

// watch is one poll loop. commit is held while the loop writes to the
// ledger, so a cancelled loop never writes after Cancel returns.
type watch struct {
	ctx    context.Context
	cancel context.CancelFunc
	commit sync.Mutex
}

// Watcher runs at most one poll loop per transaction id. Callers watching an
// id that is already being polled attach to the running loop.
type Watcher struct {
	ledger  Ledger
	fetcher StatusFetcher
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	group singleflight.Group

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]*watch
	closed  bool
}

func New(l Ledger, fetcher StatusFetcher, cfg Config, m *metrics.Metrics) *Watcher {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = def.RPCTimeout
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = def.RetryBudget
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = cfg.PollInterval
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Watcher{
		ledger:  l,
		fetcher: fetcher,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "watcher"),
		ctx:     ctx,
		stop:    stop,
		running: make(map[string]*watch),
	}
}

// Watch follows id until it is terminal and then calls onTerminal with the
// final record. onTerminal runs at most once per call and never runs if the
// watch is cancelled or the watcher shut down. A nil onTerminal is allowed.
func (w *Watcher) Watch(id string, onTerminal func(models.TransactionRecord)) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.logger.Warn("watch after shutdown ignored", "tx_id", id)
		return
	}
	w.wg.Add(1)

	if rec, ok := w.ledger.Get(id); ok && rec.State.IsTerminal() {
		w.mu.Unlock()
		go func() {
			defer w.wg.Done()
			if onTerminal != nil {
				onTerminal(rec)
			}
		}()
		return
	}

	// The loop is registered before Watch returns so Cancel always finds it.
	wt, ok := w.running[id]
	if !ok {
		ctx, cancel := context.WithCancel(w.ctx)
		wt = &watch{ctx: ctx, cancel: cancel}
		w.running[id] = wt
	}
	ch := w.group.DoChan(id, func() (interface{}, error) {
		rec, err := w.run(id, wt)
		return rec, err
	})
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		res := <-ch
		// Drops an entry made while a finished loop was still handing out
		// its result.
		w.untrack(id, wt)
		if res.Err != nil {
			if !errors.Is(res.Err, errCancelled) && !errors.Is(res.Err, errShutdown) {
				w.logger.Error("watch ended without terminal state", "tx_id", id, "error", res.Err)
			}
			return
		}
		if res.Shared {
			w.logger.Debug("attached to running watch", "tx_id", id)
		}
		if onTerminal != nil {
			onTerminal(res.Val.(models.TransactionRecord))
		}
	}()
}

// Cancel stops the poll loop for id. The ledger is left untouched and no
// callback for that loop runs. It reports whether a loop was running.
// Cancel waits for a ledger write the loop has already started.
func (w *Watcher) Cancel(id string) bool {
	w.mu.Lock()
	wt, ok := w.running[id]
	if ok {
		delete(w.running, id)
		// A later Watch must start a new loop instead of joining the dying one.
		w.group.Forget(id)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}

	wt.commit.Lock()
	wt.cancel()
	wt.commit.Unlock()
	w.logger.Info("watch cancelled", "tx_id", id)
	return true
}

// Resume starts a watch for every record the ledger still considers
// processing. It returns the number of watches started.
func (w *Watcher) Resume(ctx context.Context) int {
	n := 0
	for _, rec := range w.ledger.Processing() {
		if ctx.Err() != nil {
			break
		}
		w.Watch(rec.ID, nil)
		n++
	}
	if n > 0 {
		w.logger.Info("resumed watches", "count", n)
	}
	return n
}

// Active returns the number of running poll loops.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.running)
}

// Shutdown stops every loop and waits for them to exit. No callbacks run
// after Shutdown returns.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.stop()
	w.wg.Wait()
	w.logger.Info("watcher stopped")
}

func (w *Watcher) untrack(id string, wt *watch) {
	w.mu.Lock()
	if w.running[id] == wt {
		delete(w.running, id)
	}
	w.mu.Unlock()
	wt.cancel()
}

func (w *Watcher) run(id string, wt *watch) (models.TransactionRecord, error) {
	defer w.untrack(id, wt)

	w.metrics.WatchStarted()
	defer w.metrics.WatchStopped()

	w.logger.Info("watching transaction",
		"tx_id", id,
		"poll_interval", w.cfg.PollInterval,
		"max_polls", w.cfg.MaxPolls,
	)
	return w.pollLoop(wt, id)
}

func (w *Watcher) pollLoop(wt *watch, id string) (models.TransactionRecord, error) {
	ctx := wt.ctx
	next := time.NewTimer(w.cfg.PollInterval)
	defer next.Stop()

	var deadline <-chan time.Time
	if w.cfg.MaxWatch > 0 {
		t := time.NewTimer(w.cfg.MaxWatch)
		defer t.Stop()
		deadline = t.C
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.BackoffInitial
	bo.MaxInterval = w.cfg.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	polls, failures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return models.TransactionRecord{}, w.stopReason()
		case <-deadline:
			return w.finish(wt, id, models.PhaseExpired,
				fmt.Sprintf("not sealed within %s", w.cfg.MaxWatch))
		case <-next.C:
		}

		polls++
		status, err := w.fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return models.TransactionRecord{}, w.stopReason()
			}
			failures++
			w.metrics.ObservePoll("error")
			if failures >= w.cfg.RetryBudget {
				return w.finish(wt, id, models.PhaseError,
					fmt.Sprintf("status unavailable after %d attempts: %v", failures, err))
			}
			wait := bo.NextBackOff()
			w.logger.Warn("status poll failed",
				"tx_id", id,
				"attempt", failures,
				"retry_budget", w.cfg.RetryBudget,
				"retry_in", wait,
				"error", err,
			)
			if w.pollsExhausted(polls) {
				return w.finish(wt, id, models.PhaseExpired,
					fmt.Sprintf("not sealed after %d polls", polls))
			}
			next.Reset(wait)
			continue
		}
		failures = 0
		bo.Reset()

		if err := w.commit(wt, id, status); err != nil {
			if errors.Is(err, errCancelled) || errors.Is(err, errShutdown) ||
				errors.Is(err, ledger.ErrUnknownTransaction) {
				return models.TransactionRecord{}, err
			}
			w.logger.Error("ledger update failed", "tx_id", id, "error", err)
		}

		rec, ok := w.ledger.Get(id)
		if !ok {
			return models.TransactionRecord{}, fmt.Errorf("%s: %w", id, ledger.ErrUnknownTransaction)
		}
		if rec.State.IsTerminal() {
			w.metrics.ObservePoll("terminal")
			w.logger.Info("transaction reached terminal state", "tx_id", id, "state", rec.State, "polls", polls)
			return rec, nil
		}
		w.metrics.ObservePoll("ok")

		if w.pollsExhausted(polls) {
			return w.finish(wt, id, models.PhaseExpired,
				fmt.Sprintf("not sealed after %d polls", polls))
		}
		next.Reset(w.cfg.PollInterval)
	}
}

func (w *Watcher) pollsExhausted(polls int) bool {
	return w.cfg.MaxPolls > 0 && polls >= w.cfg.MaxPolls
}

func (w *Watcher) fetch(ctx context.Context, id string) (models.ChainStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.RPCTimeout)
	defer cancel()
	return w.fetcher.TransactionStatus(ctx, id)
}

// commit writes status to the ledger unless the loop was stopped, in which
// case it returns the stop reason and leaves the ledger alone.
func (w *Watcher) commit(wt *watch, id string, status models.ChainStatus) error {
	wt.commit.Lock()
	defer wt.commit.Unlock()
	if wt.ctx.Err() != nil {
		return w.stopReason()
	}
	_, err := w.ledger.Update(context.WithoutCancel(wt.ctx), id, status)
	return err
}

// finish moves the record to a local terminal phase. If the record already
// became terminal the ledger keeps it as is.
func (w *Watcher) finish(wt *watch, id string, phase models.TransactionPhase, msg string) (models.TransactionRecord, error) {
	w.logger.Warn("giving up on transaction", "tx_id", id, "state", phase, "reason", msg)
	if err := w.commit(wt, id, models.ChainStatus{Phase: phase, ErrorMessage: msg}); err != nil {
		return models.TransactionRecord{}, err
	}
	w.metrics.ObservePoll("terminal")
	rec, ok := w.ledger.Get(id)
	if !ok {
		return models.TransactionRecord{}, fmt.Errorf("%s: %w", id, ledger.ErrUnknownTransaction)
	}
	return rec, nil
}

func (w *Watcher) stopReason() error {
	if w.ctx.Err() != nil {
		return errShutdown
	}
	return errCancelled
}
