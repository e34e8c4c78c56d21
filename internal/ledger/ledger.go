// Package ledger keeps the local record of submitted transactions and
// notifies observers of every accepted state transition.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OKaluzny/wallet-custody/internal/metrics"
	"github.com/OKaluzny/wallet-custody/internal/storage"
	"github.com/OKaluzny/wallet-custody/pkg/models"
)

// ErrUnknownTransaction is returned by Update for an id that was never registered.
var ErrUnknownTransaction = errors.New("unknown transaction")

// sealedVisibleFor is how long a sealed record stays the last visible one.
const sealedVisibleFor = 5 * time.Second

// Ledger owns every TransactionRecord. Records only move forward: an update
// is applied when the record is not terminal and the new phase ranks higher.
type Ledger struct {
	store   storage.RecordStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	records map[string]models.TransactionRecord

	// dispatchMu is taken before mu is released, so observers see
	// transitions in the order they were applied. Observers must not write
	// to the ledger.
	dispatchMu sync.Mutex
	observers  observers
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics records transitions and stale updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func New(store storage.RecordStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		logger:    slog.Default().With("component", "ledger"),
		now:       time.Now,
		records:   make(map[string]models.TransactionRecord),
		observers: observers{subs: make(map[Subscription]subscriber)},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register adds a freshly submitted transaction. Registering an id twice is
// a no-op. A record without a phase starts as Pending.
func (l *Ledger) Register(ctx context.Context, rec models.TransactionRecord) error {
	if rec.ID == "" {
		return errors.New("register: empty transaction id")
	}
	if rec.State == models.PhaseUnknown {
		rec.State = models.PhasePending
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = l.now()
	}
	rec.UpdatedAt = rec.SubmittedAt

	l.mu.Lock()
	if _, ok := l.records[rec.ID]; ok {
		l.mu.Unlock()
		l.logger.Debug("transaction already registered", "tx_id", rec.ID)
		return nil
	}
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("register %s: %w", rec.ID, err)
	}
	l.records[rec.ID] = rec
	l.dispatchMu.Lock()
	l.mu.Unlock()
	defer l.dispatchMu.Unlock()

	l.logger.Info("transaction registered", "tx_id", rec.ID, "category", rec.Category, "state", rec.State)
	l.metrics.Transition(rec.State.String())
	l.observers.dispatch(rec)
	return nil
}

// Update applies a chain status to a record. It reports whether the record
// changed. Stale or repeated statuses are discarded without error.
func (l *Ledger) Update(ctx context.Context, id string, status models.ChainStatus) (bool, error) {
	l.mu.Lock()
	cur, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return false, fmt.Errorf("update %s: %w", id, ErrUnknownTransaction)
	}

	if !accepts(cur.State, status.Phase) {
		l.mu.Unlock()
		if cur.State == status.Phase {
			l.logger.Debug("repeated status ignored", "tx_id", id, "state", cur.State)
		} else {
			l.logger.Warn("stale status discarded", "tx_id", id, "current", cur.State, "received", status.Phase)
			l.metrics.StaleUpdate()
		}
		return false, nil
	}

	next := cur
	next.State = status.Phase
	if status.ErrorMessage != "" {
		next.ErrorMessage = status.ErrorMessage
	}
	next.UpdatedAt = l.now()

	if err := l.store.SaveRecord(ctx, next); err != nil {
		l.mu.Unlock()
		return false, fmt.Errorf("update %s: %w", id, err)
	}
	l.records[id] = next
	l.dispatchMu.Lock()
	l.mu.Unlock()
	defer l.dispatchMu.Unlock()

	l.logger.Info("transaction updated", "tx_id", id, "from", cur.State, "to", next.State)
	l.metrics.Transition(next.State.String())
	l.observers.dispatch(next)
	return true, nil
}

// accepts implements the monotonicity rule.
func accepts(cur, next models.TransactionPhase) bool {
	if cur.IsTerminal() {
		return false
	}
	return next.Rank() > cur.Rank()
}

// Get returns a copy of the record.
func (l *Ledger) Get(id string) (models.TransactionRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// All returns every record, newest first.
func (l *Ledger) All() []models.TransactionRecord {
	return l.filter(func(models.TransactionRecord) bool { return true })
}

// Processing returns the records that are not terminal, newest first.
func (l *Ledger) Processing() []models.TransactionRecord {
	return l.filter(models.TransactionRecord.IsProcessing)
}

// LastVisible returns the newest record that is still processing or was
// sealed within the last few seconds.
func (l *Ledger) LastVisible() (models.TransactionRecord, bool) {
	now := l.now()
	recs := l.filter(func(r models.TransactionRecord) bool {
		if r.IsProcessing() {
			return true
		}
		return r.State == models.PhaseSealed && now.Sub(r.UpdatedAt) <= sealedVisibleFor
	})
	if len(recs) == 0 {
		return models.TransactionRecord{}, false
	}
	return recs[0], true
}

func (l *Ledger) filter(keep func(models.TransactionRecord) bool) []models.TransactionRecord {
	l.mu.RLock()
	out := make([]models.TransactionRecord, 0, len(l.records))
	for _, r := range l.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}

// Reload replaces the in-memory records with the persisted ones. Observers
// are not notified.
func (l *Ledger) Reload(ctx context.Context) error {
	recs, err := l.store.LoadRecords(ctx)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	m := make(map[string]models.TransactionRecord, len(recs))
	for _, r := range recs {
		m[r.ID] = r
	}

	l.mu.Lock()
	l.records = m
	l.mu.Unlock()

	l.logger.Info("ledger reloaded", "records", len(m))
	return nil
}

// Prune drops terminal records last updated more than retention ago. It
// returns the number of records removed.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := l.now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, r := range l.records {
		if r.IsProcessing() {
			continue
		}
		last := r.UpdatedAt
		if last.IsZero() {
			last = r.SubmittedAt
		}
		if !last.Before(cutoff) {
			continue
		}
		if err := l.store.DeleteRecord(ctx, id); err != nil {
			return n, fmt.Errorf("prune %s: %w", id, err)
		}
		delete(l.records, id)
		n++
	}
	if n > 0 {
		l.logger.Info("pruned transactions", "count", n, "retention", retention)
	}
	return n, nil
}

// RecordScript associates the script that produced a transaction with its id.
func (l *Ledger) RecordScript(ctx context.Context, id, script string) error {
	if err := l.store.SaveScript(ctx, id, script); err != nil {
		return fmt.Errorf("record script %s: %w", id, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok || rec.Script == script {
		return nil
	}
	rec.Script = script
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("record script %s: %w", id, err)
	}
	l.records[id] = rec
	return nil
}

// ScriptID returns the script recorded for id, or "".
func (l *Ledger) ScriptID(ctx context.Context, id string) (string, error) {
	if rec, ok := l.Get(id); ok && rec.Script != "" {
		return rec.Script, nil
	}
	return l.store.Script(ctx, id)
}

// Subscribe registers obs until ctx is done or Unsubscribe is called.
func (l *Ledger) Subscribe(ctx context.Context, obs Observer) Subscription {
	return l.observers.add(ctx, obs)
}

// Unsubscribe removes an observer. Unknown subscriptions are ignored.
func (l *Ledger) Unsubscribe(sub Subscription) {
	l.observers.remove(sub)
}
