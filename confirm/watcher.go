package confirm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxAttempts       = 30
	DefaultInterval          = 2 * time.Second
	DefaultSafetyMargin      = 3
	DefaultRebroadcastOffset = 5
	DefaultConcurrency       = 8
)

// ConfirmedTransaction is what a lookup returns once a transaction landed.
type ConfirmedTransaction struct {
	TransactionID string
	Tick          uint32
}

// TickInfo is the node's current position.
type TickInfo struct {
	Tick  uint32
	Epoch uint16
}

// TransactionLookup finds a transaction by id. It returns an error matching
// ErrNotFound while the transaction is pending.
type TransactionLookup interface {
	TransactionByID(ctx context.Context, id string) (*ConfirmedTransaction, error)
}

// TickSource reports the current tick.
type TickSource interface {
	CurrentTick(ctx context.Context) (*TickInfo, error)
}

// Recorder is told about every state change of an attempt.
type Recorder interface {
	Record(ctx context.Context, a *Attempt) error
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watcher polls for confirmations.
type Watcher struct {
	lookup            TransactionLookup
	ticks             TickSource
	maxAttempts       int
	interval          time.Duration
	safetyMargin      uint32
	rebroadcastOffset uint32
	concurrency       int
	sleep             Sleeper
	recorder          Recorder
	logger            *zap.Logger
	now               func() time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithMaxAttempts sets how many lookups Wait performs.
func WithMaxAttempts(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithInterval sets the pause between lookups.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.interval = d
		}
	}
}

// WithSafetyMargin sets how many ticks past the target must be observed
// before a rebroadcast is offered.
func WithSafetyMargin(ticks uint32) Option {
	return func(w *Watcher) { w.safetyMargin = ticks }
}

// WithRebroadcastOffset sets how far ahead a rebroadcast is scheduled.
func WithRebroadcastOffset(ticks uint32) Option {
	return func(w *Watcher) {
		if ticks > 0 {
			w.rebroadcastOffset = ticks
		}
	}
}

// WithConcurrency bounds the number of parallel watches in WatchAll.
func WithConcurrency(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithSleeper replaces the timed wait between attempts.
func WithSleeper(s Sleeper) Option {
	return func(w *Watcher) {
		if s != nil {
			w.sleep = s
		}
	}
}

// WithRecorder sets the transition hook.
func WithRecorder(r Recorder) Option {
	return func(w *Watcher) { w.recorder = r }
}

// WithLogger sets the Watcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher returns a Watcher with the default policy: 30 attempts, 2s apart,
// safety margin 3, rebroadcast offset 5.
func NewWatcher(lookup TransactionLookup, ticks TickSource, opts ...Option) *Watcher {
	w := &Watcher{
		lookup:            lookup,
		ticks:             ticks,
		maxAttempts:       DefaultMaxAttempts,
		interval:          DefaultInterval,
		safetyMargin:      DefaultSafetyMargin,
		rebroadcastOffset: DefaultRebroadcastOffset,
		concurrency:       DefaultConcurrency,
		sleep:             sleep,
		logger:            zap.NewNop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait polls for txID until it is confirmed, fails or runs out of attempts.
//
// The returned Attempt is always non-nil. On timeout the error matches
// ErrTimeout and on failure it is a *FailureError. If ctx ends first the
// attempt stays Waiting and ctx's error is returned.
func (w *Watcher) Wait(ctx context.Context, txID string, targetTick uint32) (*Attempt, error) {
	return w.run(ctx, &Attempt{TransactionID: txID, TargetTick: targetTick})
}

// Resume continues an unsettled attempt for another full round of lookups,
// keeping its observed ticks and attempt count.
func (w *Watcher) Resume(ctx context.Context, a *Attempt) (*Attempt, error) {
	if a == nil {
		return nil, errors.New("nil attempt")
	}
	if a.Status.Settled() {
		return a, errors.Errorf("attempt %s is already %s", a.TransactionID, a.Status)
	}
	a.Status = Waiting
	a.Error = ""
	return w.run(ctx, a)
}

func (w *Watcher) run(ctx context.Context, a *Attempt) (*Attempt, error) {
	log := w.logger.With(zap.String("tx_id", a.TransactionID), zap.Uint32("target_tick", a.TargetTick))
	a.Status = Waiting
	w.record(ctx, a)

	for n := 0; n < w.maxAttempts; n++ {
		if n > 0 {
			if err := w.sleep(ctx, w.interval); err != nil {
				log.Info("confirmation abandoned", zap.Int("attempts", a.Attempts))
				return a, err
			}
		}

		a.Attempts++
		tx, err := w.lookup.TransactionByID(ctx, a.TransactionID)
		switch {
		case err == nil:
			a.Status = Confirmed
			if tx != nil {
				a.ConfirmedTick = tx.Tick
			}
			w.record(ctx, a)
			log.Info("transaction confirmed", zap.Uint32("tick", a.ConfirmedTick), zap.Int("attempts", a.Attempts))
			return a, nil

		case errors.Is(err, ErrNotFound):
			w.observeTick(ctx, a, log)
			w.record(ctx, a)
			log.Debug("transaction pending",
				zap.Int("attempt", a.Attempts),
				zap.Uint32("last_observed_tick", a.LastObservedTick))

		case ctx.Err() != nil:
			return a, ctx.Err()

		default:
			a.Status = Failed
			a.Error = err.Error()
			w.record(ctx, a)
			log.Warn("confirmation failed", zap.Error(err))
			return a, &FailureError{TransactionID: a.TransactionID, Err: err}
		}
	}

	a.Status = TimedOut
	w.record(ctx, a)
	log.Warn("confirmation timed out",
		zap.Int("attempts", a.Attempts),
		zap.Uint32("last_observed_tick", a.LastObservedTick),
		zap.Bool("rebroadcast_eligible", w.CanRebroadcast(a)))
	return a, errors.Wrapf(ErrTimeout, "%s after %d attempts", a.TransactionID, a.Attempts)
}

func (w *Watcher) observeTick(ctx context.Context, a *Attempt, log *zap.Logger) {
	info, err := w.ticks.CurrentTick(ctx)
	if err != nil {
		log.Warn("failed to read current tick", zap.Error(err))
		return
	}
	if info == nil {
		return
	}
	if a.InitialTick == 0 {
		a.InitialTick = info.Tick
	}
	a.LastObservedTick = info.Tick
}

func (w *Watcher) record(ctx context.Context, a *Attempt) {
	a.UpdatedAt = w.now().UTC()
	if w.recorder == nil {
		return
	}
	if err := w.recorder.Record(ctx, a); err != nil {
		w.logger.Warn("failed to record attempt", zap.String("tx_id", a.TransactionID), zap.Error(err))
	}
}

// CanRebroadcast reports whether a may be rebroadcast under the Watcher's
// safety margin.
func (w *Watcher) CanRebroadcast(a *Attempt) bool {
	return RebroadcastEligible(a, w.safetyMargin)
}

// RebroadcastEligible reports whether a timed out and the network has moved
// at least margin ticks past its target.
func RebroadcastEligible(a *Attempt, margin uint32) bool {
	if a == nil || a.Status != TimedOut {
		return false
	}
	if a.LastObservedTick < a.TargetTick {
		return false
	}
	return a.LastObservedTick-a.TargetTick >= margin
}

// NextTargetTick is the tick a rebroadcast should target.
func NextTargetTick(current, lastObserved, offset uint32) uint32 {
	return max(current, lastObserved) + offset
}

// Pending names a transaction for WatchAll.
type Pending struct {
	TransactionID string
	TargetTick    uint32
}

// WatchAll waits for every pending transaction concurrently. Each result is
// independent; per-transaction timeouts and failures are reported in the
// returned attempts, and only ctx's error is returned.
func (w *Watcher) WatchAll(ctx context.Context, pending []Pending) ([]*Attempt, error) {
	out := make([]*Attempt, len(pending))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, p := range pending {
		i, p := i, p
		g.Go(func() error {
			a, err := w.Wait(ctx, p.TransactionID, p.TargetTick)
			out[i] = a
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}

	return out, g.Wait()
}
