package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/consts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pseudomuto/schemalock/pkg/lock"

type (
	// Template runs units of work with exclusive access to a named resource.
	//
	// A Template is safe for concurrent use, but exclusion between goroutines comes from the
	// lock table, exactly as it does between processes. The only state a Template keeps is a
	// cache of resources whose lock rows are known to exist.
	//
	// Example usage:
	//
	//	tmpl := lock.New(lock.Config{Store: store})
	//
	//	err := tmpl.Execute(ctx, "schema_history", func(ctx context.Context) error {
	//		return applyMigrations(ctx)
	//	})
	Template struct {
		store        Store
		pollInterval time.Duration
		staleAfter   time.Duration
		acquireWait  time.Duration
		logger       *slog.Logger
		metrics      *Metrics
		tracer       trace.Tracer
		now          func() time.Time
		cache        *bootstrapCache
	}

	// Config contains configuration options for creating a new Template.
	Config struct {
		// Store provides access to the lock table (required)
		Store Store

		// PollInterval is the fixed wait between polls of a held lock (default 1s)
		PollInterval time.Duration

		// StaleAfter is the age after which a held lock is reclaimed (default 30s)
		StaleAfter time.Duration

		// AcquireTimeout bounds the wait for the lock. Zero waits until ctx ends. It does not
		// apply to the unit of work.
		AcquireTimeout time.Duration

		// Logger receives lifecycle logs (default slog.Default())
		Logger *slog.Logger

		// Metrics is optional
		Metrics *Metrics

		// Tracer starts the span around each Execute (default from the global tracer provider)
		Tracer trace.Tracer

		// Now stamps lock rows and measures staleness (default time.Now in UTC)
		Now func() time.Time
	}
)

// New creates a Template from cfg, filling unset options with their defaults.
func New(cfg Config) *Template {
	t := &Template{
		store:        cfg.Store,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		acquireWait:  cfg.AcquireTimeout,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		now:          cfg.Now,
		cache:        newBootstrapCache(),
	}

	if t.pollInterval <= 0 {
		t.pollInterval = consts.DefaultPollInterval
	}
	if t.staleAfter <= 0 {
		t.staleAfter = consts.DefaultStaleAfter
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.tracer == nil {
		t.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	if t.now == nil {
		t.now = func() time.Time { return time.Now().UTC() }
	}

	return t
}

// Execute runs fn while holding the lock for resource.
//
// The lock is always released once it has been taken, whether fn returns an error, succeeds or
// panics. Cancelling ctx aborts a pending wait for the lock; it does not prevent the release.
// Failures are returned as *Error.
func (t *Template) Execute(ctx context.Context, resource string, fn func(context.Context) error) error {
	_, err := Do(ctx, t, resource, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})

	return err
}

// Do runs fn while holding the lock for resource and returns its result.
//
// See Template.Execute for the locking guarantees.
func Do[T any](ctx context.Context, t *Template, resource string, fn func(context.Context) (T, error)) (result T, err error) {
	ctx, span := t.tracer.Start(ctx, "schemalock.Execute",
		trace.WithAttributes(attribute.String("schemalock.resource", resource)),
	)
	defer func() {
		if err != nil {
			t.metrics.failed(resource, PhaseOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := t.acquireWithin(ctx, resource); err != nil {
		return result, err
	}

	// The lock has to be given back even if fn panics.
	finished := false
	defer func() {
		if finished {
			return
		}

		if relErr := t.release(context.WithoutCancel(ctx), resource); relErr != nil {
			t.logger.Error("Failed to release lock after panic", "resource", resource, "err", relErr)
		}
	}()

	result, runErr := fn(ctx)
	finished = true

	relErr := t.release(context.WithoutCancel(ctx), resource)
	return result, t.outcome(resource, runErr, relErr)
}

// ForceRelease marks the resource's row as unlocked regardless of who holds it and reports
// whether it was locked.
//
// This is an operator tool for clearing a lock left behind by a crashed process before it
// goes stale. Calling it while a live holder is running breaks mutual exclusion.
func (t *Template) ForceRelease(ctx context.Context, resource string) (bool, error) {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return false, newError(PhaseRelease, resource, errors.Wrap(err, "failed to begin unlock transaction"))
	}

	committed := false
	defer func() {
		if !committed {
			t.rollback(ctx, tx, resource)
		}
	}()

	row, err := tx.Get(ctx, resource)
	if errors.Is(err, ErrNotFound) {
		t.cache.forget(resource)
		return false, newError(PhaseRelease, resource, ErrInconsistentLockState)
	}
	if err != nil {
		return false, newError(PhaseRelease, resource, errors.Wrap(err, "failed to read lock row"))
	}

	if row.Locked {
		if err := tx.Set(ctx, resource, false, t.now()); err != nil {
			return false, newError(PhaseRelease, resource, errors.Wrap(err, "failed to mark lock row as unlocked"))
		}
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		return false, newError(PhaseRelease, resource, errors.Wrap(err, "failed to commit unlock transaction"))
	}

	t.logger.Warn("Lock forcibly released", "resource", resource, "was_locked", row.Locked)
	return row.Locked, nil
}

// Forget drops the cached knowledge that the resource's lock row exists.
func (t *Template) Forget(resource string) {
	t.cache.forget(resource)
}

// Reset clears the bootstrap cache for every resource.
func (t *Template) Reset() {
	t.cache.reset()
}

func (t *Template) acquireWithin(ctx context.Context, resource string) error {
	if t.acquireWait <= 0 {
		return t.acquire(ctx, resource)
	}

	ctx, cancel := context.WithTimeout(ctx, t.acquireWait)
	defer cancel()

	return t.acquire(ctx, resource)
}

func (t *Template) acquire(ctx context.Context, resource string) error {
	start := time.Now()

	if err := t.bootstrap(ctx, resource); err != nil {
		return newError(PhaseBootstrap, resource, err)
	}

	for attempt := 1; ; attempt++ {
		acquired, reclaimed, err := t.poll(ctx, resource)
		switch {
		case errors.Is(err, ErrConflict):
			t.logger.Debug("Lock poll hit a transaction conflict, retrying",
				"resource", resource,
				"attempt", attempt,
				"err", err,
			)
		case err != nil:
			t.logger.Error("Unable to perform lock action", "resource", resource, "err", err)
			return newError(PhaseAcquire, resource, err)
		case acquired:
			event := "acquired"
			if reclaimed {
				event = "reclaimed"
			}

			trace.SpanFromContext(ctx).AddEvent(event, trace.WithAttributes(attribute.Int("attempts", attempt)))
			t.metrics.acquired(resource, reclaimed, time.Since(start))
			t.logger.Debug("Lock acquired", "resource", resource, "attempts", attempt, "reclaimed", reclaimed)
			return nil
		case attempt == 1:
			t.logger.Info("Another operation is in progress, waiting for it to complete", "resource", resource)
		}

		if err := t.wait(ctx); err != nil {
			return newError(PhaseAcquire, resource, errors.Wrap(err, "interrupted while waiting to get a lock"))
		}
	}
}

func (t *Template) bootstrap(ctx context.Context, resource string) error {
	if t.cache.known(resource) {
		return nil
	}

	err := t.store.Insert(ctx, resource, t.now())
	switch {
	case err == nil:
		t.logger.Info("Inserted lock row", "resource", resource)
	case errors.Is(err, ErrDuplicate):
		t.logger.Debug("Lock row already present", "resource", resource)
	default:
		return errors.Wrap(err, "could not initialize lock row")
	}

	t.cache.remember(resource)
	return nil
}

// poll runs one transaction of the acquire loop. It reports whether the lock is now held and
// whether it was taken over from a stale holder.
func (t *Template) poll(ctx context.Context, resource string) (bool, bool, error) {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return false, false, errors.Wrap(err, "failed to begin lock transaction")
	}

	committed := false
	defer func() {
		if !committed {
			t.rollback(ctx, tx, resource)
		}
	}()

	row, err := tx.Get(ctx, resource)
	if errors.Is(err, ErrNotFound) {
		t.cache.forget(resource)
		return false, false, ErrInconsistentLockState
	}
	if err != nil {
		return false, false, errors.Wrap(err, "failed to read lock row")
	}

	now := t.now()
	reclaimed := false

	if row.Locked {
		if !row.IsStale(now, t.staleAfter) {
			committed = true
			if err := tx.Commit(ctx); err != nil {
				return false, false, errors.Wrap(err, "failed to end lock poll transaction")
			}

			return false, false, nil
		}

		t.logger.Warn("Another operation has held the lock past the staleness threshold, continuing without waiting for it",
			"resource", resource,
			"age", row.Age(now),
			"stale_after", t.staleAfter,
		)
		reclaimed = true
	}

	if err := tx.Set(ctx, resource, true, now); err != nil {
		return false, false, errors.Wrap(err, "failed to mark lock row as locked")
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		return false, false, errors.Wrap(err, "failed to commit lock transaction")
	}

	return true, reclaimed, nil
}

func (t *Template) release(ctx context.Context, resource string) error {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin unlock transaction")
	}

	committed := false
	defer func() {
		if !committed {
			t.rollback(ctx, tx, resource)
		}
	}()

	row, err := tx.Get(ctx, resource)
	if errors.Is(err, ErrNotFound) {
		t.cache.forget(resource)
		return ErrInconsistentLockState
	}
	if err != nil {
		return errors.Wrap(err, "failed to read lock row")
	}

	if !row.Locked {
		t.metrics.released(resource)
		t.metrics.anomaly(resource)
		t.logger.Warn("Unlock failed but the operation may have succeeded, check it before retrying",
			"resource", resource,
			"last_updated", row.LastUpdated,
		)
		return ErrAlreadyUnlocked
	}

	if err := tx.Set(ctx, resource, false, t.now()); err != nil {
		return errors.Wrap(err, "failed to mark lock row as unlocked")
	}

	committed = true
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit unlock transaction")
	}

	t.metrics.released(resource)
	trace.SpanFromContext(ctx).AddEvent("released")
	return nil
}

// outcome applies first-failure-wins to the unit of work and release results.
func (t *Template) outcome(resource string, runErr, relErr error) error {
	if runErr == nil {
		if relErr == nil {
			return nil
		}

		return newError(PhaseRelease, resource, relErr)
	}

	err := newError(PhaseExecute, resource, runErr)
	if relErr != nil {
		t.logger.Warn("Release failed after the operation failed; reporting the operation failure",
			"resource", resource,
			"err", relErr,
		)
		err.Suppressed = relErr
	}

	return err
}

func (t *Template) wait(ctx context.Context) error {
	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Template) rollback(ctx context.Context, tx Tx, resource string) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		t.logger.Debug("Failed to roll back lock transaction", "resource", resource, "err", err)
	}
}
