package source

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalsink/vitalsink/internal/apperror"
	"github.com/vitalsink/vitalsink/internal/logger"
	"github.com/vitalsink/vitalsink/internal/metrics"
)

// Caller is the raw transport the guard drives: one authentication call and
// one fetch per family and day.
type Caller interface {
	Login(ctx context.Context) error
	Call(ctx context.Context, family Family, day time.Time) (any, error)
}

// RetryPolicy mirrors the source's observed tolerances. The defaults come
// from production experience with the upstream API: sessions stay valid for
// about half an hour, and a 429 means back off for over an hour.
type RetryPolicy struct {
	SessionMaxAge    time.Duration
	Cooldown         time.Duration
	MaxLoginAttempts int
	LoginDelay       time.Duration
	CallDelay        time.Duration
	RateLimitWait    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		SessionMaxAge:    30 * time.Minute,
		Cooldown:         3700 * time.Second,
		MaxLoginAttempts: 2,
		LoginDelay:       time.Minute,
		CallDelay:        2 * time.Second,
		RateLimitWait:    time.Minute,
	}
}

// Guard wraps a Caller with the source's etiquette: session reuse within
// SessionMaxAge, bounded login retries, a pause before every call, one
// retry after a mid-call rate limit, and a shared cooldown that
// short-circuits every fetch until it expires.
type Guard struct {
	caller Caller
	state  StateStore
	policy RetryPolicy

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

var _ Client = (*Guard)(nil)

func NewGuard(caller Caller, state StateStore, policy RetryPolicy) *Guard {
	if policy.MaxLoginAttempts < 1 {
		policy.MaxLoginAttempts = 1
	}
	return &Guard{
		caller: caller,
		state:  state,
		policy: policy,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func (g *Guard) Families() []Family {
	return Families()
}

// Fetch returns the family's payload for the given day. During a cooldown it
// fails fast with ErrSourceRateLimited so the cycle can skip the remaining
// calls instead of queueing behind a blocked source.
func (g *Guard) Fetch(ctx context.Context, family Family, day time.Time) (any, error) {
	st, err := g.state.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading source state: %w", err)
	}
	if st.RateLimited(g.now()) {
		metrics.RecordFetch(family.String(), "rate_limited", 0)
		return nil, fmt.Errorf("cooldown active until %s: %w",
			st.RateLimitedUntil.Format(time.RFC3339), apperror.ErrSourceRateLimited)
	}

	if err := g.ensureSession(ctx, st); err != nil {
		return nil, err
	}

	if err := g.sleep(ctx, g.policy.CallDelay); err != nil {
		return nil, err
	}

	start := g.now()
	payload, err := g.call(ctx, family, day)
	elapsed := g.now().Sub(start).Seconds()

	switch {
	case err != nil:
		metrics.RecordFetch(family.String(), "error", elapsed)
		return nil, err
	case payload == nil:
		metrics.RecordFetch(family.String(), "no_data", elapsed)
		return nil, nil
	default:
		metrics.RecordFetch(family.String(), "ok", elapsed)
		return payload, nil
	}
}

// ensureSession reuses a fresh session or logs in with bounded retries. A
// rate limit during login starts the cooldown immediately.
func (g *Guard) ensureSession(ctx context.Context, st State) error {
	if st.SessionFresh(g.now(), g.policy.SessionMaxAge) {
		return nil
	}

	log := logger.FromContext(ctx)
	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxLoginAttempts; attempt++ {
		err := g.caller.Login(ctx)
		if err == nil {
			metrics.RecordLogin("success")
			if err := g.state.MarkSession(ctx, g.now()); err != nil {
				log.Warn("failed to record session start", "error", err)
			}
			return nil
		}

		if apperror.Is(err, apperror.ErrSourceRateLimited) {
			metrics.RecordLogin("rate_limited")
			metrics.RecordRateLimited()
			g.startCooldown(ctx)
			return fmt.Errorf("login rate limited: %w", err)
		}

		metrics.RecordLogin("failed")
		lastErr = err
		log.Warn("login attempt failed", "attempt", attempt, "error", err)
		if attempt < g.policy.MaxLoginAttempts {
			if err := g.sleep(ctx, time.Duration(attempt)*g.policy.LoginDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("login failed after %d attempts: %w", g.policy.MaxLoginAttempts, lastErr)
}

// call runs one fetch, retrying once after a rate-limit pause and once after
// a forced re-login.
func (g *Guard) call(ctx context.Context, family Family, day time.Time) (any, error) {
	log := logger.FromContext(ctx)

	payload, err := g.caller.Call(ctx, family, day)
	if err == nil {
		return payload, nil
	}

	if apperror.Is(err, apperror.ErrSourceRateLimited) {
		metrics.RecordRateLimited()
		log.Warn("rate limited mid-call, pausing before retry",
			"family", family.String(), "wait", g.policy.RateLimitWait.String())
		if serr := g.sleep(ctx, g.policy.RateLimitWait); serr != nil {
			return nil, serr
		}
		payload, err = g.caller.Call(ctx, family, day)
		if err == nil {
			return payload, nil
		}
		if apperror.Is(err, apperror.ErrSourceRateLimited) {
			metrics.RecordRateLimited()
			g.startCooldown(ctx)
		}
		return nil, fmt.Errorf("fetching %s: %w", family, err)
	}

	if apperror.Is(err, apperror.ErrSourceAuth) {
		log.Warn("session rejected, forcing re-login", "family", family.String())
		if cerr := g.state.ClearSession(ctx); cerr != nil {
			log.Warn("failed to clear session state", "error", cerr)
		}
		if lerr := g.ensureSession(ctx, State{}); lerr != nil {
			return nil, lerr
		}
		payload, err = g.caller.Call(ctx, family, day)
		if err != nil {
			return nil, fmt.Errorf("fetching %s after re-login: %w", family, err)
		}
		return payload, nil
	}

	return nil, fmt.Errorf("fetching %s: %w", family, err)
}

func (g *Guard) startCooldown(ctx context.Context) {
	until := g.now().Add(g.policy.Cooldown)
	if err := g.state.MarkRateLimited(ctx, until); err != nil {
		logger.FromContext(ctx).Warn("failed to record cooldown", "error", err)
	}
	logger.FromContext(ctx).Warn("source cooldown started",
		"until", until.Format(time.RFC3339))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
