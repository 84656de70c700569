// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"

	"smart-release/internal/registry"
)

type (
	// Clock is the time source of retry delays and visibility polling.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	// RetryPolicy bounds upload attempts.
	RetryPolicy struct {
		// MaxAttempts is the total number of uploads tried, at least 1.
		MaxAttempts  int
		InitialDelay time.Duration
		MaxDelay     time.Duration
		Multiplier   float64
	}

	// VisibilityPolicy bounds the wait for an uploaded version to be indexed.
	VisibilityPolicy struct {
		InitialInterval time.Duration
		MaxInterval     time.Duration
		// MaxWait is the total time allowed before the package fails with a
		// VisibilityTimeoutError.
		MaxWait time.Duration
	}

	systemClock struct{}
)

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// schedule returns a deterministic exponential delay sequence.
func schedule(clock Clock, initial, maxInterval time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	if multiplier > 1 {
		b.Multiplier = multiplier
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Clock = clock
	b.Reset()
	return b
}

// upload submits the artifact until it succeeds, the registry reports the
// version as already published, the credentials are rejected, the artifact
// cannot be produced or the attempts run out. ctx must not be cancelled by the caller's cancellation: an upload
// in flight runs to a terminal state.
func (e *Executor) upload(ctx context.Context, a registry.Artifact, out *Outcome) error {
	policy := e.settings.Retry
	b := schedule(e.clock, policy.InitialDelay, policy.MaxDelay, policy.Multiplier)

	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		err := e.registry.Publish(ctx, a)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, registry.ErrAlreadyPublished):
			e.logger.Info("version already in registry", "package", a.Name, "version", a.Version)
			return nil
		case errors.Is(err, registry.ErrUnauthorized), errors.Is(err, registry.ErrArtifact), attempt >= max(policy.MaxAttempts, 1):
			return &PublishError{Package: a.Name, Version: a.Version, Attempts: attempt, Err: err}
		}

		delay := b.NextBackOff()
		e.logger.Warn("upload failed, retrying", "package", a.Name, "attempt", attempt, "delay", delay, "error", err)
		<-e.clock.After(delay)
	}
}

// awaitVisibility polls the index at increasing intervals until the version
// shows up or MaxWait elapses. Query errors count as "not visible yet".
func (e *Executor) awaitVisibility(ctx context.Context, name string, v *semver.Version) error {
	policy := e.settings.Visibility
	b := schedule(e.clock, policy.InitialInterval, policy.MaxInterval, 2)
	start := e.clock.Now()

	var lastErr error
	for {
		visible, err := e.registry.IsVisible(ctx, name, v)
		if err == nil && visible {
			return nil
		}
		if err != nil {
			lastErr = err
			e.logger.Debug("index query failed", "package", name, "error", err)
		}

		waited := e.clock.Now().Sub(start)
		if waited >= policy.MaxWait {
			return &VisibilityTimeoutError{Package: name, Version: v, Waited: waited, LastErr: lastErr}
		}
		delay := min(b.NextBackOff(), policy.MaxWait-waited)
		e.logger.Debug("waiting for index", "package", name, "version", v, "delay", delay)
		<-e.clock.After(delay)
	}
}
