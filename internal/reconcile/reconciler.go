// Package reconcile implements the polling backstop for state delivery.
// Push notifications are best effort and may be dropped; the reconciler
// periodically reads the authoritative snapshot so a client converges on
// true state even with push fully unavailable.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

// SessionReader is the authoritative read surface the reconciler polls.
// It is implemented by the HTTP client and, in tests, directly by the
// service.
type SessionReader interface {
	CallSession(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error)
	PendingInvitation(ctx context.Context) (*consult.PendingInvitation, error)
}

// Options are the polling cadences. A session in CONFIRMED is polled at
// SessionInterval; once ACTIVE the cadence relaxes to ActiveInterval.
type Options struct {
	SessionInterval    time.Duration
	InvitationInterval time.Duration
	ActiveInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionInterval <= 0 {
		o.SessionInterval = 2 * time.Second
	}
	if o.InvitationInterval <= 0 {
		o.InvitationInterval = 5 * time.Second
	}
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = 10 * time.Second
	}
	return o
}

type Reconciler struct {
	reader SessionReader
	logger *slog.Logger
	opts   Options
}

func New(reader SessionReader, logger *slog.Logger, opts Options) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		reader: reader,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

// WatchSession polls one call session until it reaches a terminal status
// or ctx is cancelled, then closes the returned channel. The channel
// carries snapshots with single-slot last-read-wins semantics: a slow
// consumer only ever misses intermediate snapshots, never the newest one.
func (r *Reconciler) WatchSession(ctx context.Context, sessionID uuid.UUID) <-chan consult.CallSession {
	out := make(chan consult.CallSession, 1)

	go func() {
		defer close(out)

		var last *consult.CallSession
		interval := r.opts.SessionInterval
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			sess, err := r.reader.CallSession(ctx, sessionID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Transient read failure; the old snapshot stands until the
				// next poll succeeds.
				r.logger.Warn("session poll failed", "session_id", sessionID, "error", err)
				timer.Reset(interval)
				continue
			}

			if changed(last, sess) {
				push(out, *sess)
				last = sess
			}
			if sess.Status.Terminal() {
				return
			}

			interval = r.opts.SessionInterval
			if sess.Status == consult.SessionActive {
				interval = r.opts.ActiveInterval
			}
			timer.Reset(interval)
		}
	}()

	return out
}

// WatchPendingInvitation polls the patient's pending-invitation read until
// ctx is cancelled. Every transition between "no invitation" and a concrete
// invitation (or between two different invitations) is emitted.
func (r *Reconciler) WatchPendingInvitation(ctx context.Context) <-chan consult.PendingInvitation {
	out := make(chan consult.PendingInvitation, 1)

	go func() {
		defer close(out)

		var last *consult.PendingInvitation
		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			inv, err := r.reader.PendingInvitation(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("invitation poll failed", "error", err)
				timer.Reset(r.opts.InvitationInterval)
				continue
			}

			if last == nil || *last != *inv {
				pushInvitation(out, *inv)
				last = inv
			}
			timer.Reset(r.opts.InvitationInterval)
		}
	}()

	return out
}

func changed(last, cur *consult.CallSession) bool {
	if last == nil {
		return true
	}
	if last.Status != cur.Status {
		return true
	}
	return !strPtrEqual(last.DoctorPeerAddress, cur.DoctorPeerAddress) ||
		!strPtrEqual(last.PatientPeerAddress, cur.PatientPeerAddress)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// push replaces any unconsumed snapshot with the newer one.
func push(out chan consult.CallSession, sess consult.CallSession) {
	for {
		select {
		case out <- sess:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

func pushInvitation(out chan consult.PendingInvitation, inv consult.PendingInvitation) {
	for {
		select {
		case out <- inv:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}
