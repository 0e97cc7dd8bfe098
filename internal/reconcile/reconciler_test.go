package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitacall/teleconsult/internal/config"
	"github.com/vitacall/teleconsult/internal/consult"
	redisclient "github.com/vitacall/teleconsult/internal/redis"
)

var testOpts = Options{
	SessionInterval:    5 * time.Millisecond,
	InvitationInterval: 5 * time.Millisecond,
	ActiveInterval:     10 * time.Millisecond,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedReader serves a mutable session snapshot.
type scriptedReader struct {
	mu   sync.Mutex
	sess consult.CallSession
	inv  consult.PendingInvitation
}

func (r *scriptedReader) set(mutate func(*consult.CallSession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.sess)
}

func (r *scriptedReader) setInvitation(inv consult.PendingInvitation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inv = inv
}

func (r *scriptedReader) CallSession(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.sess
	return &snapshot, nil
}

func (r *scriptedReader) PendingInvitation(ctx context.Context) (*consult.PendingInvitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.inv
	return &snapshot, nil
}

func TestWatchSessionEmitsTransitionsAndStopsOnTerminal(t *testing.T) {
	reader := &scriptedReader{
		sess: consult.CallSession{ID: uuid.New(), Status: consult.SessionInvited},
	}
	rec := New(reader, discardLogger(), testOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates := rec.WatchSession(ctx, reader.sess.ID)

	first := <-updates
	assert.Equal(t, consult.SessionInvited, first.Status)

	reader.set(func(s *consult.CallSession) { s.Status = consult.SessionConfirmed })
	require.Equal(t, consult.SessionConfirmed, (<-updates).Status)

	reader.set(func(s *consult.CallSession) { s.Status = consult.SessionEnded })
	require.Equal(t, consult.SessionEnded, (<-updates).Status)

	// Terminal status ends the watch.
	_, open := <-updates
	assert.False(t, open)
}

func TestWatchSessionEmitsPeerAddressChanges(t *testing.T) {
	reader := &scriptedReader{
		sess: consult.CallSession{ID: uuid.New(), Status: consult.SessionConfirmed},
	}
	rec := New(reader, discardLogger(), testOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates := rec.WatchSession(ctx, reader.sess.ID)
	<-updates // initial snapshot

	addr := "peer://doctor-1"
	reader.set(func(s *consult.CallSession) { s.DoctorPeerAddress = &addr })

	got := <-updates
	require.NotNil(t, got.DoctorPeerAddress)
	assert.Equal(t, addr, *got.DoctorPeerAddress)
}

func TestWatchSessionStopsOnCancel(t *testing.T) {
	reader := &scriptedReader{
		sess: consult.CallSession{ID: uuid.New(), Status: consult.SessionActive},
	}
	rec := New(reader, discardLogger(), testOpts)

	ctx, cancel := context.WithCancel(context.Background())
	updates := rec.WatchSession(ctx, reader.sess.ID)
	<-updates

	cancel()

	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on cancellation")
	}
}

func TestWatchPendingInvitationEmitsAppearanceAndClearance(t *testing.T) {
	reader := &scriptedReader{}
	rec := New(reader, discardLogger(), testOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates := rec.WatchPendingInvitation(ctx)

	first := <-updates
	assert.False(t, first.HasInvitation)

	inv := consult.PendingInvitation{
		HasInvitation: true,
		CallSessionID: uuid.New(),
		ScheduleID:    uuid.New(),
		DoctorID:      uuid.New(),
	}
	reader.setInvitation(inv)
	assert.Equal(t, inv, <-updates)

	reader.setInvitation(consult.PendingInvitation{})
	assert.False(t, (<-updates).HasInvitation)
}

// ---- poll-only end-to-end ----

type noopLocker struct{}

func (noopLocker) WithPairLock(ctx context.Context, scheduleID, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ redisclient.Locker = noopLocker{}

// serviceReader binds the service read surface to one actor, the way the
// HTTP client binds a bearer token.
type serviceReader struct {
	svc     *consult.Service
	actorID uuid.UUID
}

func (r serviceReader) CallSession(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error) {
	return r.svc.GetCallSession(ctx, r.actorID, sessionID)
}

func (r serviceReader) PendingInvitation(ctx context.Context) (*consult.PendingInvitation, error) {
	return r.svc.PendingInvitation(ctx, r.actorID)
}

// TestPollOnlyConsultationFlow runs a full consultation with push fan-out
// disabled entirely. Both parties learn every transition exclusively
// through reconciler polls.
func TestPollOnlyConsultationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	repo := consult.NewMemoryRepository()
	cfg := config.Config{InvitationTTL: time.Minute, InvitationDisplayTTL: 30 * time.Second, PeerReconnectLimit: 3}
	svc := consult.NewService(repo, noopLocker{}, nil, discardLogger(), cfg)

	doctorID := uuid.New()
	patientID := uuid.New()

	sched, err := svc.CreateSchedule(ctx, doctorID, "2026-03-10", "09:00", "12:00")
	require.NoError(t, err)
	_, err = svc.StartPractice(ctx, doctorID, sched.ID)
	require.NoError(t, err)
	_, err = svc.JoinQueue(ctx, patientID, sched.ID)
	require.NoError(t, err)
	_, err = svc.ToggleReady(ctx, patientID, sched.ID, true)
	require.NoError(t, err)

	patientRec := New(serviceReader{svc, patientID}, discardLogger(), testOpts)
	invitations := patientRec.WatchPendingInvitation(ctx)

	// First poll: nothing pending.
	require.False(t, (<-invitations).HasInvitation)

	sess, err := svc.Invite(ctx, doctorID, sched.ID, patientID)
	require.NoError(t, err)

	// The patient discovers the invitation by polling alone.
	inv := <-invitations
	require.True(t, inv.HasInvitation)
	require.Equal(t, sess.ID, inv.CallSessionID)

	_, err = svc.Confirm(ctx, patientID, inv.CallSessionID)
	require.NoError(t, err)

	// The doctor observes CONFIRMED, then ACTIVE, then ENDED by polling.
	doctorRec := New(serviceReader{svc, doctorID}, discardLogger(), testOpts)
	sessions := doctorRec.WatchSession(ctx, sess.ID)
	require.Equal(t, consult.SessionConfirmed, (<-sessions).Status)

	_, err = svc.SetPeerAddress(ctx, doctorID, sess.ID, "peer://d")
	require.NoError(t, err)
	_, err = svc.SetPeerAddress(ctx, patientID, sess.ID, "peer://p")
	require.NoError(t, err)
	_, err = svc.Activate(ctx, patientID, sess.ID)
	require.NoError(t, err)

	for update := range sessions {
		if update.Status == consult.SessionActive {
			break
		}
	}

	_, err = svc.End(ctx, doctorID, sess.ID)
	require.NoError(t, err)

	sawEnded := false
	for update := range sessions {
		if update.Status == consult.SessionEnded {
			sawEnded = true
		}
	}
	assert.True(t, sawEnded)

	// The invitation watch reports the slot cleared.
	cleared := <-invitations
	assert.False(t, cleared.HasInvitation)
}
