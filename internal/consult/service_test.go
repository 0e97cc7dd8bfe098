package consult

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
	"github.com/vitacall/teleconsult/internal/fanout"
)

// inlineLocker runs the critical section under a process-local mutex,
// standing in for the Redis pair lock.
type inlineLocker struct {
	mu sync.Mutex
}

func (l *inlineLocker) WithPairLock(ctx context.Context, scheduleID, patientID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []fanout.Message
}

func (p *capturePublisher) Publish(topic, event string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fanout.Message{Topic: topic, Event: event, Payload: payload})
}

func (p *capturePublisher) has(topic, event string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.events {
		if m.Topic == topic && m.Event == event {
			return true
		}
	}
	return false
}

func testConfig() config.Config {
	return config.Config{
		InvitationTTL:        60 * time.Second,
		InvitationDisplayTTL: 30 * time.Second,
		PeerReconnectLimit:   3,
	}
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	pub     *capturePublisher
	clock   *fakeClock
	doctor  uuid.UUID
	patient uuid.UUID
	sched   *Schedule
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:    NewMemoryRepository(),
		pub:     &capturePublisher{},
		clock:   &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		doctor:  uuid.New(),
		patient: uuid.New(),
	}
	f.svc = NewService(f.repo, &inlineLocker{}, f.pub, slog.New(slog.NewTextHandler(io.Discard, nil)), testConfig())
	f.svc.now = f.clock.Now

	sched, err := f.svc.CreateSchedule(context.Background(), f.doctor, "2026-03-10", "09:00", "12:00")
	require.NoError(t, err)
	f.sched = sched
	return f
}

// readyPatient walks a patient to READY on the fixture schedule.
func (f *fixture) readyPatient(t *testing.T, patientID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	if f.sched.Status != ScheduleOnline {
		sched, err := f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
		require.NoError(t, err)
		f.sched = sched
	}
	_, err := f.svc.JoinQueue(ctx, patientID, f.sched.ID)
	require.NoError(t, err)
	_, err = f.svc.ToggleReady(ctx, patientID, f.sched.ID, true)
	require.NoError(t, err)
}

func (f *fixture) invite(t *testing.T, patientID uuid.UUID) *CallSession {
	t.Helper()
	sess, err := f.svc.Invite(context.Background(), f.doctor, f.sched.ID, patientID)
	require.NoError(t, err)
	return sess
}

func TestInviteHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	assert.Equal(t, SessionInvited, sess.Status)
	assert.Equal(t, f.doctor, sess.DoctorID)
	assert.Equal(t, f.patient, sess.PatientID)
	assert.True(t, f.pub.has(fanout.ScheduleTopic(f.sched.ID), fanout.EventCallInvitation))

	// Patient sees the invitation on the polling read.
	inv, err := f.svc.PendingInvitation(ctx, f.patient)
	require.NoError(t, err)
	assert.True(t, inv.HasInvitation)
	assert.Equal(t, sess.ID, inv.CallSessionID)
	assert.Equal(t, f.doctor, inv.DoctorID)
}

func TestInviteRequiresOnlineSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.JoinQueue(ctx, f.patient, f.sched.ID)
	require.NoError(t, err)

	_, err = f.svc.Invite(ctx, f.doctor, f.sched.ID, f.patient)
	assert.ErrorIs(t, err, ErrScheduleNotOnline)
}

func TestInviteRequiresReadyPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)
	_, err = f.svc.JoinQueue(ctx, f.patient, f.sched.ID)
	require.NoError(t, err)

	_, err = f.svc.Invite(ctx, f.doctor, f.sched.ID, f.patient)
	assert.ErrorIs(t, err, ErrPatientNotReady)
}

func TestInviteRejectsNonOwner(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	_, err := f.svc.Invite(context.Background(), uuid.New(), f.sched.ID, f.patient)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSecondInviteSamePatientRejected(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	f.invite(t, f.patient)

	_, err := f.svc.Invite(context.Background(), f.doctor, f.sched.ID, f.patient)
	assert.ErrorIs(t, err, ErrDuplicateSession)
}

func TestInviteBlockedWhileAnotherConsultationOpen(t *testing.T) {
	f := newFixture(t)
	other := uuid.New()

	f.readyPatient(t, f.patient)
	f.readyPatient(t, other)
	f.invite(t, f.patient)

	_, err := f.svc.Invite(context.Background(), f.doctor, f.sched.ID, other)
	assert.ErrorIs(t, err, ErrConsultationInProgress)
}

func TestConcurrentInvitesSinglePatientOneWinner(t *testing.T) {
	f := newFixture(t)
	f.readyPatient(t, f.patient)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Invite(context.Background(), f.doctor, f.sched.ID, f.patient)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateSession)
		}
	}
	assert.Equal(t, 1, winners)

	open, err := f.repo.ListNonTerminalSessionsBySchedule(context.Background(), f.sched.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestConfirmMovesToConfirmedAndQueueInCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	confirmed, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, QueueInCall, entry.Status)

	assert.True(t, f.pub.has(fanout.CallTopic(sess.ID), fanout.EventCallConfirmed))
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	first, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)
	second, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ConfirmedAt.Unix(), second.ConfirmedAt.Unix())
}

func TestConfirmByWrongActorRejected(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	_, err := f.svc.Confirm(context.Background(), uuid.New(), sess.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestConfirmAfterTTLObservesExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	f.clock.Advance(61 * time.Second)

	got, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, got.Status)

	// Expiry put the patient back to WAITING.
	entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, QueueWaiting, entry.Status)
	assert.False(t, entry.IsReady)
}

func TestReadAtTTLBoundaryStillInvited(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	f.clock.Advance(59 * time.Second)

	got, err := f.svc.GetCallSession(context.Background(), f.patient, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionInvited, got.Status)
}

func TestDeclineThenReinviteCreatesDistinctSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	first := f.invite(t, f.patient)

	declined, err := f.svc.Decline(ctx, f.patient, first.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionDeclined, declined.Status)

	entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, QueueWaiting, entry.Status)

	// Doctor can call again once the patient is ready; the retry is a new
	// session, the declined one stays terminal.
	_, err = f.svc.ToggleReady(ctx, f.patient, f.sched.ID, true)
	require.NoError(t, err)
	second := f.invite(t, f.patient)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, SessionInvited, second.Status)

	stillDeclined, err := f.repo.GetCallSessionByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionDeclined, stillDeclined.Status)
}

func TestExpiredInviteDoesNotBlockNextInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()

	f.readyPatient(t, f.patient)
	f.readyPatient(t, other)
	f.invite(t, f.patient)

	f.clock.Advance(61 * time.Second)

	// The stale invitation is settled lazily during the next invite.
	sess, err := f.svc.Invite(ctx, f.doctor, f.sched.ID, other)
	require.NoError(t, err)
	assert.Equal(t, other, sess.PatientID)
}

func TestActivateGatedOnBothAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)
	_, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	// No addresses yet: no-op, still CONFIRMED.
	got, err := f.svc.Activate(ctx, f.doctor, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionConfirmed, got.Status)

	_, err = f.svc.SetPeerAddress(ctx, f.doctor, sess.ID, "peer://doctor-1")
	require.NoError(t, err)

	// One address: still gated.
	got, err = f.svc.Activate(ctx, f.patient, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionConfirmed, got.Status)

	_, err = f.svc.SetPeerAddress(ctx, f.patient, sess.ID, "peer://patient-1")
	require.NoError(t, err)

	got, err = f.svc.Activate(ctx, f.patient, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, got.Status)

	// Activating again is a no-op.
	again, err := f.svc.Activate(ctx, f.doctor, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, again.Status)
}

func TestSetPeerAddressOverwriteOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)
	_, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.SetPeerAddress(ctx, f.doctor, sess.ID, "peer://doctor-1")
	require.NoError(t, err)
	updated, err := f.svc.SetPeerAddress(ctx, f.doctor, sess.ID, "peer://doctor-2")
	require.NoError(t, err)

	require.NotNil(t, updated.DoctorPeerAddress)
	assert.Equal(t, "peer://doctor-2", *updated.DoctorPeerAddress)
	assert.True(t, f.pub.has(fanout.CallTopic(sess.ID), fanout.EventPeerAddressUpdated))
}

func TestSetPeerAddressOnInvitedIsNoop(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	got, err := f.svc.SetPeerAddress(context.Background(), f.doctor, sess.ID, "peer://doctor-1")
	require.NoError(t, err)
	assert.Equal(t, SessionInvited, got.Status)
	assert.Nil(t, got.DoctorPeerAddress)
}

func TestEndFromConfirmedAndFromActive(t *testing.T) {
	for _, fromActive := range []bool{false, true} {
		f := newFixture(t)
		ctx := context.Background()

		f.readyPatient(t, f.patient)
		sess := f.invite(t, f.patient)
		_, err := f.svc.Confirm(ctx, f.patient, sess.ID)
		require.NoError(t, err)

		if fromActive {
			_, err = f.svc.SetPeerAddress(ctx, f.doctor, sess.ID, "peer://d")
			require.NoError(t, err)
			_, err = f.svc.SetPeerAddress(ctx, f.patient, sess.ID, "peer://p")
			require.NoError(t, err)
			_, err = f.svc.Activate(ctx, f.patient, sess.ID)
			require.NoError(t, err)
		}

		ended, err := f.svc.End(ctx, f.patient, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, SessionEnded, ended.Status)
		require.NotNil(t, ended.EndedAt)

		entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
		require.NoError(t, err)
		assert.Equal(t, QueueDone, entry.Status)
	}
}

func TestEndOnInvitedIsNoop(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	got, err := f.svc.End(context.Background(), f.doctor, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionInvited, got.Status)
}

func TestDoubleEndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)
	_, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	first, err := f.svc.End(ctx, f.doctor, sess.ID)
	require.NoError(t, err)
	second, err := f.svc.End(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, SessionEnded, first.Status)
	assert.Equal(t, SessionEnded, second.Status)
	assert.Equal(t, first.EndedAt.Unix(), second.EndedAt.Unix())
}

func TestEndPracticeForceEndsOpenSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)
	_, err := f.svc.Confirm(ctx, f.patient, sess.ID)
	require.NoError(t, err)

	sched, err := f.svc.EndPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleCompleted, sched.Status)

	got, err := f.repo.GetCallSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionEnded, got.Status)

	entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, QueueDone, entry.Status)

	assert.True(t, f.pub.has(fanout.CallTopic(sess.ID), fanout.EventCallEnded))
}

func TestStartPracticeIdempotentAndCompletedTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched, err := f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleOnline, sched.Status)

	again, err := f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, ScheduleOnline, again.Status)

	_, err = f.svc.EndPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)

	_, err = f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
	assert.ErrorIs(t, err, ErrScheduleCompleted)
}

func TestQueueNumbersStrictlyIncreasing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartPractice(ctx, f.doctor, f.sched.ID)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		entry, err := f.svc.JoinQueue(ctx, uuid.New(), f.sched.ID)
		require.NoError(t, err)
		assert.Equal(t, i, entry.QueueNumber)
	}

	// Duplicate join is rejected, number not reused.
	p := uuid.New()
	_, err = f.svc.JoinQueue(ctx, p, f.sched.ID)
	require.NoError(t, err)
	_, err = f.svc.JoinQueue(ctx, p, f.sched.ID)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestPendingInvitationEmptyWithoutInvite(t *testing.T) {
	f := newFixture(t)

	inv, err := f.svc.PendingInvitation(context.Background(), f.patient)
	require.NoError(t, err)
	assert.False(t, inv.HasInvitation)
}

func TestExpireStaleInvitationsSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	// Fresh invitation survives the sweep.
	require.NoError(t, f.svc.ExpireStaleInvitations(ctx))
	got, err := f.repo.GetCallSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionInvited, got.Status)

	f.clock.Advance(61 * time.Second)

	require.NoError(t, f.svc.ExpireStaleInvitations(ctx))
	got, err = f.repo.GetCallSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, SessionExpired, got.Status)

	entry, err := f.repo.GetQueueEntry(ctx, f.sched.ID, f.patient)
	require.NoError(t, err)
	assert.Equal(t, QueueWaiting, entry.Status)
}

func TestGetCallSessionRejectsOutsider(t *testing.T) {
	f := newFixture(t)

	f.readyPatient(t, f.patient)
	sess := f.invite(t, f.patient)

	_, err := f.svc.GetCallSession(context.Background(), uuid.New(), sess.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
