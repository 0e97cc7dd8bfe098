// Package peer drives one participant's media transport for a call
// session: announce the local address, discover the remote one, connect,
// and rebuild the link on failure until the retry budget is spent or the
// session ends.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitacall/teleconsult/internal/consult"
)

// State is the orchestrator's connection state, tracked separately from
// the session status on the server. Session status is authoritative for
// the consultation; State only describes this participant's transport.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
	StateDone         State = "DONE"
)

// Transport abstracts the media channel. Open binds a fresh local
// endpoint; a reconnect opens a new transport rather than reusing a dead
// one.
type Transport interface {
	Open(ctx context.Context) (Endpoint, error)
}

// Endpoint is one bound local endpoint.
type Endpoint interface {
	Address() string
	Dial(ctx context.Context, remote string) (Connection, error)
	Accept(ctx context.Context) (Connection, error)
	Close() error
}

// Connection is one established link to the remote peer.
type Connection interface {
	Closed() <-chan struct{}
	Close() error
}

// SessionCommands is the server command/read surface the orchestrator
// needs, implemented by the HTTP client.
type SessionCommands interface {
	CallSession(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error)
	SetPeerAddress(ctx context.Context, sessionID uuid.UUID, address string) (*consult.CallSession, error)
	Activate(ctx context.Context, sessionID uuid.UUID) (*consult.CallSession, error)
}

var ErrRetriesExhausted = errors.New("peer connection retries exhausted")

type Options struct {
	// ReconnectLimit bounds reconnection attempts after the first
	// established connection drops.
	ReconnectLimit int
	// DiscoverInterval is the cadence of the retried reads that wait for
	// the remote peer to announce its address.
	DiscoverInterval time.Duration
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReconnectLimit <= 0 {
		o.ReconnectLimit = 3
	}
	if o.DiscoverInterval <= 0 {
		o.DiscoverInterval = time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	return o
}

// Orchestrator owns the connection lifecycle for one participant in one
// call session.
type Orchestrator struct {
	sessionID uuid.UUID
	role      consult.Role
	transport Transport
	commands  SessionCommands
	logger    *slog.Logger
	opts      Options

	mu      sync.Mutex
	state   State
	onState func(State)
}

func NewOrchestrator(sessionID uuid.UUID, role consult.Role, transport Transport, commands SessionCommands, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessionID: sessionID,
		role:      role,
		transport: transport,
		commands:  commands,
		logger:    logger,
		opts:      opts.withDefaults(),
		state:     StateIdle,
	}
}

// OnStateChange registers a listener invoked on every state transition.
// Must be called before Run.
func (o *Orchestrator) OnStateChange(fn func(State)) {
	o.onState = fn
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	if o.state == s {
		o.mu.Unlock()
		return
	}
	o.state = s
	o.mu.Unlock()

	o.logger.Info("peer state changed", "session_id", o.sessionID, "state", string(s))
	if o.onState != nil {
		o.onState(s)
	}
}

// Run drives the connection until the session ends, the retry budget is
// spent, or ctx is cancelled. It returns nil when the session reached a
// terminal status, ErrRetriesExhausted on FAILED, and the ctx error on
// cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			o.setState(StateDone)
			return err
		}

		if attempts == 0 {
			o.setState(StateConnecting)
		} else {
			o.setState(StateReconnecting)
		}

		conn, err := o.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				o.setState(StateDone)
				return ctx.Err()
			}
			if errors.Is(err, errSessionOver) {
				o.setState(StateDone)
				return nil
			}
			attempts++
			if attempts > o.opts.ReconnectLimit {
				o.setState(StateFailed)
				return ErrRetriesExhausted
			}
			o.logger.Warn("peer connection attempt failed",
				"session_id", o.sessionID, "attempt", attempts, "error", err)
			continue
		}

		o.setState(StateConnected)
		if _, err := o.commands.Activate(ctx, o.sessionID); err != nil {
			o.logger.Warn("activate failed", "session_id", o.sessionID, "error", err)
		}

		// Hold the link until it drops, the session ends, or we are
		// cancelled. Session end wins over reconnection.
		watchCtx, stopWatch := context.WithCancel(ctx)
		over := o.watchSessionEnd(watchCtx)
		select {
		case <-ctx.Done():
			stopWatch()
			conn.Close()
			o.setState(StateDone)
			return ctx.Err()
		case <-over:
			stopWatch()
			conn.Close()
			o.setState(StateDone)
			return nil
		case <-conn.Closed():
			stopWatch()
			select {
			case <-over:
				o.setState(StateDone)
				return nil
			default:
			}
			attempts++
			if attempts > o.opts.ReconnectLimit {
				o.setState(StateFailed)
				return ErrRetriesExhausted
			}
			o.logger.Warn("peer connection dropped, reconnecting",
				"session_id", o.sessionID, "attempt", attempts)
		}
	}
}

var errSessionOver = errors.New("session reached terminal status")

// establish opens a fresh endpoint, announces it, waits for the remote
// address, and connects. The doctor dials; the patient accepts.
func (o *Orchestrator) establish(ctx context.Context) (Connection, error) {
	ep, err := o.transport.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	if _, err := o.commands.SetPeerAddress(ctx, o.sessionID, ep.Address()); err != nil {
		ep.Close()
		return nil, fmt.Errorf("announce address: %w", err)
	}

	remote, err := o.awaitRemoteAddress(ctx)
	if err != nil {
		ep.Close()
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.opts.DialTimeout)
	defer cancel()

	var conn Connection
	if o.role == consult.RoleDoctor {
		conn, err = ep.Dial(dialCtx, remote)
	} else {
		conn, err = ep.Accept(dialCtx)
	}
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return conn, nil
}

// awaitRemoteAddress polls the session snapshot until the other side has
// announced. A session gone terminal while waiting aborts with
// errSessionOver.
func (o *Orchestrator) awaitRemoteAddress(ctx context.Context) (string, error) {
	ticker := time.NewTicker(o.opts.DiscoverInterval)
	defer ticker.Stop()

	for {
		sess, err := o.commands.CallSession(ctx, o.sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			o.logger.Warn("session read failed while discovering peer",
				"session_id", o.sessionID, "error", err)
		} else {
			if sess.Status.Terminal() {
				return "", errSessionOver
			}
			remoteRole := consult.RolePatient
			if o.role == consult.RolePatient {
				remoteRole = consult.RoleDoctor
			}
			if addr := sess.PeerAddress(remoteRole); addr != nil && *addr != "" {
				return *addr, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// watchSessionEnd closes the returned channel once the session reaches a
// terminal status.
func (o *Orchestrator) watchSessionEnd(ctx context.Context) <-chan struct{} {
	over := make(chan struct{})

	go func() {
		ticker := time.NewTicker(o.opts.DiscoverInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			sess, err := o.commands.CallSession(ctx, o.sessionID)
			if err != nil {
				continue
			}
			if sess.Status.Terminal() {
				close(over)
				return
			}
		}
	}()

	return over
}
