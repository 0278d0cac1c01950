package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/audit"
	"github.com/vhorizon/authstate/internal/deadline"
	"github.com/vhorizon/authstate/internal/logger"
	"github.com/vhorizon/authstate/internal/retry"
	"github.com/vhorizon/authstate/session"
)

// Resolver owns the application's view of who is signed in.
//
// Every state change goes through a single commit path, so observers see
// snapshots in Version order. Transitions (initialization, auth events and
// sign-out) advance an epoch; asynchronous work captures the epoch when it
// starts and its result is discarded if a newer transition has happened since.
//
// Observers registered with Subscribe are called synchronously on the
// goroutine that committed the change. They must not call Subscribe or any
// method that changes state from inside the callback.
type Resolver struct {
	cfg        Config
	auth       AuthClient
	roles      RoleStore
	tokens     TokenStore
	cache      QueryCache
	log        *zap.Logger
	clock      clockwork.Clock
	storageKey string

	metrics *Metrics
	audit   *audit.Dispatcher

	lifetime context.Context
	stop     context.CancelFunc
	bg       sync.WaitGroup

	// notifyMu is held across commit and delivery.
	notifyMu sync.Mutex

	mu          sync.Mutex
	snap        Snapshot
	epoch       uint64
	subs        map[uint64]func(Snapshot)
	nextSub     uint64
	unsubscribe func()
	closed      bool

	initOnce   sync.Once
	initResult InitResult
	// primary is the startup session fetch; it may outlive Initialize.
	primary *deadline.Future[*session.Session]

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

/*
====================================
STATE
====================================
*/

// Snapshot returns the current state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Ready is closed once Loading has become false.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// Wait blocks until the gate opens or ctx ends.
func (r *Resolver) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-r.ready:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// StorageKey is the token store key the resolver reads its fallback from.
func (r *Resolver) StorageKey() string {
	return r.storageKey
}

// Subscribe registers fn and immediately delivers the current snapshot to it.
// The returned cancel func is idempotent.
func (r *Resolver) Subscribe(fn func(Snapshot)) (cancel func()) {
	if fn == nil {
		return func() {}
	}

	r.notifyMu.Lock()
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	current := r.snap
	r.mu.Unlock()
	r.deliver(fn, current)
	r.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// commit applies fn to a copy of the current snapshot while r.mu is held. fn
// reports whether it changed anything; unchanged snapshots are not published.
// fn may read and advance r.epoch.
func (r *Resolver) commit(fn func(s *Snapshot) bool) (Snapshot, bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	next := r.snap
	if !fn(&next) {
		current := r.snap
		r.mu.Unlock()
		return current, false
	}
	if next.User == nil {
		next.Session = nil
		next.IsAdmin = false
	}
	next.Version = r.snap.Version + 1
	r.snap = next
	subs := make([]func(Snapshot), 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	if !next.Loading {
		r.readyOnce.Do(func() { close(r.ready) })
	}
	for _, sub := range subs {
		r.deliver(sub, next)
	}
	return next, true
}

// transition advances the epoch and commits fn in one step, returning the new
// epoch as a ticket for follow-up work.
func (r *Resolver) transition(fn func(s *Snapshot)) uint64 {
	var ticket uint64
	r.commit(func(s *Snapshot) bool {
		r.epoch++
		ticket = r.epoch
		fn(s)
		return true
	})
	return ticket
}

// commitIf commits fn only when no transition happened after ticket was taken.
func (r *Resolver) commitIf(ticket uint64, fn func(s *Snapshot) bool) bool {
	stale := false
	_, ok := r.commit(func(s *Snapshot) bool {
		if r.epoch != ticket {
			stale = true
			return false
		}
		return fn(s)
	})
	if stale {
		r.metrics.Inc(MetricStaleDiscarded)
		r.log.Debug("discarded stale result")
	}
	return ok
}

func (r *Resolver) currentEpoch() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epoch
}

func (r *Resolver) deliver(fn func(Snapshot), s Snapshot) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("observer panicked", zap.Any("panic", p))
		}
	}()
	fn(s)
}

// spawn runs fn on a tracked goroutine unless Close has been called.
func (r *Resolver) spawn(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.bg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.bg.Done()
		fn()
	}()
}

func stateFor(s *Snapshot) State {
	if s.User != nil {
		return StateAuthenticated
	}
	return StateAnonymous
}

func setIdentity(s *Snapshot, sess *session.Session, isAdmin bool, src Source) {
	if sess == nil {
		s.User, s.Session, s.IsAdmin = nil, nil, false
	} else {
		s.User, s.Session, s.IsAdmin = sess.User, sess, isAdmin
	}
	s.Source = src
}

/*
====================================
ROLE RESOLUTION
====================================
*/

// ResolveRole asks the role store whether userID holds the admin role. It never
// fails: any error or timeout resolves to false. When userID is still the
// current user the answer is written to the snapshot.
func (r *Resolver) ResolveRole(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	ticket := r.currentEpoch()
	isAdmin := r.lookupRole(ctx, userID)
	r.applyRole(ticket, userID, isAdmin)
	return isAdmin
}

func (r *Resolver) applyRole(ticket uint64, userID string, isAdmin bool) bool {
	return r.commitIf(ticket, func(s *Snapshot) bool {
		if s.UserID() != userID || s.IsAdmin == isAdmin {
			return false
		}
		s.IsAdmin = isAdmin
		return true
	})
}

func (r *Resolver) lookupRole(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	r.metrics.Inc(MetricRoleLookup)

	res := deadline.Call(ctx, r.clock, r.cfg.Role.Timeout, func(c context.Context) (bool, error) {
		return r.roles.HasRole(c, userID, r.cfg.Role.AdminRole)
	})

	var failure error
	switch {
	case res.Outcome == deadline.TimedOut:
		r.metrics.Inc(MetricRoleLookupTimeout)
		failure = errors.New("role lookup timed out")
	case res.Outcome == deadline.Canceled:
		failure = ctx.Err()
	case res.Err != nil:
		failure = res.Err
	}
	if failure != nil {
		r.metrics.Inc(MetricRoleLookupFailure)
		r.log.Warn("role lookup failed, treating as non-admin", logger.UserID(userID), zap.Error(failure))
		r.emitAudit(ctx, AuditEvent{
			EventType: auditEventRoleResolved,
			UserID:    userID,
			Success:   false,
			Error:     failure.Error(),
		})
		return false
	}

	r.emitAudit(ctx, AuditEvent{
		EventType: auditEventRoleResolved,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"is_admin": boolString(res.Value)},
	})
	return res.Value
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

/*
====================================
AUTH EVENTS
====================================
*/

// HandleAuthEvent applies an auth state change. It is called for every event the
// auth client emits once Initialize has subscribed, and may be called directly.
//
// SIGNED_OUT, or any event without a session user, clears identity and the
// query cache and cancels a startup fetch that is still running. SIGNED_IN
// invalidates the query cache. Any event carrying a user is followed by exactly
// one role lookup.
//
// The admin flag is recomputed by that lookup. Until it lands, an event for the
// user already in the snapshot keeps the current flag, and an event for anyone
// else starts from false.
func (r *Resolver) HandleAuthEvent(ctx context.Context, event session.Event, s *session.Session) {
	r.metrics.Inc(MetricAuthEvent)
	log := r.log.With(logger.Event(event.String()))

	if event == session.EventSignedOut || s == nil || s.User == nil || s.User.ID == "" {
		r.stopPrimary(ctx, false)
		r.cache.Clear()
		r.metrics.Inc(MetricSignedOut)
		r.transition(func(st *Snapshot) {
			setIdentity(st, nil, false, SourceEvent)
			if !st.Loading {
				st.State = StateAnonymous
			}
		})
		log.Info("identity cleared")
		r.emitAudit(ctx, AuditEvent{EventType: auditEventAuthEvent, Outcome: event.String(), Source: SourceEvent.String(), Success: true})
		return
	}

	if event == session.EventSignedIn {
		r.cache.InvalidateAll()
		r.metrics.Inc(MetricSignedIn)
	}

	sess := s.Clone()
	userID := sess.UserID()
	ticket := r.transition(func(st *Snapshot) {
		keepAdmin := st.UserID() == userID && st.IsAdmin
		setIdentity(st, sess, keepAdmin, SourceEvent)
		if !st.Loading {
			st.State = StateAuthenticated
		}
	})
	log.Info("identity updated", logger.UserID(userID))
	r.emitAudit(ctx, AuditEvent{EventType: auditEventAuthEvent, UserID: userID, Outcome: event.String(), Source: SourceEvent.String(), Success: true})

	isAdmin := r.lookupRole(ctx, userID)
	r.applyRole(ticket, userID, isAdmin)
}

func (r *Resolver) onAuthEvent(event session.Event, s *session.Session) {
	if r.lifetime.Err() != nil {
		return
	}
	r.HandleAuthEvent(r.lifetime, event, s)
}

/*
====================================
SIGN OUT
====================================
*/

// SignOut asks the auth client to end the session and then clears local state
// regardless of whether the remote call succeeded. A remote failure or timeout
// is reported as an error wrapping ErrRemoteSignOut.
//
// A startup fetch still running in the background is cancelled and waited for
// first, so it cannot persist or announce a session after the slot is cleared.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.metrics.Inc(MetricSignOut)
	userID := r.Snapshot().UserID()
	r.stopPrimary(ctx, true)

	res := deadline.Call(ctx, r.clock, r.cfg.SignOut.Timeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, r.auth.SignOut(c)
	})
	var remoteErr error
	switch res.Outcome {
	case deadline.TimedOut:
		remoteErr = ErrSignOutTimeout
	case deadline.Canceled:
		remoteErr = ctx.Err()
	default:
		remoteErr = res.Err
	}

	r.discardToken(context.WithoutCancel(ctx))
	r.cache.Clear()
	r.transition(func(st *Snapshot) {
		setIdentity(st, nil, false, SourceNone)
		if !st.Loading {
			st.State = StateAnonymous
		}
	})

	if remoteErr != nil {
		r.metrics.Inc(MetricSignOutRemoteFailure)
		r.log.Warn("remote sign-out failed, local state cleared", logger.UserID(userID), zap.Error(remoteErr))
		r.emitAudit(ctx, AuditEvent{EventType: auditEventSignOut, UserID: userID, Success: false, Error: remoteErr.Error()})
		return fmt.Errorf("%w: %w", ErrRemoteSignOut, remoteErr)
	}
	r.log.Info("signed out", logger.UserID(userID))
	r.emitAudit(ctx, AuditEvent{EventType: auditEventSignOut, UserID: userID, Success: true})
	return nil
}

// discardToken removes the persisted session blob. Failures are logged only.
func (r *Resolver) discardToken(ctx context.Context) {
	res := deadline.Call(ctx, r.clock, r.cfg.Init.FallbackTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, r.tokens.Delete(c, r.storageKey)
	})
	if res.Outcome != deadline.Completed {
		r.log.Warn("token delete did not finish", logger.StorageKey(r.storageKey), zap.Stringer("outcome", res.Outcome))
		return
	}
	if res.Err != nil {
		r.log.Warn("token delete failed", logger.StorageKey(r.storageKey), zap.Error(res.Err))
	}
}

// stopPrimary cancels the startup fetch. With wait set it then blocks until the
// fetch has returned, ctx ends or SignOut.Timeout elapses.
func (r *Resolver) stopPrimary(ctx context.Context, wait bool) {
	r.mu.Lock()
	primary := r.primary
	r.mu.Unlock()
	if primary == nil {
		return
	}
	primary.Cancel()
	if !wait {
		return
	}
	if res := primary.Wait(ctx, r.clock, r.cfg.SignOut.Timeout); res.Outcome != deadline.Completed {
		r.log.Warn("startup session fetch did not stop", zap.Stringer("outcome", res.Outcome))
	}
}

/*
====================================
LIFECYCLE
====================================
*/

// MetricsSnapshot returns the current counters and histograms.
func (r *Resolver) MetricsSnapshot() MetricsSnapshot {
	return r.metrics.Snapshot()
}

// AuditDropped reports audit events dropped because the dispatcher was full.
func (r *Resolver) AuditDropped() uint64 {
	return r.audit.Dropped()
}

// Close unsubscribes from the auth client, stops background work and flushes
// the audit dispatcher. It is safe to call more than once.
func (r *Resolver) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		unsubscribe := r.unsubscribe
		r.unsubscribe = nil
		r.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		r.stop()
		r.bg.Wait()
		r.audit.Close()
	})
}

// classifyPrimary stops retrying on cancellation and on errors the collaborator
// already marked permanent.
func classifyPrimary(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || retry.IsPermanent(err) {
		return retry.Stop
	}
	return retry.Retry
}
