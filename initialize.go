package authstate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vhorizon/authstate/internal/deadline"
	"github.com/vhorizon/authstate/internal/logger"
	"github.com/vhorizon/authstate/internal/retry"
	"github.com/vhorizon/authstate/session"
	"github.com/vhorizon/authstate/tokenstore"
)

// plan is the identity initialization decided on before it is committed.
type plan struct {
	session  *session.Session
	isAdmin  bool
	source   Source
	outcome  Outcome
	timedOut bool
	err      error
}

// Initialize resolves the startup identity. It runs once; later calls return the
// first result without doing any work.
//
// The auth client's GetSession is raced against Init.Timeout. If it fails or
// loses, the persisted session blob is read directly from the token store and
// adopted provisionally when it is structurally valid. Either way Loading
// becomes false before Initialize returns, and it never becomes true again.
//
// ctx bounds the wait for the primary fetch. Cancelling it moves Initialize onto
// the fallback path instead of aborting it.
func (r *Resolver) Initialize(ctx context.Context) InitResult {
	r.initOnce.Do(func() {
		r.initResult = r.initialize(ctx)
	})
	return r.initResult
}

func (r *Resolver) initialize(ctx context.Context) InitResult {
	start := r.clock.Now()
	ticket := r.transition(func(s *Snapshot) {
		s.State = StateInitializing
		s.Loading = true
	})

	// Subscribe before the primary fetch so no event can fall between the two.
	unsubscribe := r.auth.OnAuthStateChange(r.onAuthEvent)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
	} else {
		r.unsubscribe = unsubscribe
		r.mu.Unlock()
	}

	primary := deadline.Go(r.lifetime, r.fetchPrimary)
	r.mu.Lock()
	r.primary = primary
	r.mu.Unlock()
	res := primary.Wait(ctx, r.clock, r.cfg.Init.Timeout)

	p := r.resolvePrimary(ctx, res)

	eventWon := false
	snap, _ := r.commit(func(s *Snapshot) bool {
		if r.epoch == ticket {
			setIdentity(s, p.session, p.isAdmin, p.source)
		} else {
			eventWon = true
		}
		s.Loading = false
		s.State = stateFor(s)
		return true
	})

	result := InitResult{
		Outcome:    p.outcome,
		Source:     p.source,
		TimedOut:   p.timedOut,
		PrimaryErr: p.err,
		Elapsed:    r.clock.Since(start),
		Snapshot:   snap,
	}
	if eventWon {
		result.Source = snap.Source
		result.Outcome = outcomeFor(snap)
	}

	r.recordInit(ctx, result)

	if !eventWon && p.outcome == OutcomeDegraded && r.cfg.Init.DeferRoleOnFallback {
		userID := p.session.UserID()
		r.spawn(func() {
			r.applyRole(ticket, userID, r.lookupRole(r.lifetime, userID))
		})
	}

	finished := res.Outcome == deadline.Completed
	switch {
	case finished:
	case !eventWon && r.cfg.Init.LateRefine:
		r.spawn(func() { r.lateRefine(primary, ticket) })
	default:
		primary.Cancel()
	}

	return result
}

// resolvePrimary turns the primary fetch's result into a plan, falling back to
// the token store when the fetch did not confirm either way.
func (r *Resolver) resolvePrimary(ctx context.Context, res deadline.Result[*session.Session]) plan {
	if res.Outcome == deadline.Completed && res.Err == nil {
		if res.Value == nil {
			return plan{source: SourceServer, outcome: OutcomeAbsent}
		}
		res.Err = res.Value.Validate()
		if res.Err == nil {
			return plan{
				session: res.Value,
				isAdmin: r.lookupRole(ctx, res.Value.UserID()),
				source:  SourceServer,
				outcome: OutcomeConfirmed,
			}
		}
	}

	p := plan{source: SourceNone, outcome: OutcomeAbsent}
	switch res.Outcome {
	case deadline.TimedOut:
		p.timedOut = true
		p.err = ErrInitTimeout
		r.metrics.Inc(MetricInitTimeout)
	case deadline.Canceled:
		p.err = ctx.Err()
	default:
		p.err = res.Err
		r.metrics.Inc(MetricInitPrimaryError)
	}
	r.log.Warn("primary session fetch did not resolve, using local fallback", zap.Error(p.err))

	if sess := r.readFallback(context.WithoutCancel(ctx)); sess != nil {
		p.session = sess
		p.source = SourceLocalCache
		p.outcome = OutcomeDegraded
	}
	return p
}

func (r *Resolver) fetchPrimary(ctx context.Context) (*session.Session, error) {
	return retry.Do(ctx, r.cfg.Init.Retry.policy(r.clock), classifyPrimary, r.auth.GetSession)
}

// readFallback reads and decodes the persisted session blob under
// Init.FallbackTimeout. A blob that fails to decode is removed.
func (r *Resolver) readFallback(ctx context.Context) *session.Session {
	log := r.log.With(logger.StorageKey(r.storageKey))

	res := deadline.Call(ctx, r.clock, r.cfg.Init.FallbackTimeout, func(c context.Context) ([]byte, error) {
		return r.tokens.Load(c, r.storageKey)
	})
	switch {
	case res.Outcome != deadline.Completed:
		log.Warn("fallback read did not finish", zap.Stringer("outcome", res.Outcome))
		return nil
	case errors.Is(res.Err, tokenstore.ErrNotFound):
		log.Debug("no persisted session")
		return nil
	case res.Err != nil:
		log.Warn("fallback read failed", zap.Error(res.Err))
		return nil
	}

	sess, err := session.Decode(res.Value)
	if err != nil {
		r.metrics.Inc(MetricFallbackMalformed)
		log.Warn("discarding malformed persisted session", zap.Error(err))
		r.spawn(func() { r.discardToken(ctx) })
		return nil
	}
	return sess
}

// lateRefine waits for a primary fetch that lost the race and lets its answer
// replace the provisional identity, provided nothing newer has happened.
func (r *Resolver) lateRefine(primary *deadline.Future[*session.Session], ticket uint64) {
	timer := r.clock.NewTimer(r.cfg.Init.LateRefineWindow)
	defer timer.Stop()

	select {
	case <-primary.Done():
	case <-timer.Chan():
		primary.Cancel()
		r.log.Debug("late refine window elapsed")
		return
	case <-r.lifetime.Done():
		return
	}

	sess, err := primary.Result()
	if err != nil {
		r.log.Debug("late primary fetch failed", zap.Error(err))
		return
	}

	var applied bool
	if sess == nil || sess.Validate() != nil {
		applied = r.commitIf(ticket, func(s *Snapshot) bool {
			if s.User == nil && s.Source != SourceLocalCache {
				return false
			}
			setIdentity(s, nil, false, SourceServer)
			s.State = StateAnonymous
			return true
		})
	} else {
		isAdmin := r.lookupRole(r.lifetime, sess.UserID())
		applied = r.commitIf(ticket, func(s *Snapshot) bool {
			setIdentity(s, sess, isAdmin, SourceServer)
			s.State = StateAuthenticated
			return true
		})
	}
	if !applied {
		return
	}

	snap := r.Snapshot()
	r.metrics.Inc(MetricLateRefine)
	r.log.Info("late primary result refined identity", logger.UserID(snap.UserID()), logger.Source(snap.Source.String()))
	r.emitAudit(r.lifetime, AuditEvent{
		EventType: auditEventLateRefine,
		UserID:    snap.UserID(),
		Source:    snap.Source.String(),
		Success:   true,
	})
}

func (r *Resolver) recordInit(ctx context.Context, result InitResult) {
	switch result.Outcome {
	case OutcomeConfirmed:
		r.metrics.Inc(MetricInitConfirmed)
	case OutcomeDegraded:
		r.metrics.Inc(MetricInitDegraded)
	default:
		r.metrics.Inc(MetricInitAbsent)
	}
	r.metrics.Observe(MetricInitLatency, result.Elapsed)

	fields := []zap.Field{
		logger.Outcome(result.Outcome.String()),
		logger.Source(result.Source.String()),
		logger.UserID(result.Snapshot.UserID()),
		logger.Elapsed(result.Elapsed),
	}
	if result.PrimaryErr != nil {
		fields = append(fields, zap.Error(result.PrimaryErr))
	}
	r.log.Info("session initialized", fields...)

	event := AuditEvent{
		EventType: auditEventSessionInitialized,
		UserID:    result.Snapshot.UserID(),
		Outcome:   result.Outcome.String(),
		Source:    result.Source.String(),
		Success:   result.Outcome != OutcomeAbsent || result.PrimaryErr == nil,
		Metadata:  map[string]string{"elapsed": result.Elapsed.Round(time.Millisecond).String()},
	}
	if result.PrimaryErr != nil {
		event.Error = result.PrimaryErr.Error()
	}
	r.emitAudit(context.WithoutCancel(ctx), event)
}

func outcomeFor(s Snapshot) Outcome {
	switch {
	case s.User == nil:
		return OutcomeAbsent
	case s.Source == SourceLocalCache:
		return OutcomeDegraded
	default:
		return OutcomeConfirmed
	}
}
