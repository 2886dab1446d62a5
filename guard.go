package sessguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/sessguard/sessguard/activity"
	"github.com/sessguard/sessguard/identity"
	"github.com/sessguard/sessguard/session"
	"github.com/sessguard/sessguard/throttle"
	"github.com/sessguard/sessguard/token"
)

// Guard coordinates sign-in, session persistence, token refresh, and
// idle tracking behind one surface. Construct it through the Builder.
//
// All methods are safe for concurrent use.
type Guard struct {
	config    Config
	logger    zerolog.Logger
	notifier  Notifier
	throttle  *throttle.Engine
	sessions  *session.Store
	inspector *token.Inspector
	activity  *activity.Monitor
	identity  identity.Client
	audit     *auditDispatcher

	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	closed      bool
	refreshStop chan struct{}
	refreshWG   sync.WaitGroup
}

// Login authenticates against the identity provider. Blocked keys are
// refused locally without a remote call; failed attempts feed the
// throttle and successful ones reset it.
func (g *Guard) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if g.isClosed() {
		return nil, ErrGuardClosed
	}

	key := username
	if g.throttle.IsBlocked(ctx, key) {
		retry := g.throttle.RemainingBlockTime(ctx, key)
		g.emitAudit(ctx, auditEventLoginThrottled, SeverityWarn, key, false, ErrThrottled, map[string]string{
			"retry_after": retry.Round(time.Second).String(),
		})
		return nil, &ThrottledError{Key: key, RetryAfter: retry}
	}

	// Prior failures earn a progressive delay, bounded so the UI
	// never stalls indefinitely.
	if attempts := g.throttle.AttemptCount(ctx, key); attempts > 0 {
		delay := time.Duration(attempts) * g.config.Login.DelayPerAttempt
		if delay > g.config.Login.MaxDelay {
			delay = g.config.Login.MaxDelay
		}
		if delay > 0 {
			if err := g.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	grant, err := g.identity.Login(ctx, identity.Credentials{Username: username, Password: password})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrRejected):
			if recErr := g.throttle.RecordFailure(ctx, key); recErr != nil {
				g.logger.Warn().Err(recErr).Msg("recording failed attempt failed")
			}
			g.emitAudit(ctx, auditEventLoginFailure, SeverityWarn, key, false, ErrInvalidCredentials, nil)
			return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		case errors.Is(err, identity.ErrUnavailable):
			// Transport failures count toward the lockout too, so an
			// attacker cannot dodge the throttle by inducing timeouts.
			if recErr := g.throttle.RecordFailure(ctx, key); recErr != nil {
				g.logger.Warn().Err(recErr).Msg("recording failed attempt failed")
			}
			g.emitAudit(ctx, auditEventLoginUnavailable, SeverityError, key, false, ErrProviderUnavailable, nil)
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, err
	}

	if err := g.throttle.Reset(ctx, key); err != nil {
		g.logger.Warn().Err(err).Msg("throttle reset failed after successful login")
	}

	if err := g.sessions.Save(ctx, session.StoredSession{
		Token:        grant.Token,
		RefreshToken: grant.RefreshToken,
		User:         grant.User,
	}); err != nil {
		g.emitAudit(ctx, auditEventLoginFailure, SeverityError, key, false, err, map[string]string{
			"reason": "session_save_failed",
		})
		return nil, err
	}

	g.startBackground()

	returnRoute := g.sessions.LastRoute(ctx)
	if returnRoute != "" {
		if err := g.sessions.ClearLastRoute(ctx); err != nil {
			g.logger.Warn().Err(err).Msg("clearing remembered route failed")
		}
	}

	g.emitAudit(ctx, auditEventLoginSuccess, SeverityInfo, key, true, nil, nil)
	g.logger.Info().Str("user", grant.User.Username).Msg("login succeeded")

	return &LoginResult{User: grant.User, ReturnRoute: returnRoute}, nil
}

// Logout terminates the session locally. It never calls the provider,
// so signing out works offline.
func (g *Guard) Logout(ctx context.Context) error {
	g.stopRefresh(true)
	g.activity.Stop()

	if err := g.sessions.Clear(ctx); err != nil {
		return err
	}

	g.emitAudit(ctx, auditEventLogout, SeverityInfo, "", true, nil, nil)
	g.logger.Info().Msg("logged out")
	return nil
}

// Resume restores background monitoring for a session persisted by an
// earlier run. It reports the resulting state; monitors only start
// when the stored session is still valid.
func (g *Guard) Resume(ctx context.Context) (State, error) {
	if g.isClosed() {
		return StateAnonymous, ErrGuardClosed
	}

	sess, err := g.currentSession(ctx)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return StateAnonymous, nil
		}
		if errors.Is(err, ErrSessionIntegrity) {
			return StateAnonymous, err
		}
		return StateAnonymous, err
	}

	if g.inspector.IsExpired(sess.Token) {
		return StateExpired, nil
	}

	g.startBackground()
	g.logger.Info().Str("user", sess.User.Username).Msg("session resumed")
	return StateAuthenticated, nil
}

// Refresh exchanges the current token for a fresh one, regardless of
// how close to expiry it is. Rejection by the provider terminates the
// session.
func (g *Guard) Refresh(ctx context.Context) error {
	if g.isClosed() {
		return ErrGuardClosed
	}
	return g.refreshNow(ctx, true)
}

// State reports the current authentication state.
func (g *Guard) State(ctx context.Context) State {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return StateAnonymous
	}
	if g.inspector.IsExpired(sess.Token) {
		return StateExpired
	}
	return StateAuthenticated
}

// IsAuthenticated reports whether a valid, unexpired session exists.
func (g *Guard) IsAuthenticated(ctx context.Context) bool {
	return g.State(ctx) == StateAuthenticated
}

// CurrentUser returns the signed-in user's profile.
func (g *Guard) CurrentUser(ctx context.Context) (*session.UserProfile, error) {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	user := sess.User
	return &user, nil
}

// HasRole reports whether the signed-in user carries the given role.
// Anonymous callers have no roles.
func (g *Guard) HasRole(ctx context.Context, roleID int) bool {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return false
	}
	return sess.User.HasRole(roleID)
}

// HasAnyRole reports whether the signed-in user carries at least one
// of the given roles.
func (g *Guard) HasAnyRole(ctx context.Context, roleIDs ...int) bool {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return false
	}
	return sess.User.HasAnyRole(roleIDs...)
}

// TokenInfo returns a decoded view of the current session token.
func (g *Guard) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := g.inspector.DecodeClaims(sess.Token)
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{
		Subject:   claims.Subject,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
		Expired:   g.inspector.IsExpired(sess.Token),
	}
	if left, ok := g.inspector.TimeToExpiry(sess.Token); ok {
		info.TimeLeft = left
	}
	return info, nil
}

// Touch records user activity for idle tracking.
func (g *Guard) Touch() {
	g.activity.Touch()
}

// RememberRoute stores the route to return to after the next sign-in.
func (g *Guard) RememberRoute(ctx context.Context, route string) error {
	return g.sessions.SaveLastRoute(ctx, route)
}

// ThrottleStats summarizes the attempt throttle for administrative
// surfaces.
func (g *Guard) ThrottleStats(ctx context.Context) throttle.Stats {
	return g.throttle.Stats(ctx)
}

// AuditDropped reports how many audit events were discarded because
// the buffer was full.
func (g *Guard) AuditDropped() uint64 {
	return g.audit.Dropped()
}

// Close stops background goroutines and flushes the audit pipeline.
// The stored session is left intact so a later run can resume it.
func (g *Guard) Close() {
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.stopRefresh(true)
	g.activity.Stop()
	g.audit.Close()
}

func (g *Guard) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// currentSession loads the stored session, translating storage-level
// conditions into guard errors. An integrity failure tears down any
// running monitors: the session is already gone.
func (g *Guard) currentSession(ctx context.Context) (*session.StoredSession, error) {
	sess, err := g.sessions.Load(ctx)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession):
			return nil, ErrNotAuthenticated
		case errors.Is(err, session.ErrIntegrity):
			g.emitAudit(ctx, auditEventSessionTampered, SeveritySecurity, "", false, ErrSessionIntegrity, nil)
			g.stopRefresh(false)
			return nil, ErrSessionIntegrity
		}
		return nil, err
	}
	return sess, nil
}

// startBackground launches the idle monitor and the refresh loop.
// Already-running monitors are restarted so a re-login gets fresh
// deadlines.
func (g *Guard) startBackground() {
	g.activity.Stop()
	g.activity.Start()

	g.stopRefresh(true)

	g.mu.Lock()
	stop := make(chan struct{})
	g.refreshStop = stop
	g.refreshWG.Add(1)
	g.mu.Unlock()

	go g.refreshLoop(stop)
}

func (g *Guard) stopRefresh(wait bool) {
	g.mu.Lock()
	stop := g.refreshStop
	g.refreshStop = nil
	g.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	if wait {
		g.refreshWG.Wait()
	}
}

func (g *Guard) refreshLoop(stop chan struct{}) {
	defer g.refreshWG.Done()

	ticker := time.NewTicker(g.config.Refresh.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if err := g.refreshNow(context.Background(), false); err != nil {
			if errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrRefreshRejected) ||
				errors.Is(err, ErrSessionIntegrity) || errors.Is(err, ErrProviderUnavailable) {
				// Terminal for this session; the loop has nothing
				// left to watch.
				return
			}
			g.logger.Warn().Err(err).Msg("background refresh attempt failed")
		}
	}
}

// refreshNow refreshes the session token. Unless force is set, tokens
// outside the expiry window are left alone. Provider rejection and
// exhausted retries both terminate the session.
func (g *Guard) refreshNow(ctx context.Context, force bool) error {
	sess, err := g.currentSession(ctx)
	if err != nil {
		return err
	}

	if !force && !g.inspector.ExpiresWithin(sess.Token, g.config.Refresh.ExpiryWindow) {
		return nil
	}

	refreshToken := sess.RefreshToken
	if refreshToken == "" {
		refreshToken = sess.Token
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.config.Refresh.RetryInterval

	grant, err := backoff.Retry(ctx, func() (*identity.Grant, error) {
		grant, err := g.identity.Refresh(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, identity.ErrRejected) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return grant, nil
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxElapsedTime(g.config.Refresh.MaxRetryElapsed),
	)
	if err != nil {
		terminal := ErrProviderUnavailable
		if errors.Is(err, identity.ErrRejected) {
			terminal = ErrRefreshRejected
		}

		g.emitAudit(ctx, auditEventRefreshFailure, SeverityError, sess.User.Username, false, terminal, nil)
		g.terminateExpiredSession(ctx, sess)
		return fmt.Errorf("%w: %v", terminal, err)
	}

	sess.Token = grant.Token
	if grant.RefreshToken != "" {
		sess.RefreshToken = grant.RefreshToken
	}
	if err := g.sessions.Save(ctx, *sess); err != nil {
		return err
	}

	g.emitAudit(ctx, auditEventRefreshSuccess, SeverityInfo, sess.User.Username, true, nil, nil)
	g.logger.Debug().Msg("session token refreshed")
	return nil
}

// terminateExpiredSession clears a session whose token could not be
// refreshed. The refresh loop exits on its own, so it is not awaited
// here.
func (g *Guard) terminateExpiredSession(ctx context.Context, sess *session.StoredSession) {
	g.stopRefresh(false)
	g.activity.Stop()

	if err := g.sessions.Clear(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("clearing session after failed refresh failed")
	}

	if g.notifier != nil {
		g.notifier.Error(
			"Session ended",
			"Your session could not be renewed. Please sign in again.",
		)
	}
	g.emitAudit(ctx, auditEventSessionTerminated, SeverityWarn, sess.User.Username, false, ErrRefreshRejected, nil)
}

// handleIdleWarning runs on the activity monitor goroutine.
func (g *Guard) handleIdleWarning(remaining time.Duration) {
	if g.notifier != nil {
		g.notifier.Warn(
			"Session expiring soon",
			fmt.Sprintf("You will be signed out in %s unless you keep working.", remaining.Round(time.Second)),
		)
	}
	g.emitAudit(context.Background(), auditEventIdleWarning, SeverityWarn, "", true, nil, map[string]string{
		"remaining": remaining.Round(time.Second).String(),
	})
}

// handleIdleTimeout runs on the activity monitor goroutine after the
// monitor has stopped itself.
func (g *Guard) handleIdleTimeout() {
	ctx := context.Background()

	g.stopRefresh(true)
	if err := g.sessions.Clear(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("clearing session after idle timeout failed")
	}

	if g.notifier != nil {
		g.notifier.Warn(
			"Signed out",
			"You were signed out after a period of inactivity.",
		)
	}
	g.emitAudit(ctx, auditEventIdleTimeout, SeveritySecurity, "", false, nil, nil)
	g.logger.Warn().Bool("security", true).Msg("session terminated after idle timeout")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
