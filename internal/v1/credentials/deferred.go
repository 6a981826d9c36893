package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/v1/metrics"
	"github.com/atelierhq/atelier/internal/v1/types"
)

// ErrAuthTimeout reports a deferred login that expired before confirmation,
// or a confirmation that arrived for a token with no waiter.
var ErrAuthTimeout = errors.New("auth timeout")

// LoginResult is a confirmed login: the freshly registered account and the
// user token vouching for it.
type LoginResult struct {
	User  types.User
	Token string
}

type loginOutcome struct {
	res LoginResult
	err error
}

// pendingLogin is one deferred login waiting on browser confirmation.
// Settlement happens exactly once; the buffered channel means the settling
// side never blocks on the waiter.
type pendingLogin struct {
	done  chan loginOutcome
	timer *time.Timer
}

// ConfirmAuth registers a waiter for confirmToken and blocks until the
// login is confirmed, the 300s window lapses (ErrAuthTimeout), or ctx is
// cancelled. Confirm tokens are single-use: a second waiter for a token
// already being watched is rejected with ErrAuthInvalid.
func (s *Service) ConfirmAuth(ctx context.Context, confirmToken string) (LoginResult, error) {
	if confirmToken == "" {
		return LoginResult{}, fmt.Errorf("%w: empty confirm token", ErrAuthInvalid)
	}

	s.mu.Lock()
	if _, exists := s.pending[confirmToken]; exists {
		s.mu.Unlock()
		return LoginResult{}, fmt.Errorf("%w: confirm token already in use", ErrAuthInvalid)
	}
	entry := &pendingLogin{done: make(chan loginOutcome, 1)}
	entry.timer = time.AfterFunc(s.loginTTL, func() {
		if e, ok := s.claimLogin(confirmToken); ok {
			metrics.LoginTimeouts.Inc()
			e.done <- loginOutcome{err: ErrAuthTimeout}
		}
	})
	s.pending[confirmToken] = entry
	metrics.PendingLogins.Inc()
	s.mu.Unlock()

	select {
	case out := <-entry.done:
		return out.res, out.err
	case <-ctx.Done():
		if e, ok := s.claimLogin(confirmToken); ok {
			e.done <- loginOutcome{err: ctx.Err()}
		}
		// The entry settles exactly once, so this read never blocks: it
		// yields either the cancellation above or a confirmation that
		// won the race.
		out := <-entry.done
		return out.res, out.err
	}
}

// ConfirmUser resolves the deferred login registered under confirmToken:
// it registers a new account with the given public fields, signs a user
// token, releases the waiter, and returns the same result to the caller.
// Without a matching waiter it fails with ErrAuthTimeout.
func (s *Service) ConfirmUser(confirmToken, name, email string) (LoginResult, error) {
	if name == "" {
		return LoginResult{}, fmt.Errorf("%w: user name required", ErrAuthInvalid)
	}

	entry, ok := s.claimLogin(confirmToken)
	if !ok {
		return LoginResult{}, ErrAuthTimeout
	}

	user := types.User{ID: uuid.NewString(), Name: name, Email: email}
	token, err := s.SignUserToken(user)
	if err != nil {
		entry.done <- loginOutcome{err: err}
		return LoginResult{}, err
	}

	res := LoginResult{User: user, Token: token}
	entry.done <- loginOutcome{res: res}
	return res, nil
}

// claimLogin removes and returns the pending entry, stopping its timer.
// Exactly one caller wins a given token; the winner owns settlement.
func (s *Service) claimLogin(confirmToken string) (*pendingLogin, bool) {
	s.mu.Lock()
	entry, ok := s.pending[confirmToken]
	if ok {
		delete(s.pending, confirmToken)
		metrics.PendingLogins.Dec()
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.timer.Stop()
	return entry, true
}

// PendingLogins reports the current registry size.
func (s *Service) PendingLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
