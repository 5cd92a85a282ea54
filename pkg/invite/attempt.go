package invite

import (
	"context"
	"errors"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
)

// caller is the authenticated party of a greeting attempt operation.
type caller struct {
	side  Side
	org   OrganizationID
	user  User  // greeter side
	token Token // claimer side
}

func (self caller) logArgs() []any {
	if SideGreeter == self.side {
		return []any{"org", self.org, "side", self.side, "user", self.user.ID}
	}
	return []any{"org", self.org, "side", self.side, "token", self.token}
}

func (self *Service) greeterCaller(ctx context.Context, author Author) (caller, error) {
	user, err := self.checkAuthor(ctx, author)
	return caller{side: SideGreeter, org: author.Org, user: user}, err
}

func (self *Service) claimerCaller(ctx context.Context, invited Invited) (caller, error) {
	_, err := self.checkOrganization(ctx, invited.Org)
	return caller{side: SideClaimer, org: invited.Org, token: invited.Token}, err
}

// GreeterStartGreetingAttempt joins the author to a greeting attempt of the token invitation.
// The attempt the author already joined is cancelled and replaced by a new one.
func (self *Service) GreeterStartGreetingAttempt(ctx context.Context, author Author, token Token) (AttemptID, error) {
	c, err := self.greeterCaller(ctx, author)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting attempt start", "org", author.Org, "author", author.DeviceID, "error", err)
		return AttemptID{}, err
	}
	return self.startAttempt(ctx, c, token, c.user.ID)
}

// ClaimerStartGreetingAttempt joins the claimer to a greeting attempt with greeterUserID.
// It returns the attempt the greeter already opened if the claimer has not joined it yet.
func (self *Service) ClaimerStartGreetingAttempt(ctx context.Context, invited Invited, greeterUserID UserID) (AttemptID, error) {
	c, err := self.claimerCaller(ctx, invited)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting attempt start", "org", invited.Org, "token", invited.Token, "error", err)
		return AttemptID{}, err
	}
	return self.startAttempt(ctx, c, invited.Token, greeterUserID)
}

func (self *Service) startAttempt(ctx context.Context, c caller, token Token, greeterUserID UserID) (AttemptID, error) {
	log := observability.GetObservability(ctx).Log().With(c.logArgs()...).With("token", token)

	unlock := self.locks.Lock(tokenLockKey(c.org, token))
	defer unlock()

	inv, err := self.loadInvitation(ctx, c.org, token)
	if nil == err {
		err = checkPending(inv)
	}
	if nil == err {
		err = self.checkGreeter(ctx, c, inv, greeterUserID)
	}
	if nil != err {
		log.Debug("rejected greeting attempt start", "error", err)
		return AttemptID{}, err
	}
	if SideClaimer == c.side {
		self.touchClaimer(ctx, inv.Org, inv.Token)
	}

	attempts, err := self.store.ListAttempts(ctx, inv.Org, inv.Token)
	if nil != err {
		return AttemptID{}, wrapError(err, "failed listing greeting attempts")
	}
	now := self.clock.Now()

	var attempt GreetingAttempt
	found := false
	for _, a := range attempts {
		if nil == a.Cancelled && greeterUserID == a.GreeterUserID {
			attempt, found = a, true
			break
		}
	}
	if found && attempt.Joined(c.side) {
		err = self.cancelAttempt(ctx, &attempt, c.side, ReasonAutomaticallyCanceled, now)
		if nil != err {
			return AttemptID{}, err
		}
		found = false
	}
	if !found {
		attempt = GreetingAttempt{
			ID:            NewAttemptID(),
			Org:           inv.Org,
			Token:         inv.Token,
			GreeterUserID: greeterUserID,
			CreatedOn:     now,
		}
	}

	attempt.join(c.side, now)
	err = self.store.SaveAttempt(ctx, attempt)
	if nil != err {
		return AttemptID{}, wrapError(err, "failed saving greeting attempt")
	}
	self.wakes.Broadcast(tokenLockKey(inv.Org, inv.Token))

	log.Debug("joined greeting attempt", "attempt", attempt.ID, "state", attempt.State())
	self.publish(ctx, Event{
		Kind:      EventGreetingAttemptJoined,
		Org:       inv.Org,
		Token:     inv.Token,
		AttemptID: attempt.ID,
		Side:      c.side,
		Timestamp: now,
	})
	if AttemptActive == attempt.State() {
		self.publish(ctx, Event{
			Kind:      EventGreetingAttemptReady,
			Org:       inv.Org,
			Token:     inv.Token,
			AttemptID: attempt.ID,
			Timestamp: now,
		})
	}

	return attempt.ID, nil
}

// checkGreeter errors if greeterUserID can not greet inv.
// On the greeter side greeterUserID is the author which is already known to be a valid user.
func (self *Service) checkGreeter(ctx context.Context, c caller, inv Invitation, greeterUserID UserID) error {
	if SideGreeter == c.side {
		if !inv.CanGreet(c.user) {
			return raise(ErrAuthorNotAllowed, "user %s can not greet %s invitation", c.user.ID, inv.Kind)
		}
		return nil
	}

	var greeter User
	err := self.identity.LoadUser(ctx, inv.Org, greeterUserID, &greeter)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return wrapFlag(err, ErrGreeterNotFound, "unknown greeter %s", greeterUserID)
		}
		return wrapError(err, "failed loading greeter")
	}
	if greeter.Revoked {
		return raise(ErrGreeterRevoked, "greeter %s is revoked", greeterUserID)
	}
	if !inv.CanGreet(greeter) {
		return raise(ErrGreeterNotAllowed, "user %s can not greet %s invitation", greeterUserID, inv.Kind)
	}
	return nil
}

// attemptToken returns the Token of the invitation the id attempt belongs to.
func (self *Service) attemptToken(ctx context.Context, c caller, id AttemptID) (Token, error) {
	if SideClaimer == c.side {
		return c.token, nil
	}
	attempt, err := self.loadAttempt(ctx, c.org, id)
	return attempt.Token, err
}

// loadCheckedAttempt loads the id attempt & its invitation and verifies c may operate on it.
// It must be called holding the invitation token lock.
// replayLast allows a LastStep replay on the attempt that finished the invitation.
func (self *Service) loadCheckedAttempt(ctx context.Context, c caller, token Token, id AttemptID, replayLast bool) (Invitation, GreetingAttempt, error) {
	var attempt GreetingAttempt

	inv, err := self.loadInvitation(ctx, c.org, token)
	if nil != err {
		return inv, attempt, err
	}
	if !(replayLast && DeletedFinished == inv.DeletedReason && id == inv.FinishedAttempt) {
		err = checkPending(inv)
		if nil != err {
			return inv, attempt, err
		}
	}
	if SideGreeter == c.side {
		err = self.checkGreeter(ctx, c, inv, c.user.ID)
		if nil != err {
			return inv, attempt, err
		}
	}

	attempt, err = self.loadAttempt(ctx, c.org, id)
	if nil != err {
		return inv, attempt, err
	}
	if attempt.Token != inv.Token || (SideGreeter == c.side && attempt.GreeterUserID != c.user.ID) {
		return inv, attempt, raise(ErrGreetingAttemptNotFound, "unknown greeting attempt %s", id)
	}
	if SideClaimer == c.side {
		err = self.checkGreeter(ctx, c, inv, attempt.GreeterUserID)
		if nil != err {
			return inv, attempt, err
		}
	}
	if nil != attempt.Cancelled {
		return inv, attempt, &AttemptCancelledError{
			Origin:    attempt.Cancelled.Origin,
			Reason:    attempt.Cancelled.Reason,
			Timestamp: attempt.Cancelled.On,
		}
	}
	if !attempt.Joined(c.side) {
		return inv, attempt, raise(ErrGreetingAttemptNotJoined, "%s has not joined greeting attempt %s", c.side, id)
	}

	return inv, attempt, nil
}

// GreeterCancelGreetingAttempt cancels the id attempt on behalf of its greeter.
func (self *Service) GreeterCancelGreetingAttempt(ctx context.Context, author Author, id AttemptID, reason CancelReason) error {
	c, err := self.greeterCaller(ctx, author)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting attempt cancel", "org", author.Org, "author", author.DeviceID, "error", err)
		return err
	}
	return self.cancelAttemptAs(ctx, c, id, reason)
}

// ClaimerCancelGreetingAttempt cancels the id attempt on behalf of its claimer.
func (self *Service) ClaimerCancelGreetingAttempt(ctx context.Context, invited Invited, id AttemptID, reason CancelReason) error {
	c, err := self.claimerCaller(ctx, invited)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting attempt cancel", "org", invited.Org, "token", invited.Token, "error", err)
		return err
	}
	return self.cancelAttemptAs(ctx, c, id, reason)
}

func (self *Service) cancelAttemptAs(ctx context.Context, c caller, id AttemptID, reason CancelReason) error {
	log := observability.GetObservability(ctx).Log().With(c.logArgs()...).With("attempt", id)

	err := reason.Check()
	if nil != err {
		return err
	}
	token, err := self.attemptToken(ctx, c, id)
	if nil != err {
		log.Debug("rejected greeting attempt cancel", "error", err)
		return err
	}

	unlock := self.locks.Lock(tokenLockKey(c.org, token))
	defer unlock()

	inv, attempt, err := self.loadCheckedAttempt(ctx, c, token, id, false)
	if nil != err {
		log.Debug("rejected greeting attempt cancel", "error", err)
		return err
	}
	if SideClaimer == c.side {
		self.touchClaimer(ctx, inv.Org, inv.Token)
	}

	return self.cancelAttempt(ctx, &attempt, c.side, reason, self.clock.Now())
}

// cancelAttempt marks attempt cancelled, saves it & wakes up its waiters.
// It must be called holding the invitation token lock.
func (self *Service) cancelAttempt(ctx context.Context, attempt *GreetingAttempt, origin Side, reason CancelReason, now time.Time) error {
	attempt.Cancelled = &CancelInfo{Origin: origin, Reason: reason, On: now}
	err := self.store.SaveAttempt(ctx, *attempt)
	if nil != err {
		return wrapError(err, "failed saving greeting attempt")
	}
	self.wakes.Broadcast(tokenLockKey(attempt.Org, attempt.Token))

	observability.GetObservability(ctx).Log().Info(
		"cancelled greeting attempt",
		"org", attempt.Org,
		"token", attempt.Token,
		"attempt", attempt.ID,
		"origin", origin,
		"reason", reason,
	)
	self.publish(ctx, Event{
		Kind:      EventGreetingAttemptCancelled,
		Org:       attempt.Org,
		Token:     attempt.Token,
		AttemptID: attempt.ID,
		Origin:    origin,
		Reason:    reason,
		Timestamp: now,
	})

	return nil
}
