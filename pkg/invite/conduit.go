package invite

import (
	"bytes"
	"context"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
)

// LastStep is the step number whose release finishes the invitation.
const LastStep = 8

// StepResult is the outcome of a step call.
// Ready is false while the peer has not written the step, Payload & Last are then empty.
type StepResult struct {
	Ready   bool   `json:"ready" cbor:"1,keyasint"`
	Payload []byte `json:"payload,omitempty" cbor:"2,keyasint,omitempty"`
	Last    bool   `json:"last,omitempty" cbor:"3,keyasint,omitempty"`
}

// GreeterStep writes payload in the greeter cell n of the id attempt and waits for the claimer cell n.
func (self *Service) GreeterStep(ctx context.Context, author Author, id AttemptID, n int, payload []byte) (StepResult, error) {
	c, err := self.greeterCaller(ctx, author)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting step", "org", author.Org, "author", author.DeviceID, "error", err)
		return StepResult{}, err
	}
	return self.step(ctx, c, id, n, payload)
}

// ClaimerStep writes payload in the claimer cell n of the id attempt and waits for the greeter cell n.
func (self *Service) ClaimerStep(ctx context.Context, invited Invited, id AttemptID, n int, payload []byte) (StepResult, error) {
	c, err := self.claimerCaller(ctx, invited)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected greeting step", "org", invited.Org, "token", invited.Token, "error", err)
		return StepResult{}, err
	}
	return self.step(ctx, c, id, n, payload)
}

// step repeats evalStep until the peer cell is released, an error occurs or the long poll expires.
// On expiry it returns a StepResult that is not Ready.
func (self *Service) step(ctx context.Context, c caller, id AttemptID, n int, payload []byte) (StepResult, error) {
	log := observability.GetObservability(ctx).Log().With(c.logArgs()...).With("attempt", id, "step", n)

	if n < 0 || n > LastStep {
		err := raise(ErrInvalidInput, "invalid step %d", n)
		log.Debug("rejected greeting step", "error", err)
		return StepResult{}, err
	}
	token, err := self.attemptToken(ctx, c, id)
	if nil != err {
		log.Debug("rejected greeting step", "error", err)
		return StepResult{}, err
	}
	timer := time.NewTimer(self.longPollTimeout)
	defer timer.Stop()

	wakeKey := tokenLockKey(c.org, token)
	for {
		wake := self.wakes.Chan(wakeKey)
		res, err := self.evalStep(ctx, c, token, id, n, payload)
		if nil != err {
			log.Debug("rejected greeting step", "error", err)
			return res, err
		}
		if res.Ready {
			return res, nil
		}

		select {
		case <-wake:
		case <-timer.C:
			return res, nil
		case <-ctx.Done():
			return res, wrapError(ctx.Err(), "step wait interrupted")
		}
	}
}

// evalStep applies the step cell rules under the token lock.
func (self *Service) evalStep(ctx context.Context, c caller, token Token, id AttemptID, n int, payload []byte) (StepResult, error) {
	var rv StepResult

	unlock := self.locks.Lock(tokenLockKey(c.org, token))
	defer unlock()

	inv, attempt, err := self.loadCheckedAttempt(ctx, c, token, id, LastStep == n)
	if nil != err {
		return rv, err
	}
	if SideClaimer == c.side && !inv.Deleted() {
		self.touchClaimer(ctx, inv.Org, inv.Token)
	}

	own := attempt.Steps(c.side)
	peer := attempt.Steps(c.side.Peer())
	switch {
	case n > len(own) || n > len(peer):
		return rv, self.protocolError(ctx, inv, &attempt, c.side,
			raise(ErrStepTooAdvanced, "step %d ahead of %s cursor %d & peer cursor %d", n, c.side, len(own), len(peer)),
		)
	case n < len(own):
		if !bytes.Equal(own[n], payload) {
			return rv, self.protocolError(ctx, inv, &attempt, c.side,
				raise(ErrStepMismatch, "step %d already written with another payload", n),
			)
		}
	default:
		attempt.appendStep(c.side, payload)
		err = self.store.SaveAttempt(ctx, attempt)
		if nil != err {
			return rv, wrapError(err, "failed saving greeting attempt")
		}
		self.wakes.Broadcast(tokenLockKey(inv.Org, inv.Token))
	}

	if n >= len(peer) {
		return rv, nil
	}

	rv.Ready = true
	rv.Payload = bytes.Clone(peer[n])
	rv.Last = LastStep == n
	if rv.Last && !inv.Deleted() {
		err = self.finishInvitation(ctx, inv, attempt.ID)
		if nil != err {
			return StepResult{}, err
		}
	}

	return rv, nil
}

// protocolError cancels attempt on behalf of the offending side and returns cause.
func (self *Service) protocolError(ctx context.Context, inv Invitation, attempt *GreetingAttempt, side Side, cause error) error {
	if inv.Deleted() {
		return cause
	}
	err := self.cancelAttempt(ctx, attempt, side, ReasonAutomaticallyCanceled, self.clock.Now())
	if nil != err {
		observability.GetObservability(ctx).Log().Warn("failed cancelling greeting attempt", "attempt", attempt.ID, "error", err)
	}
	return cause
}

// finishInvitation marks inv FINISHED by the id attempt.
// It must be called holding the invitation token lock.
func (self *Service) finishInvitation(ctx context.Context, inv Invitation, id AttemptID) error {
	now := self.clock.Now()
	inv.DeletedOn = &now
	inv.DeletedReason = DeletedFinished
	inv.FinishedAttempt = id
	err := self.store.UpdateInvitation(ctx, inv)
	if nil != err {
		return wrapError(err, "failed saving invitation")
	}
	self.claimers.Drop(presenceKey{org: inv.Org, token: inv.Token})
	self.wakes.Broadcast(tokenLockKey(inv.Org, inv.Token))

	observability.GetObservability(ctx).Log().Info("finished invitation", "org", inv.Org, "token", inv.Token, "attempt", id)
	self.publish(ctx, Event{
		Kind:      EventInvitationStatusChanged,
		Org:       inv.Org,
		Token:     inv.Token,
		Status:    StatusFinished,
		Timestamp: now,
	})

	return nil
}
