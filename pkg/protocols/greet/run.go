package greet

import (
	"context"
	"errors"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols"
)

// MaxRestarts bounds how many times a side joins a new attempt after its peer restarted.
const MaxRestarts = 8

// RunGreeter greets the claimer of the conduit invitation.
//
// RunGreeter joins a greeting attempt and runs the greeter handshake over it.
// It joins a new attempt when the claimer restarts, and cancels the attempt when the handshake fails.
func RunGreeter(ctx context.Context, cfg GreeterCfg, conduit Conduit) error {
	log := observability.GetObservability(ctx).Log().With("side", invite.SideGreeter)

	for restart := 0; ; restart++ {
		state, err := NewGreeterState(cfg)
		if nil != err {
			return err
		}
		err = runAttempt(ctx, conduit, state)
		if restart < MaxRestarts && peerRestarted(err) {
			log.Info("claimer restarted, joining a new attempt", "restart", restart+1)
			continue
		}
		return err
	}
}

// RunClaimer claims the conduit invitation and returns the EnrollmentPayload sent by the greeter.
//
// RunClaimer joins a greeting attempt and runs the claimer handshake over it.
// It joins a new attempt when the greeter restarts, and cancels the attempt when the handshake fails.
func RunClaimer(ctx context.Context, cfg ClaimerCfg, conduit Conduit) (EnrollmentPayload, error) {
	log := observability.GetObservability(ctx).Log().With("side", invite.SideClaimer)

	for restart := 0; ; restart++ {
		state, err := NewClaimerState(cfg)
		if nil != err {
			return EnrollmentPayload{}, err
		}
		err = runAttempt(ctx, conduit, state)
		if nil == err {
			return state.Enrollment, nil
		}
		if restart < MaxRestarts && peerRestarted(err) {
			log.Info("greeter restarted, joining a new attempt", "restart", restart+1)
			continue
		}
		return EnrollmentPayload{}, err
	}
}

// runAttempt joins an attempt of conduit and runs fsm over it.
// A failed handshake cancels the attempt with the reason matching the failure.
func runAttempt[S any](ctx context.Context, conduit Conduit, fsm protocols.Fsm[S]) error {
	log := observability.GetObservability(ctx).Log()

	id, err := conduit.Start(ctx)
	if nil != err {
		return wrapError(err, "failed joining greeting attempt")
	}
	log = log.With("attempt", id)
	log.Debug("joined greeting attempt")

	tr := NewConduitTransport(ctx, conduit, id)
	err = protocols.Run(ctx, fsm, tr)
	if nil == err {
		return nil
	}
	if errors.Is(err, invite.ErrGreetingAttemptCancelled) || errors.Is(err, invite.ErrInvitationDeleted) ||
		errors.Is(err, invite.ErrInvitationCompleted) || errors.Is(err, invite.ErrInvitationCancelled) {
		log.Debug("greeting attempt ended by peer", "released", tr.Released(), "error", err)
		return err
	}

	reason := CancelReason(err)
	log.Info("cancelling failed greeting attempt", "released", tr.Released(), "reason", reason, "error", err)
	errCancel := conduit.Cancel(context.WithoutCancel(ctx), id, reason)
	if nil != errCancel {
		log.Debug("failed cancelling greeting attempt", "error", errCancel)
	}
	return err
}

// peerRestarted returns true if err reports an attempt automatically cancelled by a new start.
func peerRestarted(err error) bool {
	var cancelled *invite.AttemptCancelledError
	if !errors.As(err, &cancelled) {
		return false
	}
	return invite.ReasonAutomaticallyCanceled == cancelled.Reason
}
