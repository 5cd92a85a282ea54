package greet

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"testing/synctest"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

func TestGreetingSuccess(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()

		rc := goClaim(ctx, env.claimerCfg(false), env.claimer())
		err := RunGreeter(ctx, env.greeterCfg(false), env.greeter())
		if nil != err {
			t.Fatalf("failed RunGreeter, got error %v", err)
		}
		res := <-rc
		if nil != res.err {
			t.Fatalf("failed RunClaimer, got error %v", res.err)
		}

		payload := res.payload
		if invite.KindUser != payload.Kind {
			t.Errorf("failed payload Kind control, %s != USER", payload.Kind)
		}
		if "mike" != payload.UserID || "mike@dev1" != payload.DeviceID {
			t.Errorf("failed payload ids control, got %s & %s", payload.UserID, payload.DeviceID)
		}
		if invite.ProfileStandard != payload.Profile {
			t.Errorf("failed payload Profile control, %s != STANDARD", payload.Profile)
		}
		if "mike@example.org" != payload.HumanHandle.Email {
			t.Errorf("failed payload HumanHandle control, got %s", payload.HumanHandle)
		}
		if status := env.status(t); invite.StatusFinished != status {
			t.Errorf("failed invitation status control, %s != FINISHED", status)
		}
	})
}

func TestGreetingWrongSas(t *testing.T) {
	testcases := []struct {
		name         string
		greeterWrong bool
		claimerWrong bool
		origin       invite.Side
	}{
		{name: "greeter picks wrong code", greeterWrong: true, origin: invite.SideGreeter},
		{name: "claimer picks wrong code", claimerWrong: true, origin: invite.SideClaimer},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				env := newTestEnv(t)
				ctx := testContext()

				rc := goClaim(ctx, env.claimerCfg(tc.claimerWrong), env.claimer())
				errGreeter := RunGreeter(ctx, env.greeterCfg(tc.greeterWrong), env.greeter())
				errClaimer := (<-rc).err

				errPicker, errPeer := errGreeter, errClaimer
				if invite.SideClaimer == tc.origin {
					errPicker, errPeer = errClaimer, errGreeter
				}
				if !errors.Is(errPicker, ErrInvalidSasCode) {
					t.Errorf("failed picker ErrInvalidSasCode check, got %v", errPicker)
				}
				var cancelled *invite.AttemptCancelledError
				if !errors.As(errPeer, &cancelled) {
					t.Fatalf("failed peer AttemptCancelledError check, got %v", errPeer)
				}
				if tc.origin != cancelled.Origin || invite.ReasonInvalidSasCode != cancelled.Reason {
					t.Errorf("failed cancellation control, got %s/%s", cancelled.Origin, cancelled.Reason)
				}
				if status := env.status(t); invite.StatusFinished == status {
					t.Errorf("failed invitation status control, got FINISHED")
				}
			})
		})
	}
}

// tamperConduit replaces the payload written at step tamperAt.
type tamperConduit struct {
	Conduit
	tamperAt int
	payload  []byte
}

func (self tamperConduit) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	if self.tamperAt == n {
		payload = self.payload
	}
	return self.Conduit.Step(ctx, id, n, payload)
}

func TestGreetingTamperedReveal(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()

		nonce := make([]byte, NonceSize)
		rand.Read(nonce)
		forged, err := cborSrz.Marshal(NonceMsg{Nonce: nonce})
		if nil != err {
			t.Fatalf("failed marshal of forged NonceMsg, got error %v", err)
		}
		conduit := tamperConduit{Conduit: env.claimer(), tamperAt: 3, payload: forged}

		rc := goClaim(ctx, env.claimerCfg(false), conduit)
		errGreeter := RunGreeter(ctx, env.greeterCfg(false), env.greeter())
		close(env.board.abort)
		errClaimer := (<-rc).err

		if !errors.Is(errGreeter, ErrInvalidNonceHash) {
			t.Errorf("failed greeter ErrInvalidNonceHash check, got %v", errGreeter)
		}
		if nil == errClaimer {
			t.Errorf("failed claimer error check, got nil")
		}
		attempt := env.lastAttempt(t)
		if nil == attempt.Cancelled {
			t.Fatalf("failed attempt cancellation check, attempt not cancelled")
		}
		if invite.SideGreeter != attempt.Cancelled.Origin || invite.ReasonInvalidNonceHash != attempt.Cancelled.Reason {
			t.Errorf("failed cancellation control, got %s/%s", attempt.Cancelled.Origin, attempt.Cancelled.Reason)
		}
	})
}

// crashConduit fails from step crashAt on, as a greeter whose process died would.
type crashConduit struct {
	Conduit
	crashAt int
}

var errCrashed = newError("crashed")

func (self crashConduit) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	if n >= self.crashAt {
		return invite.StepResult{}, errCrashed
	}
	return self.Conduit.Step(ctx, id, n, payload)
}

func (self crashConduit) Cancel(_ context.Context, _ invite.AttemptID, _ invite.CancelReason) error {
	return errCrashed
}

func TestGreetingGreeterRestart(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()

		rc := goClaim(ctx, env.claimerCfg(false), env.claimer())

		err := RunGreeter(ctx, env.greeterCfg(false), crashConduit{Conduit: env.greeter(), crashAt: 2})
		if !errors.Is(err, errCrashed) {
			t.Fatalf("failed crashed RunGreeter check, got %v", err)
		}
		err = RunGreeter(ctx, env.greeterCfg(false), env.greeter())
		if nil != err {
			t.Fatalf("failed restarted RunGreeter, got error %v", err)
		}
		res := <-rc
		if nil != res.err {
			t.Fatalf("failed RunClaimer, got error %v", res.err)
		}
		if "mike" != res.payload.UserID {
			t.Errorf("failed payload UserID control, %s != mike", res.payload.UserID)
		}

		attempts, err := env.store.ListAttempts(ctx, testOrg, env.token)
		if nil != err {
			t.Fatalf("failed ListAttempts, got error %v", err)
		}
		if 2 != len(attempts) {
			t.Fatalf("failed attempts count control, %d != 2", len(attempts))
		}
		first := attempts[0].Cancelled
		if nil == first {
			t.Fatalf("failed first attempt cancellation check, attempt not cancelled")
		}
		if invite.SideGreeter != first.Origin || invite.ReasonAutomaticallyCanceled != first.Reason {
			t.Errorf("failed first attempt cancellation control, got %s/%s", first.Origin, first.Reason)
		}
		if status := env.status(t); invite.StatusFinished != status {
			t.Errorf("failed invitation status control, %s != FINISHED", status)
		}
	})
}

func TestGreetingClaimerInterrupted(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()

		_, err := env.svc.GreeterStartGreetingAttempt(ctx, alice, env.token)
		if nil != err {
			t.Fatalf("failed GreeterStartGreetingAttempt, got error %v", err)
		}

		claimCtx, cancel := context.WithCancel(ctx)
		rc := goClaim(claimCtx, env.claimerCfg(false), env.claimer())
		synctest.Wait()
		cancel()

		res := <-rc
		if !errors.Is(res.err, context.Canceled) {
			t.Errorf("failed context.Canceled check, got %v", res.err)
		}
		attempt := env.lastAttempt(t)
		if nil == attempt.Cancelled {
			t.Fatalf("failed attempt cancellation check, attempt not cancelled")
		}
		if invite.SideClaimer != attempt.Cancelled.Origin || invite.ReasonManual != attempt.Cancelled.Reason {
			t.Errorf("failed cancellation control, got %s/%s", attempt.Cancelled.Origin, attempt.Cancelled.Reason)
		}
	})
}
