package invite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/synctest"
	"time"
)

type stepOutcome struct {
	res StepResult
	err error
}

func TestStepPairing(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()
		token := env.newUserInvitation(t)
		invited := Invited{Org: testOrg, Token: token}
		id := env.activeAttempt(t, token)

		done := make(chan stepOutcome, 1)
		go func() {
			res, err := env.svc.GreeterStep(ctx, alice, id, 0, []byte("greeter key"))
			done <- stepOutcome{res: res, err: err}
		}()
		synctest.Wait()
		select {
		case <-done:
			t.Fatal("failed wait check, greeter step returned before the claimer wrote")
		default:
		}

		res, err := env.svc.ClaimerStep(ctx, invited, id, 0, []byte("claimer key"))
		if nil != err {
			t.Fatalf("failed ClaimerStep, got error %v", err)
		}
		if !res.Ready || !bytes.Equal([]byte("greeter key"), res.Payload) || res.Last {
			t.Errorf("failed claimer release check, got %+v", res)
		}

		out := <-done
		if nil != out.err {
			t.Fatalf("failed GreeterStep, got error %v", out.err)
		}
		if !out.res.Ready || !bytes.Equal([]byte("claimer key"), out.res.Payload) {
			t.Errorf("failed greeter release check, got %+v", out.res)
		}
	})
}

func TestStepLongPollTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()
		token := env.newUserInvitation(t)
		id := env.activeAttempt(t, token)

		start := time.Now()
		res, err := env.svc.GreeterStep(ctx, alice, id, 0, []byte("greeter key"))
		if nil != err {
			t.Fatalf("failed GreeterStep, got error %v", err)
		}
		if res.Ready {
			t.Errorf("failed NotReady check, got %+v", res)
		}
		if elapsed := time.Since(start); DefaultLongPollTimeout != elapsed {
			t.Errorf("failed long poll check, returned after %s", elapsed)
		}

		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err = env.svc.GreeterStep(cctx, alice, id, 0, []byte("greeter key"))
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("failed context check, got %v", err)
		}
	})
}

func TestStepIdempotentRetry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()
		token := env.newUserInvitation(t)
		invited := Invited{Org: testOrg, Token: token}
		id := env.activeAttempt(t, token)

		// claimer times out waiting then retries with the same payload
		res, err := env.svc.ClaimerStep(ctx, invited, id, 0, []byte("P"))
		if nil != err || res.Ready {
			t.Fatalf("failed first ClaimerStep, got %+v & error %v", res, err)
		}

		gres, err := env.svc.GreeterStep(ctx, alice, id, 0, []byte("G"))
		if nil != err || !gres.Ready {
			t.Fatalf("failed GreeterStep, got %+v & error %v", gres, err)
		}

		for i := range 2 {
			res, err = env.svc.ClaimerStep(ctx, invited, id, 0, []byte("P"))
			if nil != err {
				t.Fatalf("#%d: failed ClaimerStep retry, got error %v", i, err)
			}
			if !res.Ready || !bytes.Equal([]byte("G"), res.Payload) {
				t.Errorf("#%d: failed retry release check, got %+v", i, res)
			}
		}
	})
}

func TestStepProtocolErrors(t *testing.T) {
	testcases := []struct {
		name   string
		run    func(env *testEnv, id AttemptID, invited Invited) error
		expect error
		origin Side
	}{
		{
			name: "too advanced",
			run: func(env *testEnv, id AttemptID, invited Invited) error {
				_, err := env.svc.GreeterStep(testContext(), alice, id, 1, nil)
				return err
			},
			expect: ErrStepTooAdvanced,
			origin: SideGreeter,
		},
		{
			name: "two ahead of peer",
			run: func(env *testEnv, id AttemptID, invited Invited) error {
				ctx, cancel := context.WithTimeout(testContext(), time.Second)
				defer cancel()
				env.svc.ClaimerStep(ctx, invited, id, 0, []byte("c0"))
				_, err := env.svc.ClaimerStep(testContext(), invited, id, 1, []byte("c1"))
				return err
			},
			expect: ErrStepTooAdvanced,
			origin: SideClaimer,
		},
		{
			name: "mismatch",
			run: func(env *testEnv, id AttemptID, invited Invited) error {
				ctx, cancel := context.WithTimeout(testContext(), time.Second)
				defer cancel()
				env.svc.ClaimerStep(ctx, invited, id, 0, []byte("c0"))
				_, err := env.svc.ClaimerStep(testContext(), invited, id, 0, []byte("other"))
				return err
			},
			expect: ErrStepMismatch,
			origin: SideClaimer,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				env := newTestEnv(t)
				token := env.newUserInvitation(t)
				invited := Invited{Org: testOrg, Token: token}
				id := env.activeAttempt(t, token)

				err := tc.run(env, id, invited)
				if !errors.Is(err, tc.expect) {
					t.Fatalf("failed error check, expected %v got %v", tc.expect, err)
				}

				var attempt GreetingAttempt
				err = env.store.LoadAttempt(testContext(), testOrg, id, &attempt)
				if nil != err {
					t.Fatalf("failed LoadAttempt, got error %v", err)
				}
				if nil == attempt.Cancelled || tc.origin != attempt.Cancelled.Origin || ReasonAutomaticallyCanceled != attempt.Cancelled.Reason {
					t.Errorf("failed auto cancel check, got %+v", attempt.Cancelled)
				}
			})
		})
	}
}

func TestCancelPreemptsWait(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()
		token := env.newUserInvitation(t)
		invited := Invited{Org: testOrg, Token: token}
		id := env.activeAttempt(t, token)

		for n := range 2 {
			gdone := make(chan error, 1)
			go func() {
				_, err := env.svc.GreeterStep(ctx, alice, id, n, []byte{byte(n)})
				gdone <- err
			}()
			_, err := env.svc.ClaimerStep(ctx, invited, id, n, []byte{byte(n)})
			if nil != err {
				t.Fatalf("failed ClaimerStep %d, got error %v", n, err)
			}
			if err = <-gdone; nil != err {
				t.Fatalf("failed GreeterStep %d, got error %v", n, err)
			}
		}

		done := make(chan error, 1)
		go func() {
			_, err := env.svc.ClaimerStep(ctx, invited, id, 2, []byte("c2"))
			done <- err
		}()
		synctest.Wait()

		start := time.Now()
		err := env.svc.GreeterCancelGreetingAttempt(ctx, alice, id, ReasonManual)
		if nil != err {
			t.Fatalf("failed GreeterCancelGreetingAttempt, got error %v", err)
		}
		err = <-done
		var cancelled *AttemptCancelledError
		if !errors.As(err, &cancelled) {
			t.Fatalf("failed cancelled check, got %v", err)
		}
		if SideGreeter != cancelled.Origin || ReasonManual != cancelled.Reason {
			t.Errorf("failed cancel info check, got %+v", cancelled)
		}
		if elapsed := time.Since(start); elapsed > 0 {
			t.Errorf("failed wake up check, waiter returned after %s", elapsed)
		}
	})
}

// runSteps drives both sides through steps 0..last of the id attempt.
func runSteps(t *testing.T, env *testEnv, invited Invited, id AttemptID, last int) (greeter, claimer []StepResult) {
	t.Helper()
	ctx := testContext()
	for n := 0; n <= last; n++ {
		gdone := make(chan stepOutcome, 1)
		go func() {
			res, err := env.svc.GreeterStep(ctx, alice, id, n, fmt.Appendf(nil, "g%d", n))
			gdone <- stepOutcome{res: res, err: err}
		}()
		res, err := env.svc.ClaimerStep(ctx, invited, id, n, fmt.Appendf(nil, "c%d", n))
		if nil != err {
			t.Fatalf("failed ClaimerStep %d, got error %v", n, err)
		}
		out := <-gdone
		if nil != out.err {
			t.Fatalf("failed GreeterStep %d, got error %v", n, out.err)
		}
		greeter = append(greeter, out.res)
		claimer = append(claimer, res)
	}
	return greeter, claimer
}

func TestFinishInvitation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx := testContext()
		token := env.newUserInvitation(t)
		invited := Invited{Org: testOrg, Token: token}
		id := env.activeAttempt(t, token)

		sub := env.svc.Events().Subscribe(64, func(evt Event) bool {
			return EventInvitationStatusChanged == evt.Kind && StatusFinished == evt.Status
		})
		defer sub.Close()

		greeter, claimer := runSteps(t, env, invited, id, LastStep)
		for n := range LastStep + 1 {
			if !greeter[n].Ready || !claimer[n].Ready {
				t.Fatalf("#%d: failed release check", n)
			}
			if (LastStep == n) != greeter[n].Last || (LastStep == n) != claimer[n].Last {
				t.Errorf("#%d: failed Last check, got %v & %v", n, greeter[n].Last, claimer[n].Last)
			}
			if !bytes.Equal(fmt.Appendf(nil, "c%d", n), greeter[n].Payload) {
				t.Errorf("#%d: failed greeter payload check, got %q", n, greeter[n].Payload)
			}
		}

		select {
		case evt := <-sub.C:
			if token != evt.Token {
				t.Errorf("failed FINISHED event token check, got %+v", evt)
			}
		default:
			t.Error("failed FINISHED event check, no event")
		}

		var inv Invitation
		err := env.store.LoadInvitation(ctx, testOrg, token, &inv)
		if nil != err {
			t.Fatalf("failed LoadInvitation, got error %v", err)
		}
		if DeletedFinished != inv.DeletedReason || id != inv.FinishedAttempt {
			t.Errorf("failed finished check, got %+v", inv)
		}

		// the last step replay keeps its release
		res, err := env.svc.ClaimerStep(ctx, invited, id, LastStep, fmt.Appendf(nil, "c%d", LastStep))
		if nil != err || !res.Ready || !res.Last {
			t.Errorf("failed last step replay, got %+v & error %v", res, err)
		}

		_, err = env.svc.ClaimerStep(ctx, invited, id, 3, []byte("c3"))
		if !errors.Is(err, ErrInvitationCompleted) {
			t.Errorf("failed completed step check, got %v", err)
		}
		_, err = env.svc.GreeterStartGreetingAttempt(ctx, alice, token)
		if !errors.Is(err, ErrInvitationCompleted) {
			t.Errorf("failed completed greeter start check, got %v", err)
		}
		_, err = env.svc.ClaimerStartGreetingAttempt(ctx, invited, "alice")
		if !errors.Is(err, ErrInvitationCompleted) {
			t.Errorf("failed completed claimer start check, got %v", err)
		}
		err = env.svc.CancelInvitation(ctx, alice, token)
		if !errors.Is(err, ErrInvitationAlreadyDeleted) {
			t.Errorf("failed cancel finished check, got %v", err)
		}

		infos, err := env.svc.ListInvitations(ctx, alice)
		if nil != err || 1 != len(infos) || StatusFinished != infos[0].Status {
			t.Errorf("failed FINISHED status check, got %+v & error %v", infos, err)
		}
	})
}

func TestClaimerPresence(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		env := newTestEnv(t)
		ctx, cancel := context.WithCancel(testContext())
		defer cancel()
		token := env.newUserInvitation(t)

		sub := env.svc.Events().Subscribe(16, func(evt Event) bool {
			return EventInvitationStatusChanged == evt.Kind
		})
		defer sub.Close()
		go env.svc.RunPresenceSweeper(ctx, time.Second)

		status := func() Status {
			infos, err := env.svc.ListInvitations(ctx, alice)
			if nil != err {
				t.Fatalf("failed ListInvitations, got error %v", err)
			}
			return infos[0].Status
		}

		if StatusIdle != status() {
			t.Errorf("failed initial IDLE check, got %s", status())
		}
		_, err := env.svc.ClaimerStartGreetingAttempt(ctx, Invited{Org: testOrg, Token: token}, "alice")
		if nil != err {
			t.Fatalf("failed ClaimerStartGreetingAttempt, got error %v", err)
		}
		if StatusReady != status() {
			t.Errorf("failed READY check, got %s", status())
		}

		time.Sleep(DefaultClaimerLease + time.Second)
		synctest.Wait()
		if StatusIdle != status() {
			t.Errorf("failed IDLE after lease check, got %s", status())
		}

		for _, expect := range []Status{StatusReady, StatusIdle} {
			select {
			case evt := <-sub.C:
				if expect != evt.Status || token != evt.Token {
					t.Errorf("failed %s event check, got %+v", expect, evt)
				}
			default:
				t.Errorf("failed %s event check, no event", expect)
			}
		}
	})
}
