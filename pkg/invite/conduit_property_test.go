package invite

import (
	"bytes"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genPayloads() gopter.Gen {
	payload := gen.SliceOf(gen.UInt8()).Map(func(v []uint8) []byte {
		return []byte(v)
	})
	return gen.SliceOfN(LastStep+1, payload)
}

func sameResult(a, b StepResult) bool {
	return a.Ready == b.Ready && a.Last == b.Last && bytes.Equal(a.Payload, b.Payload)
}

func TestConduitProperties(t *testing.T) {
	newPropertyEnv := func() (*testEnv, Invited, AttemptID) {
		env := &testEnv{store: NewMemStore(), identity: newTestIdentity(t)}
		svc, err := NewService(Config{
			Store:           env.store,
			Identity:        env.identity,
			LongPollTimeout: time.Millisecond,
		})
		if nil != err {
			t.Fatalf("failed NewService, got error %v", err)
		}
		env.svc = svc
		token := env.newUserInvitation(t)
		return env, Invited{Org: testOrg, Token: token}, env.activeAttempt(t, token)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("a step is released once both sides wrote it", prop.ForAll(
		func(greeter, claimer [][]byte) bool {
			env, invited, id := newPropertyEnv()
			ctx := testContext()
			for n := range LastStep + 1 {
				early, err := env.svc.ClaimerStep(ctx, invited, id, n, claimer[n])
				if nil != err || early.Ready {
					return false
				}
				gres, err := env.svc.GreeterStep(ctx, alice, id, n, greeter[n])
				if nil != err || !gres.Ready || !bytes.Equal(claimer[n], gres.Payload) {
					return false
				}
				cres, err := env.svc.ClaimerStep(ctx, invited, id, n, claimer[n])
				if nil != err || !cres.Ready || !bytes.Equal(greeter[n], cres.Payload) {
					return false
				}
				if (LastStep == n) != gres.Last || gres.Last != cres.Last {
					return false
				}
			}
			return true
		},
		genPayloads(),
		genPayloads(),
	))

	properties.Property("repeating a step returns the same release", prop.ForAll(
		func(greeter, claimer [][]byte) bool {
			env, invited, id := newPropertyEnv()
			ctx := testContext()
			for n := range LastStep + 1 {
				env.svc.GreeterStep(ctx, alice, id, n, greeter[n])
				first, err := env.svc.ClaimerStep(ctx, invited, id, n, claimer[n])
				if nil != err || !first.Ready {
					return false
				}
				for range 2 {
					again, err := env.svc.ClaimerStep(ctx, invited, id, n, claimer[n])
					if nil != err || !sameResult(first, again) {
						return false
					}
				}
				gres, err := env.svc.GreeterStep(ctx, alice, id, n, greeter[n])
				if nil != err || !gres.Ready || !bytes.Equal(claimer[n], gres.Payload) {
					return false
				}
			}
			return true
		},
		genPayloads(),
		genPayloads(),
	))

	properties.TestingRun(t)
}
