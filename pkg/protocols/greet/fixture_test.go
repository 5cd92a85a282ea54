package greet

import (
	"context"
	"slices"
	"testing"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

const testOrg = invite.OrganizationID("CoolOrg")

var alice = invite.Author{Org: testOrg, DeviceID: "alice@dev1"}

var errAborted = newError("aborted")

// sasBoard carries the SAS codes shown by one side to the other.
type sasBoard struct {
	greeter chan sas.Code
	claimer chan sas.Code
	abort   chan struct{}
}

func newSasBoard() *sasBoard {
	return &sasBoard{
		greeter: make(chan sas.Code, MaxRestarts+1),
		claimer: make(chan sas.Code, MaxRestarts+1),
		abort:   make(chan struct{}),
	}
}

// pick returns the code read on ch, or a decoy if wrong is set.
func (self *sasBoard) pick(ch chan sas.Code, candidates []sas.Code, wrong bool) (sas.Code, error) {
	var code sas.Code
	select {
	case code = <-ch:
	case <-self.abort:
		return "", errAborted
	}
	if !slices.Contains(candidates, code) {
		return "", newError("shown code %s not in candidates", code)
	}
	if !wrong {
		return code, nil
	}
	for _, c := range candidates {
		if c != code {
			return c, nil
		}
	}
	return "", newError("no decoy in candidates")
}

type greeterUI struct {
	board *sasBoard
	wrong bool
}

func (self greeterUI) ShowGreeterSas(_ context.Context, code sas.Code) error {
	self.board.greeter <- code
	return nil
}

func (self greeterUI) PickClaimerSas(_ context.Context, candidates []sas.Code) (sas.Code, error) {
	return self.board.pick(self.board.claimer, candidates, self.wrong)
}

type claimerUI struct {
	board *sasBoard
	wrong bool
}

func (self claimerUI) ShowClaimerSas(_ context.Context, code sas.Code) error {
	self.board.claimer <- code
	return nil
}

func (self claimerUI) PickGreeterSas(_ context.Context, candidates []sas.Code) (sas.Code, error) {
	return self.board.pick(self.board.greeter, candidates, self.wrong)
}

// enrollMike answers USER requests with the mike enrollment.
func enrollMike(_ context.Context, req ClaimerRequest) (EnrollmentPayload, error) {
	return EnrollmentPayload{
		Kind:          invite.KindUser,
		UserID:        "mike",
		DeviceID:      "mike@dev1",
		Profile:       invite.ProfileStandard,
		HumanHandle:   req.HumanHandle,
		DeviceLabel:   req.DeviceLabel,
		RootVerifyKey: make([]byte, 32),
	}, nil
}

func mikeRequest() ClaimerRequest {
	return ClaimerRequest{
		Kind:        invite.KindUser,
		DeviceLabel: "dev1",
		HumanHandle: invite.HumanHandle{Email: "mike@example.org", Label: "Mike"},
		PublicKey:   make([]byte, 32),
		VerifyKey:   make([]byte, 32),
	}
}

type testEnv struct {
	svc   *invite.Service
	store *invite.MemStore
	token invite.Token
	board *sasBoard
}

// newTestEnv returns a Service holding a USER invitation for mike created by alice.
// It must be called inside the synctest bubble that runs the greeting.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	must := func(err error) {
		if nil != err {
			t.Fatalf("failed setting up test environment, got error %v", err)
		}
	}
	ident := invite.NewMemIdentity()
	must(ident.SaveOrganization(invite.Organization{ID: testOrg}))
	must(ident.SaveUser(testOrg, invite.User{
		ID:          "alice",
		HumanHandle: invite.HumanHandle{Email: "alice@example.org", Label: "Alice"},
		Profile:     invite.ProfileAdmin,
	}))
	must(ident.SaveDevice(testOrg, invite.Device{ID: "alice@dev1", Label: "dev1"}))

	env := &testEnv{store: invite.NewMemStore(), board: newSasBoard()}
	svc, err := invite.NewService(invite.Config{
		Store:     env.store,
		Identity:  ident,
		ServerURL: "https://parsec.example.org",
	})
	must(err)
	env.svc = svc

	res, err := svc.NewUserInvitation(testContext(), alice, "mike@example.org", false)
	must(err)
	env.token = res.Token

	return env
}

func (self *testEnv) greeter() ServiceGreeter {
	return ServiceGreeter{Service: self.svc, Author: alice, Token: self.token}
}

func (self *testEnv) claimer() ServiceClaimer {
	return ServiceClaimer{
		Service:       self.svc,
		Invited:       invite.Invited{Org: testOrg, Token: self.token},
		GreeterUserID: "alice",
	}
}

func (self *testEnv) greeterCfg(wrong bool) GreeterCfg {
	return GreeterCfg{
		Suite:  DefaultSuite,
		Kind:   invite.KindUser,
		UI:     greeterUI{board: self.board, wrong: wrong},
		Enroll: enrollMike,
	}
}

func (self *testEnv) claimerCfg(wrong bool) ClaimerCfg {
	return ClaimerCfg{
		Suite:   DefaultSuite,
		UI:      claimerUI{board: self.board, wrong: wrong},
		Request: mikeRequest(),
	}
}

// lastAttempt returns the most recent attempt of the env invitation.
func (self *testEnv) lastAttempt(t *testing.T) invite.GreetingAttempt {
	t.Helper()
	attempts, err := self.store.ListAttempts(testContext(), testOrg, self.token)
	if nil != err {
		t.Fatalf("failed ListAttempts, got error %v", err)
	}
	if 0 == len(attempts) {
		t.Fatalf("failed ListAttempts, no attempt")
	}
	return attempts[len(attempts)-1]
}

func (self *testEnv) status(t *testing.T) invite.Status {
	t.Helper()
	infos, err := self.svc.ListInvitations(testContext(), alice)
	if nil != err {
		t.Fatalf("failed ListInvitations, got error %v", err)
	}
	for _, info := range infos {
		if self.token == info.Token {
			return info.Status
		}
	}
	t.Fatalf("failed ListInvitations, invitation not listed")
	return ""
}

func testContext() context.Context {
	return observability.SetObservability(context.Background(), &observability.Observability{Logger: observability.NoopLogger()})
}

type claimResult struct {
	payload EnrollmentPayload
	err     error
}

// goClaim runs RunClaimer in a new goroutine.
func goClaim(ctx context.Context, cfg ClaimerCfg, conduit Conduit) <-chan claimResult {
	rc := make(chan claimResult, 1)
	go func() {
		payload, err := RunClaimer(ctx, cfg, conduit)
		rc <- claimResult{payload: payload, err: err}
	}()
	return rc
}
