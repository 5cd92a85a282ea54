package invite

import (
	"context"
	"sync"
	"testing"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
)

const (
	testOrg    = OrganizationID("CoolOrg")
	expiredOrg = OrganizationID("OldOrg")
)

var (
	alice   = Author{Org: testOrg, DeviceID: "alice@dev1"}   // ADMIN
	carol   = Author{Org: testOrg, DeviceID: "carol@dev1"}   // ADMIN
	bob     = Author{Org: testOrg, DeviceID: "bob@dev1"}     // STANDARD
	mallory = Author{Org: testOrg, DeviceID: "mallory@dev1"} // revoked ADMIN
	ghost   = Author{Org: testOrg, DeviceID: "ghost@dev1"}   // unknown
	oldAdm  = Author{Org: expiredOrg, DeviceID: "alice@dev1"}
)

type recordingMailer struct {
	mut    sync.Mutex
	status EmailSentStatus
	sent   []InvitationEmail
}

func (self *recordingMailer) SendInvitation(_ context.Context, msg InvitationEmail) EmailSentStatus {
	self.mut.Lock()
	defer self.mut.Unlock()
	self.sent = append(self.sent, msg)
	if "" == self.status {
		return EmailSuccess
	}
	return self.status
}

func (self *recordingMailer) Sent() []InvitationEmail {
	self.mut.Lock()
	defer self.mut.Unlock()
	return append([]InvitationEmail(nil), self.sent...)
}

type testEnv struct {
	svc      *Service
	store    *MemStore
	identity *MemIdentity
	mailer   *recordingMailer
}

func newTestIdentity(t *testing.T) *MemIdentity {
	t.Helper()

	ident := NewMemIdentity()
	must := func(err error) {
		if nil != err {
			t.Fatalf("failed setting up identities, got error %v", err)
		}
	}
	must(ident.SaveOrganization(Organization{ID: testOrg}))
	must(ident.SaveOrganization(Organization{ID: expiredOrg, Expired: true}))

	users := []User{
		{ID: "alice", HumanHandle: HumanHandle{Email: "alice@example.org", Label: "Alice"}, Profile: ProfileAdmin},
		{ID: "carol", HumanHandle: HumanHandle{Email: "carol@example.org", Label: "Carol"}, Profile: ProfileAdmin},
		{ID: "bob", HumanHandle: HumanHandle{Email: "bob@example.org", Label: "Bob"}, Profile: ProfileStandard},
		{ID: "mallory", HumanHandle: HumanHandle{Email: "mallory@example.org", Label: "Mallory"}, Profile: ProfileAdmin, Revoked: true},
	}
	for _, user := range users {
		must(ident.SaveUser(testOrg, user))
		must(ident.SaveDevice(testOrg, Device{ID: DeviceID(string(user.ID) + "@dev1"), Label: "dev1"}))
	}
	must(ident.SaveUser(expiredOrg, users[0]))
	must(ident.SaveDevice(expiredOrg, Device{ID: "alice@dev1", Label: "dev1"}))

	return ident
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:    NewMemStore(),
		identity: newTestIdentity(t),
		mailer:   &recordingMailer{},
	}
	svc, err := NewService(Config{
		Store:     env.store,
		Identity:  env.identity,
		Mailer:    env.mailer,
		ServerURL: "https://parsec.example.org",
	})
	if nil != err {
		t.Fatalf("failed NewService, got error %v", err)
	}
	env.svc = svc

	return env
}

func testContext() context.Context {
	return observability.SetObservability(context.Background(), &observability.Observability{Logger: observability.NoopLogger()})
}

// newUserInvitation returns the token of a USER invitation for mike created by alice.
func (self *testEnv) newUserInvitation(t *testing.T) Token {
	t.Helper()
	res, err := self.svc.NewUserInvitation(testContext(), alice, "mike@example.org", false)
	if nil != err {
		t.Fatalf("failed NewUserInvitation, got error %v", err)
	}
	return res.Token
}

// activeAttempt returns an attempt joined by alice & the claimer of token.
func (self *testEnv) activeAttempt(t *testing.T, token Token) AttemptID {
	t.Helper()
	ctx := testContext()
	gid, err := self.svc.GreeterStartGreetingAttempt(ctx, alice, token)
	if nil != err {
		t.Fatalf("failed GreeterStartGreetingAttempt, got error %v", err)
	}
	cid, err := self.svc.ClaimerStartGreetingAttempt(ctx, Invited{Org: testOrg, Token: token}, "alice")
	if nil != err {
		t.Fatalf("failed ClaimerStartGreetingAttempt, got error %v", err)
	}
	if gid != cid {
		t.Fatalf("failed joining the same attempt, got %s & %s", gid, cid)
	}
	return gid
}
