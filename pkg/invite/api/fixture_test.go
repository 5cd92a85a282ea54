package api

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols/greet"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

const testOrg = invite.OrganizationID("CoolOrg")

var (
	alice = invite.Author{Org: testOrg, DeviceID: "alice@dev1"}
	bob   = invite.Author{Org: testOrg, DeviceID: "bob@dev1"}
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testContext() context.Context {
	return observability.SetObservability(context.Background(), &observability.Observability{Logger: observability.NoopLogger()})
}

type testServer struct {
	svc    *invite.Service
	srv    *httptest.Server
	tokens TokenAuthority
}

// newTestServer serves a Service where alice is an ADMIN & bob a STANDARD user of CoolOrg.
func newTestServer(t *testing.T, longPoll time.Duration) *testServer {
	t.Helper()

	must := func(err error) {
		if nil != err {
			t.Fatalf("failed setting up test server, got error %v", err)
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
	must(ident.SaveUser(testOrg, invite.User{
		ID:          "bob",
		HumanHandle: invite.HumanHandle{Email: "bob@example.org", Label: "Bob"},
		Profile:     invite.ProfileStandard,
	}))
	must(ident.SaveDevice(testOrg, invite.Device{ID: "bob@dev1", Label: "dev1"}))

	svc, err := invite.NewService(invite.Config{
		Store:           invite.NewMemStore(),
		Identity:        ident,
		ServerURL:       "https://parsec.example.org",
		LongPollTimeout: longPoll,
	})
	must(err)

	tokens := TokenAuthority{Secret: testSecret, Issuer: "invited-test", TTL: time.Hour}
	hdlr, err := NewHandler(ServerCfg{Service: svc, Tokens: tokens, TraceIdHeader: "X-Trace-Id"})
	must(err)

	srv := httptest.NewUnstartedServer(hdlr)
	srv.Config.BaseContext = func(net.Listener) context.Context {
		return testContext()
	}
	srv.Start()
	t.Cleanup(srv.Close)

	return &testServer{svc: svc, srv: srv, tokens: tokens}
}

// deviceClient returns a Client authenticated as author.
func (self *testServer) deviceClient(t *testing.T, author invite.Author, useCBOR bool) *Client {
	t.Helper()
	bearer, err := self.tokens.Mint(author)
	if nil != err {
		t.Fatalf("failed Mint, got error %v", err)
	}
	return &Client{
		HTTP:    self.srv.Client(),
		BaseURL: self.srv.URL,
		Org:     testOrg,
		Bearer:  bearer,
		CBOR:    useCBOR,
	}
}

// invitedClient returns a Client authenticated with token.
func (self *testServer) invitedClient(token invite.Token, useCBOR bool) *Client {
	return &Client{
		HTTP:            self.srv.Client(),
		BaseURL:         self.srv.URL,
		Org:             testOrg,
		InvitationToken: token,
		CBOR:            useCBOR,
	}
}

// sasRelay carries the SAS codes shown by one side to the other.
type sasRelay struct {
	greeter chan sas.Code
	claimer chan sas.Code
}

func newSasRelay() *sasRelay {
	return &sasRelay{
		greeter: make(chan sas.Code, greet.MaxRestarts+1),
		claimer: make(chan sas.Code, greet.MaxRestarts+1),
	}
}

func relayPick(ctx context.Context, ch chan sas.Code) (sas.Code, error) {
	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type greeterUI struct {
	relay *sasRelay
}

func (self greeterUI) ShowGreeterSas(_ context.Context, code sas.Code) error {
	self.relay.greeter <- code
	return nil
}

func (self greeterUI) PickClaimerSas(ctx context.Context, _ []sas.Code) (sas.Code, error) {
	return relayPick(ctx, self.relay.claimer)
}

type claimerUI struct {
	relay *sasRelay
}

func (self claimerUI) ShowClaimerSas(_ context.Context, code sas.Code) error {
	self.relay.claimer <- code
	return nil
}

func (self claimerUI) PickGreeterSas(ctx context.Context, _ []sas.Code) (sas.Code, error) {
	return relayPick(ctx, self.relay.greeter)
}

func enrollMike(_ context.Context, req greet.ClaimerRequest) (greet.EnrollmentPayload, error) {
	return greet.EnrollmentPayload{
		Kind:          invite.KindUser,
		UserID:        "mike",
		DeviceID:      "mike@dev1",
		Profile:       invite.ProfileStandard,
		HumanHandle:   req.HumanHandle,
		DeviceLabel:   req.DeviceLabel,
		RootVerifyKey: make([]byte, 32),
	}, nil
}

func mikeRequest() greet.ClaimerRequest {
	return greet.ClaimerRequest{
		Kind:        invite.KindUser,
		DeviceLabel: "dev1",
		HumanHandle: invite.HumanHandle{Email: "mike@example.org", Label: "Mike"},
		PublicKey:   make([]byte, 32),
		VerifyKey:   make([]byte, 32),
	}
}
