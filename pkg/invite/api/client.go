package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols/greet"
)

// httpClient is a private interface that simplify mocking http.Client.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the invitation API of the server at BaseURL.
// Greeter side operations authenticate with Bearer, claimer side operations with InvitationToken.
type Client struct {
	HTTP            httpClient
	BaseURL         string
	Org             invite.OrganizationID
	Bearer          string
	InvitationToken invite.Token
	CBOR            bool
}

func (self *Client) Check() error {
	srvUrl, err := url.Parse(self.BaseURL)
	if nil != err {
		return wrapError(err, "invalid BaseURL")
	}
	if !slices.Contains([]string{"http", "https"}, srvUrl.Scheme) {
		return newError("invalid BaseURL scheme %s", srvUrl.Scheme)
	}
	if "" == self.Org {
		return newError("empty Org")
	}
	return nil
}

type caller int

const (
	asDevice caller = iota
	asInvited
)

// endpoint returns the URL of path in the Client organization.
func (self *Client) endpoint(path ...string) (string, error) {
	err := self.Check()
	if nil != err {
		return "", wrapError(err, "invalid Client")
	}
	return url.JoinPath(self.BaseURL, append([]string{"v1", "org", string(self.Org)}, path...)...)
}

// do sends req to path & decodes the reply in rep.
// A nil req sends no body, a nil rep skips decoding the reply.
func (self *Client) do(ctx context.Context, method string, as caller, req any, rep any, path ...string) error {
	if asInvited == as {
		path = append([]string{"invited"}, path...)
	}
	endpoint, err := self.endpoint(path...)
	if nil != err {
		return err
	}
	c := jsonCodec
	if self.CBOR {
		c = cborCodec
	}

	var body io.Reader
	if nil != req {
		data, err := c.srz.Marshal(req)
		if nil != err {
			return wrapError(err, "failed encoding request")
		}
		body = bytes.NewReader(data)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if nil != err {
		return wrapError(err, "failed preparing request")
	}
	if nil != req {
		hreq.Header.Set("Content-Type", c.mime)
	}
	hreq.Header.Set("Accept", c.mime)
	switch as {
	case asDevice:
		hreq.Header.Set("Authorization", "Bearer "+self.Bearer)
	case asInvited:
		hreq.Header.Set(InvitationTokenHeader, self.InvitationToken.String())
	}

	cli := self.HTTP
	if nil == cli {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(hreq)
	if nil != err {
		return wrapError(err, "failed %s %s", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := readBody(resp.Body)
	if nil != err {
		return wrapFlag(err, ErrBadReply, "failed reading reply")
	}
	rc := codecFor(resp.Header.Get("Content-Type"))
	var st statusRep
	err = rc.srz.Unmarshal(data, &st)
	if nil != err {
		return wrapFlag(err, ErrBadReply, "failed decoding reply, HTTP status %d", resp.StatusCode)
	}
	if http.StatusOK != resp.StatusCode {
		return replyError(resp.StatusCode, st)
	}
	if nil != rep {
		err = rc.srz.Unmarshal(data, rep)
		if nil != err {
			return wrapFlag(err, ErrBadReply, "failed decoding reply")
		}
	}
	return nil
}

func (self *Client) NewUserInvitation(ctx context.Context, claimerEmail string, sendEmail bool) (invite.NewInvitationResult, error) {
	var rep newInvitationRep
	req := newUserInvitationReq{ClaimerEmail: claimerEmail, SendEmail: sendEmail}
	err := self.do(ctx, http.MethodPost, asDevice, req, &rep, "invite", "user")
	return invite.NewInvitationResult{Token: rep.Token, EmailSent: rep.EmailSent}, err
}

func (self *Client) NewDeviceInvitation(ctx context.Context, sendEmail bool) (invite.NewInvitationResult, error) {
	var rep newInvitationRep
	req := newDeviceInvitationReq{SendEmail: sendEmail}
	err := self.do(ctx, http.MethodPost, asDevice, req, &rep, "invite", "device")
	return invite.NewInvitationResult{Token: rep.Token, EmailSent: rep.EmailSent}, err
}

func (self *Client) NewShamirRecoveryInvitation(ctx context.Context, claimerUserID invite.UserID, recipients []invite.UserID, sendEmail bool) (invite.NewInvitationResult, error) {
	var rep newInvitationRep
	req := newShamirInvitationReq{ClaimerUserID: claimerUserID, Recipients: recipients, SendEmail: sendEmail}
	err := self.do(ctx, http.MethodPost, asDevice, req, &rep, "invite", "shamir")
	return invite.NewInvitationResult{Token: rep.Token, EmailSent: rep.EmailSent}, err
}

func (self *Client) ListInvitations(ctx context.Context) ([]invite.InvitationInfo, error) {
	var rep listInvitationsRep
	err := self.do(ctx, http.MethodGet, asDevice, nil, &rep, "invite")
	return rep.Invitations, err
}

func (self *Client) CancelInvitation(ctx context.Context, token invite.Token) error {
	return self.do(ctx, http.MethodPost, asDevice, nil, nil, "invite", token.String(), "cancel")
}

func (self *Client) GreeterStartGreetingAttempt(ctx context.Context, token invite.Token) (invite.AttemptID, error) {
	var rep startAttemptRep
	err := self.do(ctx, http.MethodPost, asDevice, nil, &rep, "invite", token.String(), "greeting-attempt")
	return rep.AttemptID, err
}

func (self *Client) GreeterStep(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.step(ctx, asDevice, id, n, payload)
}

func (self *Client) GreeterCancelGreetingAttempt(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	req := cancelAttemptReq{Reason: reason}
	return self.do(ctx, http.MethodPost, asDevice, req, nil, "greeting-attempt", id.String(), "cancel")
}

func (self *Client) InfoAsInvited(ctx context.Context) (invite.InvitedInfo, error) {
	var rep invitedInfoRep
	err := self.do(ctx, http.MethodGet, asInvited, nil, &rep, "info")
	return rep.Info, err
}

func (self *Client) ClaimerStartGreetingAttempt(ctx context.Context, greeterUserID invite.UserID) (invite.AttemptID, error) {
	var rep startAttemptRep
	req := startAttemptReq{GreeterUserID: greeterUserID}
	err := self.do(ctx, http.MethodPost, asInvited, req, &rep, "greeting-attempt")
	return rep.AttemptID, err
}

func (self *Client) ClaimerStep(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.step(ctx, asInvited, id, n, payload)
}

func (self *Client) ClaimerCancelGreetingAttempt(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	req := cancelAttemptReq{Reason: reason}
	return self.do(ctx, http.MethodPost, asInvited, req, nil, "greeting-attempt", id.String(), "cancel")
}

func (self *Client) step(ctx context.Context, as caller, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	var rep stepRep
	req := stepReq{Payload: payload}
	err := self.do(ctx, http.MethodPost, as, req, &rep, "greeting-attempt", id.String(), "step", strconv.Itoa(n))
	if nil != err {
		return invite.StepResult{}, err
	}
	switch rep.Status {
	case statusOK:
		return invite.StepResult{Ready: true, Payload: rep.Payload, Last: rep.Last}, nil
	case statusNotReady:
		return invite.StepResult{}, nil
	default:
		return invite.StepResult{}, raise(ErrBadReply, "unexpected step status %q", rep.Status)
	}
}

// EventStream reads the events pushed by the server.
type EventStream struct {
	conn *websocket.Conn
}

// Events opens the event stream of the Client organization.
func (self *Client) Events(ctx context.Context) (*EventStream, error) {
	endpoint, err := self.endpoint("events")
	if nil != err {
		return nil, err
	}
	wsUrl, err := url.Parse(endpoint)
	if nil != err {
		return nil, wrapError(err, "invalid events endpoint")
	}
	if "https" == wsUrl.Scheme {
		wsUrl.Scheme = "wss"
	} else {
		wsUrl.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+self.Bearer)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsUrl.String(), header)
	if nil != err {
		if nil != resp {
			resp.Body.Close()
			return nil, wrapError(err, "failed opening event stream, HTTP status %d", resp.StatusCode)
		}
		return nil, wrapError(err, "failed opening event stream")
	}
	return &EventStream{conn: conn}, nil
}

// Next blocks until the server pushes an event.
func (self *EventStream) Next() (invite.Event, error) {
	var evt invite.Event
	err := self.conn.ReadJSON(&evt)
	return evt, wrapError(err, "failed reading event")
}

func (self *EventStream) Close() error {
	return self.conn.Close()
}

// GreeterConduit runs the greeter side of the token invitation through Client.
type GreeterConduit struct {
	Client *Client
	Token  invite.Token
}

func (self GreeterConduit) Start(ctx context.Context) (invite.AttemptID, error) {
	return self.Client.GreeterStartGreetingAttempt(ctx, self.Token)
}

func (self GreeterConduit) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.Client.GreeterStep(ctx, id, n, payload)
}

func (self GreeterConduit) Cancel(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	return self.Client.GreeterCancelGreetingAttempt(ctx, id, reason)
}

// ClaimerConduit runs the claimer side of the Client invitation with GreeterUserID.
type ClaimerConduit struct {
	Client        *Client
	GreeterUserID invite.UserID
}

func (self ClaimerConduit) Start(ctx context.Context) (invite.AttemptID, error) {
	return self.Client.ClaimerStartGreetingAttempt(ctx, self.GreeterUserID)
}

func (self ClaimerConduit) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.Client.ClaimerStep(ctx, id, n, payload)
}

func (self ClaimerConduit) Cancel(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	return self.Client.ClaimerCancelGreetingAttempt(ctx, id, reason)
}

var _ greet.Conduit = GreeterConduit{}
var _ greet.Conduit = ClaimerConduit{}
