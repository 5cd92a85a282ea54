package invite

import (
	"context"
	"net/url"
	"strings"
)

// InvitationEmail describes the email that delivers an invitation link to its claimer.
type InvitationEmail struct {
	To            string
	ReplyTo       string
	GreeterName   string
	Org           OrganizationID
	Kind          Kind
	InvitationURL string
}

// Mailer delivers invitation emails.
// Delivery failures are reported through the returned EmailSentStatus, they never void the invitation.
type Mailer interface {
	SendInvitation(ctx context.Context, msg InvitationEmail) EmailSentStatus
}

// InvitationURL returns the link a claimer uses to join the invitation.
// serverURL is the public URL of the server, its scheme is replaced by parsec3.
func InvitationURL(serverURL string, org OrganizationID, kind Kind, token Token) string {
	host := serverURL
	if u, err := url.Parse(serverURL); nil == err && "" != u.Host {
		host = u.Host
	}
	host = strings.TrimSuffix(host, "/")

	var action string
	switch kind {
	case KindUser:
		action = "claim_user"
	case KindDevice:
		action = "claim_device"
	default:
		action = "claim_shamir_recovery"
	}

	q := url.Values{}
	q.Set("a", action)
	q.Set("p", token.String())
	u := url.URL{
		Scheme:   "parsec3",
		Host:     host,
		Path:     "/" + string(org),
		RawQuery: q.Encode(),
	}
	return u.String()
}
