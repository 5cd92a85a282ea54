// Package mail delivers invitation emails.
package mail

import (
	"bytes"
	"mime"
	"net/mail"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// Message is a plain text email.
type Message struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	Body    string
}

var bodyTpl = template.Must(template.New("invitation").Parse(`Hello,

{{if eq .Kind "DEVICE" -}}
You have requested to add a new device to the organization {{.Org}}.
{{- else if eq .Kind "SHAMIR_RECOVERY" -}}
{{.GreeterName}} has started the recovery of your account in the organization {{.Org}}.
{{- else -}}
{{.GreeterName}} has invited you to join the organization {{.Org}}.
{{- end}}

Open the following link with the Parsec client to proceed:

  {{.InvitationURL}}

The person who sent this invitation will have to be present to complete the process.
`))

// InvitationMessage renders the email delivering invitation msg, sent from sender.
func InvitationMessage(sender string, msg invite.InvitationEmail) (Message, error) {
	var subject string
	switch msg.Kind {
	case invite.KindDevice:
		subject = "New device invitation to " + string(msg.Org)
	case invite.KindShamirRecovery:
		subject = "[Parsec] " + msg.GreeterName + " started the recovery of your account in " + string(msg.Org)
	default:
		subject = "[Parsec] " + msg.GreeterName + " invited you to " + string(msg.Org)
	}

	var body bytes.Buffer
	err := bodyTpl.Execute(&body, msg)
	if nil != err {
		return Message{}, wrapError(err, "failed rendering invitation body")
	}

	return Message{
		From:    sender,
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: subject,
		Body:    body.String(),
	}, nil
}

// Bytes formats the Message as an RFC 5322 email.
// It errors if one of the addresses is invalid.
func (self Message) Bytes(now time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(self.From)
	if nil != err {
		return nil, wrapError(err, "invalid From address %q", self.From)
	}
	to, err := mail.ParseAddress(self.To)
	if nil != err {
		return nil, wrapError(err, "invalid To address %q", self.To)
	}

	var buf bytes.Buffer
	header := func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	header("From", from.String())
	header("To", to.String())
	if "" != self.ReplyTo {
		replyTo, err := mail.ParseAddress(self.ReplyTo)
		if nil != err {
			return nil, wrapError(err, "invalid Reply-To address %q", self.ReplyTo)
		}
		header("Reply-To", replyTo.String())
	}
	header("Subject", mime.QEncoding.Encode("utf-8", self.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+domain(from.Address)+">")
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(self.Body, "\n", "\r\n"))

	return buf.Bytes(), nil
}

func domain(address string) string {
	_, rv, found := strings.Cut(address, "@")
	if !found {
		return "localhost"
	}
	return rv
}
