package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const defaultSMTPTimeout = 10 * time.Second

// SMTPMailer is an invite.Mailer that sends emails through an SMTP relay.
// The relay connection is upgraded with STARTTLS when the server supports it.
type SMTPMailer struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
	Timeout  time.Duration

	// TLSConfig is used for STARTTLS, if nil a config verifying Host is used.
	TLSConfig *tls.Config
}

func (self SMTPMailer) Check() error {
	if "" == self.Host {
		return newError("empty Host")
	}
	if self.Port <= 0 || self.Port > 0xFFFF {
		return newError("invalid Port %d", self.Port)
	}
	_, err := mail.ParseAddress(self.Sender)
	if nil != err {
		return wrapError(err, "invalid Sender")
	}
	return nil
}

func (self SMTPMailer) SendInvitation(ctx context.Context, email invite.InvitationEmail) invite.EmailSentStatus {
	log := observability.GetObservability(ctx).Log().With("mailer", "smtp", "host", self.Host)

	msg, err := InvitationMessage(self.Sender, email)
	if nil != err {
		log.Error("failed rendering invitation email", "error", err)
		return invite.EmailServerUnavailable
	}
	data, err := msg.Bytes(time.Now())
	if nil != err {
		log.Debug("rejected invitation email", "error", err)
		return invite.EmailBadRecipient
	}

	err = self.send(ctx, msg, data)
	switch {
	case nil == err:
		log.Debug("sent invitation email")
		return invite.EmailSuccess
	case isRecipientRefused(err):
		log.Info("invitation email recipient refused", "error", err)
		return invite.EmailRecipientRefused
	default:
		log.Error("failed sending invitation email", "error", err)
		return invite.EmailServerUnavailable
	}
}

// recipientError flags errors returned by the RCPT command.
type recipientError struct {
	cause error
}

func (self recipientError) Error() string {
	return "recipient refused: " + self.cause.Error()
}

func (self recipientError) Unwrap() error {
	return self.cause
}

func isRecipientRefused(err error) bool {
	var rcptErr recipientError
	if !errors.As(err, &rcptErr) {
		return false
	}
	// 4xx codes are transient server conditions
	var protoErr *textproto.Error
	if errors.As(rcptErr.cause, &protoErr) {
		return protoErr.Code >= 500
	}
	return false
}

func (self SMTPMailer) send(ctx context.Context, msg Message, data []byte) error {
	timeout := self.Timeout
	if 0 == timeout {
		timeout = defaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(self.Host, strconv.Itoa(self.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if nil != err {
		return wrapError(err, "failed connecting to %s", addr)
	}
	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, self.Host)
	if nil != err {
		conn.Close()
		return wrapError(err, "failed SMTP greeting")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		cfg := self.TLSConfig
		if nil == cfg {
			cfg = &tls.Config{ServerName: self.Host}
		}
		err = client.StartTLS(cfg)
		if nil != err {
			return wrapError(err, "failed STARTTLS")
		}
	}
	if "" != self.User {
		err = client.Auth(smtp.PlainAuth("", self.User, self.Password, self.Host))
		if nil != err {
			return wrapError(err, "failed SMTP authentication")
		}
	}

	from, _ := mail.ParseAddress(msg.From)
	to, _ := mail.ParseAddress(msg.To)
	err = client.Mail(from.Address)
	if nil != err {
		return wrapError(err, "failed MAIL command")
	}
	err = client.Rcpt(to.Address)
	if nil != err {
		return wrapError(recipientError{cause: err}, "failed RCPT command")
	}
	w, err := client.Data()
	if nil != err {
		return wrapError(err, "failed DATA command")
	}
	_, err = w.Write(data)
	if nil != err {
		return wrapError(err, "failed writing message")
	}
	err = w.Close()
	if nil != err {
		return wrapError(err, "failed closing message")
	}

	return wrapError(client.Quit(), "failed QUIT command")
}

var _ invite.Mailer = SMTPMailer{}
