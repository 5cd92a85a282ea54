package mail

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const sender = "Parsec <no-reply@parsec.example.org>"

func userEmail() invite.InvitationEmail {
	return invite.InvitationEmail{
		To:            "mike@example.org",
		ReplyTo:       "alice@example.org",
		GreeterName:   "Alice",
		Org:           "CoolOrg",
		Kind:          invite.KindUser,
		InvitationURL: "parsec3://parsec.example.org/CoolOrg?a=claim_user&p=00112233445566778899aabbccddeeff",
	}
}

func testContext() context.Context {
	return observability.SetObservability(context.Background(), &observability.Observability{Logger: observability.NoopLogger()})
}

func TestInvitationMessage(t *testing.T) {
	testcases := []struct {
		kind    invite.Kind
		subject string
		body    string
	}{
		{kind: invite.KindUser, subject: "[Parsec] Alice invited you to CoolOrg", body: "Alice has invited you to join the organization CoolOrg."},
		{kind: invite.KindDevice, subject: "New device invitation to CoolOrg", body: "add a new device to the organization CoolOrg."},
		{kind: invite.KindShamirRecovery, subject: "[Parsec] Alice started the recovery of your account in CoolOrg", body: "Alice has started the recovery"},
	}

	for _, tc := range testcases {
		t.Run(string(tc.kind), func(t *testing.T) {
			email := userEmail()
			email.Kind = tc.kind
			msg, err := InvitationMessage(sender, email)
			if nil != err {
				t.Fatalf("failed InvitationMessage, got error %v", err)
			}
			if tc.subject != msg.Subject {
				t.Errorf("failed Subject control, %q != %q", msg.Subject, tc.subject)
			}
			if !strings.Contains(msg.Body, tc.body) {
				t.Errorf("failed Body control, %q not in %q", tc.body, msg.Body)
			}
			if !strings.Contains(msg.Body, email.InvitationURL) {
				t.Errorf("failed Body control, invitation URL missing")
			}
			if "alice@example.org" != msg.ReplyTo || "mike@example.org" != msg.To {
				t.Errorf("failed addresses control, got %s & %s", msg.ReplyTo, msg.To)
			}
		})
	}
}

func TestMessageBytes(t *testing.T) {
	msg, err := InvitationMessage(sender, userEmail())
	if nil != err {
		t.Fatalf("failed InvitationMessage, got error %v", err)
	}
	data, err := msg.Bytes(time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC))
	if nil != err {
		t.Fatalf("failed Bytes, got error %v", err)
	}

	r := textproto.NewReader(bufio.NewReader(strings.NewReader(string(data))))
	header, err := r.ReadMIMEHeader()
	if nil != err {
		t.Fatalf("failed reading header, got error %v", err)
	}
	expected := map[string]string{
		"To":       "<mike@example.org>",
		"Reply-To": "<alice@example.org>",
		"Subject":  "[Parsec] Alice invited you to CoolOrg",
		"Date":     "Fri, 14 Mar 2025 09:26:53 +0000",
	}
	for name, value := range expected {
		if value != header.Get(name) {
			t.Errorf("failed %s header control, %q != %q", name, header.Get(name), value)
		}
	}

	msg.To = "not an address"
	_, err = msg.Bytes(time.Now())
	if nil == err {
		t.Errorf("failed invalid To check, got nil error")
	}
}

func TestDirMailer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mails")
	mailer := DirMailer{Dir: dir, Sender: sender}

	status := mailer.SendInvitation(testContext(), userEmail())
	if invite.EmailSuccess != status {
		t.Fatalf("failed SendInvitation, got status %s", status)
	}
	entries, err := os.ReadDir(dir)
	if nil != err {
		t.Fatalf("failed ReadDir, got error %v", err)
	}
	if 1 != len(entries) || ".eml" != filepath.Ext(entries[0].Name()) {
		t.Fatalf("failed mail file control, got %v", entries)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if nil != err {
		t.Fatalf("failed ReadFile, got error %v", err)
	}
	if !strings.Contains(string(data), "claim_user") {
		t.Errorf("failed mail content control, invitation URL missing")
	}

	email := userEmail()
	email.To = "@@"
	status = mailer.SendInvitation(testContext(), email)
	if invite.EmailBadRecipient != status {
		t.Errorf("failed bad recipient control, %s != BAD_RECIPIENT", status)
	}
}

// fakeSMTP serves a single SMTP session, answering rcptCode to RCPT commands.
// It returns the received DATA.
func fakeSMTP(t *testing.T, rcptCode int) (host string, port int, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatalf("failed net.Listen, got error %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	rc := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if nil != err {
			return
		}
		defer conn.Close()
		tc := textproto.NewConn(conn)
		tc.PrintfLine("220 localhost ESMTP fake")
		for {
			line, err := tc.ReadLine()
			if nil != err {
				return
			}
			cmd, _, _ := strings.Cut(strings.ToUpper(line), " ")
			switch cmd {
			case "EHLO", "HELO":
				tc.PrintfLine("250 localhost")
			case "MAIL":
				tc.PrintfLine("250 OK")
			case "RCPT":
				tc.PrintfLine("%d recipient status", rcptCode)
			case "DATA":
				tc.PrintfLine("354 go ahead")
				body, err := tc.ReadDotLines()
				if nil != err {
					return
				}
				rc <- strings.Join(body, "\n")
				tc.PrintfLine("250 queued")
			case "QUIT":
				tc.PrintfLine("221 bye")
				return
			default:
				tc.PrintfLine("502 unsupported")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, rc
}

func TestSMTPMailer(t *testing.T) {
	testcases := []struct {
		name     string
		rcptCode int
		status   invite.EmailSentStatus
	}{
		{name: "delivered", rcptCode: 250, status: invite.EmailSuccess},
		{name: "recipient refused", rcptCode: 550, status: invite.EmailRecipientRefused},
		{name: "mailbox busy", rcptCode: 450, status: invite.EmailServerUnavailable},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			host, port, data := fakeSMTP(t, tc.rcptCode)
			mailer := SMTPMailer{Host: host, Port: port, Sender: sender, Timeout: 5 * time.Second}
			if err := mailer.Check(); nil != err {
				t.Fatalf("failed Check, got error %v", err)
			}

			status := mailer.SendInvitation(testContext(), userEmail())
			if tc.status != status {
				t.Fatalf("failed SendInvitation status control, %s != %s", status, tc.status)
			}
			if invite.EmailSuccess == status {
				body := <-data
				if !strings.Contains(body, "Subject: [Parsec] Alice invited you to CoolOrg") {
					t.Errorf("failed DATA control, subject missing in %q", body)
				}
			}
		})
	}
}

func TestSMTPMailerUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if nil != err {
		t.Fatalf("failed net.Listen, got error %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	mailer := SMTPMailer{Host: "127.0.0.1", Port: port, Sender: sender, Timeout: time.Second}
	status := mailer.SendInvitation(testContext(), userEmail())
	if invite.EmailServerUnavailable != status {
		t.Errorf("failed SendInvitation status control, %s != SERVER_UNAVAILABLE", status)
	}
}

func TestSMTPMailerCheck(t *testing.T) {
	testcases := []SMTPMailer{
		{Port: 25, Sender: sender},
		{Host: "localhost", Sender: sender},
		{Host: "localhost", Port: 25, Sender: "nobody"},
	}
	for i, mailer := range testcases {
		if nil == mailer.Check() {
			t.Errorf("failed Check #%d, invalid mailer accepted", i)
		}
	}
}
