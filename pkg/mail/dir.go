package mail

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// DirMailer is an invite.Mailer that drops emails as .eml files in Dir instead of sending them.
// It serves development & test deployments.
type DirMailer struct {
	Dir    string
	Sender string
	Now    func() time.Time
}

func (self DirMailer) SendInvitation(ctx context.Context, email invite.InvitationEmail) invite.EmailSentStatus {
	log := observability.GetObservability(ctx).Log().With("mailer", "dir", "dir", self.Dir)

	msg, err := InvitationMessage(self.Sender, email)
	if nil != err {
		log.Error("failed rendering invitation email", "error", err)
		return invite.EmailServerUnavailable
	}
	now := time.Now()
	if nil != self.Now {
		now = self.Now()
	}
	data, err := msg.Bytes(now)
	if nil != err {
		log.Debug("rejected invitation email", "error", err)
		return invite.EmailBadRecipient
	}

	err = os.MkdirAll(self.Dir, 0o700)
	if nil != err {
		log.Error("failed creating mail directory", "error", err)
		return invite.EmailServerUnavailable
	}
	name := filepath.Join(self.Dir, now.UTC().Format("20060102T150405.000000000")+"-"+uuid.NewString()+".eml")
	err = os.WriteFile(name, data, 0o600)
	if nil != err {
		log.Error("failed writing invitation email", "error", err)
		return invite.EmailServerUnavailable
	}
	log.Debug("dropped invitation email", "file", name)

	return invite.EmailSuccess
}

var _ invite.Mailer = DirMailer{}
