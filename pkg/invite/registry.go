package invite

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
)

// maxTokenDraws bounds the Token generation retries on collision.
const maxTokenDraws = 4

// NewInvitationResult is returned by the invitation creation operations.
// EmailSent is NOT_SENT when no email was requested.
type NewInvitationResult struct {
	Token     Token           `json:"token" cbor:"1,keyasint"`
	EmailSent EmailSentStatus `json:"email_sent" cbor:"2,keyasint"`
}

// InvitationInfo is an Invitation as listed to a greeter.
type InvitationInfo struct {
	Token            Token     `json:"token" cbor:"1,keyasint"`
	Kind             Kind      `json:"kind" cbor:"2,keyasint"`
	CreatedOn        time.Time `json:"created_on" cbor:"3,keyasint"`
	CreatedBy        UserID    `json:"created_by" cbor:"4,keyasint"`
	Status           Status    `json:"status" cbor:"5,keyasint"`
	ClaimerEmail     string    `json:"claimer_email,omitempty" cbor:"6,keyasint,omitempty"`
	ClaimerUserID    UserID    `json:"claimer_user_id,omitempty" cbor:"7,keyasint,omitempty"`
	ShamirRecipients []UserID  `json:"shamir_recipients,omitempty" cbor:"8,keyasint,omitempty"`
}

// GreeterInfo identifies a user allowed to greet an invitation.
type GreeterInfo struct {
	UserID      UserID      `json:"user_id" cbor:"1,keyasint"`
	HumanHandle HumanHandle `json:"human_handle" cbor:"2,keyasint"`
}

// InvitedInfo is what a claimer learns about its invitation.
type InvitedInfo struct {
	Kind               Kind          `json:"kind" cbor:"1,keyasint"`
	ClaimerEmail       string        `json:"claimer_email,omitempty" cbor:"2,keyasint,omitempty"`
	ClaimerUserID      UserID        `json:"claimer_user_id,omitempty" cbor:"3,keyasint,omitempty"`
	GreeterUserID      UserID        `json:"greeter_user_id" cbor:"4,keyasint"`
	GreeterHumanHandle HumanHandle   `json:"greeter_human_handle" cbor:"5,keyasint"`
	Status             Status        `json:"status" cbor:"6,keyasint"`
	Administrators     []GreeterInfo `json:"administrators,omitempty" cbor:"7,keyasint,omitempty"`
	Recipients         []GreeterInfo `json:"recipients,omitempty" cbor:"8,keyasint,omitempty"`
}

// NewUserInvitation mints a USER invitation for claimerEmail.
// A pending USER invitation created by the same user for the same email is reused.
func (self *Service) NewUserInvitation(ctx context.Context, author Author, claimerEmail string, sendEmail bool) (NewInvitationResult, error) {
	var rv NewInvitationResult
	log := observability.GetObservability(ctx).Log().With("org", author.Org, "author", author.DeviceID)

	user, err := self.checkAuthor(ctx, author)
	if nil != err {
		log.Debug("rejected user invitation", "error", err)
		return rv, err
	}
	if ProfileAdmin != user.Profile {
		err = raise(ErrAuthorNotAllowed, "user %s is not ADMIN", user.ID)
		log.Debug("rejected user invitation", "error", err)
		return rv, err
	}
	email, err := NormalizeEmail(claimerEmail)
	if nil != err {
		return rv, err
	}

	var enrolled User
	err = self.identity.FindUserByEmail(ctx, author.Org, email, &enrolled)
	switch {
	case nil == err:
		err = raise(ErrClaimerEmailAlreadyEnrolled, "email already used by user %s", enrolled.ID)
		log.Debug("rejected user invitation", "error", err)
		return rv, err
	case !errors.Is(err, ErrNotFound):
		return rv, wrapError(err, "failed looking up claimer email")
	}

	inv := Invitation{
		Org:               author.Org,
		Kind:              KindUser,
		CreatedByUserID:   user.ID,
		CreatedByDeviceID: author.DeviceID,
		ClaimerEmail:      email,
	}
	inv, err = self.createInvitation(ctx, inv)
	if nil != err {
		return rv, err
	}

	rv.Token = inv.Token
	rv.EmailSent = self.sendInvitationEmail(ctx, sendEmail, inv, email, user)

	return rv, nil
}

// NewDeviceInvitation mints a DEVICE invitation for the author user.
// A pending DEVICE invitation of the same user is reused.
func (self *Service) NewDeviceInvitation(ctx context.Context, author Author, sendEmail bool) (NewInvitationResult, error) {
	var rv NewInvitationResult
	log := observability.GetObservability(ctx).Log().With("org", author.Org, "author", author.DeviceID)

	user, err := self.checkAuthor(ctx, author)
	if nil != err {
		log.Debug("rejected device invitation", "error", err)
		return rv, err
	}

	inv := Invitation{
		Org:               author.Org,
		Kind:              KindDevice,
		CreatedByUserID:   user.ID,
		CreatedByDeviceID: author.DeviceID,
	}
	inv, err = self.createInvitation(ctx, inv)
	if nil != err {
		return rv, err
	}

	rv.Token = inv.Token
	rv.EmailSent = self.sendInvitationEmail(ctx, sendEmail, inv, user.HumanHandle.Email, user)

	return rv, nil
}

// NewShamirRecoveryInvitation mints a SHAMIR_RECOVERY invitation allowing claimerUserID
// to recover its account with the help of recipients.
// The author must be ADMIN or the claimer user.
func (self *Service) NewShamirRecoveryInvitation(ctx context.Context, author Author, claimerUserID UserID, recipients []UserID, sendEmail bool) (NewInvitationResult, error) {
	var rv NewInvitationResult
	log := observability.GetObservability(ctx).Log().With("org", author.Org, "author", author.DeviceID)

	user, err := self.checkAuthor(ctx, author)
	if nil != err {
		log.Debug("rejected shamir invitation", "error", err)
		return rv, err
	}
	if ProfileAdmin != user.Profile && user.ID != claimerUserID {
		err = raise(ErrAuthorNotAllowed, "user %s can not create a recovery invitation for %s", user.ID, claimerUserID)
		log.Debug("rejected shamir invitation", "error", err)
		return rv, err
	}

	var claimer User
	err = self.identity.LoadUser(ctx, author.Org, claimerUserID, &claimer)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return rv, wrapFlag(err, ErrClaimerUserNotFound, "unknown claimer user %s", claimerUserID)
		}
		return rv, wrapError(err, "failed loading claimer user")
	}
	if claimer.Revoked {
		return rv, raise(ErrClaimerUserNotFound, "claimer user %s is revoked", claimerUserID)
	}

	if 0 == len(recipients) {
		return rv, raise(ErrInvalidInput, "no recovery recipients")
	}
	recipients = slices.Clone(recipients)
	slices.Sort(recipients)
	recipients = slices.Compact(recipients)
	for _, rid := range recipients {
		if rid == claimerUserID {
			return rv, raise(ErrInvalidInput, "claimer %s can not be a recovery recipient", rid)
		}
		var recipient User
		err = self.identity.LoadUser(ctx, author.Org, rid, &recipient)
		if nil != err {
			if errors.Is(err, ErrNotFound) {
				return rv, wrapFlag(err, ErrInvalidInput, "unknown recovery recipient %s", rid)
			}
			return rv, wrapError(err, "failed loading recovery recipient")
		}
	}

	inv := Invitation{
		Org:               author.Org,
		Kind:              KindShamirRecovery,
		CreatedByUserID:   user.ID,
		CreatedByDeviceID: author.DeviceID,
		ClaimerUserID:     claimerUserID,
		ShamirRecipients:  recipients,
	}
	inv, err = self.createInvitation(ctx, inv)
	if nil != err {
		return rv, err
	}

	rv.Token = inv.Token
	rv.EmailSent = self.sendInvitationEmail(ctx, sendEmail, inv, claimer.HumanHandle.Email, user)

	return rv, nil
}

// createInvitation saves inv under a fresh Token or returns the pending invitation sharing its dedupe key.
func (self *Service) createInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	log := observability.GetObservability(ctx).Log()

	unlock := self.locks.Lock(dedupeLockKey(inv.Org, inv.DedupeKey()))
	defer unlock()

	var pending Invitation
	err := self.store.FindPendingInvitation(ctx, inv.Org, inv.DedupeKey(), &pending)
	if nil == err {
		log.Debug("reusing pending invitation", "org", pending.Org, "token", pending.Token, "kind", pending.Kind)
		return pending, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return inv, wrapError(err, "failed looking up pending invitation")
	}

	inv.CreatedOn = self.clock.Now()
	for range maxTokenDraws {
		inv.Token, err = NewToken(self.rand)
		if nil != err {
			return inv, err
		}
		err = self.store.CreateInvitation(ctx, inv)
		if !errors.Is(err, ErrAlreadyExists) {
			break
		}
	}
	if nil != err {
		return inv, wrapError(err, "failed saving invitation")
	}

	log.Info("created invitation", "org", inv.Org, "token", inv.Token, "kind", inv.Kind, "author", inv.CreatedByDeviceID)
	self.publish(ctx, Event{
		Kind:      EventInvitationStatusChanged,
		Org:       inv.Org,
		Token:     inv.Token,
		Status:    StatusIdle,
		Timestamp: inv.CreatedOn,
	})

	return inv, nil
}

func (self *Service) sendInvitationEmail(ctx context.Context, sendEmail bool, inv Invitation, to string, greeter User) EmailSentStatus {
	if !sendEmail {
		return EmailNotSent
	}
	if "" == to {
		return EmailBadRecipient
	}
	if nil == self.mailer {
		return EmailServerUnavailable
	}

	msg := InvitationEmail{
		To:            to,
		ReplyTo:       greeter.HumanHandle.Email,
		GreeterName:   greeter.HumanHandle.Label,
		Org:           inv.Org,
		Kind:          inv.Kind,
		InvitationURL: InvitationURL(self.serverURL, inv.Org, inv.Kind, inv.Token),
	}
	if "" == msg.GreeterName {
		msg.GreeterName = string(greeter.ID)
	}
	status := self.mailer.SendInvitation(ctx, msg)
	observability.GetObservability(ctx).Log().Info("sent invitation email", "org", inv.Org, "token", inv.Token, "status", status)

	return status
}

// CancelInvitation cancels the token invitation and all its greeting attempts.
// Cancelling an already cancelled invitation is a no-op.
// It errors with ErrInvitationAlreadyDeleted if the invitation is finished.
func (self *Service) CancelInvitation(ctx context.Context, author Author, token Token) error {
	log := observability.GetObservability(ctx).Log().With("org", author.Org, "token", token, "author", author.DeviceID)

	user, err := self.checkAuthor(ctx, author)
	if nil != err {
		log.Debug("rejected invitation cancel", "error", err)
		return err
	}

	unlock := self.locks.Lock(tokenLockKey(author.Org, token))
	defer unlock()

	inv, err := self.loadInvitation(ctx, author.Org, token)
	if nil != err {
		log.Debug("rejected invitation cancel", "error", err)
		return err
	}
	switch inv.DeletedReason {
	case DeletedCancelled:
		return nil
	case DeletedFinished:
		err = raise(ErrInvitationAlreadyDeleted, "invitation finished")
		log.Debug("rejected invitation cancel", "error", err)
		return err
	}
	if !inv.CanGreet(user) && inv.CreatedByUserID != user.ID {
		err = raise(ErrAuthorNotAllowed, "user %s can not manage invitation", user.ID)
		log.Debug("rejected invitation cancel", "error", err)
		return err
	}

	now := self.clock.Now()
	attempts, err := self.store.ListAttempts(ctx, inv.Org, inv.Token)
	if nil != err {
		return wrapError(err, "failed listing greeting attempts")
	}
	for _, attempt := range attempts {
		if nil != attempt.Cancelled {
			continue
		}
		err = self.cancelAttempt(ctx, &attempt, SideGreeter, ReasonManual, now)
		if nil != err {
			return err
		}
	}

	inv.DeletedOn = &now
	inv.DeletedReason = DeletedCancelled
	inv.DeletedBy = author.DeviceID
	err = self.store.UpdateInvitation(ctx, inv)
	if nil != err {
		return wrapError(err, "failed saving invitation")
	}
	self.claimers.Drop(presenceKey{org: inv.Org, token: inv.Token})
	self.wakes.Broadcast(tokenLockKey(inv.Org, inv.Token))

	log.Info("cancelled invitation")
	self.publish(ctx, Event{
		Kind:      EventInvitationStatusChanged,
		Org:       inv.Org,
		Token:     inv.Token,
		Status:    StatusCancelled,
		Timestamp: now,
	})

	return nil
}

// ListInvitations returns the invitations the author created or is allowed to greet,
// sorted by creation time.
func (self *Service) ListInvitations(ctx context.Context, author Author) ([]InvitationInfo, error) {
	user, err := self.checkAuthor(ctx, author)
	if nil != err {
		observability.GetObservability(ctx).Log().Debug("rejected invitation list", "org", author.Org, "author", author.DeviceID, "error", err)
		return nil, err
	}

	invitations, err := self.store.ListInvitations(ctx, author.Org)
	if nil != err {
		return nil, wrapError(err, "failed listing invitations")
	}

	rv := make([]InvitationInfo, 0, len(invitations))
	for _, inv := range invitations {
		if inv.CreatedByUserID != user.ID && !inv.CanGreet(user) {
			continue
		}
		rv = append(rv, InvitationInfo{
			Token:            inv.Token,
			Kind:             inv.Kind,
			CreatedOn:        inv.CreatedOn,
			CreatedBy:        inv.CreatedByUserID,
			Status:           self.status(inv),
			ClaimerEmail:     inv.ClaimerEmail,
			ClaimerUserID:    inv.ClaimerUserID,
			ShamirRecipients: inv.ShamirRecipients,
		})
	}

	return rv, nil
}

// InfoAsInvited returns the invitation information shown to its claimer.
// It errors with ErrInvitationDeleted if the invitation was cancelled or finished.
func (self *Service) InfoAsInvited(ctx context.Context, invited Invited) (InvitedInfo, error) {
	var rv InvitedInfo
	log := observability.GetObservability(ctx).Log().With("org", invited.Org, "token", invited.Token)

	_, err := self.checkOrganization(ctx, invited.Org)
	if nil != err {
		log.Debug("rejected invited info", "error", err)
		return rv, err
	}
	inv, err := self.loadInvitation(ctx, invited.Org, invited.Token)
	if nil != err {
		log.Debug("rejected invited info", "error", err)
		return rv, err
	}
	if inv.Deleted() {
		err = raise(ErrInvitationDeleted, "invitation %s", inv.DeletedReason)
		log.Debug("rejected invited info", "error", err)
		return rv, err
	}

	var creator User
	err = self.identity.LoadUser(ctx, inv.Org, inv.CreatedByUserID, &creator)
	if nil != err && !errors.Is(err, ErrNotFound) {
		return rv, wrapError(err, "failed loading invitation creator")
	}

	rv = InvitedInfo{
		Kind:               inv.Kind,
		ClaimerEmail:       inv.ClaimerEmail,
		ClaimerUserID:      inv.ClaimerUserID,
		GreeterUserID:      inv.CreatedByUserID,
		GreeterHumanHandle: creator.HumanHandle,
		Status:             self.status(inv),
	}

	if KindDevice == inv.Kind {
		return rv, nil
	}
	users, err := self.identity.ListUsers(ctx, inv.Org)
	if nil != err {
		return rv, wrapError(err, "failed listing users")
	}
	for _, user := range users {
		if user.Revoked || !inv.CanGreet(user) {
			continue
		}
		gi := GreeterInfo{UserID: user.ID, HumanHandle: user.HumanHandle}
		if KindUser == inv.Kind {
			rv.Administrators = append(rv.Administrators, gi)
		} else {
			rv.Recipients = append(rv.Recipients, gi)
		}
	}

	return rv, nil
}
