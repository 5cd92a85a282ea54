package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/utils"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const (
	statusOK       = "ok"
	statusNotReady = "not_ready"
	statusInternal = "internal_error"

	statusAttemptCancelled = "greeting_attempt_cancelled"
)

// wireStatus pairs an error flag with the HTTP status & reply status it maps to.
type wireStatus struct {
	flag   error
	code   int
	status string
}

// wireStatuses is ordered from the most specific flag to the least specific.
var wireStatuses = []wireStatus{
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{invite.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{invite.ErrOrganizationNotFound, http.StatusNotFound, "organization_not_found"},
	{invite.ErrOrganizationExpired, http.StatusForbidden, "organization_expired"},
	{invite.ErrAuthorNotFound, http.StatusUnauthorized, "author_not_found"},
	{invite.ErrAuthorRevoked, http.StatusForbidden, "author_revoked"},
	{invite.ErrAuthorNotAllowed, http.StatusForbidden, "author_not_allowed"},
	{invite.ErrGreeterNotFound, http.StatusNotFound, "greeter_not_found"},
	{invite.ErrGreeterRevoked, http.StatusForbidden, "greeter_revoked"},
	{invite.ErrGreeterNotAllowed, http.StatusForbidden, "greeter_not_allowed"},
	{invite.ErrClaimerEmailAlreadyEnrolled, http.StatusConflict, "claimer_email_already_enrolled"},
	{invite.ErrClaimerUserNotFound, http.StatusNotFound, "claimer_user_not_found"},
	{invite.ErrInvitationNotFound, http.StatusNotFound, "invitation_not_found"},
	{invite.ErrInvitationAlreadyDeleted, http.StatusConflict, "invitation_already_deleted"},
	{invite.ErrInvitationDeleted, http.StatusGone, "invitation_deleted"},
	{invite.ErrInvitationCompleted, http.StatusGone, "invitation_completed"},
	{invite.ErrInvitationCancelled, http.StatusGone, "invitation_cancelled"},
	{invite.ErrGreetingAttemptNotFound, http.StatusNotFound, "greeting_attempt_not_found"},
	{invite.ErrGreetingAttemptNotJoined, http.StatusConflict, "greeting_attempt_not_joined"},
	{invite.ErrGreetingAttemptCancelled, http.StatusConflict, statusAttemptCancelled},
	{invite.ErrStepTooAdvanced, http.StatusConflict, "step_too_advanced"},
	{invite.ErrStepMismatch, http.StatusConflict, "step_mismatch"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "interrupted"},
	{context.Canceled, http.StatusServiceUnavailable, "interrupted"},
}

var wireFlags = func() []error {
	flags := make([]error, len(wireStatuses))
	for i, ws := range wireStatuses {
		flags[i] = ws.flag
	}
	return flags
}()

// errorStatus returns the wireStatus of err.
func errorStatus(err error) wireStatus {
	flag := utils.FirstFlag(err, wireFlags...)
	for _, ws := range wireStatuses {
		if flag == ws.flag {
			return ws
		}
	}
	return wireStatus{flag: Error, code: http.StatusInternalServerError, status: statusInternal}
}

// statusRep is the common part of every reply.
// The cancellation fields are set when Status is greeting_attempt_cancelled.
type statusRep struct {
	Status    string              `json:"status" cbor:"0,keyasint"`
	Message   string              `json:"message,omitempty" cbor:"20,keyasint,omitempty"`
	Origin    invite.Side         `json:"origin,omitempty" cbor:"21,keyasint,omitempty"`
	Reason    invite.CancelReason `json:"reason,omitempty" cbor:"22,keyasint,omitempty"`
	Timestamp *time.Time          `json:"timestamp,omitempty" cbor:"23,keyasint,omitempty"`
}

// newErrorRep returns the statusRep describing err.
func newErrorRep(ws wireStatus, err error) statusRep {
	rep := statusRep{Status: ws.status}
	if http.StatusInternalServerError != ws.code {
		rep.Message = ws.flag.Error()
	}
	var cerr *invite.AttemptCancelledError
	if errors.As(err, &cerr) {
		ts := cerr.Timestamp
		rep.Origin = cerr.Origin
		rep.Reason = cerr.Reason
		rep.Timestamp = &ts
	}
	return rep
}

// replyError converts an error reply back into an error matching the server side flag.
func replyError(code int, rep statusRep) error {
	if statusAttemptCancelled == rep.Status && "" != rep.Origin {
		cerr := &invite.AttemptCancelledError{Origin: rep.Origin, Reason: rep.Reason}
		if nil != rep.Timestamp {
			cerr.Timestamp = *rep.Timestamp
		}
		return wrapError(cerr, "server replied %d %s", code, rep.Status)
	}
	for _, ws := range wireStatuses {
		if ws.status == rep.Status && ws.code == code {
			return raise(ws.flag, "server replied %d %s", code, rep.Status)
		}
	}
	return raise(ErrBadReply, "server replied %d %q", code, rep.Status)
}

type newUserInvitationReq struct {
	ClaimerEmail string `json:"claimer_email" cbor:"1,keyasint"`
	SendEmail    bool   `json:"send_email" cbor:"2,keyasint"`
}

type newDeviceInvitationReq struct {
	SendEmail bool `json:"send_email" cbor:"1,keyasint"`
}

type newShamirInvitationReq struct {
	ClaimerUserID invite.UserID   `json:"claimer_user_id" cbor:"1,keyasint"`
	Recipients    []invite.UserID `json:"recipients" cbor:"2,keyasint"`
	SendEmail     bool            `json:"send_email" cbor:"3,keyasint"`
}

type newInvitationRep struct {
	Status    string                 `json:"status" cbor:"0,keyasint"`
	Token     invite.Token           `json:"token" cbor:"1,keyasint"`
	EmailSent invite.EmailSentStatus `json:"email_sent" cbor:"2,keyasint"`
}

type listInvitationsRep struct {
	Status      string                  `json:"status" cbor:"0,keyasint"`
	Invitations []invite.InvitationInfo `json:"invitations" cbor:"1,keyasint"`
}

type invitedInfoRep struct {
	Status string             `json:"status" cbor:"0,keyasint"`
	Info   invite.InvitedInfo `json:"info" cbor:"1,keyasint"`
}

type startAttemptReq struct {
	GreeterUserID invite.UserID `json:"greeter_user_id" cbor:"1,keyasint"`
}

type startAttemptRep struct {
	Status    string           `json:"status" cbor:"0,keyasint"`
	AttemptID invite.AttemptID `json:"attempt_id" cbor:"1,keyasint"`
}

type stepReq struct {
	Payload []byte `json:"payload" cbor:"1,keyasint"`
}

type stepRep struct {
	Status  string `json:"status" cbor:"0,keyasint"`
	Payload []byte `json:"payload,omitempty" cbor:"1,keyasint,omitempty"`
	Last    bool   `json:"last,omitempty" cbor:"2,keyasint,omitempty"`
}

type cancelAttemptReq struct {
	Reason invite.CancelReason `json:"reason" cbor:"1,keyasint"`
}

