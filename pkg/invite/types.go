package invite

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type OrganizationID string

type UserID string

// DeviceID identifies a device as "<user_id>@<device_name>".
type DeviceID string

// UserID returns the user part of the DeviceID.
func (self DeviceID) UserID() UserID {
	user, _, _ := strings.Cut(string(self), "@")
	return UserID(user)
}

// AttemptID identifies a GreetingAttempt.
type AttemptID = uuid.UUID

// NewAttemptID returns a random AttemptID.
func NewAttemptID() AttemptID {
	return uuid.New()
}

// ParseAttemptID decodes the text form of an AttemptID.
func ParseAttemptID(s string) (AttemptID, error) {
	id, err := uuid.Parse(s)
	if nil != err {
		return id, wrapFlag(err, ErrInvalidInput, "invalid attempt id %q", s)
	}
	return id, nil
}

// TokenSize is the byte size of invitation Tokens.
const TokenSize = 16

// Token is the 128 bits secret that authorizes a claimer.
type Token [TokenSize]byte

// NewToken draws a Token from rng.
func NewToken(rng io.Reader) (Token, error) {
	var tok Token
	if nil == rng {
		rng = rand.Reader
	}
	_, err := io.ReadFull(rng, tok[:])
	return tok, wrapError(err, "failed generating Token")
}

// ParseToken decodes the hexadecimal form of a Token.
func ParseToken(s string) (Token, error) {
	var tok Token
	err := tok.UnmarshalText([]byte(s))
	return tok, err
}

func (self Token) String() string {
	return hex.EncodeToString(self[:])
}

func (self Token) IsZero() bool {
	return self == Token{}
}

// MarshalText implements encoding.TextMarshaler.
func (self Token) MarshalText() ([]byte, error) {
	return hex.AppendEncode(nil, self[:]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (self *Token) UnmarshalText(text []byte) error {
	if hex.EncodedLen(TokenSize) != len(text) {
		return raise(ErrInvalidInput, "invalid Token length %d", len(text))
	}
	_, err := hex.Decode(self[:], text)
	if nil != err {
		return wrapFlag(err, ErrInvalidInput, "invalid Token")
	}
	return nil
}

type Kind string

const (
	KindUser           = Kind("USER")
	KindDevice         = Kind("DEVICE")
	KindShamirRecovery = Kind("SHAMIR_RECOVERY")
)

func (self Kind) Check() error {
	switch self {
	case KindUser, KindDevice, KindShamirRecovery:
		return nil
	default:
		return raise(ErrInvalidInput, "invalid invitation kind %q", string(self))
	}
}

type Profile string

const (
	ProfileAdmin    = Profile("ADMIN")
	ProfileStandard = Profile("STANDARD")
	ProfileOutsider = Profile("OUTSIDER")
)

func (self Profile) Check() error {
	switch self {
	case ProfileAdmin, ProfileStandard, ProfileOutsider:
		return nil
	default:
		return raise(ErrInvalidInput, "invalid user profile %q", string(self))
	}
}

// Status is the externally visible state of an Invitation.
type Status string

const (
	StatusIdle      = Status("IDLE")
	StatusReady     = Status("READY")
	StatusCancelled = Status("CANCELLED")
	StatusFinished  = Status("FINISHED")
)

type DeletedReason string

const (
	DeletedCancelled = DeletedReason("CANCELLED")
	DeletedFinished  = DeletedReason("FINISHED")
)

// Side is one of the two parties of a greeting attempt.
type Side string

const (
	SideGreeter = Side("GREETER")
	SideClaimer = Side("CLAIMER")
)

func (self Side) Check() error {
	if SideGreeter != self && SideClaimer != self {
		return raise(ErrInvalidInput, "invalid side %q", string(self))
	}
	return nil
}

// Peer returns the other Side.
func (self Side) Peer() Side {
	if SideGreeter == self {
		return SideClaimer
	}
	return SideGreeter
}

type CancelReason string

const (
	ReasonManual                = CancelReason("MANUAL")
	ReasonAutomaticallyCanceled = CancelReason("AUTOMATICALLY_CANCELLED")
	ReasonInvalidNonceHash      = CancelReason("INVALID_NONCE_HASH")
	ReasonInvalidSasCode        = CancelReason("INVALID_SAS_CODE")
	ReasonUndecipherablePayload = CancelReason("UNDECIPHERABLE_PAYLOAD")
	ReasonInconsistentPayload   = CancelReason("INCONSISTENT_PAYLOAD")
)

func (self CancelReason) Check() error {
	switch self {
	case ReasonManual, ReasonAutomaticallyCanceled, ReasonInvalidNonceHash,
		ReasonInvalidSasCode, ReasonUndecipherablePayload, ReasonInconsistentPayload:
		return nil
	default:
		return raise(ErrInvalidInput, "invalid cancel reason %q", string(self))
	}
}

// EmailSentStatus reports the outcome of an invitation email delivery.
type EmailSentStatus string

const (
	EmailSuccess           = EmailSentStatus("SUCCESS")
	EmailNotSent           = EmailSentStatus("NOT_SENT")
	EmailServerUnavailable = EmailSentStatus("SERVER_UNAVAILABLE")
	EmailRecipientRefused  = EmailSentStatus("RECIPIENT_REFUSED")
	EmailBadRecipient      = EmailSentStatus("BAD_RECIPIENT")
)

// Invitation is an offer to onboard a new user or device in an organization.
// The Token & creation fields never change, the deletion fields are set once.
type Invitation struct {
	Org               OrganizationID `json:"org" cbor:"1,keyasint"`
	Token             Token          `json:"token" cbor:"2,keyasint"`
	Kind              Kind           `json:"kind" cbor:"3,keyasint"`
	CreatedByUserID   UserID         `json:"created_by_user_id" cbor:"4,keyasint"`
	CreatedByDeviceID DeviceID       `json:"created_by_device_id" cbor:"5,keyasint"`
	CreatedOn         time.Time      `json:"created_on" cbor:"6,keyasint"`

	// USER
	ClaimerEmail string `json:"claimer_email,omitempty" cbor:"7,keyasint,omitempty"`

	// SHAMIR_RECOVERY
	ClaimerUserID    UserID   `json:"claimer_user_id,omitempty" cbor:"8,keyasint,omitempty"`
	ShamirRecipients []UserID `json:"shamir_recipients,omitempty" cbor:"9,keyasint,omitempty"`

	DeletedOn       *time.Time    `json:"deleted_on,omitempty" cbor:"10,keyasint,omitempty"`
	DeletedReason   DeletedReason `json:"deleted_reason,omitempty" cbor:"11,keyasint,omitempty"`
	DeletedBy       DeviceID      `json:"deleted_by,omitempty" cbor:"12,keyasint,omitempty"`
	FinishedAttempt AttemptID     `json:"finished_attempt" cbor:"13,keyasint"`
}

// Check returns an error if the Invitation is invalid.
func (self Invitation) Check() error {
	if "" == self.Org {
		return raise(ErrInvalidInput, "empty organization")
	}
	if self.Token.IsZero() {
		return raise(ErrInvalidInput, "zero Token")
	}
	if err := self.Kind.Check(); nil != err {
		return err
	}
	if "" == self.CreatedByUserID || "" == self.CreatedByDeviceID {
		return raise(ErrInvalidInput, "missing creator")
	}
	switch self.Kind {
	case KindUser:
		if "" == self.ClaimerEmail {
			return raise(ErrInvalidInput, "USER invitation without claimer email")
		}
	case KindShamirRecovery:
		if "" == self.ClaimerUserID || 0 == len(self.ShamirRecipients) {
			return raise(ErrInvalidInput, "SHAMIR_RECOVERY invitation without claimer or recipients")
		}
	}
	if (nil == self.DeletedOn) != ("" == self.DeletedReason) {
		return raise(ErrInvalidInput, "inconsistent deletion fields")
	}
	return nil
}

// Deleted returns true if the Invitation was cancelled or finished.
func (self Invitation) Deleted() bool {
	return "" != self.DeletedReason
}

// DedupeKey identifies the pending invitations that a new creation must reuse.
func (self Invitation) DedupeKey() string {
	switch self.Kind {
	case KindUser:
		return string(self.Kind) + "|" + string(self.CreatedByUserID) + "|" + self.ClaimerEmail
	case KindShamirRecovery:
		return string(self.Kind) + "|" + string(self.ClaimerUserID)
	default:
		return string(self.Kind) + "|" + string(self.CreatedByUserID)
	}
}

// CanGreet returns true if user is allowed to greet the Invitation claimer.
func (self Invitation) CanGreet(user User) bool {
	switch self.Kind {
	case KindUser:
		return ProfileAdmin == user.Profile
	case KindDevice:
		return user.ID == self.CreatedByUserID
	case KindShamirRecovery:
		return slices.Contains(self.ShamirRecipients, user.ID)
	default:
		return false
	}
}

// Clone returns a deep copy of the Invitation.
func (self Invitation) Clone() Invitation {
	rv := self
	rv.ShamirRecipients = slices.Clone(self.ShamirRecipients)
	if nil != self.DeletedOn {
		on := *self.DeletedOn
		rv.DeletedOn = &on
	}
	return rv
}

// AttemptState is the lifecycle state of a GreetingAttempt.
type AttemptState string

const (
	AttemptNotStarted      = AttemptState("NOT_STARTED")
	AttemptJoinedByGreeter = AttemptState("JOINED_BY_GREETER")
	AttemptJoinedByClaimer = AttemptState("JOINED_BY_CLAIMER")
	AttemptActive          = AttemptState("ACTIVE")
	AttemptCancelled       = AttemptState("CANCELLED")
)

// CancelInfo records the cancellation of a GreetingAttempt.
type CancelInfo struct {
	Origin Side         `json:"origin" cbor:"1,keyasint"`
	Reason CancelReason `json:"reason" cbor:"2,keyasint"`
	On     time.Time    `json:"on" cbor:"3,keyasint"`
}

// GreetingAttempt is one greeter <-> claimer interaction inside an Invitation.
// GreeterSteps & ClaimerSteps hold the payloads written by each side, indexed by step number.
type GreetingAttempt struct {
	ID            AttemptID      `json:"id" cbor:"1,keyasint"`
	Org           OrganizationID `json:"org" cbor:"2,keyasint"`
	Token         Token          `json:"token" cbor:"3,keyasint"`
	GreeterUserID UserID         `json:"greeter_user_id" cbor:"4,keyasint"`
	CreatedOn     time.Time      `json:"created_on" cbor:"5,keyasint"`
	GreeterJoined *time.Time     `json:"greeter_joined,omitempty" cbor:"6,keyasint,omitempty"`
	ClaimerJoined *time.Time     `json:"claimer_joined,omitempty" cbor:"7,keyasint,omitempty"`
	Cancelled     *CancelInfo    `json:"cancelled,omitempty" cbor:"8,keyasint,omitempty"`
	GreeterSteps  [][]byte       `json:"greeter_steps,omitempty" cbor:"9,keyasint,omitempty"`
	ClaimerSteps  [][]byte       `json:"claimer_steps,omitempty" cbor:"10,keyasint,omitempty"`
}

// State derives the AttemptState from the join & cancel fields.
func (self GreetingAttempt) State() AttemptState {
	switch {
	case nil != self.Cancelled:
		return AttemptCancelled
	case nil != self.GreeterJoined && nil != self.ClaimerJoined:
		return AttemptActive
	case nil != self.GreeterJoined:
		return AttemptJoinedByGreeter
	case nil != self.ClaimerJoined:
		return AttemptJoinedByClaimer
	default:
		return AttemptNotStarted
	}
}

// Joined returns true if side has joined the attempt.
func (self GreetingAttempt) Joined(side Side) bool {
	if SideGreeter == side {
		return nil != self.GreeterJoined
	}
	return nil != self.ClaimerJoined
}

// StepCursor returns the next step number side is expected to write.
func (self GreetingAttempt) StepCursor(side Side) int {
	return len(self.Steps(side))
}

// Steps returns the payloads written by side.
func (self GreetingAttempt) Steps(side Side) [][]byte {
	if SideGreeter == side {
		return self.GreeterSteps
	}
	return self.ClaimerSteps
}

func (self *GreetingAttempt) join(side Side, now time.Time) {
	if SideGreeter == side {
		self.GreeterJoined = &now
	} else {
		self.ClaimerJoined = &now
	}
}

func (self *GreetingAttempt) appendStep(side Side, payload []byte) {
	payload = slices.Clone(payload)
	if nil == payload {
		payload = []byte{}
	}
	if SideGreeter == side {
		self.GreeterSteps = append(self.GreeterSteps, payload)
	} else {
		self.ClaimerSteps = append(self.ClaimerSteps, payload)
	}
}

// Clone returns a deep copy of the GreetingAttempt.
func (self GreetingAttempt) Clone() GreetingAttempt {
	rv := self
	if nil != self.GreeterJoined {
		t := *self.GreeterJoined
		rv.GreeterJoined = &t
	}
	if nil != self.ClaimerJoined {
		t := *self.ClaimerJoined
		rv.ClaimerJoined = &t
	}
	if nil != self.Cancelled {
		c := *self.Cancelled
		rv.Cancelled = &c
	}
	rv.GreeterSteps = cloneSteps(self.GreeterSteps)
	rv.ClaimerSteps = cloneSteps(self.ClaimerSteps)
	return rv
}

func cloneSteps(steps [][]byte) [][]byte {
	if nil == steps {
		return nil
	}
	rv := make([][]byte, len(steps))
	for i, step := range steps {
		rv[i] = slices.Clone(step)
	}
	return rv
}

// NormalizeEmail returns the lower case address part of email.
// It errors if email is not a valid address.
func NormalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if nil != err {
		return "", wrapFlag(err, ErrInvalidInput, "invalid email %q", email)
	}
	return strings.ToLower(addr.Address), nil
}
