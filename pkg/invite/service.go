package invite

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/internal/presence"
)

const (
	DefaultLongPollTimeout = 30 * time.Second
	DefaultClaimerLease    = 60 * time.Second
)

// Clock timestamps invitation & attempt transitions.
type Clock interface {
	Now() time.Time
}

// SystemClock is a Clock that uses time.Now.
type SystemClock struct{}

func (self SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds the collaborators & settings of a Service.
type Config struct {
	Store    Store
	Identity IdentityProvider

	// Mailer is optional, invitations are not mailed when nil.
	Mailer Mailer

	// Events is optional, a new EventBus is used when nil.
	Events *EventBus

	// Clock is optional, SystemClock is used when nil.
	Clock Clock

	// Rand is the Token entropy source, crypto/rand when nil.
	Rand io.Reader

	// ServerURL is used to build the invitation links sent by email.
	ServerURL string

	// LongPollTimeout bounds the time a step call waits for the peer, DefaultLongPollTimeout when 0.
	LongPollTimeout time.Duration

	// ClaimerLease is the time a claimer stays READY after its last call, DefaultClaimerLease when 0.
	ClaimerLease time.Duration
}

func (self Config) Check() error {
	if nil == self.Store {
		return newError("nil Store")
	}
	if nil == self.Identity {
		return newError("nil Identity")
	}
	if self.LongPollTimeout < 0 {
		return newError("negative LongPollTimeout")
	}
	if self.ClaimerLease < 0 {
		return newError("negative ClaimerLease")
	}

	return nil
}

// Author is the authenticated device calling a greeter side operation.
type Author struct {
	Org      OrganizationID
	DeviceID DeviceID
}

// UserID returns the Author user.
func (self Author) UserID() UserID {
	return self.DeviceID.UserID()
}

// Invited is the claimer authenticated by its invitation Token.
type Invited struct {
	Org   OrganizationID
	Token Token
}

type presenceKey struct {
	org   OrganizationID
	token Token
}

// Service implements the invitation registry, the greeting attempt state machine and the step conduit.
// All its state lives in the Store except for the claimer presence and the waiters wake up channels.
type Service struct {
	store           Store
	identity        IdentityProvider
	mailer          Mailer
	events          *EventBus
	clock           Clock
	rand            io.Reader
	serverURL       string
	longPollTimeout time.Duration
	claimers        *presence.Tracker[presenceKey]
	locks           lockTable
	wakes           wakeTable
}

// NewService returns a Service configured with cfg.
// It errors if cfg is invalid.
func NewService(cfg Config) (*Service, error) {
	err := cfg.Check()
	if nil != err {
		return nil, wrapError(err, "invalid Config")
	}

	rv := &Service{
		store:           cfg.Store,
		identity:        cfg.Identity,
		mailer:          cfg.Mailer,
		events:          cfg.Events,
		clock:           cfg.Clock,
		rand:            cfg.Rand,
		serverURL:       cfg.ServerURL,
		longPollTimeout: cfg.LongPollTimeout,
	}
	if nil == rv.events {
		rv.events = NewEventBus()
	}
	if nil == rv.clock {
		rv.clock = SystemClock{}
	}
	if 0 == rv.longPollTimeout {
		rv.longPollTimeout = DefaultLongPollTimeout
	}
	lease := cfg.ClaimerLease
	if 0 == lease {
		lease = DefaultClaimerLease
	}
	rv.claimers, err = presence.NewTracker[presenceKey](lease, rv.clock.Now)
	if nil != err {
		return nil, wrapError(err, "failed creating claimer presence tracker")
	}

	return rv, nil
}

// Events returns the EventBus the Service publishes to.
func (self *Service) Events() *EventBus {
	return self.events
}

// RunPresenceSweeper turns expired claimer leases into READY -> IDLE transitions until ctx is done.
func (self *Service) RunPresenceSweeper(ctx context.Context, period time.Duration) error {
	return self.claimers.Run(ctx, period, func(k presenceKey) {
		observability.GetObservability(ctx).Log().Debug("claimer lease expired", "org", k.org, "token", k.token)
		self.publish(ctx, Event{
			Kind:   EventInvitationStatusChanged,
			Org:    k.org,
			Token:  k.token,
			Status: StatusIdle,
		})
	})
}

func (self *Service) publish(ctx context.Context, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = self.clock.Now()
	}
	self.events.Publish(ctx, evt)
}

// status derives the Status of inv.
func (self *Service) status(inv Invitation) Status {
	switch inv.DeletedReason {
	case DeletedCancelled:
		return StatusCancelled
	case DeletedFinished:
		return StatusFinished
	}
	if self.claimers.Live(presenceKey{org: inv.Org, token: inv.Token}) {
		return StatusReady
	}
	return StatusIdle
}

// touchClaimer renews the claimer lease of the token invitation.
func (self *Service) touchClaimer(ctx context.Context, org OrganizationID, token Token) {
	if self.claimers.Touch(presenceKey{org: org, token: token}) {
		self.publish(ctx, Event{
			Kind:   EventInvitationStatusChanged,
			Org:    org,
			Token:  token,
			Status: StatusReady,
		})
	}
}

// checkOrganization errors if org does not exist or is expired.
func (self *Service) checkOrganization(ctx context.Context, org OrganizationID) (Organization, error) {
	var o Organization
	err := self.identity.LoadOrganization(ctx, org, &o)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return o, wrapFlag(err, ErrOrganizationNotFound, "unknown organization %s", org)
		}
		return o, wrapError(err, "failed loading organization")
	}
	if o.Expired {
		return o, raise(ErrOrganizationExpired, "organization %s expired", org)
	}
	return o, nil
}

// checkAuthor runs the organization & author checks shared by all greeter side operations
// and returns the author User.
func (self *Service) checkAuthor(ctx context.Context, author Author) (User, error) {
	var user User
	_, err := self.checkOrganization(ctx, author.Org)
	if nil != err {
		return user, err
	}

	var device Device
	err = self.identity.LoadDevice(ctx, author.Org, author.DeviceID, &device)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return user, wrapFlag(err, ErrAuthorNotFound, "unknown device %s", author.DeviceID)
		}
		return user, wrapError(err, "failed loading author device")
	}
	err = self.identity.LoadUser(ctx, author.Org, author.UserID(), &user)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return user, wrapFlag(err, ErrAuthorNotFound, "unknown user %s", author.UserID())
		}
		return user, wrapError(err, "failed loading author user")
	}
	if user.Revoked {
		return user, raise(ErrAuthorRevoked, "user %s is revoked", user.ID)
	}

	return user, nil
}

// loadInvitation loads the token invitation mapping ErrNotFound to ErrInvitationNotFound.
func (self *Service) loadInvitation(ctx context.Context, org OrganizationID, token Token) (Invitation, error) {
	var inv Invitation
	err := self.store.LoadInvitation(ctx, org, token, &inv)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return inv, wrapFlag(err, ErrInvitationNotFound, "unknown invitation")
		}
		return inv, wrapError(err, "failed loading invitation")
	}
	return inv, nil
}

// loadAttempt loads the id attempt mapping ErrNotFound to ErrGreetingAttemptNotFound.
func (self *Service) loadAttempt(ctx context.Context, org OrganizationID, id AttemptID) (GreetingAttempt, error) {
	var attempt GreetingAttempt
	err := self.store.LoadAttempt(ctx, org, id, &attempt)
	if nil != err {
		if errors.Is(err, ErrNotFound) {
			return attempt, wrapFlag(err, ErrGreetingAttemptNotFound, "unknown greeting attempt %s", id)
		}
		return attempt, wrapError(err, "failed loading greeting attempt")
	}
	return attempt, nil
}

// checkPending errors if inv was finished or cancelled.
func checkPending(inv Invitation) error {
	switch inv.DeletedReason {
	case DeletedFinished:
		return raise(ErrInvitationCompleted, "invitation completed")
	case DeletedCancelled:
		return raise(ErrInvitationCancelled, "invitation cancelled")
	}
	return nil
}

func tokenLockKey(org OrganizationID, token Token) string {
	return "token|" + string(org) + "|" + token.String()
}

func dedupeLockKey(org OrganizationID, dedupeKey string) string {
	return "dedupe|" + string(org) + "|" + dedupeKey
}

// lockTable holds one mutex per key, entries are released when no goroutine uses them.
type lockTable struct {
	mut   sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mut  sync.Mutex
	refs int
}

// Lock acquires the key mutex and returns the function that releases it.
func (self *lockTable) Lock(key string) func() {
	self.mut.Lock()
	if nil == self.locks {
		self.locks = make(map[string]*lockEntry)
	}
	entry, found := self.locks[key]
	if !found {
		entry = &lockEntry{}
		self.locks[key] = entry
	}
	entry.refs += 1
	self.mut.Unlock()

	entry.mut.Lock()

	return func() {
		entry.mut.Unlock()

		self.mut.Lock()
		defer self.mut.Unlock()
		entry.refs -= 1
		if 0 == entry.refs {
			delete(self.locks, key)
		}
	}
}

// wakeTable broadcasts changes to the goroutines waiting on a key.
type wakeTable struct {
	mut   sync.Mutex
	chans map[string]chan struct{}
}

// Chan returns a channel that is closed on the next Broadcast for key.
func (self *wakeTable) Chan(key string) <-chan struct{} {
	self.mut.Lock()
	defer self.mut.Unlock()

	if nil == self.chans {
		self.chans = make(map[string]chan struct{})
	}
	c, found := self.chans[key]
	if !found {
		c = make(chan struct{})
		self.chans[key] = c
	}
	return c
}

// Broadcast wakes up the goroutines waiting on key.
func (self *wakeTable) Broadcast(key string) {
	self.mut.Lock()
	defer self.mut.Unlock()

	if c, found := self.chans[key]; found {
		close(c)
		delete(self.chans, key)
	}
}
