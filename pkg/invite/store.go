package invite

import (
	"context"
	"slices"
	"sync"
)

// Store persists Invitations & GreetingAttempts.
//
// Store implementations need not serialize concurrent updates of the same record,
// the Service does it with its token locks.
type Store interface {
	// CreateInvitation saves a new invitation.
	// It errors with ErrAlreadyExists if inv.Token is already in use in inv.Org.
	CreateInvitation(ctx context.Context, inv Invitation) error

	// LoadInvitation loads the invitation identified by token in dst.
	// It errors with ErrNotFound if there is no such invitation.
	LoadInvitation(ctx context.Context, org OrganizationID, token Token, dst *Invitation) error

	// FindPendingInvitation loads in dst the non deleted invitation having dedupeKey.
	// It errors with ErrNotFound if there is no such invitation.
	FindPendingInvitation(ctx context.Context, org OrganizationID, dedupeKey string, dst *Invitation) error

	// ListInvitations returns the invitations of org sorted by creation time.
	ListInvitations(ctx context.Context, org OrganizationID) ([]Invitation, error)

	// UpdateInvitation saves the deletion fields of an existing invitation.
	// It errors with ErrNotFound if the invitation does not exist.
	UpdateInvitation(ctx context.Context, inv Invitation) error

	// SaveAttempt inserts or replaces attempt.
	SaveAttempt(ctx context.Context, attempt GreetingAttempt) error

	// LoadAttempt loads the attempt identified by id in dst.
	// It errors with ErrNotFound if there is no such attempt.
	LoadAttempt(ctx context.Context, org OrganizationID, id AttemptID, dst *GreetingAttempt) error

	// ListAttempts returns the attempts of the token invitation sorted by creation time.
	ListAttempts(ctx context.Context, org OrganizationID, token Token) ([]GreetingAttempt, error)
}

type invitationKey struct {
	org   OrganizationID
	token Token
}

type attemptKey struct {
	org OrganizationID
	id  AttemptID
}

// MemStore is an in memory Store.
type MemStore struct {
	mut           sync.RWMutex
	invitations   map[invitationKey]Invitation
	order         map[OrganizationID][]Token
	attempts      map[attemptKey]GreetingAttempt
	tokenAttempts map[invitationKey][]AttemptID
}

func NewMemStore() *MemStore {
	return &MemStore{
		invitations:   make(map[invitationKey]Invitation),
		order:         make(map[OrganizationID][]Token),
		attempts:      make(map[attemptKey]GreetingAttempt),
		tokenAttempts: make(map[invitationKey][]AttemptID),
	}
}

func (self *MemStore) CreateInvitation(_ context.Context, inv Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}
	self.mut.Lock()
	defer self.mut.Unlock()

	k := invitationKey{org: inv.Org, token: inv.Token}
	if _, conflict := self.invitations[k]; conflict {
		return raise(ErrAlreadyExists, "token already in use")
	}
	self.invitations[k] = inv.Clone()
	self.order[inv.Org] = append(self.order[inv.Org], inv.Token)
	return nil
}

func (self *MemStore) LoadInvitation(_ context.Context, org OrganizationID, token Token, dst *Invitation) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	inv, found := self.invitations[invitationKey{org: org, token: token}]
	if !found {
		return raise(ErrNotFound, "unknown invitation")
	}
	*dst = inv.Clone()
	return nil
}

func (self *MemStore) FindPendingInvitation(_ context.Context, org OrganizationID, dedupeKey string, dst *Invitation) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	for _, token := range self.order[org] {
		inv := self.invitations[invitationKey{org: org, token: token}]
		if !inv.Deleted() && dedupeKey == inv.DedupeKey() {
			*dst = inv.Clone()
			return nil
		}
	}
	return raise(ErrNotFound, "no pending invitation")
}

func (self *MemStore) ListInvitations(_ context.Context, org OrganizationID) ([]Invitation, error) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	rv := make([]Invitation, 0, len(self.order[org]))
	for _, token := range self.order[org] {
		rv = append(rv, self.invitations[invitationKey{org: org, token: token}].Clone())
	}
	slices.SortStableFunc(rv, func(a, b Invitation) int { return a.CreatedOn.Compare(b.CreatedOn) })
	return rv, nil
}

func (self *MemStore) UpdateInvitation(_ context.Context, inv Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}
	self.mut.Lock()
	defer self.mut.Unlock()

	k := invitationKey{org: inv.Org, token: inv.Token}
	cur, found := self.invitations[k]
	if !found {
		return raise(ErrNotFound, "unknown invitation")
	}
	cur.DeletedOn = inv.DeletedOn
	cur.DeletedReason = inv.DeletedReason
	cur.DeletedBy = inv.DeletedBy
	cur.FinishedAttempt = inv.FinishedAttempt
	self.invitations[k] = cur.Clone()
	return nil
}

func (self *MemStore) SaveAttempt(_ context.Context, attempt GreetingAttempt) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	k := attemptKey{org: attempt.Org, id: attempt.ID}
	if _, found := self.attempts[k]; !found {
		ik := invitationKey{org: attempt.Org, token: attempt.Token}
		self.tokenAttempts[ik] = append(self.tokenAttempts[ik], attempt.ID)
	}
	self.attempts[k] = attempt.Clone()
	return nil
}

func (self *MemStore) LoadAttempt(_ context.Context, org OrganizationID, id AttemptID, dst *GreetingAttempt) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	attempt, found := self.attempts[attemptKey{org: org, id: id}]
	if !found {
		return raise(ErrNotFound, "unknown attempt")
	}
	*dst = attempt.Clone()
	return nil
}

func (self *MemStore) ListAttempts(_ context.Context, org OrganizationID, token Token) ([]GreetingAttempt, error) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	ids := self.tokenAttempts[invitationKey{org: org, token: token}]
	rv := make([]GreetingAttempt, 0, len(ids))
	for _, id := range ids {
		rv = append(rv, self.attempts[attemptKey{org: org, id: id}].Clone())
	}
	slices.SortStableFunc(rv, func(a, b GreetingAttempt) int { return a.CreatedOn.Compare(b.CreatedOn) })
	return rv, nil
}

var _ Store = &MemStore{}
