package invite

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Organization holds the organization attributes the invitation core depends on.
type Organization struct {
	ID              OrganizationID `json:"id" yaml:"id"`
	Expired         bool           `json:"expired" yaml:"expired"`
	OutsiderAllowed bool           `json:"outsider_allowed" yaml:"outsider_allowed"`
}

// HumanHandle is the human identity attached to a User.
type HumanHandle struct {
	Email string `json:"email" yaml:"email" cbor:"1,keyasint"`
	Label string `json:"label" yaml:"label" cbor:"2,keyasint"`
}

// String formats the HumanHandle as an email address with display name.
func (self HumanHandle) String() string {
	if "" == self.Label {
		return self.Email
	}
	return self.Label + " <" + self.Email + ">"
}

type User struct {
	ID          UserID      `json:"id" yaml:"id"`
	HumanHandle HumanHandle `json:"human_handle" yaml:"human_handle"`
	Profile     Profile     `json:"profile" yaml:"profile"`
	Revoked     bool        `json:"revoked" yaml:"revoked"`
}

type Device struct {
	ID         DeviceID `json:"id" yaml:"id"`
	Label      string   `json:"label" yaml:"label"`
	SigningKey []byte   `json:"signing_key" yaml:"signing_key"`
}

// IdentityProvider gives read access to the organizations, users & devices that authorize invitation operations.
type IdentityProvider interface {
	// LoadOrganization loads org in dst.
	// It errors with ErrNotFound if org does not exist.
	LoadOrganization(ctx context.Context, org OrganizationID, dst *Organization) error

	// LoadUser loads user in dst.
	// It errors with ErrNotFound if user does not exist.
	LoadUser(ctx context.Context, org OrganizationID, user UserID, dst *User) error

	// LoadDevice loads device in dst.
	// It errors with ErrNotFound if device does not exist.
	LoadDevice(ctx context.Context, org OrganizationID, device DeviceID, dst *Device) error

	// FindUserByEmail loads in dst the non revoked user having email.
	// It errors with ErrNotFound if there is no such user.
	FindUserByEmail(ctx context.Context, org OrganizationID, email string, dst *User) error

	// ListUsers returns the users of org sorted by ID.
	ListUsers(ctx context.Context, org OrganizationID) ([]User, error)
}

// MemIdentity is an in memory IdentityProvider.
type MemIdentity struct {
	mut     sync.RWMutex
	orgs    map[OrganizationID]Organization
	users   map[OrganizationID]map[UserID]User
	devices map[OrganizationID]map[DeviceID]Device
}

func NewMemIdentity() *MemIdentity {
	return &MemIdentity{
		orgs:    make(map[OrganizationID]Organization),
		users:   make(map[OrganizationID]map[UserID]User),
		devices: make(map[OrganizationID]map[DeviceID]Device),
	}
}

// SaveOrganization adds or replaces org.
func (self *MemIdentity) SaveOrganization(org Organization) error {
	if "" == org.ID {
		return raise(ErrInvalidInput, "empty organization id")
	}
	self.mut.Lock()
	defer self.mut.Unlock()

	self.orgs[org.ID] = org
	if nil == self.users[org.ID] {
		self.users[org.ID] = make(map[UserID]User)
		self.devices[org.ID] = make(map[DeviceID]Device)
	}
	return nil
}

// SaveUser adds or replaces user in org.
// It errors if org does not exist or if user is invalid.
func (self *MemIdentity) SaveUser(org OrganizationID, user User) error {
	if "" == user.ID {
		return raise(ErrInvalidInput, "empty user id")
	}
	if err := user.Profile.Check(); nil != err {
		return err
	}
	self.mut.Lock()
	defer self.mut.Unlock()

	users, found := self.users[org]
	if !found {
		return raise(ErrNotFound, "unknown organization %s", org)
	}
	user.HumanHandle.Email = strings.ToLower(user.HumanHandle.Email)
	users[user.ID] = user
	return nil
}

// SaveDevice adds or replaces device in org.
// It errors if org or the device user do not exist.
func (self *MemIdentity) SaveDevice(org OrganizationID, device Device) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	users, found := self.users[org]
	if !found {
		return raise(ErrNotFound, "unknown organization %s", org)
	}
	if _, found = users[device.ID.UserID()]; !found {
		return raise(ErrNotFound, "unknown user for device %s", device.ID)
	}
	self.devices[org][device.ID] = device
	return nil
}

func (self *MemIdentity) LoadOrganization(_ context.Context, org OrganizationID, dst *Organization) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	o, found := self.orgs[org]
	if !found {
		return raise(ErrNotFound, "unknown organization %s", org)
	}
	*dst = o
	return nil
}

func (self *MemIdentity) LoadUser(_ context.Context, org OrganizationID, user UserID, dst *User) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	u, found := self.users[org][user]
	if !found {
		return raise(ErrNotFound, "unknown user %s", user)
	}
	*dst = u
	return nil
}

func (self *MemIdentity) LoadDevice(_ context.Context, org OrganizationID, device DeviceID, dst *Device) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	d, found := self.devices[org][device]
	if !found {
		return raise(ErrNotFound, "unknown device %s", device)
	}
	d.SigningKey = slices.Clone(d.SigningKey)
	*dst = d
	return nil
}

func (self *MemIdentity) FindUserByEmail(_ context.Context, org OrganizationID, email string, dst *User) error {
	self.mut.RLock()
	defer self.mut.RUnlock()

	email = strings.ToLower(email)
	for _, u := range self.users[org] {
		if !u.Revoked && email == u.HumanHandle.Email {
			*dst = u
			return nil
		}
	}
	return raise(ErrNotFound, "no user with email %s", email)
}

func (self *MemIdentity) ListUsers(_ context.Context, org OrganizationID) ([]User, error) {
	self.mut.RLock()
	defer self.mut.RUnlock()

	rv := make([]User, 0, len(self.users[org]))
	for _, u := range self.users[org] {
		rv = append(rv, u)
	}
	slices.SortFunc(rv, func(a, b User) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return rv, nil
}

var _ IdentityProvider = &MemIdentity{}
