package config

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// Fixture lists the organizations, users & devices an invited server starts with.
type Fixture struct {
	Organizations []FixtureOrganization `yaml:"organizations"`
}

type FixtureOrganization struct {
	invite.Organization `yaml:",inline"`
	Users               []FixtureUser `yaml:"users"`
}

type FixtureUser struct {
	invite.User `yaml:",inline"`
	Devices     []invite.Device `yaml:"devices"`
}

// LoadFixture decodes the YAML Fixture at path.
func LoadFixture(path string) (Fixture, error) {
	var rv Fixture
	data, err := os.ReadFile(path)
	if nil != err {
		return rv, wrapError(err, "failed reading %s", path)
	}
	err = yaml.Unmarshal(data, &rv)
	if nil != err {
		return rv, wrapError(err, "failed decoding %s", path)
	}
	return rv, nil
}

// IdentityWriter saves organizations, users & devices.
type IdentityWriter interface {
	SaveOrganization(ctx context.Context, org invite.Organization) error
	SaveUser(ctx context.Context, org invite.OrganizationID, user invite.User) error
	SaveDevice(ctx context.Context, org invite.OrganizationID, device invite.Device) error
}

// MemWriter adapts an invite.MemIdentity to the IdentityWriter interface.
type MemWriter struct {
	Identity *invite.MemIdentity
}

func (self MemWriter) SaveOrganization(_ context.Context, org invite.Organization) error {
	return self.Identity.SaveOrganization(org)
}

func (self MemWriter) SaveUser(_ context.Context, org invite.OrganizationID, user invite.User) error {
	return self.Identity.SaveUser(org, user)
}

func (self MemWriter) SaveDevice(_ context.Context, org invite.OrganizationID, device invite.Device) error {
	return self.Identity.SaveDevice(org, device)
}

// Seed saves the Fixture content in dst.
func (self Fixture) Seed(ctx context.Context, dst IdentityWriter) error {
	for _, org := range self.Organizations {
		err := dst.SaveOrganization(ctx, org.Organization)
		if nil != err {
			return wrapError(err, "failed saving organization %s", org.ID)
		}
		for _, user := range org.Users {
			err = dst.SaveUser(ctx, org.ID, user.User)
			if nil != err {
				return wrapError(err, "failed saving user %s", user.ID)
			}
			for _, device := range user.Devices {
				err = dst.SaveDevice(ctx, org.ID, device)
				if nil != err {
					return wrapError(err, "failed saving device %s", device.ID)
				}
			}
		}
	}
	return nil
}
