package pgdb

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// Identity is an invite.IdentityProvider reading organizations, users & devices from PostgreSQL.
type Identity struct {
	DB PGDB
}

// SaveOrganization adds or replaces org.
func (self *Identity) SaveOrganization(ctx context.Context, org invite.Organization) error {
	if "" == org.ID {
		return newError("empty organization id")
	}
	_, err := self.DB.Exec(
		ctx,
		`INSERT INTO organization(id, expired, outsider_allowed) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET
		 expired = EXCLUDED.expired,
		 outsider_allowed = EXCLUDED.outsider_allowed`,
		org.ID,
		org.Expired,
		org.OutsiderAllowed,
	)

	return wrapError(err, "failed saving organization") // nil if err is nil...
}

// SaveUser adds or replaces user in org.
func (self *Identity) SaveUser(ctx context.Context, org invite.OrganizationID, user invite.User) error {
	if "" == user.ID {
		return newError("empty user id")
	}
	err := user.Profile.Check()
	if nil != err {
		return wrapError(err, "invalid user")
	}
	_, err = self.DB.Exec(
		ctx,
		`INSERT INTO user_(org, id, email, label, profile, revoked) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (org, id) DO UPDATE SET
		 email = EXCLUDED.email,
		 label = EXCLUDED.label,
		 profile = EXCLUDED.profile,
		 revoked = EXCLUDED.revoked`,
		org,
		user.ID,
		strings.ToLower(user.HumanHandle.Email),
		user.HumanHandle.Label,
		user.Profile,
		user.Revoked,
	)

	return wrapError(err, "failed saving user")
}

// SaveDevice adds or replaces device in org.
func (self *Identity) SaveDevice(ctx context.Context, org invite.OrganizationID, device invite.Device) error {
	_, err := self.DB.Exec(
		ctx,
		`INSERT INTO device(org, id, user_id, label, signing_key) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (org, id) DO UPDATE SET
		 label = EXCLUDED.label,
		 signing_key = EXCLUDED.signing_key`,
		org,
		device.ID,
		device.ID.UserID(),
		device.Label,
		device.SigningKey,
	)

	return wrapError(err, "failed saving device")
}

func (self *Identity) LoadOrganization(ctx context.Context, org invite.OrganizationID, dst *invite.Organization) error {
	rows, err := self.DB.Query(
		ctx,
		// columns are renamed to match invite.Organization struct
		`SELECT
		   id as "ID",
		   expired as "Expired",
		   outsider_allowed as "OutsiderAllowed"
		 FROM
		   organization
		 WHERE
		   id = $1
		`,
		org,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	o, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByNameLax[invite.Organization])
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "unknown organization %s", org)
		}
		return wrapError(err, "failed loading organization")
	}
	*dst = o
	return nil
}

const userColumns = `id, email, label, profile, revoked`

func (self *Identity) LoadUser(ctx context.Context, org invite.OrganizationID, user invite.UserID, dst *invite.User) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+userColumns+` FROM user_ WHERE org = $1 AND id = $2`,
		org,
		user,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	u, err := pgx.CollectExactlyOneRow(rows, rowToUser)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "unknown user %s", user)
		}
		return wrapError(err, "failed loading user")
	}
	*dst = u
	return nil
}

func (self *Identity) LoadDevice(ctx context.Context, org invite.OrganizationID, device invite.DeviceID, dst *invite.Device) error {
	row := self.DB.QueryRow(
		ctx,
		`SELECT id, label, signing_key FROM device WHERE org = $1 AND id = $2`,
		org,
		device,
	)
	var d invite.Device
	err := row.Scan(&d.ID, &d.Label, &d.SigningKey)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "unknown device %s", device)
		}
		return wrapError(err, "failed loading device")
	}
	*dst = d
	return nil
}

func (self *Identity) FindUserByEmail(ctx context.Context, org invite.OrganizationID, email string, dst *invite.User) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+userColumns+` FROM user_
		 WHERE org = $1 AND lower(email) = lower($2) AND NOT revoked
		 ORDER BY id
		 LIMIT 1`,
		org,
		email,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	u, err := pgx.CollectExactlyOneRow(rows, rowToUser)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "no user with email %s", email)
		}
		return wrapError(err, "failed loading user")
	}
	*dst = u
	return nil
}

func (self *Identity) ListUsers(ctx context.Context, org invite.OrganizationID) ([]invite.User, error) {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+userColumns+` FROM user_ WHERE org = $1 ORDER BY id`,
		org,
	)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	users, err := pgx.CollectRows(rows, rowToUser)
	return users, wrapError(err, "failed pgx.CollectRows") // nil if err is nil
}

func rowToUser(row pgx.CollectableRow) (invite.User, error) {
	var u invite.User
	err := row.Scan(&u.ID, &u.HumanHandle.Email, &u.HumanHandle.Label, &u.Profile, &u.Revoked)
	return u, err
}

var _ invite.IdentityProvider = &Identity{}
