package pgdb

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const uniqueViolation = "23505"

// Store is an invite.Store keeping Invitations & GreetingAttempts in PostgreSQL.
type Store struct {
	DB PGDB
}

const invitationColumns = `
	org, token, kind, created_by_user, created_by_device, created_on,
	coalesce(claimer_email, ''), coalesce(claimer_user_id, ''), coalesce(shamir_recipients, '{}'),
	deleted_on, coalesce(deleted_reason, ''), coalesce(deleted_by, ''), finished_attempt`

func (self *Store) CreateInvitation(ctx context.Context, inv invite.Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}
	_, err = self.DB.Exec(
		ctx,
		`INSERT INTO invitation(
		   org, token, kind, created_by_user, created_by_device, created_on,
		   claimer_email, claimer_user_id, shamir_recipients, dedupe_key,
		   deleted_on, deleted_reason, deleted_by, finished_attempt)
		 VALUES ($1, $2, $3, $4, $5, $6, nullif($7, ''), nullif($8, ''), $9, $10, $11, nullif($12, ''), nullif($13, ''), $14)`,
		inv.Org,
		inv.Token[:],
		inv.Kind,
		inv.CreatedByUserID,
		inv.CreatedByDeviceID,
		inv.CreatedOn,
		inv.ClaimerEmail,
		inv.ClaimerUserID,
		userIDs(inv.ShamirRecipients),
		inv.DedupeKey(),
		inv.DeletedOn,
		inv.DeletedReason,
		inv.DeletedBy,
		attemptBytes(inv.FinishedAttempt),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && uniqueViolation == pgErr.Code {
		return wrapError(invite.ErrAlreadyExists, "token already in use")
	}

	return wrapError(err, "failed saving invitation") // nil if err is nil...
}

func (self *Store) LoadInvitation(ctx context.Context, org invite.OrganizationID, token invite.Token, dst *invite.Invitation) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+invitationColumns+` FROM invitation WHERE org = $1 AND token = $2`,
		org,
		token[:],
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	inv, err := pgx.CollectExactlyOneRow(rows, rowToInvitation)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "unknown invitation")
		}
		return wrapError(err, "failed loading invitation")
	}
	*dst = inv
	return nil
}

func (self *Store) FindPendingInvitation(ctx context.Context, org invite.OrganizationID, dedupeKey string, dst *invite.Invitation) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+invitationColumns+` FROM invitation
		 WHERE org = $1 AND dedupe_key = $2 AND deleted_on IS NULL
		 ORDER BY created_on
		 LIMIT 1`,
		org,
		dedupeKey,
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	inv, err := pgx.CollectExactlyOneRow(rows, rowToInvitation)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "no pending invitation")
		}
		return wrapError(err, "failed loading invitation")
	}
	*dst = inv
	return nil
}

func (self *Store) ListInvitations(ctx context.Context, org invite.OrganizationID) ([]invite.Invitation, error) {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+invitationColumns+` FROM invitation WHERE org = $1 ORDER BY created_on`,
		org,
	)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	invitations, err := pgx.CollectRows(rows, rowToInvitation)
	return invitations, wrapError(err, "failed pgx.CollectRows") // nil if err is nil
}

func (self *Store) UpdateInvitation(ctx context.Context, inv invite.Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}
	tag, err := self.DB.Exec(
		ctx,
		`UPDATE invitation SET
		   deleted_on = $3,
		   deleted_reason = nullif($4, ''),
		   deleted_by = nullif($5, ''),
		   finished_attempt = $6
		 WHERE org = $1 AND token = $2`,
		inv.Org,
		inv.Token[:],
		inv.DeletedOn,
		inv.DeletedReason,
		inv.DeletedBy,
		attemptBytes(inv.FinishedAttempt),
	)
	if nil != err {
		return wrapError(err, "failed UPDATE query")
	}
	if 0 == tag.RowsAffected() {
		return wrapError(invite.ErrNotFound, "unknown invitation")
	}

	return nil
}

// SaveAttempt upserts attempt & inserts its new steps in a single transaction.
// Steps are append only, existing ones are left untouched.
func (self *Store) SaveAttempt(ctx context.Context, attempt invite.GreetingAttempt) error {
	var cancelled invite.CancelInfo
	var cancelledOn *time.Time
	if nil != attempt.Cancelled {
		cancelled = *attempt.Cancelled
		cancelledOn = &cancelled.On
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO greeting_attempt(
		   org, id, token, greeter_user_id, created_on, greeter_joined, claimer_joined,
		   cancelled_origin, cancelled_reason, cancelled_on)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, nullif($8, ''), nullif($9, ''), $10)
		 ON CONFLICT (org, id) DO UPDATE SET
		   greeter_joined = EXCLUDED.greeter_joined,
		   claimer_joined = EXCLUDED.claimer_joined,
		   cancelled_origin = EXCLUDED.cancelled_origin,
		   cancelled_reason = EXCLUDED.cancelled_reason,
		   cancelled_on = EXCLUDED.cancelled_on`,
		attempt.Org,
		attempt.ID[:],
		attempt.Token[:],
		attempt.GreeterUserID,
		attempt.CreatedOn,
		attempt.GreeterJoined,
		attempt.ClaimerJoined,
		cancelled.Origin,
		cancelled.Reason,
		cancelledOn,
	)
	for _, side := range []invite.Side{invite.SideGreeter, invite.SideClaimer} {
		for n, payload := range attempt.Steps(side) {
			if nil == payload {
				payload = []byte{}
			}
			batch.Queue(
				`INSERT INTO greeting_step(org, attempt, side, step, payload) VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT DO NOTHING`,
				attempt.Org,
				attempt.ID[:],
				side,
				n,
				payload,
			)
		}
	}

	err := pgx.BeginFunc(ctx, self.DB, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})

	return wrapError(err, "failed saving attempt") // nil if err is nil...
}

func (self *Store) LoadAttempt(ctx context.Context, org invite.OrganizationID, id invite.AttemptID, dst *invite.GreetingAttempt) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+attemptColumns+` FROM greeting_attempt WHERE org = $1 AND id = $2`,
		org,
		id[:],
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	attempt, err := pgx.CollectExactlyOneRow(rows, rowToAttempt)
	if nil != err {
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapError(invite.ErrNotFound, "unknown attempt")
		}
		return wrapError(err, "failed loading attempt")
	}
	err = self.loadSteps(ctx, &attempt)
	if nil != err {
		return err
	}
	*dst = attempt
	return nil
}

func (self *Store) ListAttempts(ctx context.Context, org invite.OrganizationID, token invite.Token) ([]invite.GreetingAttempt, error) {
	rows, err := self.DB.Query(
		ctx,
		`SELECT `+attemptColumns+` FROM greeting_attempt WHERE org = $1 AND token = $2 ORDER BY created_on`,
		org,
		token[:],
	)
	if nil != err {
		return nil, wrapError(err, "failed DB.Query")
	}
	attempts, err := pgx.CollectRows(rows, rowToAttempt)
	if nil != err {
		return nil, wrapError(err, "failed pgx.CollectRows")
	}
	for i := range attempts {
		err = self.loadSteps(ctx, &attempts[i])
		if nil != err {
			return nil, err
		}
	}
	return attempts, nil
}

const attemptColumns = `
	org, id, token, greeter_user_id, created_on, greeter_joined, claimer_joined,
	coalesce(cancelled_origin, ''), coalesce(cancelled_reason, ''), cancelled_on`

func (self *Store) loadSteps(ctx context.Context, attempt *invite.GreetingAttempt) error {
	rows, err := self.DB.Query(
		ctx,
		`SELECT side, step, payload FROM greeting_step
		 WHERE org = $1 AND attempt = $2
		 ORDER BY side, step`,
		attempt.Org,
		attempt.ID[:],
	)
	if nil != err {
		return wrapError(err, "failed DB.Query")
	}
	defer rows.Close()

	attempt.GreeterSteps, attempt.ClaimerSteps = nil, nil
	for rows.Next() {
		var side invite.Side
		var n int
		var payload []byte
		err = rows.Scan(&side, &n, &payload)
		if nil != err {
			return wrapError(err, "failed scanning step")
		}
		switch side {
		case invite.SideGreeter:
			if n != len(attempt.GreeterSteps) {
				return newError("missing greeter step %d", len(attempt.GreeterSteps))
			}
			attempt.GreeterSteps = append(attempt.GreeterSteps, payload)
		default:
			if n != len(attempt.ClaimerSteps) {
				return newError("missing claimer step %d", len(attempt.ClaimerSteps))
			}
			attempt.ClaimerSteps = append(attempt.ClaimerSteps, payload)
		}
	}

	return wrapError(rows.Err(), "failed reading steps")
}

func rowToInvitation(row pgx.CollectableRow) (invite.Invitation, error) {
	var inv invite.Invitation
	var token, finished []byte
	var recipients []string
	err := row.Scan(
		&inv.Org,
		&token,
		&inv.Kind,
		&inv.CreatedByUserID,
		&inv.CreatedByDeviceID,
		&inv.CreatedOn,
		&inv.ClaimerEmail,
		&inv.ClaimerUserID,
		&recipients,
		&inv.DeletedOn,
		&inv.DeletedReason,
		&inv.DeletedBy,
		&finished,
	)
	if nil != err {
		return inv, err
	}
	copy(inv.Token[:], token)
	copy(inv.FinishedAttempt[:], finished)
	for _, r := range recipients {
		inv.ShamirRecipients = append(inv.ShamirRecipients, invite.UserID(r))
	}
	return inv, nil
}

func rowToAttempt(row pgx.CollectableRow) (invite.GreetingAttempt, error) {
	var attempt invite.GreetingAttempt
	var id, token []byte
	var origin invite.Side
	var reason invite.CancelReason
	var cancelledOn *time.Time
	err := row.Scan(
		&attempt.Org,
		&id,
		&token,
		&attempt.GreeterUserID,
		&attempt.CreatedOn,
		&attempt.GreeterJoined,
		&attempt.ClaimerJoined,
		&origin,
		&reason,
		&cancelledOn,
	)
	if nil != err {
		return attempt, err
	}
	copy(attempt.ID[:], id)
	copy(attempt.Token[:], token)
	if nil != cancelledOn {
		attempt.Cancelled = &invite.CancelInfo{Origin: origin, Reason: reason, On: *cancelledOn}
	}
	return attempt, nil
}

func userIDs(ids []invite.UserID) []string {
	rv := make([]string, 0, len(ids))
	for _, id := range ids {
		rv = append(rv, string(id))
	}
	return rv
}

// attemptBytes maps the zero AttemptID to NULL.
func attemptBytes(id invite.AttemptID) []byte {
	if (invite.AttemptID{}) == id {
		return nil
	}
	return id[:]
}

var _ invite.Store = &Store{}
