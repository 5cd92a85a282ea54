// Package boltdb provides a persistent invite.Store that keeps data in a single file.
package boltdb

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const connectTimeout = 5 * time.Second

var (
	invitationTbl   = []byte("invitation")
	attemptTbl      = []byte("attempt")
	tokenAttemptIdx = []byte("tokenAttempts")
)

// records keep sub second timestamps, attempts & invitations are ordered by creation time.
var encMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// Store is an invite.Store keeping Invitations & GreetingAttempts in a bbolt database.
type Store struct {
	db *bolt.DB
}

// New opens or creates the database at dbpath and returns a Store using it.
// It errors if the database schema can not be created.
func New(dbpath string) (*Store, error) {
	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{invitationTbl, attemptTbl, tokenAttemptIdx} {
			_, err := tx.CreateBucketIfNotExists(name)
			if nil != err {
				return wrapError(err, "failed %s bucket creation", name)
			}
		}
		return nil
	})
	if nil != err {
		db.Close()
		return nil, wrapError(err, "failed db initialization")
	}

	return &Store{db: db}, nil
}

// Close releases the database file.
func (self *Store) Close() error {
	return self.db.Close()
}

// orgPrefix returns the key prefix of the org records.
// Organization ids can not contain 0 bytes.
func orgPrefix(org invite.OrganizationID) []byte {
	rv := make([]byte, 0, len(org)+1)
	rv = append(rv, org...)
	return append(rv, 0)
}

func invitationKey(org invite.OrganizationID, token invite.Token) []byte {
	return append(orgPrefix(org), token[:]...)
}

func attemptKey(org invite.OrganizationID, id invite.AttemptID) []byte {
	return append(orgPrefix(org), id[:]...)
}

func tokenAttemptKey(org invite.OrganizationID, token invite.Token, id invite.AttemptID) []byte {
	return append(invitationKey(org, token), id[:]...)
}

func (self *Store) CreateInvitation(_ context.Context, inv invite.Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}
	srz, err := encMode.Marshal(inv)
	if nil != err {
		return wrapError(err, "failed cbor.Marshal(invitation)")
	}

	err = self.db.Update(func(tx *bolt.Tx) error {
		tbl := tx.Bucket(invitationTbl)
		key := invitationKey(inv.Org, inv.Token)
		if nil != tbl.Get(key) {
			return wrapError(invite.ErrAlreadyExists, "token already in use")
		}
		return tbl.Put(key, srz)
	})
	return wrapError(err, "failed db.Update") // nil if err is nil
}

func (self *Store) LoadInvitation(_ context.Context, org invite.OrganizationID, token invite.Token, dst *invite.Invitation) error {
	err := self.db.View(func(tx *bolt.Tx) error {
		srz := tx.Bucket(invitationTbl).Get(invitationKey(org, token))
		if nil == srz {
			return wrapError(invite.ErrNotFound, "unknown invitation")
		}
		return cbor.Unmarshal(srz, dst)
	})
	return wrapError(err, "failed loading invitation")
}

func (self *Store) FindPendingInvitation(ctx context.Context, org invite.OrganizationID, dedupeKey string, dst *invite.Invitation) error {
	invitations, err := self.ListInvitations(ctx, org)
	if nil != err {
		return err
	}
	for _, inv := range invitations {
		if !inv.Deleted() && dedupeKey == inv.DedupeKey() {
			*dst = inv
			return nil
		}
	}
	return wrapError(invite.ErrNotFound, "no pending invitation")
}

func (self *Store) ListInvitations(_ context.Context, org invite.OrganizationID) ([]invite.Invitation, error) {
	var rv []invite.Invitation
	err := self.db.View(func(tx *bolt.Tx) error {
		prefix := orgPrefix(org)
		cur := tx.Bucket(invitationTbl).Cursor()
		for k, v := cur.Seek(prefix); nil != k && bytes.HasPrefix(k, prefix); k, v = cur.Next() {
			var inv invite.Invitation
			err := cbor.Unmarshal(v, &inv)
			if nil != err {
				return wrapError(err, "failed cbor.Unmarshal(invitation)")
			}
			rv = append(rv, inv)
		}
		return nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db.View")
	}
	slices.SortStableFunc(rv, func(a, b invite.Invitation) int { return a.CreatedOn.Compare(b.CreatedOn) })
	return rv, nil
}

func (self *Store) UpdateInvitation(_ context.Context, inv invite.Invitation) error {
	err := inv.Check()
	if nil != err {
		return wrapError(err, "invalid invitation")
	}

	err = self.db.Update(func(tx *bolt.Tx) error {
		tbl := tx.Bucket(invitationTbl)
		key := invitationKey(inv.Org, inv.Token)
		srz := tbl.Get(key)
		if nil == srz {
			return wrapError(invite.ErrNotFound, "unknown invitation")
		}
		var cur invite.Invitation
		err := cbor.Unmarshal(srz, &cur)
		if nil != err {
			return wrapError(err, "failed cbor.Unmarshal(invitation)")
		}
		cur.DeletedOn = inv.DeletedOn
		cur.DeletedReason = inv.DeletedReason
		cur.DeletedBy = inv.DeletedBy
		cur.FinishedAttempt = inv.FinishedAttempt
		srz, err = encMode.Marshal(cur)
		if nil != err {
			return wrapError(err, "failed cbor.Marshal(invitation)")
		}
		return tbl.Put(key, srz)
	})
	return wrapError(err, "failed db.Update")
}

func (self *Store) SaveAttempt(_ context.Context, attempt invite.GreetingAttempt) error {
	srz, err := encMode.Marshal(attempt)
	if nil != err {
		return wrapError(err, "failed cbor.Marshal(attempt)")
	}

	err = self.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(attemptTbl).Put(attemptKey(attempt.Org, attempt.ID), srz)
		if nil != err {
			return wrapError(err, "failed storing attempt in bucket")
		}
		err = tx.Bucket(tokenAttemptIdx).Put(tokenAttemptKey(attempt.Org, attempt.Token, attempt.ID), []byte{})
		return wrapError(err, "failed updating the tokenAttempts bucket")
	})
	return wrapError(err, "failed db.Update")
}

func (self *Store) LoadAttempt(_ context.Context, org invite.OrganizationID, id invite.AttemptID, dst *invite.GreetingAttempt) error {
	err := self.db.View(func(tx *bolt.Tx) error {
		srz := tx.Bucket(attemptTbl).Get(attemptKey(org, id))
		if nil == srz {
			return wrapError(invite.ErrNotFound, "unknown attempt")
		}
		return cbor.Unmarshal(srz, dst)
	})
	return wrapError(err, "failed loading attempt")
}

func (self *Store) ListAttempts(_ context.Context, org invite.OrganizationID, token invite.Token) ([]invite.GreetingAttempt, error) {
	var rv []invite.GreetingAttempt
	err := self.db.View(func(tx *bolt.Tx) error {
		attempts := tx.Bucket(attemptTbl)
		prefix := invitationKey(org, token)
		cur := tx.Bucket(tokenAttemptIdx).Cursor()
		for k, _ := cur.Seek(prefix); nil != k && bytes.HasPrefix(k, prefix); k, _ = cur.Next() {
			srz := attempts.Get(append(orgPrefix(org), k[len(prefix):]...))
			if nil == srz {
				return newError("dangling tokenAttempts entry")
			}
			var attempt invite.GreetingAttempt
			err := cbor.Unmarshal(srz, &attempt)
			if nil != err {
				return wrapError(err, "failed cbor.Unmarshal(attempt)")
			}
			rv = append(rv, attempt)
		}
		return nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db.View")
	}
	slices.SortStableFunc(rv, func(a, b invite.GreetingAttempt) int { return a.CreatedOn.Compare(b.CreatedOn) })
	return rv, nil
}

var _ invite.Store = &Store{}
