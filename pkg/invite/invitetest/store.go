// Package invitetest checks invite.Store implementations.
package invitetest

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const (
	org      = invite.OrganizationID("CoolOrg")
	otherOrg = invite.OrganizationID("OtherOrg")
)

// NewStoreFunc returns an empty Store for the t test.
type NewStoreFunc func(t *testing.T) invite.Store

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

func newToken(t *testing.T) invite.Token {
	t.Helper()
	token, err := invite.NewToken(nil)
	if nil != err {
		t.Fatalf("failed NewToken, got error %v", err)
	}
	return token
}

// NewUserInvitation returns a pending USER invitation created by alice at epoch + offset.
func NewUserInvitation(t *testing.T, org invite.OrganizationID, email string, offset time.Duration) invite.Invitation {
	t.Helper()
	return invite.Invitation{
		Org:               org,
		Token:             newToken(t),
		Kind:              invite.KindUser,
		CreatedByUserID:   "alice",
		CreatedByDeviceID: "alice@dev1",
		CreatedOn:         epoch.Add(offset),
		ClaimerEmail:      email,
	}
}

// TestStore runs the invite.Store behavior checks against the stores returned by newStore.
func TestStore(t *testing.T, newStore NewStoreFunc) {
	t.Run("CreateLoadInvitation", func(t *testing.T) { testCreateLoadInvitation(t, newStore(t)) })
	t.Run("FindPendingInvitation", func(t *testing.T) { testFindPendingInvitation(t, newStore(t)) })
	t.Run("ListInvitations", func(t *testing.T) { testListInvitations(t, newStore(t)) })
	t.Run("UpdateInvitation", func(t *testing.T) { testUpdateInvitation(t, newStore(t)) })
	t.Run("SaveLoadAttempt", func(t *testing.T) { testSaveLoadAttempt(t, newStore(t)) })
	t.Run("ListAttempts", func(t *testing.T) { testListAttempts(t, newStore(t)) })
}

func testCreateLoadInvitation(t *testing.T, store invite.Store) {
	ctx := context.Background()

	inv := NewUserInvitation(t, org, "mike@example.org", 0)
	inv.Kind = invite.KindShamirRecovery
	inv.ClaimerEmail = ""
	inv.ClaimerUserID = "mike"
	inv.ShamirRecipients = []invite.UserID{"alice", "carol"}
	err := store.CreateInvitation(ctx, inv)
	if nil != err {
		t.Fatalf("failed CreateInvitation, got error %v", err)
	}

	err = store.CreateInvitation(ctx, inv)
	if !errors.Is(err, invite.ErrAlreadyExists) {
		t.Errorf("failed duplicate CreateInvitation ErrAlreadyExists check, got %v", err)
	}

	var loaded invite.Invitation
	err = store.LoadInvitation(ctx, org, inv.Token, &loaded)
	if nil != err {
		t.Fatalf("failed LoadInvitation, got error %v", err)
	}
	CheckInvitation(t, inv, loaded)

	err = store.LoadInvitation(ctx, otherOrg, inv.Token, &loaded)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed other org LoadInvitation ErrNotFound check, got %v", err)
	}
	err = store.LoadInvitation(ctx, org, newToken(t), &loaded)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed unknown token LoadInvitation ErrNotFound check, got %v", err)
	}

	err = store.CreateInvitation(ctx, invite.Invitation{Org: org, Token: newToken(t)})
	if nil == err {
		t.Errorf("failed invalid CreateInvitation check, got nil error")
	}
}

func testFindPendingInvitation(t *testing.T, store invite.Store) {
	ctx := context.Background()

	inv := NewUserInvitation(t, org, "mike@example.org", 0)
	other := NewUserInvitation(t, org, "zack@example.org", time.Second)
	for _, i := range []invite.Invitation{inv, other} {
		err := store.CreateInvitation(ctx, i)
		if nil != err {
			t.Fatalf("failed CreateInvitation, got error %v", err)
		}
	}

	var found invite.Invitation
	err := store.FindPendingInvitation(ctx, org, inv.DedupeKey(), &found)
	if nil != err {
		t.Fatalf("failed FindPendingInvitation, got error %v", err)
	}
	if inv.Token != found.Token {
		t.Errorf("failed FindPendingInvitation Token control, %s != %s", found.Token, inv.Token)
	}
	err = store.FindPendingInvitation(ctx, otherOrg, inv.DedupeKey(), &found)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed other org FindPendingInvitation ErrNotFound check, got %v", err)
	}

	on := epoch.Add(time.Minute)
	inv.DeletedOn = &on
	inv.DeletedReason = invite.DeletedCancelled
	inv.DeletedBy = "alice@dev1"
	err = store.UpdateInvitation(ctx, inv)
	if nil != err {
		t.Fatalf("failed UpdateInvitation, got error %v", err)
	}
	err = store.FindPendingInvitation(ctx, org, inv.DedupeKey(), &found)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed deleted FindPendingInvitation ErrNotFound check, got %v", err)
	}
}

func testListInvitations(t *testing.T, store invite.Store) {
	ctx := context.Background()

	// created out of order
	offsets := []time.Duration{3 * time.Second, time.Millisecond, 2 * time.Second, 0}
	var created []invite.Invitation
	for _, offset := range offsets {
		inv := NewUserInvitation(t, org, "mike@example.org", offset)
		err := store.CreateInvitation(ctx, inv)
		if nil != err {
			t.Fatalf("failed CreateInvitation, got error %v", err)
		}
		created = append(created, inv)
	}
	err := store.CreateInvitation(ctx, NewUserInvitation(t, otherOrg, "mike@example.org", 0))
	if nil != err {
		t.Fatalf("failed other org CreateInvitation, got error %v", err)
	}

	listed, err := store.ListInvitations(ctx, org)
	if nil != err {
		t.Fatalf("failed ListInvitations, got error %v", err)
	}
	if len(created) != len(listed) {
		t.Fatalf("failed ListInvitations count control, %d != %d", len(listed), len(created))
	}
	slices.SortFunc(created, func(a, b invite.Invitation) int { return a.CreatedOn.Compare(b.CreatedOn) })
	for i := range created {
		CheckInvitation(t, created[i], listed[i])
	}

	listed, err = store.ListInvitations(ctx, "EmptyOrg")
	if nil != err {
		t.Fatalf("failed empty ListInvitations, got error %v", err)
	}
	if 0 != len(listed) {
		t.Errorf("failed empty ListInvitations count control, %d != 0", len(listed))
	}
}

func testUpdateInvitation(t *testing.T, store invite.Store) {
	ctx := context.Background()

	inv := NewUserInvitation(t, org, "mike@example.org", 0)
	err := store.UpdateInvitation(ctx, inv)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed unknown UpdateInvitation ErrNotFound check, got %v", err)
	}
	err = store.CreateInvitation(ctx, inv)
	if nil != err {
		t.Fatalf("failed CreateInvitation, got error %v", err)
	}

	on := epoch.Add(time.Hour)
	updated := inv
	updated.DeletedOn = &on
	updated.DeletedReason = invite.DeletedFinished
	updated.DeletedBy = "alice@dev1"
	updated.FinishedAttempt = invite.NewAttemptID()
	updated.ClaimerEmail = "zack@example.org" // creation fields are not updated
	err = store.UpdateInvitation(ctx, updated)
	if nil != err {
		t.Fatalf("failed UpdateInvitation, got error %v", err)
	}

	var loaded invite.Invitation
	err = store.LoadInvitation(ctx, org, inv.Token, &loaded)
	if nil != err {
		t.Fatalf("failed LoadInvitation, got error %v", err)
	}
	updated.ClaimerEmail = inv.ClaimerEmail
	CheckInvitation(t, updated, loaded)
}

func createInvitation(t *testing.T, store invite.Store, email string) invite.Invitation {
	t.Helper()
	inv := NewUserInvitation(t, org, email, 0)
	err := store.CreateInvitation(context.Background(), inv)
	if nil != err {
		t.Fatalf("failed CreateInvitation, got error %v", err)
	}
	return inv
}

func newAttempt(t *testing.T, inv invite.Invitation, offset time.Duration) invite.GreetingAttempt {
	t.Helper()
	joined := epoch.Add(offset + time.Millisecond)
	return invite.GreetingAttempt{
		ID:            invite.NewAttemptID(),
		Org:           inv.Org,
		Token:         inv.Token,
		GreeterUserID: "alice",
		CreatedOn:     epoch.Add(offset),
		GreeterJoined: &joined,
	}
}

func testSaveLoadAttempt(t *testing.T, store invite.Store) {
	ctx := context.Background()
	inv := createInvitation(t, store, "mike@example.org")

	attempt := newAttempt(t, inv, 0)
	err := store.SaveAttempt(ctx, attempt)
	if nil != err {
		t.Fatalf("failed SaveAttempt, got error %v", err)
	}
	var loaded invite.GreetingAttempt
	err = store.LoadAttempt(ctx, org, attempt.ID, &loaded)
	if nil != err {
		t.Fatalf("failed LoadAttempt, got error %v", err)
	}
	CheckAttempt(t, attempt, loaded)

	// join, write steps & cancel
	joined := epoch.Add(time.Second)
	attempt.ClaimerJoined = &joined
	attempt.GreeterSteps = [][]byte{{0x01}, {}, {0x03, 0x04}}
	attempt.ClaimerSteps = [][]byte{{0x11}}
	attempt.Cancelled = &invite.CancelInfo{Origin: invite.SideClaimer, Reason: invite.ReasonInvalidSasCode, On: epoch.Add(time.Minute)}
	err = store.SaveAttempt(ctx, attempt)
	if nil != err {
		t.Fatalf("failed updating SaveAttempt, got error %v", err)
	}
	err = store.LoadAttempt(ctx, org, attempt.ID, &loaded)
	if nil != err {
		t.Fatalf("failed LoadAttempt, got error %v", err)
	}
	CheckAttempt(t, attempt, loaded)

	err = store.LoadAttempt(ctx, otherOrg, attempt.ID, &loaded)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed other org LoadAttempt ErrNotFound check, got %v", err)
	}
	err = store.LoadAttempt(ctx, org, invite.NewAttemptID(), &loaded)
	if !errors.Is(err, invite.ErrNotFound) {
		t.Errorf("failed unknown LoadAttempt ErrNotFound check, got %v", err)
	}
}

func testListAttempts(t *testing.T, store invite.Store) {
	ctx := context.Background()
	inv := createInvitation(t, store, "mike@example.org")
	other := createInvitation(t, store, "zack@example.org")

	var saved []invite.GreetingAttempt
	for _, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		attempt := newAttempt(t, inv, offset)
		err := store.SaveAttempt(ctx, attempt)
		if nil != err {
			t.Fatalf("failed SaveAttempt, got error %v", err)
		}
		saved = append(saved, attempt)
	}
	err := store.SaveAttempt(ctx, newAttempt(t, other, 0))
	if nil != err {
		t.Fatalf("failed other SaveAttempt, got error %v", err)
	}
	// saving again does not duplicate
	err = store.SaveAttempt(ctx, saved[0])
	if nil != err {
		t.Fatalf("failed repeated SaveAttempt, got error %v", err)
	}

	listed, err := store.ListAttempts(ctx, org, inv.Token)
	if nil != err {
		t.Fatalf("failed ListAttempts, got error %v", err)
	}
	if len(saved) != len(listed) {
		t.Fatalf("failed ListAttempts count control, %d != %d", len(listed), len(saved))
	}
	slices.SortFunc(saved, func(a, b invite.GreetingAttempt) int { return a.CreatedOn.Compare(b.CreatedOn) })
	for i := range saved {
		CheckAttempt(t, saved[i], listed[i])
	}
}

// CheckInvitation reports the differences between expected & got.
func CheckInvitation(t *testing.T, expected, got invite.Invitation) {
	t.Helper()
	if expected.Org != got.Org || expected.Token != got.Token || expected.Kind != got.Kind {
		t.Errorf("failed Invitation identity control, got %s/%s/%s", got.Org, got.Token, got.Kind)
	}
	if expected.CreatedByUserID != got.CreatedByUserID || expected.CreatedByDeviceID != got.CreatedByDeviceID {
		t.Errorf("failed Invitation creator control, got %s/%s", got.CreatedByUserID, got.CreatedByDeviceID)
	}
	if !expected.CreatedOn.Equal(got.CreatedOn) {
		t.Errorf("failed Invitation CreatedOn control, %s != %s", got.CreatedOn, expected.CreatedOn)
	}
	if expected.ClaimerEmail != got.ClaimerEmail || expected.ClaimerUserID != got.ClaimerUserID {
		t.Errorf("failed Invitation claimer control, got %s/%s", got.ClaimerEmail, got.ClaimerUserID)
	}
	if !slices.Equal(expected.ShamirRecipients, got.ShamirRecipients) {
		t.Errorf("failed Invitation ShamirRecipients control, %v != %v", got.ShamirRecipients, expected.ShamirRecipients)
	}
	if !equalTime(expected.DeletedOn, got.DeletedOn) {
		t.Errorf("failed Invitation DeletedOn control, %v != %v", got.DeletedOn, expected.DeletedOn)
	}
	if expected.DeletedReason != got.DeletedReason || expected.DeletedBy != got.DeletedBy {
		t.Errorf("failed Invitation deletion control, got %s/%s", got.DeletedReason, got.DeletedBy)
	}
	if expected.FinishedAttempt != got.FinishedAttempt {
		t.Errorf("failed Invitation FinishedAttempt control, %s != %s", got.FinishedAttempt, expected.FinishedAttempt)
	}
}

// CheckAttempt reports the differences between expected & got.
func CheckAttempt(t *testing.T, expected, got invite.GreetingAttempt) {
	t.Helper()
	if expected.ID != got.ID || expected.Org != got.Org || expected.Token != got.Token {
		t.Errorf("failed GreetingAttempt identity control, got %s/%s/%s", got.ID, got.Org, got.Token)
	}
	if expected.GreeterUserID != got.GreeterUserID {
		t.Errorf("failed GreetingAttempt GreeterUserID control, %s != %s", got.GreeterUserID, expected.GreeterUserID)
	}
	if !expected.CreatedOn.Equal(got.CreatedOn) {
		t.Errorf("failed GreetingAttempt CreatedOn control, %s != %s", got.CreatedOn, expected.CreatedOn)
	}
	if !equalTime(expected.GreeterJoined, got.GreeterJoined) || !equalTime(expected.ClaimerJoined, got.ClaimerJoined) {
		t.Errorf("failed GreetingAttempt joined control, got %v/%v", got.GreeterJoined, got.ClaimerJoined)
	}
	switch {
	case nil == expected.Cancelled && nil == got.Cancelled:
	case nil == expected.Cancelled || nil == got.Cancelled:
		t.Errorf("failed GreetingAttempt Cancelled control, %v != %v", got.Cancelled, expected.Cancelled)
	default:
		e, g := expected.Cancelled, got.Cancelled
		if e.Origin != g.Origin || e.Reason != g.Reason || !e.On.Equal(g.On) {
			t.Errorf("failed GreetingAttempt Cancelled control, %v != %v", *g, *e)
		}
	}
	for _, side := range []invite.Side{invite.SideGreeter, invite.SideClaimer} {
		if !slices.EqualFunc(expected.Steps(side), got.Steps(side), bytes.Equal) {
			t.Errorf("failed GreetingAttempt %s steps control, %x != %x", side, got.Steps(side), expected.Steps(side))
		}
	}
}

func equalTime(a, b *time.Time) bool {
	if nil == a || nil == b {
		return a == b
	}
	return a.Equal(*b)
}
