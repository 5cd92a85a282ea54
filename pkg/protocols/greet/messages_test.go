package greet

import (
	"errors"
	"testing"

	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

func TestClaimerRequestCheck(t *testing.T) {
	testcases := []struct {
		name  string
		edit  func(*ClaimerRequest)
		valid bool
	}{
		{name: "valid user request", edit: func(*ClaimerRequest) {}, valid: true},
		{name: "invalid kind", edit: func(r *ClaimerRequest) { r.Kind = "GUEST" }},
		{name: "empty device label", edit: func(r *ClaimerRequest) { r.DeviceLabel = "" }},
		{name: "user request without email", edit: func(r *ClaimerRequest) { r.HumanHandle.Email = "" }},
		{name: "missing verify key", edit: func(r *ClaimerRequest) { r.VerifyKey = nil }},
		{
			name: "shamir request without keys",
			edit: func(r *ClaimerRequest) {
				r.Kind = invite.KindShamirRecovery
				r.PublicKey, r.VerifyKey = nil, nil
			},
			valid: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			req := mikeRequest()
			tc.edit(&req)
			err := req.Check()
			if tc.valid && nil != err {
				t.Errorf("failed Check, got error %v", err)
			}
			if !tc.valid && nil == err {
				t.Errorf("failed Check, invalid request accepted")
			}
		})
	}
}

func TestEnrollmentPayloadCheck(t *testing.T) {
	user, _ := enrollMike(testContext(), mikeRequest())
	testcases := []struct {
		name    string
		payload EnrollmentPayload
		valid   bool
	}{
		{name: "user", payload: user, valid: true},
		{name: "user without root key", payload: EnrollmentPayload{Kind: invite.KindUser, UserID: "mike", DeviceID: "mike@dev1", Profile: invite.ProfileStandard}},
		{name: "user with invalid profile", payload: EnrollmentPayload{Kind: invite.KindUser, UserID: "mike", DeviceID: "mike@dev1", Profile: "ROOT", RootVerifyKey: []byte{1}}},
		{
			name:    "device",
			payload: EnrollmentPayload{Kind: invite.KindDevice, DeviceID: "alice@dev2", Profile: invite.ProfileAdmin, UserPrivateKey: []byte{1}, RootVerifyKey: []byte{1}},
			valid:   true,
		},
		{name: "device without private key", payload: EnrollmentPayload{Kind: invite.KindDevice, DeviceID: "alice@dev2", Profile: invite.ProfileAdmin, RootVerifyKey: []byte{1}}},
		{name: "shamir", payload: EnrollmentPayload{Kind: invite.KindShamirRecovery, Share: []byte{1}}, valid: true},
		{name: "shamir without share", payload: EnrollmentPayload{Kind: invite.KindShamirRecovery}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Check()
			if tc.valid && nil != err {
				t.Errorf("failed Check, got error %v", err)
			}
			if !tc.valid && nil == err {
				t.Errorf("failed Check, invalid payload accepted")
			}
		})
	}
}

func TestMessagesCheck(t *testing.T) {
	if nil == (NonceMsg{Nonce: make([]byte, NonceSize-1)}).Check() {
		t.Errorf("failed NonceMsg Check, short nonce accepted")
	}
	if nil != (NonceMsg{Nonce: make([]byte, NonceSize)}).Check() {
		t.Errorf("failed NonceMsg Check, valid nonce rejected")
	}
	if nil == (NonceCommitMsg{Hash: make([]byte, 16)}).Check() {
		t.Errorf("failed NonceCommitMsg Check, short hash accepted")
	}
	if nil == (SignifyTrustMsg{}).Check() {
		t.Errorf("failed SignifyTrustMsg Check, untrusted accepted")
	}
	if nil == (PublicKeyMsg{Curve: "X25519"}).Check() {
		t.Errorf("failed PublicKeyMsg Check, empty key accepted")
	}
}

func TestCancelReason(t *testing.T) {
	testcases := []struct {
		err    error
		reason invite.CancelReason
	}{
		{err: raise(ErrInvalidNonceHash, "test"), reason: invite.ReasonInvalidNonceHash},
		{err: wrapError(raise(ErrInvalidSasCode, "test"), "wrapped"), reason: invite.ReasonInvalidSasCode},
		{err: raise(ErrUndecipherablePayload, "test"), reason: invite.ReasonUndecipherablePayload},
		{err: raise(ErrInconsistentPayload, "test"), reason: invite.ReasonInconsistentPayload},
		{err: errors.New("network down"), reason: invite.ReasonManual},
	}

	for _, tc := range testcases {
		reason := CancelReason(tc.err)
		if tc.reason != reason {
			t.Errorf("failed CancelReason for %v, %s != %s", tc.err, reason, tc.reason)
		}
	}
}

func TestSuiteCheck(t *testing.T) {
	if err := DefaultSuite.Check(); nil != err {
		t.Errorf("failed DefaultSuite Check, got error %v", err)
	}
	if nil == (Suite{Curve: "X448", Hash: "SHA256"}).Check() {
		t.Errorf("failed Suite Check, unknown curve accepted")
	}
	if nil == (Suite{Curve: "X25519", Hash: "MD4"}).Check() {
		t.Errorf("failed Suite Check, unknown hash accepted")
	}
}
