package sas

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
)

func TestSasAlphabet(t *testing.T) {
	err := SasAlphabet.Check()
	if nil != err {
		t.Fatalf("failed checking SasAlphabet, got error %v", err)
	}
	if 32 != SasAlphabet.Size() {
		t.Errorf("failed, SasAlphabet size %d != 32", SasAlphabet.Size())
	}
	if strings.ContainsAny(string(SasAlphabet), "IO01") {
		t.Error("failed, SasAlphabet contains ambiguous glyphs")
	}

	alphabet := Alphabet("abab")
	if nil == alphabet.Check() {
		t.Error("failed, abab alphabet reported valid")
	}
}

func TestEncodeCode(t *testing.T) {
	testcases := []struct {
		value uint32
		code  Code
	}{
		{value: 0, code: "AAAA"},
		{value: 1, code: "BAAA"},
		{value: 32, code: "ABAA"},
		{value: 0xFFFFF, code: "9999"},
		{value: 0x1FFFFF, code: "9999"}, // bits above 20 are ignored
	}
	for _, tc := range testcases {
		t.Run(string(tc.code), func(t *testing.T) {
			code := EncodeCode(tc.value)
			if code != tc.code {
				t.Fatalf("failed EncodeCode(%X), got %s != %s", tc.value, code, tc.code)
			}
			v, err := DecodeCode(code)
			if nil != err {
				t.Fatalf("failed DecodeCode, got error %v", err)
			}
			if v != tc.value&codeMask {
				t.Errorf("failed Value, got %X != %X", v, tc.value&codeMask)
			}
		})
	}
}

func TestCodeCheck(t *testing.T) {
	for _, code := range []Code{"", "ABC", "ABCDE", "AB0D", "abcd", "AIAA"} {
		err := code.Check()
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("failed, Code %q accepted", code)
		}
	}
}

func TestDeriveKnownAnswer(t *testing.T) {
	claimerNonce := make([]byte, 64)
	greeterNonce := make([]byte, 64)
	for i := range 64 {
		claimerNonce[i] = byte(i)
		greeterNonce[i] = byte(64 + i)
	}
	secret := bytes.Repeat([]byte{0x42}, 32)

	claimerSas, greeterSas, err := Derive(claimerNonce, greeterNonce, secret)
	if nil != err {
		t.Fatalf("failed Derive, got error %v", err)
	}
	if "23YX" != claimerSas {
		t.Errorf("failed claimer sas, got %s", claimerSas)
	}
	if "XQKX" != greeterSas {
		t.Errorf("failed greeter sas, got %s", greeterSas)
	}
}

func TestDeriveNonceOrderMatters(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	cn, gn, secret := randBytes(rng, 64), randBytes(rng, 64), randBytes(rng, 32)
	c1, g1, err := Derive(cn, gn, secret)
	if nil != err {
		t.Fatalf("failed Derive, got error %v", err)
	}
	c2, g2, err := Derive(gn, cn, secret)
	if nil != err {
		t.Fatalf("failed Derive, got error %v", err)
	}
	if c1 == c2 && g1 == g2 {
		t.Error("failed, swapping nonces did not change the codes")
	}
}

func TestDeriveInvalidInput(t *testing.T) {
	nonce := make([]byte, 64)
	secret := make([]byte, 32)
	testcases := []struct {
		name   string
		cn     []byte
		gn     []byte
		secret []byte
	}{
		{name: "short claimer nonce", cn: nonce[:63], gn: nonce, secret: secret},
		{name: "short greeter nonce", cn: nonce, gn: nil, secret: secret},
		{name: "short secret", cn: nonce, gn: nonce, secret: secret[:16]},
		{name: "long secret", cn: nonce, gn: nonce, secret: make([]byte, 33)},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Derive(tc.cn, tc.gn, tc.secret)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("failed, expected ErrInvalidInput got %v", err)
			}
		})
	}
}

func TestGenerateCandidatesInvalid(t *testing.T) {
	_, err := GenerateCandidates("ABCD", 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("failed, n=0 accepted, got %v", err)
	}
	_, err = GenerateCandidates("0000", 4)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("failed, invalid code accepted, got %v", err)
	}
}

// collidingReader returns the same 4 bytes forever before switching to fresh values,
// forcing GenerateCandidates to resample decoys that collide.
type collidingReader struct {
	repeat int
	rng    *rand.Rand
}

func (self *collidingReader) Read(p []byte) (int, error) {
	for i := range p {
		if self.repeat > 0 {
			p[i] = 0
			self.repeat -= 1
		} else {
			p[i] = byte(self.rng.Uint32())
		}
	}
	return len(p), nil
}

func TestGenerateCandidatesResamplesCollisions(t *testing.T) {
	// "AAAA" is the Code of 0, the reader first yields 3 zero values
	rdr := &collidingReader{repeat: 12, rng: rand.New(rand.NewPCG(1, 2))}
	candidates, err := GenerateCandidatesWith(rdr, "AAAA", 4)
	if nil != err {
		t.Fatalf("failed GenerateCandidatesWith, got error %v", err)
	}
	if 4 != len(candidates) {
		t.Fatalf("failed, got %d candidates", len(candidates))
	}
	sorted := slices.Clone(candidates)
	slices.Sort(sorted)
	if 4 != len(slices.Compact(sorted)) {
		t.Errorf("failed, candidates are not distinct %v", candidates)
	}
	if !slices.Contains(candidates, Code("AAAA")) {
		t.Errorf("failed, valid code missing from %v", candidates)
	}
}

func TestGenerateCandidatesShuffle(t *testing.T) {
	// with 4 candidates the valid code should not always land at the same position
	positions := make(map[int]bool)
	for range 64 {
		candidates, err := GenerateCandidates("XQKX", 4)
		if nil != err {
			t.Fatalf("failed GenerateCandidates, got error %v", err)
		}
		positions[slices.Index(candidates, Code("XQKX"))] = true
	}
	if len(positions) < 2 {
		t.Errorf("failed, valid code always at position %v", positions)
	}
}

func randBytes(rng *rand.Rand, size int) []byte {
	rv := make([]byte, size)
	for i := range rv {
		rv[i] = byte(rng.Uint32())
	}
	return rv
}
