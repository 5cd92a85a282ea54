package sas

import (
	"slices"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genBytes(size int) gopter.Gen {
	return gen.SliceOfN(size, gen.UInt8()).Map(func(v []uint8) []byte {
		return []byte(v)
	})
}

func genCode() gopter.Gen {
	return gen.UInt32Range(0, CodeSpace-1).Map(func(v uint32) Code {
		return EncodeCode(v)
	})
}

func TestDeriveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("codes only use the SAS alphabet", prop.ForAll(
		func(cn, gn, secret []byte) bool {
			claimerSas, greeterSas, err := Derive(cn, gn, secret)
			if nil != err {
				return false
			}
			for _, code := range []Code{claimerSas, greeterSas} {
				if nil != code.Check() || strings.ContainsAny(string(code), "IO01") {
					return false
				}
			}
			return true
		},
		genBytes(64),
		genBytes(80),
		genBytes(32),
	))

	properties.Property("derivation is deterministic", prop.ForAll(
		func(cn, gn, secret []byte) bool {
			c1, g1, err1 := Derive(cn, gn, secret)
			c2, g2, err2 := Derive(slices.Clone(cn), slices.Clone(gn), slices.Clone(secret))
			return nil == err1 && nil == err2 && c1 == c2 && g1 == g2
		},
		genBytes(64),
		genBytes(64),
		genBytes(32),
	))

	properties.TestingRun(t)
}

// Equal codes happen with probability 2^-20 per sample, over a few hundred samples a
// single collision would already be suspicious.
func TestDeriveAsymmetry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	var equal int
	properties.Property("claimer & greeter codes differ", prop.ForAll(
		func(cn, gn, secret []byte) bool {
			claimerSas, greeterSas, err := Derive(cn, gn, secret)
			if nil != err {
				return false
			}
			if claimerSas == greeterSas {
				equal += 1
			}
			return true
		},
		genBytes(64),
		genBytes(64),
		genBytes(32),
	))
	properties.TestingRun(t)

	if equal > 1 {
		t.Errorf("failed, %d samples with equal claimer & greeter codes", equal)
	}
}

func TestGenerateCandidatesProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("n distinct candidates containing the valid code", prop.ForAll(
		func(valid Code, n int) bool {
			candidates, err := GenerateCandidates(valid, n)
			if nil != err || n != len(candidates) {
				return false
			}
			var found int
			for _, code := range candidates {
				if code == valid {
					found += 1
				}
			}
			if 1 != found {
				return false
			}
			sorted := slices.Clone(candidates)
			slices.Sort(sorted)
			if n != len(slices.Compact(sorted)) {
				return false
			}
			for _, code := range candidates {
				if nil != code.Check() {
					return false
				}
			}
			return true
		},
		genCode(),
		gen.IntRange(2, 10),
	))

	properties.TestingRun(t)
}
