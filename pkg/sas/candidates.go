package sas

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"math"
)

// GenerateCandidates returns n distinct Codes in random order, one of them being valid.
// It errors if valid is not a proper Code or if n is not in the 1..CodeSpace range.
func GenerateCandidates(valid Code, n int) ([]Code, error) {
	return GenerateCandidatesWith(rand.Reader, valid, n)
}

// GenerateCandidatesWith is GenerateCandidates drawing randomness from rng.
func GenerateCandidatesWith(rng io.Reader, valid Code, n int) ([]Code, error) {
	err := valid.Check()
	if nil != err {
		return nil, err
	}
	if n < 1 || n > CodeSpace {
		return nil, invalidInput("invalid number of candidates %d", n)
	}

	seen := make(map[Code]struct{}, n)
	seen[valid] = struct{}{}
	candidates := make([]Code, 1, n)
	candidates[0] = valid
	for len(candidates) < n {
		v, err := randUint32(rng)
		if nil != err {
			return nil, err
		}
		decoy := EncodeCode(v)
		if _, collision := seen[decoy]; collision {
			continue
		}
		seen[decoy] = struct{}{}
		candidates = append(candidates, decoy)
	}

	// Fisher-Yates shuffle
	for i := len(candidates) - 1; i > 0; i-- {
		j, err := randIntn(rng, i+1)
		if nil != err {
			return nil, err
		}
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	return candidates, nil
}

func randUint32(rng io.Reader) (uint32, error) {
	var buf [4]byte
	_, err := io.ReadFull(rng, buf[:])
	if nil != err {
		return 0, wrapError(err, "failed reading random source")
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// randIntn returns an unbiased integer in [0, n) using rejection sampling.
func randIntn(rng io.Reader, n int) (int, error) {
	bound := uint32(n)
	limit := math.MaxUint32 - (math.MaxUint32 % bound)
	for {
		v, err := randUint32(rng)
		if nil != err {
			return 0, err
		}
		if v < limit {
			return int(v % bound), nil
		}
	}
}
