package sas

import (
	"strings"
)

const (
	maxAlphabetSize = 256

	// SasAlphabet excludes I, O, 0 & 1 which are easily confused over voice or video.
	SasAlphabet = Alphabet("ABCDEFGHJKLMNPQRSTUVWXYZ23456789")
)

type Alphabet string

func (self Alphabet) Check() error {
	if self.Size() > maxAlphabetSize {
		return newError("Invalid alphabet, longer than %d characters", maxAlphabetSize)
	}
	alphabet := string(self)
	for pos, r := range alphabet {
		if pos != strings.IndexRune(alphabet, r) {
			return newError("Invalid alphabet, found repetition of character %c", r)
		}
	}
	return nil
}

func (self Alphabet) Size() int {
	return len([]rune(self))
}

// Index returns the position of r in the Alphabet or -1 if r is not part of it.
func (self Alphabet) Index(r rune) int {
	for pos, ar := range []rune(self) {
		if ar == r {
			return pos
		}
	}
	return -1
}
