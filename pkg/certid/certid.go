// Package certid encodes and decodes certificate identifiers.
//
// An identifier is 23 characters: four hyphen-separated groups of five from
// the alphabet [A-Z0-9]. The last four characters are derived, not random:
// they encode the certificate's expiry month and year as MMYY, so the expiry
// window is readable straight off the identifier (expiry May 2024 -> 0524).
// The first character of the last group belongs to the random pool, which
// leaves 16 free characters per identifier.
//
// The suffix reflects the expiry at issuance. Identifiers are immutable, so
// a later amendment of the validity window does not re-derive the suffix.
package certid

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	dErrors "certmint/pkg/domain-errors"
)

// Alphabet is the character pool for the random part of an identifier.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	// RandomLen is the number of free characters an identifier carries:
	// three full groups of five plus the first character of the last group.
	RandomLen = 16

	// EncodedLen is the total identifier length including hyphens.
	EncodedLen = 23
)

// pattern is the bit-exact identifier grammar. The trailing group embeds a
// valid MMYY, so month 00 and 13-19 never match.
var pattern = regexp.MustCompile(`^[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{5}-[A-Z0-9]{1}(0[1-9]|1[0-2])\d{2}$`)

// Encode builds an identifier from a 16-character random part and the
// certificate's expiry date. The random part must be drawn from Alphabet.
func Encode(randomPart string, validTo time.Time) (string, error) {
	if len(randomPart) != RandomLen {
		return "", dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("random part must be %d characters, got %d", RandomLen, len(randomPart)))
	}
	for _, c := range randomPart {
		if !strings.ContainsRune(Alphabet, c) {
			return "", dErrors.New(dErrors.CodeInvalidInput,
				fmt.Sprintf("random part contains character %q outside [A-Z0-9]", c))
		}
	}
	if validTo.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "expiry date is required")
	}

	suffix := fmt.Sprintf("%02d%02d", int(validTo.Month()), validTo.Year()%100)
	return fmt.Sprintf("%s-%s-%s-%s%s",
		randomPart[0:5],
		randomPart[5:10],
		randomPart[10:15],
		randomPart[15:16],
		suffix,
	), nil
}

// Decode extracts the expiry month and year from an identifier. Two-digit
// years map into 2000-2099. Fails with a malformed-identifier error when the
// input does not match the exact grouped pattern.
func Decode(id string) (time.Month, int, error) {
	if !pattern.MatchString(id) {
		return 0, 0, dErrors.New(dErrors.CodeMalformed, "identifier does not match certificate format")
	}

	// Safe after the pattern match: positions 19-20 are the month, 21-22 the year.
	month := time.Month((id[19]-'0')*10 + (id[20] - '0'))
	year := 2000 + int(id[21]-'0')*10 + int(id[22]-'0')
	return month, year, nil
}

// Validate reports whether id matches the identifier grammar. Purely
// structural; usable without decoding.
func Validate(id string) bool {
	return pattern.MatchString(id)
}
