package certid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certmint/pkg/domain-errors"
)

// TestEncodeDecode_RoundTrip validates the codec invariant: for any expiry
// date, decoding an encoded identifier recovers the expiry month and year.
func TestEncodeDecode_RoundTrip(t *testing.T) {
	randomPart := "ABCDE12345FGHIJ6"

	dates := []time.Time{
		time.Date(2024, time.May, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2030, time.October, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2099, time.February, 28, 0, 0, 0, 0, time.UTC),
	}

	for _, validTo := range dates {
		t.Run(validTo.Format("2006-01"), func(t *testing.T) {
			id, err := Encode(randomPart, validTo)
			require.NoError(t, err)
			require.Len(t, id, EncodedLen)
			assert.True(t, Validate(id))

			month, year, err := Decode(id)
			require.NoError(t, err)
			assert.Equal(t, validTo.Month(), month)
			assert.Equal(t, validTo.Year(), year)
		})
	}
}

func TestEncode_SuffixDerivation(t *testing.T) {
	id, err := Encode("A7K9MX3P2RQ8W1ER", time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "A7K9M-X3P2R-Q8W1E-R0524", id)
	assert.True(t, strings.HasSuffix(id, "0524"))
}

func TestEncode_RejectsInvalidRandomPart(t *testing.T) {
	validTo := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		randomPart string
	}{
		{"too short", "ABCDE12345"},
		{"too long", "ABCDE12345FGHIJ67"},
		{"lowercase", "abcde12345fghij6"},
		{"hyphen inside", "ABCDE-2345FGHIJ6"},
		{"unicode", "ABCDE12345FGHIJÜ"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.randomPart, validTo)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestEncode_RejectsZeroExpiry(t *testing.T) {
	_, err := Encode("ABCDE12345FGHIJ6", time.Time{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// TestDecode_RejectsMalformed validates the trust boundary: arbitrary caller
// input must fail with a malformed-identifier error, never panic.
func TestDecode_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"lowercase groups", "a7k9m-x3p2r-q8w1e-r0524"},
		{"missing group", "A7K9M-X3P2R-Q8W1E"},
		{"group too long", "A7K9MZ-X3P2R-Q8W1E-R0524"},
		{"trailing garbage", "A7K9M-X3P2R-Q8W1E-R0524X"},
		{"month zero", "A7K9M-X3P2R-Q8W1E-R0024"},
		{"month thirteen", "A7K9M-X3P2R-Q8W1E-R1324"},
		{"letters in suffix", "A7K9M-X3P2R-Q8W1E-R05AB"},
		{"wrong separator", "A7K9M_X3P2R_Q8W1E_R0524"},
		{"sql injection", "'; DROP TABLE certificates;--"},
		{"path traversal", "../../../etc/passwd"},
		{"null byte", "A7K9M-X3P2R-Q8W1E-R052\x00"},
		{"oversized", strings.Repeat("A", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.id)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeMalformed))
			assert.False(t, Validate(tt.id))
		})
	}
}

func TestDecode_BoundaryMonths(t *testing.T) {
	month, year, err := Decode("AAAAA-BBBBB-CCCCC-D0100")
	require.NoError(t, err)
	assert.Equal(t, time.January, month)
	assert.Equal(t, 2000, year)

	month, year, err = Decode("AAAAA-BBBBB-CCCCC-D1299")
	require.NoError(t, err)
	assert.Equal(t, time.December, month)
	assert.Equal(t, 2099, year)
}

func TestValidate_IndependentOfDecode(t *testing.T) {
	assert.True(t, Validate("AAAAA-BBBBB-CCCCC-D1224"))
	assert.False(t, Validate("AAAAA-BBBBB-CCCCC-DDDDD"))
}
