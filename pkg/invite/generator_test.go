package invite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFormat(t *testing.T) {
	gen := NewGenerator()

	for i := 0; i < 100; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)

		assert.Len(t, code, 14)
		assert.Regexp(t, canonicalPattern, code)

		for _, group := range strings.Split(code, "-") {
			require.Len(t, group, 4)
			for _, c := range group {
				assert.Contains(t, Alphabet, string(c))
			}
		}
	}
}

func TestGenerateAlphabetExcludesAmbiguousSymbols(t *testing.T) {
	assert.Len(t, Alphabet, 32)
	for _, forbidden := range []string{"0", "1", "I", "O"} {
		assert.NotContains(t, Alphabet, forbidden)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	gen := NewGenerator()
	seen := make(map[string]bool)

	for i := 0; i < 10000; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s after %d generations", code, i)
		seen[code] = true
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{name: "canonical passes through", input: "ABCD-EFGH-JKLM", want: "ABCD-EFGH-JKLM"},
		{name: "lowercase is uppercased", input: "abcd-efgh-jklm", want: "ABCD-EFGH-JKLM"},
		{name: "missing separators", input: "ABCDEFGHJKLM", want: "ABCD-EFGH-JKLM"},
		{name: "surrounding whitespace", input: "  ABCD-EFGH-JKLM\t", want: "ABCD-EFGH-JKLM"},
		{name: "interior spaces", input: "ABCD EFGH JKLM", want: "ABCD-EFGH-JKLM"},
		{name: "mixed digits and letters", input: "2345-6789-wxyz", want: "2345-6789-WXYZ"},
		{name: "too short", input: "ABCD-EFGH", err: ErrMalformedCode},
		{name: "too long", input: "ABCD-EFGH-JKLM-NPQR", err: ErrMalformedCode},
		{name: "forbidden symbol O", input: "ABCO-EFGH-JKLM", err: ErrMalformedCode},
		{name: "forbidden symbol 1", input: "ABC1-EFGH-JKLM", err: ErrMalformedCode},
		{name: "empty", input: "", err: ErrMalformedCode},
		{name: "garbage", input: "!!!!-????-....", err: ErrMalformedCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRoundTripsGeneratedCodes(t *testing.T) {
	gen := NewGenerator()
	for i := 0; i < 100; i++ {
		code, err := gen.Generate()
		require.NoError(t, err)

		canonical, err := Normalize(code)
		require.NoError(t, err)
		assert.Equal(t, code, canonical)

		canonical, err = Normalize(strings.ToLower(strings.ReplaceAll(code, "-", "")))
		require.NoError(t, err)
		assert.Equal(t, code, canonical)
	}
}
