package invite

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	// Alphabet is the 32-symbol code alphabet: digits 2-9 and uppercase
	// letters excluding I and O. 32 divides 256 evenly, so mapping random
	// bytes onto it introduces no modulo bias.
	Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	// CodeLength is the number of alphabet symbols in a code, excluding
	// group separators.
	CodeLength = 12

	groupSize = 4
	separator = "-"
)

var canonicalPattern = regexp.MustCompile(`^[2-9A-HJ-NP-Z]{4}-[2-9A-HJ-NP-Z]{4}-[2-9A-HJ-NP-Z]{4}$`)

// Generator produces cryptographically random invite codes in the canonical
// XXXX-XXXX-XXXX form. Generation is pure: collision handling is the
// registry's job.
type Generator struct{}

// NewGenerator creates a new code generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns a new random code. Predictable codes are a direct
// account-takeover vector, so this reads from crypto/rand and fails rather
// than falling back to a weaker source.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var b strings.Builder
	b.Grow(CodeLength + CodeLength/groupSize - 1)
	for i, c := range buf {
		if i > 0 && i%groupSize == 0 {
			b.WriteString(separator)
		}
		b.WriteByte(Alphabet[int(c)&0x1f])
	}
	return b.String(), nil
}

// Normalize converts human input into canonical form: uppercased, whitespace
// and hyphens stripped, then regrouped as XXXX-XXXX-XXXX. Returns
// ErrMalformedCode when the input cannot possibly name a code.
func Normalize(code string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(code))
	cleaned = strings.ReplaceAll(cleaned, separator, "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if len(cleaned) != CodeLength {
		return "", ErrMalformedCode
	}

	canonical := cleaned[0:4] + separator + cleaned[4:8] + separator + cleaned[8:12]
	if !canonicalPattern.MatchString(canonical) {
		return "", ErrMalformedCode
	}
	return canonical, nil
}
