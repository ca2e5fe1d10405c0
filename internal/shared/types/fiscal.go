package types

import (
	"fmt"
	"regexp"
)

// CNPJ represents a Brazilian company fiscal registration number (14 digits).
// Format: NNNNNNNN0001KK where the last two digits are checksums computed
// over the preceding twelve.
type CNPJ string

var cnpjRegex = regexp.MustCompile(`^\d{14}$`)

// ParseCNPJ validates and parses a CNPJ string (digits only, no punctuation)
func ParseCNPJ(s string) (CNPJ, error) {
	if !cnpjRegex.MatchString(s) {
		return "", fmt.Errorf("CNPJ must be exactly 14 digits")
	}

	cnpj := CNPJ(s)
	if !cnpj.IsValid() {
		return "", fmt.Errorf("invalid CNPJ checksum")
	}

	return cnpj, nil
}

// String returns the string representation
func (c CNPJ) String() string {
	return string(c)
}

// Masked returns a masked version for display (first 8 digits visible)
func (c CNPJ) Masked() string {
	if len(c) < 14 {
		return "**************"
	}
	return string(c[:8]) + "******"
}

// IsValid verifies both checksum digits
func (c CNPJ) IsValid() bool {
	if !cnpjRegex.MatchString(string(c)) {
		return false
	}

	digits := make([]int, 14)
	for i, r := range c {
		digits[i] = int(r - '0')
	}

	if checksumCNPJ(digits[:12]) != digits[12] {
		return false
	}
	return checksumCNPJ(digits[:13]) == digits[13]
}

// checksumCNPJ computes a CNPJ verification digit over the given prefix
func checksumCNPJ(digits []int) int {
	weight := 2
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		sum += digits[i] * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}
	rem := sum % 11
	if rem < 2 {
		return 0
	}
	return 11 - rem
}
