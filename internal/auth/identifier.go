package auth

import "strings"

// nationalIDLength is the canonical length of the identity code.
// Records are stored zero-padded; submissions may drop leading zeros.
const nationalIDLength = 10

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// CanonicalNationalID returns the stored (zero-padded) form of an
// identity code, or false if the input cannot be one.
func CanonicalNationalID(raw string) (string, bool) {
	code := strings.TrimSpace(raw)
	if !isDigits(code) || len(code) > nationalIDLength {
		return "", false
	}
	if len(code) < nationalIDLength {
		code = strings.Repeat("0", nationalIDLength-len(code)) + code
	}
	return code, true
}

// identifierVariants normalizes a submitted identity code into the set
// of stored keys it may match: the code as submitted, zero-padded to
// the canonical length, and with leading zeros stripped. Returns nil
// for anything that cannot be a valid code.
func identifierVariants(raw string) []string {
	code := strings.TrimSpace(raw)
	if !isDigits(code) || len(code) > nationalIDLength {
		return nil
	}

	variants := []string{code}

	if len(code) < nationalIDLength {
		padded := strings.Repeat("0", nationalIDLength-len(code)) + code
		variants = append(variants, padded)
	}

	stripped := strings.TrimLeft(code, "0")
	if stripped != "" && stripped != code {
		variants = append(variants, stripped)
	}

	return variants
}
