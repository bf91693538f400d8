package auth

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// PasswordPolicy defines password requirements
type PasswordPolicy struct {
	MinLength  int
	MinEntropy float64 // bits
}

// DefaultPasswordPolicy is enforced by the passwd command.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MinEntropy: 40}
}

// Entropy estimates the bits of entropy of password as
// length * log2(size of the character classes used).
func Entropy(password string) float64 {
	var lower, upper, digit, symbol bool
	for _, c := range password {
		switch {
		case unicode.IsLower(c):
			lower = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		default:
			symbol = true
		}
	}
	charset := 0
	if lower {
		charset += 26
	}
	if upper {
		charset += 26
	}
	if digit {
		charset += 10
	}
	if symbol {
		charset += 33
	}
	if charset == 0 {
		return 0
	}
	return float64(len([]rune(password))) * math.Log2(float64(charset))
}

// ValidatePassword checks password against policy. A non-empty username
// may not appear in the password.
func ValidatePassword(password string, policy PasswordPolicy, username string) error {
	if len([]rune(password)) < policy.MinLength {
		return fmt.Errorf("password must be at least %d characters", policy.MinLength)
	}
	if username != "" && strings.Contains(strings.ToLower(password), strings.ToLower(username)) {
		return fmt.Errorf("password cannot contain the username")
	}
	if repetitive(password) {
		return fmt.Errorf("password has too much repetition")
	}
	if e := Entropy(password); e < policy.MinEntropy {
		return fmt.Errorf("password is not strong enough (%.1f bits of entropy, need %.1f)", e, policy.MinEntropy)
	}
	return nil
}

// repetitive catches runs like "aaa" and doubled halves like "abcabc".
func repetitive(p string) bool {
	for i := 0; i+2 < len(p); i++ {
		if p[i] == p[i+1] && p[i] == p[i+2] {
			return true
		}
	}
	for n := len(p) / 2; n >= 2; n-- {
		for i := 0; i+2*n <= len(p); i++ {
			if p[i:i+n] == p[i+n:i+2*n] {
				return true
			}
		}
	}
	return false
}
