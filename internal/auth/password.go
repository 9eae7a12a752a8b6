package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordRules enumerates the configurable strength checks applied
// before hashing.
type PasswordRules struct {
	MinLength     int
	RequireUpper  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordRules mirrors the service defaults: eight characters
// with at least one uppercase letter and one digit.
func DefaultPasswordRules() PasswordRules {
	return PasswordRules{MinLength: 8, RequireUpper: true, RequireDigit: true}
}

// PasswordPolicy validates password strength and produces/verifies
// salted bcrypt hashes. Pure computation, no side effects.
type PasswordPolicy struct {
	rules PasswordRules
	cost  int
}

// NewPasswordPolicy builds a policy from the given rules. A zero
// MinLength falls back to the default.
func NewPasswordPolicy(rules PasswordRules) *PasswordPolicy {
	if rules.MinLength <= 0 {
		rules.MinLength = DefaultPasswordRules().MinLength
	}
	return &PasswordPolicy{rules: rules, cost: bcrypt.DefaultCost}
}

// Check validates the candidate against the configured rules. Returns a
// *WeakPasswordError naming every failed rule, or nil.
func (p *PasswordPolicy) Check(password string) error {
	var violations []string
	if len(password) < p.rules.MinLength {
		violations = append(violations, "too short")
	}
	var hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if p.rules.RequireUpper && !hasUpper {
		violations = append(violations, "missing uppercase letter")
	}
	if p.rules.RequireDigit && !hasDigit {
		violations = append(violations, "missing digit")
	}
	if p.rules.RequireSymbol && !hasSymbol {
		violations = append(violations, "missing symbol")
	}
	if len(violations) > 0 {
		return &WeakPasswordError{Violations: violations}
	}
	return nil
}

// Hash checks strength and returns a salted bcrypt hash. bcrypt embeds
// a fresh random salt per call.
func (p *PasswordPolicy) Hash(password string) (string, error) {
	if err := p.Check(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext password against a stored hash. A
// mismatch returns (false, nil); only a hash that cannot be parsed
// yields ErrCorruptHash. The digest comparison inside bcrypt is
// constant-time.
func (p *PasswordPolicy) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, ErrCorruptHash
}
