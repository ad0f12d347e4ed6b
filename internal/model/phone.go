package model

import (
	"errors"
	"fmt"
)

const minPhoneDigits = 10

var (
	ErrPhoneMissing       = errors.New("phone number is missing")
	ErrPhoneNoCountryCode = errors.New("phone number must start with + and a country code")
	ErrPhoneNotDigits     = errors.New("phone number may only contain digits after +")
	ErrPhoneTooShort      = fmt.Errorf("phone number needs at least %d digits after +", minPhoneDigits)
)

// ValidationError marks input that was rejected as malformed. It is recorded
// or reported, never treated as a system fault.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

// ValidatePhone checks that phone is gateway-acceptable: a leading '+'
// followed by at least ten ASCII digits and nothing else. It is purely
// syntactic; no normalization or country lookup happens.
func ValidatePhone(phone string) error {
	if phone == "" {
		return ErrPhoneMissing
	}
	if phone[0] != '+' {
		return ErrPhoneNoCountryCode
	}
	digits := phone[1:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return ErrPhoneNotDigits
		}
	}
	if len(digits) < minPhoneDigits {
		return ErrPhoneTooShort
	}
	return nil
}

func IsValidPhone(phone string) bool {
	return ValidatePhone(phone) == nil
}
