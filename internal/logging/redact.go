package logging

import (
	"errors"
	"regexp"
	"strings"
)

// sensitivePatterns match credential-bearing query parameters and headers.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(signature|api[_-]?key|api[_-]?secret|secret[_-]?key|password)=([^&\s"']+)`),
	regexp.MustCompile(`(?i)\b(x-mexc-apikey)[:\s]+([^\s"']+)`),
}

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks credential values in s.
func Redact(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			return match[:len(match)-len(sub[2])] + MaskCredential(sub[2])
		})
	}
	return s
}

// redactedError masks the message of err but still unwraps to it.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with credentials masked in its message.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := Redact(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

// isRedacted reports whether err already went through RedactError.
func isRedacted(err error) bool {
	var re *redactedError
	return errors.As(err, &re)
}
