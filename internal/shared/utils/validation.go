package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Request size limits
const (
	MaxURLLength     = 8 * 1024
	MaxDataURLLength = 2 * 1024 * 1024 // inline gadget documents
	MaxSessionLength = 64
)

// SafeIDPattern allows alphanumeric, hyphens, underscores
var SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateGadgetURL checks a gadget URL received over HTTP. Only absolute
// http(s) URLs and data: URLs can be opened by a page.
func ValidateGadgetURL(raw, fieldName string) error {
	if strings.HasPrefix(raw, "data:") {
		return ValidateString(raw, fieldName, 1, MaxDataURLLength, true)
	}
	if err := ValidateString(raw, fieldName, 1, MaxURLLength, true); err != nil {
		return err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an absolute http(s) or data URL", fieldName)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", fieldName)
	}
	return nil
}

// ValidateSession validates an optional frame session identifier
func ValidateSession(session string) error {
	if session == "" {
		return nil
	}
	if err := ValidateString(session, "session", 1, MaxSessionLength, true); err != nil {
		return err
	}
	if _, err := uuid.Parse(session); err != nil {
		return fmt.Errorf("session must be a UUID")
	}
	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, 128, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}
