package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// UsernameRegex validates display name format
	UsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-. ]+$`)
)

// ValidateUsername validates a chat display name.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if utf8.RuneCountInString(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	if !UsernameRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters")
	}
	return nil
}

// ValidateChatMessage validates a chat message body after sanitization.
func ValidateChatMessage(message string, maxLen int) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required")
	}
	if !utf8.ValidString(message) {
		return fmt.Errorf("message contains invalid characters")
	}
	if utf8.RuneCountInString(message) > maxLen {
		return fmt.Errorf("message is too long (max %d characters)", maxLen)
	}
	return nil
}

// ValidateAudioLevel validates a level meter reading.
func ValidateAudioLevel(level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("audio level must be within [0, 1]")
	}
	return nil
}

// ValidateRole validates the audio socket role parameter.
func ValidateRole(role string) error {
	if role != "broadcaster" && role != "listener" {
		return fmt.Errorf("invalid role (must be broadcaster or listener)")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming.
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length in runes.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
