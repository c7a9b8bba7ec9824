// Package validation holds the fail-fast input checks applied before any
// network activity happens.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

// MaxIdentifierLen bounds userId and sessionId, mirroring the server's
// join validation.
const MaxIdentifierLen = 256

// StreamIDRegex validates stream id format.
var StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)

// ValidateSignalingURL validates the signaling endpoint URL.
func ValidateSignalingURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid url scheme %q (must be ws or wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}

// ValidateUserID validates the session user identifier.
func ValidateUserID(userID string) error {
	return validateIdentifier(userID, "userId")
}

// ValidateSessionID validates the session (room) identifier.
func ValidateSessionID(sessionID string) error {
	return validateIdentifier(sessionID, "sessionId")
}

func validateIdentifier(s, fieldName string) error {
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(s) > MaxIdentifierLen {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, MaxIdentifierLen)
	}
	return nil
}

// ValidateStreamID validates a stream id carried in signaling messages.
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream id is required")
	}
	if len(streamID) > 200 {
		return fmt.Errorf("stream id is too long (max 200 characters)")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream id format")
	}
	return nil
}
