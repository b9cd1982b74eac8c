// Package validation holds input rules shared by the HTTP handlers and services.
package validation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"parley/internal/models"
)

const (
	MaxMessageContentLen = 10000
	MaxGroupNameLen      = 64
	MaxGroupMembers      = 256
	MaxThemeBytes        = 4096
)

// ValidateMessage checks content against the rules of its type and returns the
// normalized content.
func ValidateMessage(t models.MessageType, content, mediaURL string) (string, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > MaxMessageContentLen {
		return "", models.NewValidationError(fmt.Sprintf("Message content too long (max %d characters)", MaxMessageContentLen))
	}

	switch t {
	case models.MessageTypeText:
		if content == "" {
			return "", models.NewValidationError("Message content is required")
		}
	case models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeAudio:
		if err := ValidateMediaURL(mediaURL); err != nil {
			return "", err
		}
	case models.MessageTypePostShare:
		if id, err := strconv.ParseUint(content, 10, 64); err != nil || id == 0 {
			return "", models.NewValidationError("Shared post messages must carry the post id as content")
		}
	default:
		return "", models.NewBadRequestError("Unsupported message type: " + string(t))
	}
	return content, nil
}

// ValidateMediaURL requires an absolute http(s) URL.
func ValidateMediaURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return models.NewValidationError("media_url is required for media messages")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.NewValidationError("media_url must be an absolute http(s) URL")
	}
	return nil
}

// ValidateGroupName trims and bounds a group display name.
func ValidateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", models.NewValidationError("Group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLen {
		return "", models.NewValidationError(fmt.Sprintf("Group name too long (max %d characters)", MaxGroupNameLen))
	}
	return name, nil
}

// ValidateTheme accepts a JSON object of bounded size.
func ValidateTheme(raw json.RawMessage) error {
	if len(raw) == 0 {
		return models.NewValidationError("Theme is required")
	}
	if len(raw) > MaxThemeBytes {
		return models.NewValidationError(fmt.Sprintf("Theme too large (max %d bytes)", MaxThemeBytes))
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return models.NewValidationError("Theme must be a JSON object")
	}
	return nil
}
