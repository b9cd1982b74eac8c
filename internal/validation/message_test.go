package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"parley/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		msgType  models.MessageType
		content  string
		mediaURL string
		wantErr  bool
	}{
		{"Text", models.MessageTypeText, "  hi  ", "", false},
		{"Empty Text", models.MessageTypeText, "   ", "", true},
		{"Too Long", models.MessageTypeText, strings.Repeat("a", MaxMessageContentLen+1), "", true},
		{"Exactly Max", models.MessageTypeText, strings.Repeat("é", MaxMessageContentLen), "", false},
		{"Image", models.MessageTypeImage, "", "https://cdn.example.com/a.png", false},
		{"Image Without URL", models.MessageTypeImage, "caption", "", true},
		{"Audio Relative URL", models.MessageTypeAudio, "", "/uploads/a.ogg", true},
		{"Video FTP URL", models.MessageTypeVideo, "", "ftp://host/a.mp4", true},
		{"Post Share", models.MessageTypePostShare, "991", "", false},
		{"Post Share Not Numeric", models.MessageTypePostShare, "post-991", "", true},
		{"Unknown Type", models.MessageType("GIF"), "x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateMessage(tt.msgType, tt.content, tt.mediaURL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMessage_TrimsText(t *testing.T) {
	t.Parallel()
	got, err := ValidateMessage(models.MessageTypeText, "\n hello \t", "")
	assert.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestValidateGroupName(t *testing.T) {
	t.Parallel()
	name, err := ValidateGroupName("  weekend crew ")
	assert.NoError(t, err)
	assert.Equal(t, "weekend crew", name)

	_, err = ValidateGroupName(" ")
	assert.True(t, models.HasCode(err, models.CodeValidation))
	_, err = ValidateGroupName(strings.Repeat("x", MaxGroupNameLen+1))
	assert.Error(t, err)
}

func TestValidateTheme(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateTheme(json.RawMessage(`{"accent":"#ff0066"}`)))
	assert.Error(t, ValidateTheme(nil))
	assert.Error(t, ValidateTheme(json.RawMessage(`["not","object"]`)))
	assert.Error(t, ValidateTheme(json.RawMessage(`{"a":"`+strings.Repeat("x", MaxThemeBytes)+`"}`)))
}
