package models

import "time"

// Placeholder preview texts for non-text messages.
const (
	PreviewImage     = "[Image]"
	PreviewVideo     = "[Video]"
	PreviewAudio     = "[Audio]"
	PreviewPostShare = "[Shared post]"
)

// PreviewText resolves the text shown in conversation lists and request previews.
func PreviewText(t MessageType, content string) (string, error) {
	switch t {
	case MessageTypeText:
		return content, nil
	case MessageTypeImage:
		return PreviewImage, nil
	case MessageTypeVideo:
		return PreviewVideo, nil
	case MessageTypeAudio:
		return PreviewAudio, nil
	case MessageTypePostShare:
		return PreviewPostShare, nil
	default:
		return "", NewBadRequestError("No preview for message type " + string(t))
	}
}

// PreviewOf builds the last-message cache entry for a persisted message.
func PreviewOf(m *Message) (LastMessagePreview, error) {
	text, err := PreviewText(m.Type, m.Content)
	if err != nil {
		return LastMessagePreview{}, err
	}
	id := m.ID
	sender := m.SenderID
	at := m.CreatedAt
	return LastMessagePreview{
		MessageID: &id,
		Content:   text,
		SenderID:  &sender,
		At:        &at,
	}, nil
}

// PreviewOfLegacy builds the cache entry for a legacy flat message.
func PreviewOfLegacy(m *LegacyMessage) (LastMessagePreview, error) {
	msgType := m.Type
	if msgType == "" {
		msgType = MessageTypeText
	}
	text, err := PreviewText(msgType, m.Content)
	if err != nil {
		return LastMessagePreview{}, err
	}
	id := m.ID
	at := m.CreatedAt.UTC()
	preview := LastMessagePreview{MessageID: &id, Content: text, At: &at}
	if m.SenderID != nil {
		sender := *m.SenderID
		preview.SenderID = &sender
	}
	return preview, nil
}

// Timestamp returns At or the zero time.
func (p LastMessagePreview) Timestamp() time.Time {
	if p.At == nil {
		return time.Time{}
	}
	return *p.At
}
