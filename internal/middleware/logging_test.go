package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCtxHandler_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := context.WithValue(context.Background(), UserIDKey, uint(5))
	ctx = WithConversationID(ctx, 77)
	l.InfoContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, "component=test")
	assert.Contains(t, out, "user_id=5")
	assert.Contains(t, out, "conversation_id=77")
}
