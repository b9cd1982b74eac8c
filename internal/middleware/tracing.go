package middleware

import (
	"strconv"
	"strings"

	"parley/internal/observability"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes for messaging resources addressed by a route.
const (
	AttrConversationID = attribute.Key("parley.conversation_id")
	AttrRequestID      = attribute.Key("parley.message_request_id")
	AttrMessageID      = attribute.Key("parley.message_id")
	AttrPeerUserID     = attribute.Key("parley.peer_user_id")
	AttrSurface        = attribute.Key("parley.surface")
)

// routeResources maps an /api route prefix to the attribute its :id names.
var routeResources = []struct {
	prefix string
	idAttr attribute.Key
	surf   string
}{
	{"/api/conversations", AttrConversationID, "conversations"},
	{"/api/message-requests", AttrRequestID, "message_requests"},
	{"/api/messages", AttrMessageID, "messages"},
	{"/api/ws/chat", "", "realtime"},
	{"/api/admin/migration/chat", "", "chat_migration"},
}

// TracingMiddleware opens a server span per request. Spans are named after the matched
// route pattern, and chat routes carry the conversation, request or message they address.
func TracingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))

		ctx, span := observability.Tracer.Start(ctx, c.Method()+" "+c.Path(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.Path()),
				attribute.String("http.client_ip", c.IP()),
			),
		)
		defer span.End()

		traceID := span.SpanContext().TraceID().String()
		c.Locals("traceID", traceID)
		c.Locals("spanID", span.SpanContext().SpanID().String())
		if requestID, ok := c.Locals("requestid").(string); ok && requestID != "" {
			span.SetAttributes(attribute.String("request.id", requestID))
		}
		c.Set("X-Trace-ID", traceID)
		c.SetUserContext(ctx)

		err := c.Next()

		// Route and params are only known once the router has matched.
		if route := c.Route(); route != nil && route.Path != "" && route.Path != "/" {
			span.SetName(c.Method() + " " + route.Path)
			span.SetAttributes(attribute.String("http.route", route.Path))
			span.SetAttributes(ChatRouteAttributes(route.Path, c.Params)...)
		}

		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}
		if userID, ok := c.Locals("userID").(uint); ok {
			span.SetAttributes(attribute.Int64("user.id", int64(userID)))
		}

		return err
	}
}

// ChatRouteAttributes derives messaging attributes from a route pattern and its params.
// Non-numeric or missing ids are left out.
func ChatRouteAttributes(routePath string, param func(key string, defaultValue ...string) string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for _, r := range routeResources {
		if routePath != r.prefix && !strings.HasPrefix(routePath, r.prefix+"/") {
			continue
		}
		attrs = append(attrs, AttrSurface.String(r.surf))
		if r.idAttr != "" && strings.Contains(routePath, ":id") {
			if id, ok := parseRouteID(param("id")); ok {
				attrs = append(attrs, r.idAttr.Int64(id))
			}
		}
		break
	}
	if strings.Contains(routePath, ":userId") {
		if id, ok := parseRouteID(param("userId")); ok {
			attrs = append(attrs, AttrPeerUserID.Int64(id))
		}
	}
	return attrs
}

func parseRouteID(raw string) (int64, bool) {
	id, err := strconv.ParseUint(raw, 10, 63)
	if err != nil || id == 0 {
		return 0, false
	}
	return int64(id), true
}
